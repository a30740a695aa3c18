// Package value is the JSON value model carried by oplog entries.
//
// Entry values and object keys travel between replicas and are persisted as
// text, so every Value has exactly one canonical encoding (RFC 8785 style:
// sorted keys by UTF-16 code units, NFC-normalized strings, no HTML
// escaping, shortest round-trip numbers). Two values are equal exactly when
// their canonical encodings are byte-equal.
//
// Value is a sealed interface. Null is an explicit type and doubles as the
// tombstone marker for deletions.
package value
