// Package oplog defines the replicated entry model and the storage contract
// the sync engine runs on.
//
// An Entry records one field-level mutation: the value of Prop on the object
// (Store, ObjectKey) as of HLCTime. Prop "" addresses the whole object. A
// Null value is a tombstone. Entries are immutable and never deleted; the
// value of a field is the value of its newest entry.
//
// Store and Tx are implemented by internal/store (SQLite) and
// internal/pgstore (Postgres). Scan pages through entries in timestamp order.
package oplog
