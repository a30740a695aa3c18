package oplog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/value"
)

// Entry is one immutable field mutation.
type Entry struct {
	ClientID  hlc.NodeID
	HLCTime   hlc.Timestamp
	Store     string
	ObjectKey value.Value
	Prop      string
	Value     value.Value
}

// FieldKey identifies a field: an object property, or the whole object when
// Prop is "". ObjectKey holds the canonical encoding of the object key so
// FieldKey can be compared and used as a map key.
type FieldKey struct {
	Store     string
	ObjectKey string
	Prop      string
}

// Field returns the field e writes to. It assumes e has been validated.
func (e Entry) Field() FieldKey {
	return FieldKey{Store: e.Store, ObjectKey: value.Text(e.ObjectKey), Prop: e.Prop}
}

func (k FieldKey) String() string {
	if k.Prop == "" {
		return fmt.Sprintf("%s[%s]", k.Store, k.ObjectKey)
	}
	return fmt.Sprintf("%s[%s].%s", k.Store, k.ObjectKey, k.Prop)
}

// SameEntry reports whether a and b are the same mutation: equal timestamp,
// author, field and value.
func SameEntry(a, b Entry) bool {
	return a.HLCTime == b.HLCTime &&
		a.ClientID == b.ClientID &&
		a.Store == b.Store &&
		a.Prop == b.Prop &&
		value.Equal(a.ObjectKey, b.ObjectKey) &&
		value.Equal(a.Value, b.Value)
}

// IsTombstone reports whether e deletes its field.
func (e Entry) IsTombstone() bool { return value.IsNull(e.Value) }

// Validate checks the structural invariants every stored or transmitted
// entry must satisfy.
func (e Entry) Validate() error {
	invalid := func(format string, args ...any) error {
		return &InvalidEntryError{HLCTime: e.HLCTime, Reason: fmt.Sprintf(format, args...)}
	}

	if !e.ClientID.Valid() {
		return invalid("bad client id %q", e.ClientID)
	}
	if !e.HLCTime.Valid() {
		return invalid("bad timestamp %s", e.HLCTime)
	}
	if e.HLCTime.Node != e.ClientID {
		return invalid("timestamp node %s does not match client %s", e.HLCTime.Node, e.ClientID)
	}
	if e.Store == "" {
		return invalid("empty store name")
	}
	if err := value.ValidateKey(e.ObjectKey); err != nil {
		return invalid("object key: %v", err)
	}
	if e.Value == nil {
		return invalid("missing value")
	}
	if _, err := value.Marshal(e.Value); err != nil {
		return invalid("value: %v", err)
	}
	return nil
}

type wireEntry struct {
	ClientID  hlc.NodeID      `json:"clientId"`
	HLCTime   hlc.Timestamp   `json:"hlcTime"`
	Store     string          `json:"store"`
	ObjectKey json.RawMessage `json:"objectKey"`
	Prop      string          `json:"prop"`
	Value     json.RawMessage `json:"value"`
}

// MarshalJSON writes the wire form
// {"clientId","hlcTime","store","objectKey","prop","value"} with canonical
// object key and value encodings.
func (e Entry) MarshalJSON() ([]byte, error) {
	key, err := value.Marshal(e.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("marshal entry %s object key: %w", e.HLCTime, err)
	}
	val, err := value.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal entry %s value: %w", e.HLCTime, err)
	}
	return json.Marshal(wireEntry{
		ClientID:  e.ClientID,
		HLCTime:   e.HLCTime,
		Store:     e.Store,
		ObjectKey: key,
		Prop:      e.Prop,
		Value:     val,
	})
}

// UnmarshalJSON reads the wire form. It does not validate; callers merge
// decoded entries, which validates them.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}

	out := Entry{ClientID: w.ClientID, HLCTime: w.HLCTime, Store: w.Store, Prop: w.Prop}
	if len(w.ObjectKey) > 0 {
		key, err := value.Unmarshal(w.ObjectKey)
		if err != nil {
			return fmt.Errorf("decode entry %s object key: %w", w.HLCTime, err)
		}
		out.ObjectKey = key
	}
	if len(w.Value) > 0 {
		val, err := value.Unmarshal(w.Value)
		if err != nil {
			return fmt.Errorf("decode entry %s value: %w", w.HLCTime, err)
		}
		out.Value = val
	}
	*e = out
	return nil
}
