package oplog

import (
	"fmt"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/value"
)

// Row is the text form SQL adapters persist: the canonical timestamp string
// and canonical JSON for the object key and value.
type Row struct {
	HLCTime   string
	ClientID  string
	Store     string
	ObjectKey string
	Prop      string
	Value     string
}

// ToRow encodes e for storage.
func ToRow(e Entry) (Row, error) {
	key, err := value.Marshal(e.ObjectKey)
	if err != nil {
		return Row{}, fmt.Errorf("encode entry %s object key: %w", e.HLCTime, err)
	}
	val, err := value.Marshal(e.Value)
	if err != nil {
		return Row{}, fmt.Errorf("encode entry %s value: %w", e.HLCTime, err)
	}
	return Row{
		HLCTime:   e.HLCTime.String(),
		ClientID:  string(e.ClientID),
		Store:     e.Store,
		ObjectKey: string(key),
		Prop:      e.Prop,
		Value:     string(val),
	}, nil
}

// Entry decodes a stored row.
func (r Row) Entry() (Entry, error) {
	ts, err := hlc.Parse(r.HLCTime)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	key, err := value.Unmarshal([]byte(r.ObjectKey))
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry %s object key: %w", r.HLCTime, err)
	}
	val, err := value.Unmarshal([]byte(r.Value))
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry %s value: %w", r.HLCTime, err)
	}
	return Entry{
		ClientID:  hlc.NodeID(r.ClientID),
		HLCTime:   ts,
		Store:     r.Store,
		ObjectKey: key,
		Prop:      r.Prop,
		Value:     val,
	}, nil
}

// Dest returns scan destinations in column order hlc_time, client_id,
// store, object_key, prop, value.
func (r *Row) Dest() []any {
	return []any{&r.HLCTime, &r.ClientID, &r.Store, &r.ObjectKey, &r.Prop, &r.Value}
}
