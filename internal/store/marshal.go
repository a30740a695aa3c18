package store

import (
	"fmt"

	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// encodeJSON converts a value to canonical JSON TEXT for storage.
func encodeJSON(what string, v value.Value) (string, error) {
	data, err := value.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// decodeJSON parses canonical JSON TEXT from storage.
func decodeJSON(what, text string) (value.Value, error) {
	v, err := value.Unmarshal([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return v, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const entryColumns = `hlc_time, client_id, store, object_key, prop, value`

func scanEntry(row rowScanner) (oplog.Entry, error) {
	var r oplog.Row
	if err := row.Scan(r.Dest()...); err != nil {
		return oplog.Entry{}, err
	}
	return r.Entry()
}
