package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry builds a valid entry for node at (millis, counter).
func createTestEntry(node string, millis uint64, counter uint16, key string, prop string, v value.Value) oplog.Entry {
	id := hlc.MustParseNodeID(node)
	return oplog.Entry{
		ClientID:  id,
		HLCTime:   hlc.New(millis, counter, id),
		Store:     "todos",
		ObjectKey: value.String(key),
		Prop:      prop,
		Value:     v,
	}
}

// putEntries writes entries in one transaction.
func putEntries(t *testing.T, s *Store, entries ...oplog.Entry) {
	t.Helper()
	err := s.Update(context.Background(), func(tx oplog.Tx) error {
		for _, e := range entries {
			if err := tx.PutEntry(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put entries: %v", err)
	}
}
