package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

func TestPutEntry_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("milk"))

	putEntries(t, s, e)
	putEntries(t, s, e)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutEntry_ConflictingEntryRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("milk"))
	otherKey := createTestEntry("aaaa", 1000, 0, "t2", "title", value.String("bread"))
	otherValue := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("oat milk"))
	putEntries(t, s, first)

	for _, e := range []oplog.Entry{otherKey, otherValue} {
		err := s.Update(ctx, func(tx oplog.Tx) error {
			return tx.PutEntry(ctx, e)
		})
		require.Error(t, err)
		assert.True(t, oplog.IsConflict(err), "got %v", err)
	}

	all, err := oplog.Collect(ctx, s, oplog.ScanQuery{})
	require.NoError(t, err)
	assert.Equal(t, []oplog.Entry{first}, all)
}

func TestNewestEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	older := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("old"))
	newer := createTestEntry("bbbb", 2000, 0, "t1", "title", value.String("new"))
	otherProp := createTestEntry("aaaa", 3000, 0, "t1", "done", value.Bool(true))
	otherKey := createTestEntry("aaaa", 4000, 0, "t2", "title", value.String("x"))
	putEntries(t, s, newer, older, otherProp, otherKey)

	err := s.Update(ctx, func(tx oplog.Tx) error {
		got, ok, err := tx.NewestEntry(ctx, newer.Field())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, newer, got)

		_, ok, err = tx.NewestEntry(ctx, oplog.FieldKey{Store: "todos", ObjectKey: `"t1"`, Prop: ""})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx oplog.Tx) error {
		e := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("x"))
		require.NoError(t, tx.PutEntry(ctx, e))
		require.NoError(t, tx.PutDocument(ctx, "todos", value.String("t1"), value.Obj()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, err := s.Document(ctx, "todos", value.String("t1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldEntriesAfter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	whole := createTestEntry("aaaa", 2000, 0, "t1", "", value.Obj())
	before := createTestEntry("aaaa", 1000, 0, "t1", "title", value.String("a"))
	after1 := createTestEntry("bbbb", 3000, 0, "t1", "title", value.String("b"))
	after2 := createTestEntry("aaaa", 2500, 0, "t1", "done", value.Bool(true))
	elsewhere := createTestEntry("aaaa", 4000, 0, "t2", "title", value.String("c"))
	putEntries(t, s, whole, before, after1, after2, elsewhere)

	err := s.Update(ctx, func(tx oplog.Tx) error {
		got, err := tx.FieldEntriesAfter(ctx, "todos", value.String("t1"), whole.HLCTime)
		require.NoError(t, err)
		assert.Equal(t, []oplog.Entry{after2, after1}, got)
		return nil
	})
	require.NoError(t, err)
}

func TestDocuments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := value.Arr(value.String("list"), value.Int(7))

	_, ok, err := s.Document(ctx, "todos", key)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Update(ctx, func(tx oplog.Tx) error {
		if err := tx.PutDocument(ctx, "todos", key, value.Obj(value.P("title", value.String("a")))); err != nil {
			return err
		}
		return tx.PutDocument(ctx, "todos", key, value.Obj(value.P("title", value.String("b"))))
	})
	require.NoError(t, err)

	doc, ok, err := s.Document(ctx, "todos", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Obj(value.P("title", value.String("b"))), doc)

	// Inside a transaction the same row is visible.
	err = s.Update(ctx, func(tx oplog.Tx) error {
		doc, ok, err := tx.Document(ctx, "todos", key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value.Obj(value.P("title", value.String("b"))), doc)
		return nil
	})
	require.NoError(t, err)
}

func TestSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Setting(ctx, "node_id")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutSetting(ctx, "node_id", "000000000000aaaa"))
	require.NoError(t, s.PutSetting(ctx, "node_id", "000000000000bbbb"))

	got, ok, err := s.Setting(ctx, "node_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "000000000000bbbb", got)
}

func TestPutEntry_PreservesCanonicalKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntry("aaaa", 1000, 0, "t1", "title", value.Obj(value.P("b", value.Int(1)), value.P("a", value.Null{})))
	e.ObjectKey = value.Arr(value.String("x"), value.Float(1.5))
	putEntries(t, s, e)

	var key, val string
	require.NoError(t, s.db.QueryRow(`SELECT object_key, value FROM oplog`).Scan(&key, &val))
	assert.Equal(t, `["x",1.5]`, key)
	assert.Equal(t, `{"a":null,"b":1}`, val)

	got, ok, err := s.LatestEntry(ctx, hlc.MustParseNodeID("aaaa"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)
}
