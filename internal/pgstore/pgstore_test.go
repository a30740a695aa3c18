package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// openTestStore connects to HLCSYNC_TEST_POSTGRES_DSN with a fresh group so
// tests never see each other's rows.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("HLCSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HLCSYNC_TEST_POSTGRES_DSN not set")
	}

	s, err := Open(context.Background(), dsn, "test-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(node string, millis uint64, key, prop string, v value.Value) oplog.Entry {
	id := hlc.MustParseNodeID(node)
	return oplog.Entry{
		ClientID:  id,
		HLCTime:   hlc.New(millis, 0, id),
		Store:     "todos",
		ObjectKey: value.String(key),
		Prop:      prop,
		Value:     v,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := entry("aaaa", 1000, "t1", "title", value.String("a"))
	b := entry("bbbb", 2000, "t1", "title", value.String("b"))
	c := entry("aaaa", 3000, "t2", "", value.Obj())

	err := s.Update(ctx, func(tx oplog.Tx) error {
		for _, e := range []oplog.Entry{b, a, c, a} {
			if err := tx.PutEntry(ctx, e); err != nil {
				return err
			}
		}
		return tx.PutDocument(ctx, "todos", value.String("t1"), value.Obj(value.P("title", value.String("b"))))
	})
	require.NoError(t, err)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := oplog.Collect(ctx, s, oplog.ScanQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []oplog.Entry{a, b, c}, all)

	others, err := s.ScanEntries(ctx, oplog.ScanQuery{Since: hlc.Since(1500), ExcludeClient: hlc.MustParseNodeID("aaaa")})
	require.NoError(t, err)
	assert.Equal(t, []oplog.Entry{b}, others)

	latest, ok, err := s.LatestEntry(ctx, hlc.MustParseNodeID("aaaa"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, latest)

	winners, err := s.WinningTimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []hlc.Timestamp{b.HLCTime, c.HLCTime}, winners)

	doc, ok, err := s.Document(ctx, "todos", value.String("t1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Obj(value.P("title", value.String("b"))), doc)

	err = s.Update(ctx, func(tx oplog.Tx) error {
		newest, ok, err := tx.NewestEntry(ctx, a.Field())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b, newest)

		after, err := tx.FieldEntriesAfter(ctx, "todos", value.String("t1"), hlc.Timestamp{})
		require.NoError(t, err)
		assert.Equal(t, []oplog.Entry{a, b}, after)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ConflictingEntryRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := entry("aaaa", 1000, "t1", "title", value.String("a"))
	clash := entry("aaaa", 1000, "t2", "title", value.String("b"))

	put := func(e oplog.Entry) error {
		return s.Update(ctx, func(tx oplog.Tx) error { return tx.PutEntry(ctx, e) })
	}
	require.NoError(t, put(first))
	require.NoError(t, put(first))

	err := put(clash)
	require.Error(t, err)
	assert.True(t, oplog.IsConflict(err), "got %v", err)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_GroupsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	other := ForGroup(s.pool, s.Group()+"-other")

	require.NoError(t, s.Update(ctx, func(tx oplog.Tx) error {
		return tx.PutEntry(ctx, entry("aaaa", 1000, "t1", "x", value.Int(1)))
	}))

	n, err := other.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.PutSetting(ctx, "node_id", "000000000000aaaa"))
	_, ok, err := other.Setting(ctx, "node_id")
	require.NoError(t, err)
	assert.False(t, ok)
}
