package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/testutil"
)

// redisAddr returns the Redis address for integration tests, skipping the
// test when HLCSYNC_TEST_REDIS_ADDR is unset.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("HLCSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HLCSYNC_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := DialRedis(ctx, redisAddr(t))
	require.NoError(t, err)
	defer rdb.Close()

	n := NewNotifier(rdb, quiet)
	group := "test-" + UUIDv7IDs{}.Next()

	sub, err := n.Subscribe(ctx, group)
	require.NoError(t, err)
	defer sub.Close()

	want := Notice{Group: group, ClientID: hlc.MustParseNodeID("aaaa"), MerkleRoot: 42}
	require.NoError(t, n.Publish(ctx, want))

	select {
	case got := <-sub.C:
		assert.Equal(t, want, got)
	case <-ctx.Done():
		t.Fatal("no notice received")
	}
}

func TestServer_PublishesAfterRoundWithEntries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := DialRedis(ctx, redisAddr(t))
	require.NoError(t, err)
	defer rdb.Close()
	n := NewNotifier(rdb, quiet)

	group := "team-" + UUIDv7IDs{}.Next()
	sub, err := n.Subscribe(ctx, group)
	require.NoError(t, err)
	defer sub.Close()

	wall := testutil.NewManualClock(time.Now())
	srv, _ := newTestServer(t, wall, WithNotifier(n))
	a := newEngine(t, "aaaa", group, wall)
	apply(t, a, "1", "hi")
	_, err = a.Sync(ctx, NewHTTPClient(srv.URL))
	require.NoError(t, err)

	select {
	case got := <-sub.C:
		assert.Equal(t, group, got.Group)
		assert.Equal(t, a.Node(), got.ClientID)
		assert.Equal(t, a.Trie().Hash(), got.MerkleRoot)
	case <-ctx.Done():
		t.Fatal("no notice received")
	}
}
