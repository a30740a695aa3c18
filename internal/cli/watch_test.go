package cli

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/store"
	"github.com/roach88/hlcsync/internal/syncproto"
	"github.com/roach88/hlcsync/internal/transport"
	"github.com/roach88/hlcsync/internal/value"
)

func openWatchEngine(t *testing.T, node string) *engine.Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), node+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng, err := engine.Open(context.Background(), st, hlc.MustParseNodeID(node),
		engine.WithGroup("default"),
		engine.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return eng
}

func hasDoc(eng *engine.Engine, key string) bool {
	doc, err := eng.Get(context.Background(), "todos", value.String(key))
	return err == nil && doc.Found
}

func TestWatchLoop_SyncsLocalChangesAndNotices(t *testing.T) {
	client := openWatchEngine(t, "aaaa")
	srv := openWatchEngine(t, "hub")
	notices := make(chan transport.Notice, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, client, transport.Local{Handler: srv}, time.Hour, notices)
	}()

	_, err := client.Apply(ctx, engine.Mutation{
		Store:     "todos",
		ObjectKey: value.String("1"),
		Prop:      "title",
		Value:     value.String("watched"),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hasDoc(srv, "1") }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return client.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)

	// A write that reaches the server from elsewhere is pulled on notice.
	other := openWatchEngine(t, "cccc")
	_, err = other.Apply(ctx, engine.Mutation{
		Store:     "todos",
		ObjectKey: value.String("2"),
		Prop:      "title",
		Value:     value.String("from elsewhere"),
	})
	require.NoError(t, err)
	_, err = other.Sync(ctx, transport.Local{Handler: srv})
	require.NoError(t, err)

	notices <- transport.Notice{Group: "default", ClientID: other.Node()}
	require.Eventually(t, func() bool { return hasDoc(client, "2") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not stop")
	}
}

type protocolFailure struct{}

func (protocolFailure) Exchange(context.Context, syncproto.Request) (syncproto.Response, error) {
	return syncproto.Response{}, &engine.ProtocolError{Reason: "peer: stuck"}
}

type transientFailure struct{ calls int }

func (f *transientFailure) Exchange(context.Context, syncproto.Request) (syncproto.Response, error) {
	f.calls++
	return syncproto.Response{}, errors.New("connection refused")
}

func TestWatchLoop_ProtocolErrorStops(t *testing.T) {
	client := openWatchEngine(t, "aaaa")

	err := watchLoop(context.Background(), client, protocolFailure{}, time.Hour, nil)
	require.Error(t, err)
	assert.True(t, engine.IsProtocolError(err))
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestWatchLoop_TransportErrorsRetry(t *testing.T) {
	client := openWatchEngine(t, "aaaa")
	failing := &transientFailure{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := watchLoop(ctx, client, failing, 20*time.Millisecond, nil)
	assert.NoError(t, err)
	assert.Greater(t, failing.calls, 1)
}
