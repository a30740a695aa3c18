package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/merkle"
	"github.com/roach88/hlcsync/internal/store"
	"github.com/roach88/hlcsync/internal/syncproto"
	"github.com/roach88/hlcsync/internal/testutil"
	"github.com/roach88/hlcsync/internal/value"
)

const baseMillis = 1_700_000_000_000

var quiet = slog.New(slog.DiscardHandler)

func newEngine(t *testing.T, node, group string, wall *testutil.ManualClock) *engine.Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), node+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e, err := engine.Open(context.Background(), s, hlc.MustParseNodeID(node),
		engine.WithGroup(group),
		engine.WithLogger(quiet),
		engine.WithClockOptions(hlc.WithNow(wall.Now)))
	require.NoError(t, err)
	return e
}

// newTestServer serves one lazily opened engine per group.
func newTestServer(t *testing.T, wall *testutil.ManualClock, opts ...ServerOption) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		opened []string
	)
	open := func(ctx context.Context, group string) (Replica, error) {
		mu.Lock()
		opened = append(opened, group)
		mu.Unlock()

		// Runs on a server goroutine, so failures are returned, not asserted.
		s, err := store.Open(filepath.Join(t.TempDir(), group+".db"))
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { s.Close() })
		return engine.Open(ctx, s, hlc.MustParseNodeID("hub"),
			engine.WithGroup(group),
			engine.WithLogger(quiet),
			engine.WithClockOptions(hlc.WithNow(wall.Now)))
	}
	opts = append([]ServerOption{WithServerLogger(quiet), WithServerIDs(testutil.NewSequentialIDs("srv"))}, opts...)
	srv := httptest.NewServer(NewServer(open, opts...).Handler())
	t.Cleanup(srv.Close)

	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), opened...)
	}
}

func apply(t *testing.T, e *engine.Engine, key, title string) {
	t.Helper()
	_, err := e.Apply(context.Background(), engine.Mutation{
		Store: "todos", ObjectKey: value.String(key), Prop: "title", Value: value.String(title),
	})
	require.NoError(t, err)
}

func TestHTTPClient_TwoReplicasConverge(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, opened := newTestServer(t, wall)

	a := newEngine(t, "aaaa", "team", wall)
	b := newEngine(t, "bbbb", "team", wall)

	apply(t, a, "1", "hi")
	wall.Advance(10 * time.Millisecond)
	apply(t, b, "1", "bye")
	apply(t, b, "2", "other")

	client := NewHTTPClient(srv.URL, WithIDs(testutil.NewSequentialIDs("a")))
	for _, r := range []*engine.Engine{a, b, a} {
		_, err := r.Sync(ctx, client)
		require.NoError(t, err)
	}

	assert.Equal(t, a.Trie().Hash(), b.Trie().Hash())
	docA, err := a.Get(ctx, "todos", value.String("1"))
	require.NoError(t, err)
	assert.Equal(t, value.Obj(value.P("title", value.String("bye"))), docA.Value)
	assert.Equal(t, []string{"team"}, opened(), "group opened once")
}

func TestHTTPClient_RequestIDHeader(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get(RequestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"messages":[],"merkle":{"resolutionMs":60000,"root":{"hash":0}}}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", WithIDs(testutil.NewSequentialIDs("req")))
	req := syncproto.Request{GroupID: "g", ClientID: hlc.MustParseNodeID("aaaa"), Merkle: merkle.New(0)}
	for i := 0; i < 2; i++ {
		_, err := client.Exchange(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"req-1", "req-2"}, got)
}

func TestHTTPClient_ProtocolErrorFromServer(t *testing.T) {
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall)

	// The hub's own node id makes the round a protocol error.
	client := NewHTTPClient(srv.URL)
	_, err := client.Exchange(context.Background(), syncproto.Request{
		GroupID:  "team",
		ClientID: hlc.MustParseNodeID("hub"),
		Merkle:   merkle.New(0),
	})
	require.Error(t, err)
	assert.True(t, engine.IsProtocolError(err))
}

func TestServer_RejectsMalformedRequests(t *testing.T) {
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, opened := newTestServer(t, wall)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"unknown field", `{"groupId":"team","bogus":true}`},
		{"bad group", `{"groupId":"no spaces","clientId":"000000000000aaaa","messages":[],"merkle":{"resolutionMs":60000,"root":{"hash":0}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/sync", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
	assert.Empty(t, opened())
}

func TestServer_StatusErrorCarriesRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"disk full"}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithIDs(testutil.NewSequentialIDs("x")))
	_, err := client.Exchange(context.Background(), syncproto.Request{GroupID: "g", Merkle: merkle.New(0)})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, "sync server returned 500 Internal Server Error: disk full (request x-1)", err.Error())
}

func TestServer_HealthAndMerkle(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall)

	a := newEngine(t, "aaaa", "team", wall)
	apply(t, a, "1", "hi")
	_, err := a.Sync(ctx, NewHTTPClient(srv.URL))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health healthBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, healthBody{Status: "ok", Groups: []string{"team"}}, health)

	resp, err = http.Get(srv.URL + "/groups/team/merkle")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trie merkle.Trie
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trie))
	assert.Equal(t, a.Trie().Hash(), trie.Hash())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall)

	resp, err := http.Get(srv.URL + "/sync")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWSClient_SyncsOverOneConnection(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall)

	a := newEngine(t, "aaaa", "team", wall)
	b := newEngine(t, "bbbb", "team", wall)
	apply(t, a, "1", "from a")
	wall.Advance(5 * time.Millisecond)
	apply(t, b, "2", "from b")

	wsA, err := DialWS(ctx, srv.URL)
	require.NoError(t, err)
	defer wsA.Close()
	wsB, err := DialWS(ctx, srv.URL)
	require.NoError(t, err)
	defer wsB.Close()

	_, err = a.Sync(ctx, wsA)
	require.NoError(t, err)
	_, err = b.Sync(ctx, wsB)
	require.NoError(t, err)
	_, err = a.Sync(ctx, wsA)
	require.NoError(t, err)

	assert.Equal(t, a.Trie().Hash(), b.Trie().Hash())
	doc, err := a.Get(ctx, "todos", value.String("2"))
	require.NoError(t, err)
	assert.Equal(t, value.Obj(value.P("title", value.String("from b"))), doc.Value)
}

func TestWSClient_ProtocolErrorClosesConnection(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall)

	ws, err := DialWS(ctx, srv.URL)
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Exchange(ctx, syncproto.Request{
		GroupID:  "team",
		ClientID: hlc.MustParseNodeID("hub"),
		Merkle:   merkle.New(0),
	})
	require.Error(t, err)
	assert.True(t, engine.IsProtocolError(err))
}

func TestServer_WebSocketOriginCheck(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	srv, _ := newTestServer(t, wall, WithAllowedOrigins("https://app.example.com"))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"allowed origin", "https://app.example.com", true},
		{"same host", srv.URL, true},
		{"foreign origin", "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestLocal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	wall := testutil.NewManualClockMillis(baseMillis)
	a := newEngine(t, "aaaa", "team", wall)
	b := newEngine(t, "bbbb", "team", wall)
	apply(t, a, "1", "hi")

	report, err := a.Sync(ctx, Local{Handler: b})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, a.Trie().Hash(), b.Trie().Hash())
}

func TestValidGroup(t *testing.T) {
	assert.True(t, ValidGroup("team-1.main_x"))
	assert.False(t, ValidGroup(""))
	assert.False(t, ValidGroup("a/b"))
	assert.False(t, ValidGroup(strings.Repeat("g", 129)))
}

func TestUUIDv7IDs(t *testing.T) {
	ids := UUIDv7IDs{}
	first, second := ids.Next(), ids.Next()
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}
