package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/syncproto"
)

// WSClient runs sync rounds over one WebSocket connection: each round writes
// a request frame and reads the response frame. Rounds are serialized.
type WSClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWS connects to the server at base ("http://..." or "ws://...") and
// returns a client for GET /ws.
func DialWS(ctx context.Context, base string, opts ...ClientOption) (*WSClient, error) {
	cfg := newClientConfig(opts)

	url := strings.TrimRight(base, "/") + "/ws"
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	}

	header := http.Header{}
	header.Set(RequestIDHeader, cfg.ids.Next())

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode, Message: err.Error(), RequestID: header.Get(RequestIDHeader)}
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxBodyBytes)
	return &WSClient{conn: conn}, nil
}

// Exchange implements syncproto.Transport. The context deadline, if any,
// bounds the round; cancellation without a deadline is not observed while a
// frame is in flight.
func (c *WSClient) Exchange(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	if err := ctx.Err(); err != nil {
		return syncproto.Response{}, err
	}

	body, err := syncproto.Encode(req)
	if err != nil {
		return syncproto.Response{}, fmt.Errorf("encode sync request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return syncproto.Response{}, fmt.Errorf("write sync frame: %w", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
			return syncproto.Response{}, &engine.ProtocolError{Reason: "peer: " + ce.Text}
		}
		return syncproto.Response{}, fmt.Errorf("read sync frame: %w", err)
	}
	return syncproto.DecodeResponse(data)
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
