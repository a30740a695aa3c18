package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/syncproto"
)

// DefaultTimeout bounds one HTTP round when the caller's context has no
// deadline.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps request and response bodies.
const maxBodyBytes = 64 << 20

// HTTPClient sends sync rounds to a Server with POST /sync.
type HTTPClient struct {
	base string
	http *http.Client
	ids  IDGenerator
}

// ClientOption configures HTTPClient and WSClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	http *http.Client
	ids  IDGenerator
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.http = c }
}

// WithIDs replaces the UUIDv7 request id generator.
func WithIDs(ids IDGenerator) ClientOption {
	return func(cfg *clientConfig) { cfg.ids = ids }
}

func newClientConfig(opts []ClientOption) clientConfig {
	cfg := clientConfig{
		http: &http.Client{Timeout: DefaultTimeout},
		ids:  UUIDv7IDs{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewHTTPClient returns a client for the server at base, for example
// "http://localhost:8080".
func NewHTTPClient(base string, opts ...ClientOption) *HTTPClient {
	cfg := newClientConfig(opts)
	return &HTTPClient{
		base: strings.TrimRight(base, "/"),
		http: cfg.http,
		ids:  cfg.ids,
	}
}

// Exchange implements syncproto.Transport.
//
// A 422 answer is the server's *engine.ProtocolError and is returned as one,
// so callers see the same error type for local and remote protocol failures.
func (c *HTTPClient) Exchange(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	body, err := syncproto.Encode(req)
	if err != nil {
		return syncproto.Response{}, fmt.Errorf("encode sync request: %w", err)
	}

	id := c.ids.Next()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/sync", bytes.NewReader(body))
	if err != nil {
		return syncproto.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, id)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return syncproto.Response{}, fmt.Errorf("post sync: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return syncproto.Response{}, fmt.Errorf("read sync response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		if httpResp.StatusCode == http.StatusUnprocessableEntity {
			return syncproto.Response{}, &engine.ProtocolError{Reason: "peer: " + eb.Error}
		}
		return syncproto.Response{}, &StatusError{Code: httpResp.StatusCode, Message: eb.Error, RequestID: id}
	}

	return syncproto.DecodeResponse(data)
}
