package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/syncproto"
)

// Server answers sync rounds for any number of groups.
//
// Routes:
//
//	POST /sync                  one round, JSON request and response
//	GET  /ws                    WebSocket, one round per frame pair
//	GET  /healthz               liveness and open groups
//	GET  /groups/{group}/merkle current trie of a group
type Server struct {
	router   *mux.Router
	groups   *registry
	notifier *Notifier
	logger   *slog.Logger
	ids      IDGenerator
	origins  []string
	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. Default: slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithNotifier publishes a Notice after every round that carried entries.
func WithNotifier(n *Notifier) ServerOption {
	return func(s *Server) { s.notifier = n }
}

// WithServerIDs replaces the generator used for requests that arrive
// without an X-Request-Id header.
func WithServerIDs(ids IDGenerator) ServerOption {
	return func(s *Server) { s.ids = ids }
}

// WithAllowedOrigins lets browsers from these origins open /ws, for example
// "https://app.example.com". Requests without an Origin header (CLI peers)
// and same-host origins are always accepted.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

type ctxKey struct{}

// NewServer builds a server that opens group replicas with open.
func NewServer(open Opener, opts ...ServerOption) *Server {
	s := &Server{
		groups: newRegistry(open),
		logger: slog.Default(),
		ids:    UUIDv7IDs{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	r := mux.NewRouter()
	r.Use(s.withRequestID)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/merkle", s.handleMerkle).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Handler returns the routed handler, for httptest or a custom http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sync server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("sync server stopping: context cancelled")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = s.ids.Next()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// roundError carries the HTTP status for a failed round.
type roundError struct {
	status int
	err    error
}

func (e *roundError) Error() string { return e.err.Error() }
func (e *roundError) Unwrap() error { return e.err }

// round runs one sync round for a decoded request.
func (s *Server) round(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	if !ValidGroup(req.GroupID) {
		return syncproto.Response{}, &roundError{http.StatusBadRequest, errors.New("invalid or missing groupId")}
	}
	rep, err := s.groups.get(ctx, req.GroupID)
	if err != nil {
		return syncproto.Response{}, &roundError{http.StatusServiceUnavailable, err}
	}

	resp, err := rep.HandleSync(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case engine.IsProtocolError(err):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		return syncproto.Response{}, &roundError{status, err}
	}

	if s.notifier != nil && len(req.Messages) > 0 {
		notice := Notice{Group: req.GroupID, ClientID: req.ClientID, MerkleRoot: resp.Merkle.Hash()}
		if err := s.notifier.Publish(ctx, notice); err != nil {
			s.logger.Warn("notice not published",
				"request_id", requestID(ctx),
				"group", req.GroupID,
				"error", err)
		}
	}
	return resp, nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req, err := syncproto.DecodeRequest(data)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := s.round(ctx, req)
	if err != nil {
		var re *roundError
		if errors.As(err, &re) {
			s.writeError(w, r, re.status, re.err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	body, err := syncproto.Encode(resp)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := requestID(ctx)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "request_id", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	s.logger.Debug("websocket connected", "request_id", id, "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "request_id", id, "error", err)
			}
			return
		}

		req, err := syncproto.DecodeRequest(data)
		if err != nil {
			s.closeWS(conn, websocket.CloseUnsupportedData, err)
			return
		}
		resp, err := s.round(ctx, req)
		if err != nil {
			code := websocket.CloseInternalServerErr
			var re *roundError
			if errors.As(err, &re) && re.status == http.StatusUnprocessableEntity {
				code = websocket.ClosePolicyViolation
			}
			s.logger.Warn("websocket round failed", "request_id", id, "error", err)
			s.closeWS(conn, code, err)
			return
		}

		body, err := syncproto.Encode(resp)
		if err != nil {
			s.closeWS(conn, websocket.CloseInternalServerErr, err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			s.logger.Debug("websocket write failed", "request_id", id, "error", err)
			return
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn, code int, err error) {
	text := err.Error()
	// Control frame payloads are limited to 125 bytes, two of which hold
	// the close code.
	if len(text) > 123 {
		text = text[:123]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

type healthBody struct {
	Status string   `json:"status"`
	Groups []string `json:"groups"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthBody{Status: "ok", Groups: s.groups.names()})
}

func (s *Server) handleMerkle(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]
	if !ValidGroup(group) {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid group"))
		return
	}
	rep, err := s.groups.get(r.Context(), group)
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep.Trie())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "sync request failed",
		"request_id", requestID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err)
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}
