package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/config"
	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/pgstore"
	"github.com/roach88/hlcsync/internal/store"
	"github.com/roach88/hlcsync/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a sync server for any number of groups",
		Long: `Serve POST /sync, GET /ws, GET /healthz and GET /groups/{group}/merkle.

Each group gets its own engine, opened on first request. Group oplogs live in
Postgres when postgres_dsn is configured, otherwise in one SQLite file per
group next to --db ("hlcsync.db" becomes "hlcsync.<group>.db"). With
redis_addr set, every round that carried entries is announced on Redis for
'hlcsync watch'.

Example:
  hlcsync serve --listen :8080 --db ./server.db
  HLCSYNC_POSTGRES_DSN=postgres://localhost/hlcsync hlcsync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	groups, err := newGroupStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer groups.Close()

	serverOpts := []transport.ServerOption{
		transport.WithServerLogger(slog.Default()),
		transport.WithAllowedOrigins(cfg.AllowedOrigins...),
	}
	if cfg.RedisAddr != "" {
		rdb, err := transport.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err).withCode(ErrCodeTransport)
		}
		defer rdb.Close()
		serverOpts = append(serverOpts, transport.WithNotifier(transport.NewNotifier(rdb, slog.Default())))
	}

	srv := transport.NewServer(groups.Open, serverOpts...)
	slog.Info("serving", "listen", cfg.Listen, "postgres", cfg.PostgresDSN != "", "redis", cfg.RedisAddr != "")

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err).withCode(ErrCodeTransport)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// groupStores opens one store and engine per group for the server.
type groupStores struct {
	cfg config.Config

	mu     sync.Mutex
	pool   func(group string) oplog.Store // nil unless Postgres is configured
	closes []func() error
}

func newGroupStores(ctx context.Context, cfg config.Config) (*groupStores, error) {
	g := &groupStores{cfg: cfg}
	if cfg.PostgresDSN == "" {
		return g, nil
	}

	pool, err := pgstore.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to postgres", err).withCode(ErrCodeStore)
	}
	g.pool = func(group string) oplog.Store { return pgstore.ForGroup(pool, group) }
	g.closes = append(g.closes, func() error { pool.Close(); return nil })
	return g, nil
}

// Open implements transport.Opener.
func (g *groupStores) Open(ctx context.Context, group string) (transport.Replica, error) {
	var s oplog.Store
	if g.pool != nil {
		s = g.pool(group)
	} else {
		path := groupDatabase(g.cfg.Database, group)
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.closes = append(g.closes, st.Close)
		g.mu.Unlock()
		s = st
	}

	node, err := engine.NodeIdentity(ctx, s)
	if err != nil {
		return nil, err
	}
	slog.Info("group opened", "group", group, "node", node.String())
	eng, err := engine.Open(ctx, s, node, engineOptions(g.cfg, group)...)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// Close releases every store, newest first.
func (g *groupStores) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.closes) - 1; i >= 0; i-- {
		if err := g.closes[i](); err != nil {
			slog.Error("error closing group store", "error", err)
		}
	}
}
