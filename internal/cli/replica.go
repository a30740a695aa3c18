package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/config"
	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/store"
	"github.com/roach88/hlcsync/internal/value"
)

// loadConfig reads the config file and environment, then applies the global
// flags that were set explicitly.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv("HLCSYNC_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err).withCode(ErrCodeConfig)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("group") {
		cfg.Group = opts.Group
	}
	if flags.Changed("node") {
		cfg.NodeID = opts.NodeID
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid flags", err).withCode(ErrCodeConfig)
	}
	return cfg, nil
}

// engineOptions maps config onto engine options.
func engineOptions(cfg config.Config, group string) []engine.Option {
	return []engine.Option{
		engine.WithGroup(group),
		engine.WithLogger(slog.Default()),
		engine.WithMaxRounds(cfg.MaxRounds),
		engine.WithPageSize(cfg.PageSize),
		engine.WithResolution(cfg.BucketResolution),
		engine.WithClockOptions(hlc.WithMaxDrift(cfg.MaxDrift)),
	}
}

// resolveNode returns the replica's node id. A configured id is recorded on
// first use and must match the recorded one afterwards.
func resolveNode(ctx context.Context, s oplog.Store, configured string) (hlc.NodeID, error) {
	if configured == "" {
		return engine.NodeIdentity(ctx, s)
	}

	node, err := hlc.ParseNodeID(configured)
	if err != nil {
		return "", err
	}
	stored, ok, err := s.Setting(ctx, "node_id")
	if err != nil {
		return "", err
	}
	if !ok {
		return node, s.PutSetting(ctx, "node_id", node.String())
	}
	if stored != node.String() {
		return "", fmt.Errorf("database belongs to node %s, not %s", stored, node)
	}
	return node, nil
}

// replica is an opened local database and its engine.
type replica struct {
	store  *store.Store
	engine *engine.Engine
}

func (r *replica) Close() {
	if err := r.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// openReplica opens the configured SQLite database and the engine over it.
func openReplica(ctx context.Context, cfg config.Config) (*replica, error) {
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).withCode(ErrCodeStore)
	}

	node, err := resolveNode(ctx, st, cfg.NodeID)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to resolve node id", err).withCode(ErrCodeStore)
	}

	eng, err := engine.Open(ctx, st, node, engineOptions(cfg, cfg.Group)...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open engine", err).withCode(ErrCodeStore)
	}
	return &replica{store: st, engine: eng}, nil
}

// groupDatabase derives the SQLite path serve uses for one group:
// "data/hlcsync.db" becomes "data/hlcsync.<group>.db".
func groupDatabase(path, group string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + group + ext
}

// parseKey reads an object key: JSON when it parses as a valid key, else the
// literal string.
func parseKey(s string) value.Value {
	if v, err := value.Unmarshal([]byte(s)); err == nil && value.ValidateKey(v) == nil {
		return v
	}
	return value.String(s)
}

// parseValue reads a JSON value. Bare words that are not JSON are taken as
// strings.
func parseValue(s string) (value.Value, error) {
	if v, err := value.Unmarshal([]byte(s)); err == nil {
		return v, nil
	}
	if s == "" || strings.ContainsAny(s[:1], `{["`) {
		return nil, fmt.Errorf("value %q is not valid JSON", s)
	}
	return value.String(s), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
