package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/syncproto"
	"github.com/roach88/hlcsync/internal/transport"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Peer      string
	WebSocket bool
	Interval  time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the local replica in sync until interrupted",
		Long: `Sync once, then again on every tick of --interval, on every local change
and, when redis_addr is configured, whenever another replica pushes entries
into the group. Transport failures are logged and retried on the next
trigger; a protocol error stops the watch.

Example:
  hlcsync watch --peer http://localhost:8080 --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Peer, "peer", "", "sync server URL (overrides config)")
	cmd.Flags().BoolVar(&opts.WebSocket, "ws", false, "use one WebSocket connection instead of HTTP POSTs")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Minute, "time between periodic syncs")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if opts.Peer != "" {
		cfg.Peer = opts.Peer
	}
	if cfg.Peer == "" {
		return NewExitError(ExitCommandError, "no peer: set --peer or peer in the config").withCode(ErrCodeConfig)
	}
	if opts.Interval <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("interval must be positive, got %s", opts.Interval)).withCode(ErrCodeInput)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	t, closer, err := dialPeer(ctx, cfg, opts.WebSocket)
	if err != nil {
		return err
	}
	defer closer.Close()

	var notices <-chan transport.Notice
	if cfg.RedisAddr != "" {
		rdb, err := transport.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err).withCode(ErrCodeTransport)
		}
		defer rdb.Close()
		sub, err := transport.NewNotifier(rdb, slog.Default()).Subscribe(ctx, cfg.Group)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to subscribe", err).withCode(ErrCodeTransport)
		}
		defer sub.Close()
		notices = sub.C
	}

	slog.Info("watching", "peer", cfg.Peer, "group", cfg.Group, "interval", opts.Interval)
	return watchLoop(ctx, r.engine, t, opts.Interval, notices)
}

// watchLoop syncs on every trigger until ctx is cancelled. Only a protocol
// error ends it early.
func watchLoop(ctx context.Context, eng *engine.Engine, t syncproto.Transport, interval time.Duration, notices <-chan transport.Notice) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	trigger := func(reason string) error {
		report, err := syncOnce(ctx, eng, t)
		switch {
		case err == nil:
			slog.Info("synced",
				"reason", reason,
				"rounds", report.Rounds,
				"sent", report.Sent,
				"applied", report.Applied)
			return nil
		case ctx.Err() != nil:
			return nil
		case engine.IsProtocolError(err):
			return err
		default:
			slog.Warn("sync failed, will retry", "reason", reason, "error", err)
			return nil
		}
	}

	if err := trigger("startup"); err != nil {
		return err
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			slog.Info("watch stopped")
			return nil
		case <-eng.Changes():
			err = trigger("local change")
		case <-ticker.C:
			err = trigger("interval")
		case n, ok := <-notices:
			if !ok {
				slog.Warn("notice subscription closed, falling back to interval")
				notices = nil
				continue
			}
			if n.ClientID == eng.Node() {
				continue
			}
			err = trigger("peer notice")
		}
		if err != nil {
			return err
		}
	}
}
