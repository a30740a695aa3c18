package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/config"
	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/syncproto"
	"github.com/roach88/hlcsync/internal/transport"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Peer      string
	WebSocket bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local replica with a sync server",
		Long: `Run the sync loop against a server started with 'hlcsync serve' until
both Merkle tries agree. A peer that keeps diverging at the same bucket is a
protocol error and exits with code 1.

Example:
  hlcsync sync --peer http://localhost:8080
  hlcsync sync --peer http://localhost:8080 --ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Peer, "peer", "", "sync server URL (overrides config)")
	cmd.Flags().BoolVar(&opts.WebSocket, "ws", false, "use one WebSocket connection instead of HTTP POSTs")

	return cmd
}

// SyncResult is the JSON payload of sync.
type SyncResult struct {
	Rounds     int    `json:"rounds"`
	Sent       int    `json:"sent"`
	Received   int    `json:"received"`
	Applied    int    `json:"applied"`
	Rejected   int    `json:"rejected"`
	MerkleRoot uint64 `json:"merkleRoot"`
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
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

	report, err := syncOnce(ctx, r.engine, t)
	if err != nil {
		return err
	}

	res := SyncResult{
		Rounds:     report.Rounds,
		Sent:       report.Sent,
		Received:   report.Received,
		Applied:    report.Applied,
		Rejected:   report.Rejected,
		MerkleRoot: report.MerkleRoot,
	}
	text := fmt.Sprintf("synced with %s in %d round(s): sent %d, received %d, applied %d, rejected %d, root %016x",
		cfg.Peer, res.Rounds, res.Sent, res.Received, res.Applied, res.Rejected, res.MerkleRoot)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(text, res)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// dialPeer returns the transport for cfg.Peer.
func dialPeer(ctx context.Context, cfg config.Config, ws bool) (syncproto.Transport, io.Closer, error) {
	if !ws {
		return transport.NewHTTPClient(cfg.Peer), nopCloser{}, nil
	}
	c, err := transport.DialWS(ctx, cfg.Peer)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to connect to peer", err).withCode(ErrCodeTransport)
	}
	return c, c, nil
}

// syncOnce runs one Sync call and maps its errors to exit codes.
func syncOnce(ctx context.Context, eng *engine.Engine, t syncproto.Transport) (engine.SyncReport, error) {
	report, err := eng.Sync(ctx, t)
	switch {
	case err == nil:
		return report, nil
	case engine.IsProtocolError(err):
		return report, WrapExitError(ExitFailure, "sync failed", err).withCode(ErrCodeProtocol)
	default:
		return report, WrapExitError(ExitCommandError, "sync failed", err).withCode(ErrCodeTransport)
	}
}
