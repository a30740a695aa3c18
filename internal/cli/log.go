package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/hlc"
	"github.com/roach88/hlcsync/internal/oplog"
	"github.com/roach88/hlcsync/internal/value"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Since string
	Limit int
	Node  string
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List stored oplog entries in timestamp order",
		Long: `List stored entries in ascending HLC order, one per line:

  <hlc time> <store>[<key>].<prop> = <value>

Superseded entries that were stored before a newer write arrived are listed
too; entries that arrived already stale were never stored.

Example:
  hlcsync log
  hlcsync log --since 2024-05-01T00:00:00.000Z-0000-0000000000000000 --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "only entries at or after this HLC timestamp")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many entries (0 = all)")
	cmd.Flags().StringVar(&opts.Node, "exclude-node", "", "skip entries authored by this node")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	q := oplog.ScanQuery{}
	if opts.Since != "" {
		since, err := hlc.Parse(opts.Since)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since", err).withCode(ErrCodeInput)
		}
		q.Since = since
	}
	if opts.Node != "" {
		node, err := hlc.ParseNodeID(opts.Node)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --exclude-node", err).withCode(ErrCodeInput)
		}
		q.ExcludeClient = node
	}

	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	q.Limit = cfg.PageSize

	ctx := commandContext(cmd)
	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	entries := []oplog.Entry{}
	var text strings.Builder
	for e, err := range oplog.Scan(ctx, r.store, q) {
		if err != nil {
			return WrapExitError(ExitCommandError, "scan failed", err).withCode(ErrCodeStore)
		}
		entries = append(entries, e)
		fmt.Fprintf(&text, "%s %s = %s\n", e.HLCTime, describeField(e), value.Text(e.Value))
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(entries)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text.String())
	return err
}
