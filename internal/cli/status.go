package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusResult is the JSON payload of status.
type StatusResult struct {
	Node       string `json:"node"`
	Group      string `json:"group"`
	Database   string `json:"database"`
	Clock      string `json:"clock"`
	Entries    int    `json:"entries"`
	MerkleRoot uint64 `json:"merkleRoot"`
	Resolution string `json:"resolution"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node id, clock, entry count and Merkle root",
		Long: `Show the replica's node id, the newest HLC timestamp it has issued or
observed, the number of stored entries and the Merkle root over the winning
timestamps. Two replicas of a group have converged when their roots match.

Example:
  hlcsync status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	st, err := r.engine.Status(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "status failed", err).withCode(ErrCodeStore)
	}

	res := StatusResult{
		Node:       st.Node.String(),
		Group:      st.Group,
		Database:   cfg.Database,
		Clock:      st.Clock.String(),
		Entries:    st.Entries,
		MerkleRoot: st.MerkleRoot,
		Resolution: st.Resolution.String(),
	}
	text := fmt.Sprintf("node:        %s\ngroup:       %s\ndatabase:    %s\nclock:       %s\nentries:     %d\nmerkle root: %016x\nresolution:  %s",
		res.Node, res.Group, res.Database, res.Clock, res.Entries, res.MerkleRoot, res.Resolution)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(text, res)
}
