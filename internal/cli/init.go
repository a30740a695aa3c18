package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// InitResult is the JSON payload of init.
type InitResult struct {
	Node     string `json:"node"`
	Database string `json:"database"`
	Group    string `json:"group"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the local database and node identity",
		Long: `Create the local SQLite database if needed and record the replica's
node id. A random id is generated unless --node (or node_id in the config)
pins one. Running init again is harmless and prints the existing identity.

Example:
  hlcsync init --db ./replica.db
  hlcsync init --db ./replica.db --node laptop01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	r, err := openReplica(commandContext(cmd), cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	res := InitResult{Node: r.engine.Node().String(), Database: cfg.Database, Group: cfg.Group}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(fmt.Sprintf("node %s ready in %s (group %s)", res.Node, res.Database, res.Group), res)
}
