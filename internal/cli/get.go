package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/value"
)

// GetResult is the JSON payload of get.
type GetResult struct {
	Store    string          `json:"store"`
	Key      json.RawMessage `json:"key"`
	Found    bool            `json:"found"`
	Document json.RawMessage `json:"document"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <store> <key>",
		Short: "Print the projected document for an object",
		Long: `Print the document projected from the winning entries of one object,
as canonical JSON. A missing object exits with code 1.

Example:
  hlcsync get todos 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runGet(opts *RootOptions, cmd *cobra.Command, storeName, keyArg string) error {
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

	key := parseKey(keyArg)
	doc, err := r.engine.Get(ctx, storeName, key)
	if err != nil {
		return WrapExitError(ExitCommandError, "get failed", err).withCode(ErrCodeStore)
	}
	if !doc.Found {
		return NewExitError(ExitFailure, "no document "+storeName+"["+value.Text(key)+"]").withCode(ErrCodeInput)
	}

	text := value.Text(doc.Value)
	res := GetResult{
		Store:    storeName,
		Key:      json.RawMessage(value.Text(key)),
		Found:    true,
		Document: json.RawMessage(text),
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(text, res)
}
