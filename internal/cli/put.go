package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hlcsync/internal/engine"
	"github.com/roach88/hlcsync/internal/oplog"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Prop string
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <store> <key> <value>",
		Short: "Write a field or a whole object locally",
		Long: `Stamp a mutation with the hybrid logical clock and merge it into the
local replica. The value is JSON; a bare word is taken as a string and null
deletes. Without --prop the value replaces the whole object.

The key is JSON when it parses as a string, number or array, otherwise the
literal text.

Example:
  hlcsync put todos 1 '"buy milk"' --prop title
  hlcsync put todos 1 '{"title":"buy milk","done":false}'
  hlcsync put todos 1 null --prop done`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, cmd, args[0], args[1], args[2])
		},
	}

	cmd.Flags().StringVarP(&opts.Prop, "prop", "p", "", "property to set (default: whole object)")

	return cmd
}

func runPut(opts *PutOptions, cmd *cobra.Command, storeName, keyArg, valueArg string) error {
	val, err := parseValue(valueArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid value", err).withCode(ErrCodeInput)
	}

	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	entry, err := r.engine.Apply(ctx, engine.Mutation{
		Store:     storeName,
		ObjectKey: parseKey(keyArg),
		Prop:      opts.Prop,
		Value:     val,
	})
	if err != nil {
		code := ErrCodeStore
		if oplog.IsInvalidEntry(err) {
			code = ErrCodeInput
		}
		return WrapExitError(ExitCommandError, "put failed", err).withCode(code)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(fmt.Sprintf("%s %s", entry.HLCTime, describeField(entry)), entry)
}

func describeField(e oplog.Entry) string {
	field := fmt.Sprintf("%s[%s]", e.Store, e.Field().ObjectKey)
	if e.Prop != "" {
		field += "." + e.Prop
	}
	return field
}
