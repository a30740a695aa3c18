package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	Group      string
	NodeID     string

	// LogWriter receives slog output. Nil means the command's stderr.
	LogWriter io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the hlcsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hlcsync",
		Short: "hlcsync - offline-first replication with hybrid logical clocks",
		Long: `hlcsync keeps a local replica of field-level mutations, stamped with a
hybrid logical clock and merged last-writer-wins, and reconciles it with a
sync server by diffing Merkle tries of the winning timestamps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts, cmd)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "path to YAML config file (default $HLCSYNC_CONFIG)")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	flags.StringVar(&opts.Group, "group", "", "sync group (overrides config)")
	flags.StringVar(&opts.NodeID, "node", "", "replica node id (overrides config)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported through the output formatter.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && isValidFormat(f.Value.String()) {
		format = f.Value.String()
	}
	out := &OutputFormatter{Format: format, Writer: stderr}
	if format == "json" {
		out.Writer = stdout
	}
	_ = out.Error(errorCode(err), err.Error(), nil)
	return GetExitCode(err)
}

// setupLogging installs a text handler on stderr, at Debug with --verbose.
func setupLogging(opts *RootOptions, cmd *cobra.Command) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	w := opts.LogWriter
	if w == nil {
		w = cmd.ErrOrStderr()
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
