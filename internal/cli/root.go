// Package cli implements the nestwrite command line.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Schema  string
	Node    string
}

// NewRootCommand creates the root command of the nestwrite CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nestwrite",
		Short: "Write nested payloads to relational storage",
		Long: `nestwrite matches nested payload trees against stored entities and
writes them in dependency order inside one transaction per payload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "schema definition file (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.Node, "node", "", "root node schema name")

	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// logger returns a text logger writing to w.
func (o *RootOptions) logger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose || debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
