// Package cli provides the rtpulse command-line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"rtpulse/internal/app"
	"rtpulse/internal/rt/rterr"
)

// version is set at build time with -ldflags "-X rtpulse/internal/cli.version=...".
var version = "dev"

// newApp is swapped in tests.
var newApp = app.New

// NewRootCommand builds the command tree. Every call returns fresh flag
// state.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "rtpulse",
		Short: "Drift-free periodic pulse generator for real-time Linux.",
		Long: `rtpulse toggles one output line at a fixed period from a dedicated ` +
			`real-time thread, using absolute monotonic deadlines so the schedule ` +
			`never accumulates drift.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return rterr.New(rterr.KindConfig, "usage", err)
	})

	root.AddCommand(
		newRunCommand(&configPath),
		newProbeCommand(&configPath),
		newHistoryCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI. The returned error maps to the exit code through
// rterr.ExitCode.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
