package cli

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rtpulse/internal/app"
	"rtpulse/internal/rt/rterr"
	"rtpulse/internal/storage"
)

func newHistoryCommand(configPath *string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Long:  "Prints the run records kept by the configured storage (storage.driver file or sqlite).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(app.Options{ConfigPath: *configPath, LogOutput: io.Discard})
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.History(cmd.Context(), limit)
			if errors.Is(err, storage.ErrDisabled) {
				return rterr.New(rterr.KindConfig, "history", errors.New("no storage configured"))
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				cmd.Println("No runs recorded.")
				return nil
			}
			for _, r := range runs {
				printRun(cmd, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show (0: all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the records as JSON")
	return cmd
}

func printRun(cmd *cobra.Command, r storage.RunRecord) {
	cmd.Printf("%s  %s  %s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	cmd.Printf("  line %s, period %s", r.Line, r.Period)
	if r.Clamped {
		cmd.Print(" (clamped)")
	}
	cmd.Printf(", %s/%d, lock_memory=%t\n", r.Policy, r.Priority, r.LockMemory)
	cmd.Printf("  %s pulses, %d overruns, %d actuation errors, max lateness %s, ran %s\n",
		humanize.Comma(int64(r.Iterations)), r.Overruns, r.ActuationErrors, r.MaxLateness,
		r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond))
	cmd.Printf("  stopped: %s, exit %d", r.StopReason, r.ExitCode)
	if r.Error != "" {
		cmd.Printf(": %s", r.Error)
	}
	cmd.Println()
}
