package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rtpulse/internal/app"
	"rtpulse/internal/config"
)

type runFlags struct {
	period     int64
	minPeriod  int64
	lockMemory bool
	realtime   bool
	priority   int
	iterations uint64
	line       string
	chip       string
	offset     int
}

func newRunCommand(configPath *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the periodic pulse task until interrupted",
		Long: `Initializes the output line, optionally locks memory and switches the ` +
			`worker thread to SCHED_FIFO, then pulses the line once per period. ` +
			`SIGINT or SIGTERM stops the loop gracefully; --iterations bounds the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(app.Options{
				ConfigPath: *configPath,
				Override:   f.override(cmd),
				LogOutput:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}

	fl := cmd.Flags()
	fl.Int64Var(&f.period, "period", config.DefaultPeriodUS, "period in microseconds")
	fl.Int64Var(&f.minPeriod, "min-period", config.DefaultMinPeriodUS, "shortest allowed period in microseconds; shorter requests are clamped")
	fl.BoolVar(&f.lockMemory, "lock-memory", false, "lock all process memory (mlockall)")
	fl.BoolVar(&f.realtime, "realtime", false, "run the worker thread under SCHED_FIFO")
	fl.IntVar(&f.priority, "priority", 0, "SCHED_FIFO priority 1..99 (default 80)")
	fl.Uint64Var(&f.iterations, "iterations", 0, "stop after this many pulses (0: run until interrupted)")
	fl.StringVar(&f.line, "line", "", "line backend: cdev, mmio or sim")
	fl.StringVar(&f.chip, "chip", "", "GPIO chip for the cdev backend")
	fl.IntVar(&f.offset, "offset", 0, "line offset on the chip (BCM pin for mmio)")
	return cmd
}

// override applies the flags the user actually set on top of the config
// file.
func (f *runFlags) override(cmd *cobra.Command) func(*config.Config) {
	changed := cmd.Flags().Changed
	return func(c *config.Config) {
		if changed("period") {
			c.Task.PeriodUS = f.period
		}
		if changed("min-period") {
			c.Task.MinPeriodUS = f.minPeriod
		}
		if changed("lock-memory") {
			c.Task.LockMemory = f.lockMemory
		}
		if changed("realtime") {
			c.Task.RealtimePolicy = f.realtime
		}
		if changed("priority") {
			c.Task.Priority = f.priority
		}
		if changed("iterations") {
			c.Task.Iterations = f.iterations
		}
		if changed("line") {
			c.Line.Backend = f.line
		}
		if changed("chip") {
			c.Line.Chip = f.chip
		}
		if changed("offset") {
			c.Line.Offset = f.offset
			c.Line.MMIO.Pin = f.offset
		}
	}
}
