package cli

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rtpulse/internal/app"
	"rtpulse/internal/telemetry"
	"rtpulse/pkg/systemdmanager"
)

func newProbeCommand(configPath *string) *cobra.Command {
	var (
		asJSON bool
		unit   string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether this host can run the task in real time",
		Long: `Reports the kernel, PREEMPT_RT support and the memlock limit, and tries ` +
			`mlockall and SCHED_FIFO (reverting both) to show what a run would be allowed to do.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(app.Options{ConfigPath: *configPath, LogOutput: io.Discard})
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.Probe(cmd.Context(), unit)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printProbe(cmd, r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&unit, "unit", "", "also inspect the limits of this systemd unit")
	return cmd
}

func printProbe(cmd *cobra.Command, r telemetry.HostReport) {
	cmd.Printf("host:          %s (%s, %s)\n", r.Hostname, r.Platform, r.Arch)
	cmd.Printf("kernel:        %s\n", r.KernelVersion)
	cmd.Printf("PREEMPT_RT:    %s\n", yesNo(r.RealtimeKern))
	cmd.Printf("memory:        %s\n", humanize.IBytes(r.MemTotal))
	cmd.Printf("memlock limit: %s / %s\n", limit(r.MemlockCur), limit(r.MemlockMax))
	cmd.Printf("mlockall:      %s\n", outcome(r.CanLockMemory, r.LockMemoryErr))
	cmd.Printf("SCHED_FIFO:    %s\n", outcome(r.CanRealtime, r.RealtimeErr))
	switch {
	case r.UnitErr != "":
		cmd.Printf("unit:          error: %s\n", r.UnitErr)
	case r.Unit != nil && !r.Unit.Found():
		cmd.Printf("unit:          %s not found\n", r.Unit.Name)
	case r.Unit != nil:
		u := r.Unit
		cmd.Printf("unit:          %s (%s/%s)\n", u.Name, u.ActiveState, u.SubState)
		cmd.Printf("  policy:      %s prio %d\n", u.SchedulingPolicy, u.SchedulingPriority)
		cmd.Printf("  LimitRTPRIO: %s\n", rtprio(u.LimitRTPRIO))
		cmd.Printf("  LimitMEMLOCK: %s\n", limit(u.LimitMEMLOCK))
		if u.Watchdog > 0 {
			cmd.Printf("  watchdog:    %s\n", u.Watchdog)
		}
	}
}

func rtprio(v uint64) string {
	if v == systemdmanager.Infinity {
		return "unlimited"
	}
	return strconv.FormatUint(v, 10)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func outcome(ok bool, errStr string) string {
	if ok {
		return "permitted"
	}
	return "denied: " + errStr
}

func limit(v uint64) string {
	if v == systemdmanager.Infinity {
		return "unlimited"
	}
	return humanize.IBytes(v)
}
