// Package telemetry reports on a running task from outside the RT thread:
// periodic stats (cron scheduled), systemd readiness and watchdog, and a
// host probe.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/process"

	"rtpulse/internal/config"
	"rtpulse/internal/eventbus"
	"rtpulse/internal/rt/task"
	logx "rtpulse/pkg/logx"
)

// Report is one periodic stats sample.
type Report struct {
	task.Stats
	At   time.Time `json:"at"`
	Rate float64   `json:"rate_hz"` // pulses per second since the previous report
	RSS  uint64    `json:"rss_bytes,omitempty"`
}

// Reporter samples task stats on a cron schedule, logs them and publishes
// them on the bus.
type Reporter struct {
	log   logx.Logger
	bus   eventbus.Bus
	stats func() task.Stats
	now   func() time.Time
	proc  *process.Process

	mu       sync.Mutex
	schedule string
	c        *cron.Cron
	lastAt   time.Time
	lastIter uint64
}

// NewReporter validates schedule. An empty schedule disables the periodic
// report until Reschedule sets one.
func NewReporter(schedule string, stats func() task.Stats, log logx.Logger, bus eventbus.Bus) (*Reporter, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule != "" {
		if _, err := config.ParseSchedule(schedule); err != nil {
			return nil, fmt.Errorf("telemetry schedule %q: %w", schedule, err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reporter{
		log:      log.With(logx.String("comp", "telemetry")),
		bus:      bus,
		stats:    stats,
		now:      time.Now,
		schedule: schedule,
	}
	// RSS is informational; without it reports just omit the field.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r, nil
}

// Run drives the schedule until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(config.ScheduleParser))
	r.mu.Lock()
	r.lastAt = r.now()
	if r.schedule != "" {
		if _, err := c.AddFunc(r.schedule, func() { r.Report() }); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.c = c
	r.mu.Unlock()

	c.Start()
	r.log.Debug("reporter started", logx.String("schedule", r.Schedule()))
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-stopCtx.Done():
	}
	return nil
}

func (r *Reporter) Schedule() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedule
}

// Reschedule swaps the cron spec of a running reporter.
func (r *Reporter) Reschedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule != "" {
		if _, err := config.ParseSchedule(schedule); err != nil {
			return fmt.Errorf("telemetry schedule %q: %w", schedule, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if schedule == r.schedule {
		return nil
	}
	r.schedule = schedule
	if r.c == nil {
		return nil
	}
	for _, e := range r.c.Entries() {
		r.c.Remove(e.ID)
	}
	if schedule != "" {
		if _, err := r.c.AddFunc(schedule, func() { r.Report() }); err != nil {
			return err
		}
	}
	r.log.Info("reporter rescheduled", logx.String("schedule", schedule))
	return nil
}

// Report takes one sample, logs it and publishes it.
func (r *Reporter) Report() Report {
	st := r.stats()
	now := r.now()

	r.mu.Lock()
	var rate float64
	if dt := now.Sub(r.lastAt); dt > 0 && !r.lastAt.IsZero() && st.Iterations >= r.lastIter {
		rate = float64(st.Iterations-r.lastIter) / dt.Seconds()
	}
	r.lastAt, r.lastIter = now, st.Iterations
	r.mu.Unlock()

	rep := Report{Stats: st, At: now, Rate: rate}
	if r.proc != nil {
		if mi, err := r.proc.MemoryInfo(); err == nil {
			rep.RSS = mi.RSS
		}
	}

	r.log.Info("task stats",
		logx.String("state", st.State.String()),
		logx.Uint64("iterations", st.Iterations),
		logx.Float64("rate_hz", rate),
		logx.Uint64("overruns", st.Overruns),
		logx.Uint64("actuation_errors", st.ActuationErrors),
		logx.Duration("max_lateness", st.MaxLateness),
		logx.Uint64("rss", rep.RSS),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeStats, Time: now, Data: rep})
	}
	return rep
}
