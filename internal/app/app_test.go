package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpulse/internal/config"
	"rtpulse/internal/eventbus"
	"rtpulse/internal/pulse"
	"rtpulse/internal/rt/clock"
	"rtpulse/internal/rt/clock/clocktest"
	"rtpulse/internal/rt/rterr"
	"rtpulse/internal/rt/sched"
	"rtpulse/internal/rt/sched/schedtest"
	"rtpulse/internal/storage"
	"rtpulse/internal/telemetry"
	logx "rtpulse/pkg/logx"
)

// countingLine records how often the driver calls Shutdown.
type countingLine struct {
	pulse.Line
	shutdowns atomic.Int32
}

func (c *countingLine) Shutdown() error {
	c.shutdowns.Add(1)
	return c.Line.Shutdown()
}

type harness struct {
	sim  *pulse.Sim
	line *countingLine
	os   *schedtest.OS
	clk  *clocktest.Fake
	dir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sim := pulse.NewSim()
	return &harness{
		sim:  sim,
		line: &countingLine{Line: pulse.Guard(sim)},
		os:   schedtest.New(),
		clk:  clocktest.New(clock.Deadline{Sec: 100}),
		dir:  t.TempDir(),
	}
}

func (h *harness) openLine(pulse.Config) (pulse.Line, error) {
	if err := h.line.Init(); err != nil {
		return nil, err
	}
	return h.line, nil
}

// options builds app options for a run with the given task settings. Runs
// are recorded in a file store under the harness directory.
func (h *harness) options(task func(*config.TaskConfig)) Options {
	return Options{
		Override: func(c *config.Config) {
			c.Line.Backend = "sim"
			c.Telemetry = config.TelemetryConfig{}
			c.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(h.dir, "runs")}
			if task != nil {
				task(&c.Task)
			}
		},
		LogOutput: io.Discard,
		OS:        h.os,
		Clock:     h.clk,
		OpenLine:  h.openLine,
	}
}

func runApp(t *testing.T, ctx context.Context, opts Options) (*App, error) {
	t.Helper()
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, a.Run(ctx)
}

func lastRun(t *testing.T, a *App) storage.RunRecord {
	t.Helper()
	runs, err := a.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestRunRealtimeWithLockedMemory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, err := runApp(t, context.Background(), h.options(func(tc *config.TaskConfig) {
		tc.PeriodUS = 100
		tc.LockMemory = true
		tc.RealtimePolicy = true
		tc.Iterations = 1000
	}))
	require.NoError(t, err)
	assert.Equal(t, rterr.ExitOK, rterr.ExitCode(err))

	assert.Equal(t, uint64(1000), h.sim.Pulses())
	assert.Equal(t, int32(1), h.line.shutdowns.Load())
	locks, unlocks, _ := h.os.Calls()
	assert.Equal(t, 1, locks)
	assert.Equal(t, 1, unlocks)
	require.NotEmpty(t, h.os.Applies)
	assert.Equal(t, schedtest.Applied{Policy: sched.PolicyFIFO, Priority: sched.DefaultPriority}, h.os.Applies[0])

	// 999 waits at exact 100µs spacing.
	targets := h.clk.Targets()
	require.Len(t, targets, 999)
	assert.Equal(t, clock.Deadline{Sec: 100}.Add(100*time.Microsecond), targets[0])
	assert.Equal(t, clock.Deadline{Sec: 100}.Add(999*100*time.Microsecond), targets[998])

	rec := lastRun(t, a)
	assert.Equal(t, string(StopCompleted), rec.StopReason)
	assert.Equal(t, uint64(1000), rec.Iterations)
	assert.Equal(t, "SCHED_FIFO", rec.Policy)
	assert.True(t, rec.LockMemory)
	assert.Equal(t, "sim", rec.Line)
	assert.NotEmpty(t, rec.ID)
}

func TestRunClampsPeriodToMinimum(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	opts := h.options(func(tc *config.TaskConfig) {
		tc.PeriodUS = 10
		tc.MinPeriodUS = 40
		tc.Iterations = 3
	})
	a, err := New(opts)
	require.NoError(t, err)
	defer a.Close()

	events, unsub := a.Bus().Subscribe(64)
	defer unsub()

	require.NoError(t, a.Run(context.Background()))

	targets := h.clk.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, 40*time.Microsecond, targets[1].Sub(targets[0]))

	rec := lastRun(t, a)
	assert.Equal(t, 40*time.Microsecond, rec.Period)
	assert.True(t, rec.Clamped)

	var published *storage.RunRecord
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.TypeRun {
			r := e.Data.(storage.RunRecord)
			published = &r
		}
	}
	require.NotNil(t, published)
	assert.Equal(t, rec.ID, published.ID)
}

func TestRunLineUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sim.FailOpen(errors.New("gpiochip0: device busy"))
	a, err := runApp(t, context.Background(), h.options(func(tc *config.TaskConfig) {
		tc.LockMemory = true
		tc.RealtimePolicy = true
	}))

	require.ErrorIs(t, err, rterr.ErrResourceAcquisition)
	assert.Equal(t, rterr.ExitResourceAcquisition, rterr.ExitCode(err))

	locks, unlocks, applies := h.os.Calls()
	assert.Zero(t, locks)
	assert.Zero(t, unlocks)
	assert.Zero(t, applies)
	assert.Zero(t, h.line.shutdowns.Load(), "a line that never initialized is not shut down")

	rec := lastRun(t, a)
	assert.Equal(t, string(StopFatalError), rec.StopReason)
	assert.Equal(t, rterr.ExitResourceAcquisition, rec.ExitCode)
	assert.Contains(t, rec.Error, "device busy")
}

func TestRunMemoryLockWithoutPrivilege(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.os.LockErr = syscall.EPERM
	_, err := runApp(t, context.Background(), h.options(func(tc *config.TaskConfig) {
		tc.LockMemory = true
		tc.RealtimePolicy = true
	}))

	require.ErrorIs(t, err, rterr.ErrPrivilege)
	assert.Equal(t, rterr.ExitPrivilege, rterr.ExitCode(err))
	assert.Equal(t, int32(1), h.line.shutdowns.Load())
	assert.Zero(t, h.sim.Pulses())
	_, _, applies := h.os.Calls()
	assert.Zero(t, applies)
	st, ok := pulse.StateOf(h.line.Line)
	require.True(t, ok)
	assert.Equal(t, pulse.StateClosed, st)
}

func TestRunRealtimeWithoutPrivilege(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.os.SetErr = syscall.EPERM
	_, err := runApp(t, context.Background(), h.options(func(tc *config.TaskConfig) {
		tc.LockMemory = true
		tc.RealtimePolicy = true
	}))

	require.ErrorIs(t, err, rterr.ErrPrivilege)
	assert.Equal(t, int32(1), h.line.shutdowns.Load())
	assert.Zero(t, h.sim.Pulses())
	locks, unlocks, _ := h.os.Calls()
	assert.Equal(t, 1, locks)
	assert.Equal(t, 1, unlocks, "memory is unlocked after a failed start")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sim.OnSet(func(high bool) {
		if high && h.sim.Rises() >= 50 {
			cancel()
		}
	})

	a, err := runApp(t, ctx, h.options(nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h.sim.Pulses(), uint64(50))
	assert.Equal(t, int32(1), h.line.shutdowns.Load())

	rec := lastRun(t, a)
	assert.Equal(t, string(StopSignal), rec.StopReason)
	assert.Equal(t, rterr.ExitOK, rec.ExitCode)
}

func TestRunNotifiesSystemd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var states []string
	opts := h.options(func(tc *config.TaskConfig) { tc.Iterations = 5 })
	override := opts.Override
	opts.Override = func(c *config.Config) {
		override(c)
		c.Telemetry.Systemd = true
	}
	opts.Notifier = []telemetry.NotifierOption{
		telemetry.WithNotifyFunc(func(s string) (bool, error) {
			states = append(states, s)
			return true, nil
		}),
		telemetry.WithWatchdogInterval(func() (time.Duration, error) { return 0, nil }),
	}

	_, err := runApp(t, context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "READY=1", states[0])
	assert.Contains(t, states[1], "STATUS=pulsing sim")
	assert.Equal(t, "STOPPING=1", states[2])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := New(h.options(func(tc *config.TaskConfig) { tc.Priority = 150 }))
	require.ErrorIs(t, err, rterr.ErrConfig)
	assert.Equal(t, rterr.ExitConfig, rterr.ExitCode(err))

	// A period that overflows time.Duration must not wrap into a clamp.
	_, err = New(h.options(func(tc *config.TaskConfig) { tc.PeriodUS = 9_300_000_000_000_000 }))
	require.ErrorIs(t, err, rterr.ErrConfig)
	locks, _, applies := h.os.Calls()
	assert.Zero(t, locks)
	assert.Zero(t, applies)

	path := filepath.Join(h.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("task:\n  period_us: 100\n  bogus: 1\n"), 0o644))
	opts := h.options(nil)
	opts.ConfigPath = path
	_, err = New(opts)
	require.ErrorIs(t, err, rterr.ErrConfig)
}

func TestReloadAppliesLoggingAndSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	opts := h.options(nil)
	opts.Override = nil
	a, err := New(opts)
	require.NoError(t, err)
	defer a.Close()

	reporter, err := telemetry.NewReporter("", nil, logx.Nop(), nil)
	require.NoError(t, err)

	sub := make(chan *config.Config, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.reloadLoop(ctx, sub, reporter)
	}()

	next := config.Default()
	next.Logging.Level = "debug"
	next.Telemetry.Schedule = "@every 1m"
	sub <- next

	require.Eventually(t, func() bool {
		return a.logs.Config().Level == "debug" && reporter.Schedule() == "@every 1m"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
