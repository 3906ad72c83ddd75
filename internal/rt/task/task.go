// Package task runs the periodic pulse loop on one dedicated, locked OS thread.
//
// Per iteration the loop emits one pulse (Activate then Deactivate), advances
// the clock state by exactly one period and blocks until the new absolute
// deadline. Cancellation is checked at the top of every iteration and while
// waiting; the deadline sequence is never modified by either.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"rtpulse/internal/eventbus"
	"rtpulse/internal/pulse"
	"rtpulse/internal/rt/clock"
	"rtpulse/internal/rt/rterr"
	"rtpulse/internal/rt/sched"
	logx "rtpulse/pkg/logx"
)

// DefaultWaitSlice bounds how long a stop request can go unnoticed while the
// worker is blocked on a long period.
const DefaultWaitSlice = 50 * time.Millisecond

type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config is everything the worker needs. It is handed over once at New and
// never touched by the caller afterwards.
type Config struct {
	Spec    sched.PeriodSpec
	Context sched.ExecutionContext

	Line         pulse.Line
	Clock        clock.Source
	Configurator *sched.Configurator

	// Iterations stops the loop gracefully after that many pulses. 0 runs
	// until cancelled.
	Iterations uint64
	WaitSlice  time.Duration

	// Warnings from the loop are rate limited to WarnPerSec (burst WarnBurst).
	WarnPerSec float64
	WarnBurst  int
}

// Stats is a point-in-time view of the loop counters.
type Stats struct {
	State           State         `json:"state"`
	Period          time.Duration `json:"period"`
	Iterations      uint64        `json:"iterations"`
	Overruns        uint64        `json:"overruns"`
	ActuationErrors uint64        `json:"actuation_errors"`
	LastLateness    time.Duration `json:"last_lateness"`
	MaxLateness     time.Duration `json:"max_lateness"`
}

// StateEvent is published on the bus for every state transition.
type StateEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

const EventState = eventbus.TypeTaskState

type Task struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	warn *logx.Throttled

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}
	err     error // written by the worker before done is closed

	iterations atomic.Uint64
	overruns   atomic.Uint64
	actErrs    atomic.Uint64
	lastLate   atomic.Int64
	maxLate    atomic.Int64
}

// New validates cfg and returns a task in StateInitializing.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Task, error) {
	switch {
	case cfg.Line == nil:
		return nil, rterr.New(rterr.KindTaskLifecycle, "new task", errors.New("no pulse line"))
	case cfg.Clock == nil:
		return nil, rterr.New(rterr.KindTaskLifecycle, "new task", errors.New("no clock source"))
	case cfg.Configurator == nil:
		return nil, rterr.New(rterr.KindTaskLifecycle, "new task", errors.New("no execution context configurator"))
	case cfg.Spec.Period <= 0:
		return nil, rterr.New(rterr.KindTaskLifecycle, "new task", clock.ErrInvalidPeriod)
	}
	if cfg.WaitSlice <= 0 {
		cfg.WaitSlice = DefaultWaitSlice
	}
	if cfg.WarnPerSec <= 0 {
		cfg.WarnPerSec = 1
	}
	if cfg.WarnBurst <= 0 {
		cfg.WarnBurst = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "task"), logx.String("line", cfg.Line.Name()))
	return &Task{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		warn: logx.NewThrottled(log, cfg.WarnPerSec, cfg.WarnBurst),
		done: make(chan struct{}),
	}, nil
}

// Start spawns the worker and returns once it has either applied the
// execution context and entered the loop, or failed to. On failure the loop
// was never entered and the error is also what Wait returns.
func (t *Task) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !t.started.CompareAndSwap(false, true) {
		return rterr.New(rterr.KindTaskLifecycle, "start", errors.New("task already started"))
	}
	ready := make(chan error, 1)
	go t.run(ctx, ready)
	if err := <-ready; err != nil {
		<-t.done
		return err
	}
	return nil
}

// Wait blocks until the worker has exited and returns its terminal error;
// nil after cancellation or a completed bounded run.
func (t *Task) Wait() error {
	if !t.started.Load() {
		return rterr.New(rterr.KindTaskLifecycle, "join", errors.New("task not started"))
	}
	<-t.done
	return t.err
}

// Done is closed when the worker has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) State() State       { return State(t.state.Load()) }
func (t *Task) Iterations() uint64 { return t.iterations.Load() }

func (t *Task) Snapshot() Stats {
	return Stats{
		State:           t.State(),
		Period:          t.cfg.Spec.Period,
		Iterations:      t.iterations.Load(),
		Overruns:        t.overruns.Load(),
		ActuationErrors: t.actErrs.Load(),
		LastLateness:    time.Duration(t.lastLate.Load()),
		MaxLateness:     time.Duration(t.maxLate.Load()),
	}
}

func (t *Task) run(ctx context.Context, ready chan<- error) {
	reported := false
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = rterr.New(rterr.KindTaskLifecycle, "worker", fmt.Errorf("panic: %v", r))
			t.log.Error("worker panic", logx.Any("panic", r))
		}
		t.setState(StateTerminated)
		if !reported {
			ready <- t.err
		}
	}()

	// Never unlocked: if the thread was switched to an RT class it is
	// discarded by the runtime when this goroutine exits.
	runtime.LockOSThread()

	if err := t.cfg.Configurator.Apply(t.cfg.Context); err != nil {
		t.err = err
		return
	}
	st, err := clock.NewState(t.cfg.Clock.Now(), t.cfg.Spec.Period)
	if err != nil {
		t.err = rterr.New(rterr.KindTaskLifecycle, "clock state", err)
		return
	}

	t.setState(StateRunning)
	t.log.Info("periodic loop started",
		logx.Duration("period", t.cfg.Spec.Period),
		logx.String("start", st.Next().String()),
		logx.Uint64("iterations", t.cfg.Iterations),
	)
	reported = true
	ready <- nil

	t.err = t.loop(ctx, st)
	if t.err == nil {
		t.log.Info("periodic loop stopped", logx.Uint64("iterations", t.iterations.Load()))
	}
}

func (t *Task) loop(ctx context.Context, st *clock.State) error {
	stop := ctx.Done()
	for {
		if ctx.Err() != nil {
			t.setState(StateTerminating)
			return nil
		}

		n := t.iterations.Add(1)
		t.pulse(n)
		if t.cfg.Iterations > 0 && n >= t.cfg.Iterations {
			t.setState(StateTerminating)
			return nil
		}

		st.Advance()
		next := st.Next()
		w, err := clock.WaitUntil(t.cfg.Clock, next, t.cfg.WaitSlice, stop)
		if err != nil {
			t.setState(StateTerminating)
			return rterr.New(rterr.KindTaskLifecycle, "wait "+next.String(), err)
		}
		if !w.Reached {
			t.setState(StateTerminating)
			return nil
		}
		late := w.Woke.Sub(next)
		t.observeLateness(late)
		if w.Sleeps == 0 {
			// The deadline had already passed when the wait began.
			t.overruns.Add(1)
			t.warn.Warn("deadline overrun",
				logx.Uint64("iteration", n),
				logx.String("deadline", next.String()),
				logx.Duration("late", late),
			)
		}
	}
}

// pulse emits one pulse. A failed actuation is counted and logged; the
// iteration's timing is unaffected.
func (t *Task) pulse(n uint64) {
	err := t.cfg.Line.Activate()
	if err == nil {
		err = t.cfg.Line.Deactivate()
	}
	if err != nil {
		t.actErrs.Add(1)
		t.warn.Warn("pulse failed", logx.Uint64("iteration", n), logx.Err(err))
	}
}

func (t *Task) observeLateness(d time.Duration) {
	t.lastLate.Store(int64(d))
	for {
		cur := t.maxLate.Load()
		if int64(d) <= cur || t.maxLate.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

func (t *Task) setState(s State) {
	prev := State(t.state.Swap(int32(s)))
	if prev == s {
		return
	}
	t.log.Debug("state", logx.String("from", prev.String()), logx.String("to", s.String()))
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: EventState, Data: StateEvent{From: prev, To: s}})
	}
}
