// Package sched resolves the periodic task's timing/policy configuration and
// configures the OS execution context (memory locking, scheduling class,
// priority, stack) for the thread that runs the periodic loop.
package sched

import (
	"fmt"
	"time"

	"rtpulse/internal/rt/rterr"
)

const (
	DefaultPeriod    = 100 * time.Microsecond
	DefaultMinPeriod = 40 * time.Microsecond // safe on a Pi 3, conservative elsewhere

	// DefaultPriority is the SCHED_FIFO priority used when none is configured:
	// above threaded IRQ handlers (50), below the kernel's watchdog threads (99).
	DefaultPriority = 80
	MinPriority     = 1
	MaxPriority     = 99

	// MinStackSize is the stack floor prefaulted on the worker thread
	// (PTHREAD_STACK_MIN on glibc).
	MinStackSize = 16 << 10
)

// Request is the raw, unvalidated task configuration (flags or config file).
// Zero values mean "use the default".
type Request struct {
	Period         time.Duration
	MinPeriod      time.Duration
	LockMemory     bool
	RealtimePolicy bool
	Priority       int
	StackSize      int
}

// PeriodSpec is the resolved, immutable per-run configuration.
// Period >= MinPeriod > 0 always holds.
type PeriodSpec struct {
	Period         time.Duration
	MinPeriod      time.Duration
	LockMemory     bool
	RealtimePolicy bool
	Priority       int
	StackSize      int
}

// Resolution reports what Resolve changed.
type Resolution struct {
	Requested time.Duration
	Clamped   bool
}

// Resolve validates req and clamps the period to the minimum.
func Resolve(req Request) (PeriodSpec, Resolution, error) {
	minPeriod := req.MinPeriod
	if minPeriod == 0 {
		minPeriod = DefaultMinPeriod
	}
	if minPeriod < 0 {
		return PeriodSpec{}, Resolution{}, rterr.New(rterr.KindConfig, "resolve period",
			fmt.Errorf("minimum period must be > 0 (got %s)", minPeriod))
	}

	period := req.Period
	if period == 0 {
		period = DefaultPeriod
	}
	res := Resolution{Requested: period}
	if period < minPeriod {
		period = minPeriod
		res.Clamped = true
	}

	prio := req.Priority
	if prio == 0 {
		prio = DefaultPriority
	}
	if prio < MinPriority || prio > MaxPriority {
		return PeriodSpec{}, res, rterr.New(rterr.KindConfig, "resolve priority",
			fmt.Errorf("priority must be in [%d, %d] (got %d)", MinPriority, MaxPriority, prio))
	}

	stack := req.StackSize
	if stack < MinStackSize {
		stack = MinStackSize
	}

	return PeriodSpec{
		Period:         period,
		MinPeriod:      minPeriod,
		LockMemory:     req.LockMemory,
		RealtimePolicy: req.RealtimePolicy,
		Priority:       prio,
		StackSize:      stack,
	}, res, nil
}
