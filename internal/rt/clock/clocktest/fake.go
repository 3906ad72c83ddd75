// Package clocktest provides a scripted clock.Source for tests.
package clocktest

import (
	"sync"
	"time"

	"rtpulse/internal/rt/clock"
)

// Fake is a manually driven clock.Source.
//
// SleepUntil jumps the clock to the target unless an early wake is queued,
// in which case the clock moves only part of the way and the call returns
// the queued error (clock.ErrInterrupted or nil for a spurious wake).
type Fake struct {
	mu      sync.Mutex
	now     clock.Deadline
	targets []clock.Deadline
	early   []earlyWake
	// OnSleep runs after every SleepUntil with the target, outside the lock.
	OnSleep func(target clock.Deadline)
	// Overshoot is added to every completed sleep to simulate wake latency.
	Overshoot time.Duration
}

type earlyWake struct {
	short time.Duration
	err   error
}

func New(start clock.Deadline) *Fake { return &Fake{now: start} }

func (f *Fake) Now() clock.Deadline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to d.
func (f *Fake) Set(d clock.Deadline) {
	f.mu.Lock()
	f.now = d
	f.mu.Unlock()
}

// Step moves the clock forward by d.
func (f *Fake) Step(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// WakeEarly queues one early return: the next SleepUntil stops short of its
// target by short and returns err.
func (f *Fake) WakeEarly(short time.Duration, err error) {
	f.mu.Lock()
	f.early = append(f.early, earlyWake{short: short, err: err})
	f.mu.Unlock()
}

func (f *Fake) SleepUntil(target clock.Deadline) error {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	var err error
	if len(f.early) > 0 {
		ew := f.early[0]
		f.early = f.early[1:]
		if wake := target.Add(-ew.short); wake.After(f.now) {
			f.now = wake
		}
		err = ew.err
	} else if target.After(f.now) {
		f.now = target.Add(f.Overshoot)
	}
	hook := f.OnSleep
	f.mu.Unlock()
	if hook != nil {
		hook(target)
	}
	return err
}

// Targets returns every target passed to SleepUntil, in order.
func (f *Fake) Targets() []clock.Deadline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]clock.Deadline(nil), f.targets...)
}
