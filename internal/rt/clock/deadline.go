// Package clock holds the drift-free periodic clock state used by the RT task
// loop: an absolute monotonic deadline in two-field (seconds, nanoseconds)
// form, exact advance arithmetic, and the absolute-time wait.
package clock

import (
	"errors"
	"fmt"
	"time"
)

const NsecPerSec = int64(time.Second) // 1 second in nanoseconds

var ErrInvalidPeriod = errors.New("clock: period must be > 0")

// Deadline is a point in monotonic time. Nsec is kept in [0, NsecPerSec).
type Deadline struct {
	Sec  int64
	Nsec int64
}

// FromNanos splits ns (nanoseconds since the clock's epoch) into a Deadline.
func FromNanos(ns int64) Deadline {
	d := Deadline{Sec: ns / NsecPerSec, Nsec: ns % NsecPerSec}
	if d.Nsec < 0 {
		d.Sec--
		d.Nsec += NsecPerSec
	}
	return d
}

// Nanos returns d as nanoseconds since the clock's epoch.
func (d Deadline) Nanos() int64 { return d.Sec*NsecPerSec + d.Nsec }

func (d Deadline) Compare(o Deadline) int {
	switch {
	case d.Sec < o.Sec:
		return -1
	case d.Sec > o.Sec:
		return 1
	case d.Nsec < o.Nsec:
		return -1
	case d.Nsec > o.Nsec:
		return 1
	default:
		return 0
	}
}

func (d Deadline) Before(o Deadline) bool { return d.Compare(o) < 0 }
func (d Deadline) After(o Deadline) bool  { return d.Compare(o) > 0 }

// Sub returns d-o.
func (d Deadline) Sub(o Deadline) time.Duration {
	return time.Duration((d.Sec-o.Sec)*NsecPerSec + (d.Nsec - o.Nsec))
}

// Add returns d+dur. Only used for wait slicing; the periodic sequence goes
// through State.Advance.
func (d Deadline) Add(dur time.Duration) Deadline {
	return normalize(d.Sec+int64(dur)/NsecPerSec, d.Nsec+int64(dur)%NsecPerSec)
}

func (d Deadline) String() string {
	return fmt.Sprintf("%d.%09d", d.Sec, d.Nsec)
}

func normalize(sec, nsec int64) Deadline {
	for nsec >= NsecPerSec {
		sec++
		nsec -= NsecPerSec
	}
	for nsec < 0 {
		sec--
		nsec += NsecPerSec
	}
	return Deadline{Sec: sec, Nsec: nsec}
}

// State is the periodic clock state. It is owned by exactly one task loop and
// is not safe for concurrent use.
type State struct {
	next   Deadline
	period time.Duration
	ticks  uint64
}

// NewState starts the sequence at start. The period is fixed for the life of
// the State.
func NewState(start Deadline, period time.Duration) (*State, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w (got %s)", ErrInvalidPeriod, period)
	}
	return &State{next: normalize(start.Sec, start.Nsec), period: period}, nil
}

func (s *State) Next() Deadline        { return s.next }
func (s *State) Period() time.Duration { return s.period }

// Ticks is the number of Advance calls so far.
func (s *State) Ticks() uint64 { return s.ticks }

// Advance moves the next deadline forward by exactly one period.
//
// The period is added to the nanosecond field and carried into seconds one
// whole second at a time, so start + k*period holds exactly for any k.
func (s *State) Advance() Deadline {
	s.next.Nsec += int64(s.period)
	for s.next.Nsec >= NsecPerSec {
		s.next.Sec++
		s.next.Nsec -= NsecPerSec
	}
	s.ticks++
	return s.next
}
