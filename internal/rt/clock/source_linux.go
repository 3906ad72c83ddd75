//go:build linux

package clock

import (
	"golang.org/x/sys/unix"
)

type monotonic struct{}

// Monotonic returns the CLOCK_MONOTONIC source. SleepUntil uses
// clock_nanosleep with TIMER_ABSTIME, so time spent between deadlines never
// accumulates.
func Monotonic() Source { return monotonic{} }

func (monotonic) Now() Deadline {
	var ts unix.Timespec
	// CLOCK_MONOTONIC cannot fail with a valid pointer.
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return Deadline{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

func (monotonic) SleepUntil(d Deadline) error {
	ts := unix.NsecToTimespec(d.Nanos())
	// Signals (including the Go runtime's preemption signal) surface as EINTR.
	err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
	if err == unix.EINTR {
		return ErrInterrupted
	}
	return err
}
