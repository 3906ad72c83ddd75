//go:build !linux

package clock

import "time"

type monotonic struct{ epoch time.Time }

// Monotonic returns a source backed by the Go runtime's monotonic clock.
// Off Linux there is no absolute-time sleep, so each SleepUntil recomputes
// the remaining time from the absolute target; jitter is possible, drift is
// not.
func Monotonic() Source { return &monotonic{epoch: time.Now()} }

func (m *monotonic) Now() Deadline {
	return FromNanos(int64(time.Since(m.epoch)))
}

func (m *monotonic) SleepUntil(d Deadline) error {
	if rem := d.Sub(m.Now()); rem > 0 {
		time.Sleep(rem)
	}
	return nil
}
