package clock

import (
	"errors"
	"time"
)

// ErrInterrupted is returned by Source.SleepUntil when the wait returned
// before the target (EINTR). Callers reissue the wait for the same target.
var ErrInterrupted = errors.New("clock: wait interrupted")

// Source is a monotonic clock with an absolute-time wait.
type Source interface {
	Now() Deadline
	// SleepUntil blocks until the clock reaches d. It may return early,
	// either with ErrInterrupted or spuriously with nil.
	SleepUntil(d Deadline) error
}

// Wait describes how a WaitUntil call ended.
type Wait struct {
	Reached bool     // false only when stop was closed first
	Woke    Deadline // clock reading that satisfied the wait
	Sleeps  int      // SleepUntil calls issued
	Early   int      // wakes before the deadline (interrupt or spurious)
}

// WaitUntil blocks until src reaches deadline.
//
// Early returns from the underlying wait never count as reaching the
// deadline: the wait is reissued for the same absolute deadline. When slice
// is > 0 a single sleep never targets more than slice past the current
// reading, so a closed stop channel is observed within about slice. The
// deadline itself is never modified.
func WaitUntil(src Source, deadline Deadline, slice time.Duration, stop <-chan struct{}) (Wait, error) {
	var (
		w      Wait
		sliced bool
	)
	for {
		if stopped(stop) {
			return w, nil
		}
		now := src.Now()
		if !now.Before(deadline) {
			w.Reached = true
			w.Woke = now
			return w, nil
		}
		if w.Sleeps > 0 && !sliced {
			w.Early++
		}

		target := deadline
		sliced = false
		if slice > 0 {
			if lim := now.Add(slice); lim.Before(deadline) {
				target, sliced = lim, true
			}
		}
		w.Sleeps++
		if err := src.SleepUntil(target); err != nil && !errors.Is(err, ErrInterrupted) {
			return w, err
		}
	}
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
