package telemetry

import (
	"runtime"

	"rtpulse/internal/rt/sched"
)

// probeRealtime switches a scratch locked thread to SCHED_FIFO and back.
// The thread is discarded afterwards either way.
func probeRealtime(sys sched.OS, priority int) (bool, string) {
	type result struct {
		ok  bool
		err string
	}
	done := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		if err := sys.SetThreadPolicy(sched.PolicyFIFO, priority); err != nil {
			done <- result{err: err.Error()}
			return
		}
		_ = sys.SetThreadPolicy(sched.PolicyOther, 0)
		done <- result{ok: true}
	}()
	r := <-done
	return r.ok, r.err
}
