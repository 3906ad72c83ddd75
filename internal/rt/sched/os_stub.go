//go:build !linux

package sched

type stubOS struct{}

// HostOS returns a binding that rejects every RT request.
func HostOS() OS { return stubOS{} }

func (stubOS) LockAll() error   { return ErrUnsupported }
func (stubOS) UnlockAll() error { return ErrUnsupported }
func (stubOS) ThreadID() int    { return 0 }

// Without RT support the only context that can be honored is the default
// one, which every goroutine already runs under.
func (stubOS) SetThreadPolicy(p Policy, priority int) error {
	if p != PolicyOther {
		return ErrUnsupported
	}
	return nil
}

func (stubOS) ThreadPolicy() (Policy, int, error) { return PolicyOther, 0, nil }

func MemlockLimit() (cur, max uint64, err error) { return 0, 0, ErrUnsupported }

func RealtimeKernel() bool { return false }
