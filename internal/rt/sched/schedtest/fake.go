// Package schedtest provides a recording sched.OS for tests.
package schedtest

import (
	"sync"

	"rtpulse/internal/rt/sched"
)

// OS records every call. Err fields are returned by the matching method.
type OS struct {
	mu sync.Mutex

	LockErr   error
	UnlockErr error
	SetErr    error
	// Report, when set, overrides what ThreadPolicy reads back.
	Report *Applied

	Locks    int
	Unlocks  int
	Applies  []Applied
	current  Applied
	threadID int
}

type Applied struct {
	Policy   sched.Policy
	Priority int
}

func New() *OS { return &OS{threadID: 4242} }

func (o *OS) LockAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Locks++
	return o.LockErr
}

func (o *OS) UnlockAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Unlocks++
	return o.UnlockErr
}

func (o *OS) SetThreadPolicy(p sched.Policy, priority int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Applies = append(o.Applies, Applied{Policy: p, Priority: priority})
	if o.SetErr != nil {
		return o.SetErr
	}
	o.current = Applied{Policy: p, Priority: priority}
	return nil
}

func (o *OS) ThreadPolicy() (sched.Policy, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Report != nil {
		return o.Report.Policy, o.Report.Priority, nil
	}
	return o.current.Policy, o.current.Priority, nil
}

func (o *OS) ThreadID() int { return o.threadID }

// Calls returns a snapshot of (locks, unlocks, applies).
func (o *OS) Calls() (locks, unlocks, applies int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Locks, o.Unlocks, len(o.Applies)
}
