//go:build linux

package sched

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

type linuxOS struct{}

// HostOS returns the OS binding for the running kernel.
func HostOS() OS { return linuxOS{} }

func (linuxOS) LockAll() error   { return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE) }
func (linuxOS) UnlockAll() error { return unix.Munlockall() }
func (linuxOS) ThreadID() int    { return unix.Gettid() }

func (linuxOS) SetThreadPolicy(p Policy, priority int) error {
	attr := &unix.SchedAttr{}
	switch p {
	case PolicyFIFO:
		attr.Policy = unix.SCHED_FIFO
		attr.Priority = uint32(priority)
	case PolicyOther:
		attr.Policy = unix.SCHED_NORMAL
		// Keep the thread's nice value; lowering it would need CAP_SYS_NICE.
		if cur, err := unix.SchedGetAttr(0, 0); err == nil {
			attr.Nice = cur.Nice
		}
	default:
		return fmt.Errorf("unknown policy %d", p)
	}
	// Children must not inherit the RT class.
	attr.Flags = schedFlagResetOnFork
	// pid 0 is the calling thread.
	return unix.SchedSetAttr(0, attr, 0)
}

func (linuxOS) ThreadPolicy() (Policy, int, error) {
	attr, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		return 0, 0, err
	}
	switch attr.Policy {
	case unix.SCHED_FIFO:
		return PolicyFIFO, int(attr.Priority), nil
	case unix.SCHED_NORMAL:
		return PolicyOther, int(attr.Priority), nil
	default:
		return 0, 0, fmt.Errorf("unexpected policy %d", attr.Policy)
	}
}

const schedFlagResetOnFork = 0x01

// MemlockLimit returns RLIMIT_MEMLOCK (soft, hard).
func MemlockLimit() (cur, max uint64, err error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rl); err != nil {
		return 0, 0, err
	}
	return rl.Cur, rl.Max, nil
}

// RealtimeKernel reports whether the running kernel is PREEMPT_RT.
func RealtimeKernel() bool {
	b, err := os.ReadFile("/sys/kernel/realtime")
	if err == nil && strings.TrimSpace(string(b)) == "1" {
		return true
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return false
	}
	return strings.Contains(unix.ByteSliceToString(uts.Version[:]), "PREEMPT_RT")
}
