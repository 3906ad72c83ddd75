package sched

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"

	"rtpulse/internal/rt/rterr"
	logx "rtpulse/pkg/logx"
)

// Policy is an OS scheduling class.
type Policy int

const (
	PolicyOther Policy = iota // default time-shared class
	PolicyFIFO                // fixed-priority, run until block or preempted by higher priority
)

func (p Policy) String() string {
	switch p {
	case PolicyFIFO:
		return "SCHED_FIFO"
	default:
		return "SCHED_OTHER"
	}
}

// ExecutionContext is the write-once description of the worker thread's
// scheduling attributes.
type ExecutionContext struct {
	Policy    Policy
	Priority  int
	StackSize int
	// Explicit means the attributes are applied to the worker thread itself,
	// never inherited from the creating thread.
	Explicit bool
}

// Build derives the execution context for spec.
func Build(spec PeriodSpec) (ExecutionContext, error) {
	ec := ExecutionContext{
		Policy:    PolicyOther,
		StackSize: spec.StackSize,
		Explicit:  true,
	}
	if ec.StackSize < MinStackSize {
		ec.StackSize = MinStackSize
	}
	if spec.RealtimePolicy {
		if spec.Priority < MinPriority || spec.Priority > MaxPriority {
			return ExecutionContext{}, rterr.New(rterr.KindSchedulingConfig, "build context",
				fmt.Errorf("priority %d outside [%d, %d]", spec.Priority, MinPriority, MaxPriority))
		}
		ec.Policy = PolicyFIFO
		ec.Priority = spec.Priority
	}
	return ec, nil
}

// OS is the kernel surface the configurator needs.
type OS interface {
	// LockAll pins all current and future pages (mlockall MCL_CURRENT|MCL_FUTURE).
	LockAll() error
	UnlockAll() error
	// SetThreadPolicy applies policy/priority to the calling OS thread only.
	SetThreadPolicy(p Policy, priority int) error
	// ThreadPolicy reads back the calling thread's policy and priority.
	ThreadPolicy() (Policy, int, error)
	ThreadID() int
}

// ErrUnsupported is returned by the OS binding on platforms without the
// required primitives.
var ErrUnsupported = errors.New("sched: not supported on this platform")

// Configurator applies PeriodSpec/ExecutionContext to the process and the
// worker thread.
type Configurator struct {
	os     OS
	log    logx.Logger
	locked bool
}

func NewConfigurator(os OS, log logx.Logger) *Configurator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Configurator{os: os, log: log}
}

// LockMemory pins process memory when spec asks for it. Missing privilege
// (EPERM, or ENOMEM from RLIMIT_MEMLOCK) is a PrivilegeError; there is no
// fallback to running unlocked.
func (c *Configurator) LockMemory(spec PeriodSpec) error {
	if !spec.LockMemory {
		return nil
	}
	if err := c.os.LockAll(); err != nil {
		return classify("mlockall", err)
	}
	c.locked = true
	c.log.Info("memory locked", logx.String("flags", "MCL_CURRENT|MCL_FUTURE"))
	return nil
}

// UnlockMemory undoes LockMemory. No-op if memory was never locked.
func (c *Configurator) UnlockMemory() error {
	if !c.locked {
		return nil
	}
	c.locked = false
	if err := c.os.UnlockAll(); err != nil {
		return classify("munlockall", err)
	}
	return nil
}

// Apply sets ec on the calling thread and prefaults its stack.
//
// It must run on the worker goroutine after runtime.LockOSThread, so the
// attributes land on the thread that will run the loop and nothing else.
func (c *Configurator) Apply(ec ExecutionContext) error {
	if !ec.Explicit {
		return rterr.New(rterr.KindSchedulingConfig, "apply", errors.New("implicit (inherited) scheduling is not supported"))
	}
	if err := c.os.SetThreadPolicy(ec.Policy, ec.Priority); err != nil {
		return classify("sched_setattr", err)
	}
	pol, prio, err := c.os.ThreadPolicy()
	if err != nil {
		return classify("sched_getattr", err)
	}
	if pol != ec.Policy || prio != ec.Priority {
		return rterr.New(rterr.KindSchedulingConfig, "verify",
			fmt.Errorf("thread runs %s/%d, want %s/%d", pol, prio, ec.Policy, ec.Priority))
	}
	prefaultStack(ec.StackSize)

	c.log.Info("execution context applied",
		logx.Int("tid", c.os.ThreadID()),
		logx.String("policy", ec.Policy.String()),
		logx.Int("priority", ec.Priority),
		logx.Int("stack", ec.StackSize),
	)
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, ErrUnsupported) {
		return rterr.New(rterr.KindSchedulingConfig, op, fmt.Errorf("%w (%s)", err, runtime.GOOS))
	}
	if errors.Is(err, syscall.EPERM) || (errors.Is(err, syscall.ENOMEM) && op == "mlockall") {
		return rterr.New(rterr.KindPrivilege, op, err)
	}
	return rterr.New(rterr.KindSchedulingConfig, op, err)
}

const stackChunk = 4 << 10

// prefaultStack touches n bytes of stack so the goroutine stack has grown
// (and, under MCL_FUTURE, been locked) before the first deadline.
//
//go:noinline
func prefaultStack(n int) byte {
	var page [stackChunk]byte
	for i := 0; i < len(page); i += 256 {
		page[i] = byte(i)
	}
	if n > stackChunk {
		return page[1] ^ prefaultStack(n-stackChunk)
	}
	return page[len(page)-1]
}
