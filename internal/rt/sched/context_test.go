package sched_test

import (
	"errors"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpulse/internal/rt/rterr"
	"rtpulse/internal/rt/sched"
	"rtpulse/internal/rt/sched/schedtest"
	logx "rtpulse/pkg/logx"
)

func TestLockMemoryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "eperm", err: syscall.EPERM, want: rterr.ErrPrivilege},
		{name: "enomem", err: syscall.ENOMEM, want: rterr.ErrPrivilege},
		{name: "einval", err: syscall.EINVAL, want: rterr.ErrSchedulingConfig},
		{name: "unsupported", err: sched.ErrUnsupported, want: rterr.ErrSchedulingConfig},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			os := schedtest.New()
			os.LockErr = tt.err
			c := sched.NewConfigurator(os, logx.Nop())

			err := c.LockMemory(sched.PeriodSpec{LockMemory: true})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, tt.err))

			require.NoError(t, c.UnlockMemory())
			assert.Zero(t, os.Unlocks)
		})
	}
}

func TestLockMemorySkippedWhenNotRequested(t *testing.T) {
	t.Parallel()

	os := schedtest.New()
	c := sched.NewConfigurator(os, logx.Nop())
	require.NoError(t, c.LockMemory(sched.PeriodSpec{}))
	require.NoError(t, c.UnlockMemory())
	assert.Zero(t, os.Locks)
	assert.Zero(t, os.Unlocks)
}

func TestLockUnlockMemory(t *testing.T) {
	t.Parallel()

	os := schedtest.New()
	c := sched.NewConfigurator(os, logx.Nop())
	require.NoError(t, c.LockMemory(sched.PeriodSpec{LockMemory: true}))
	require.NoError(t, c.UnlockMemory())
	require.NoError(t, c.UnlockMemory())
	assert.Equal(t, 1, os.Locks)
	assert.Equal(t, 1, os.Unlocks)
}

func TestApplySetsExplicitPolicy(t *testing.T) {
	t.Parallel()

	os := schedtest.New()
	c := sched.NewConfigurator(os, logx.Nop())
	ec := sched.ExecutionContext{Policy: sched.PolicyFIFO, Priority: 80, StackSize: sched.MinStackSize, Explicit: true}

	require.NoError(t, c.Apply(ec))
	require.Len(t, os.Applies, 1)
	assert.Equal(t, schedtest.Applied{Policy: sched.PolicyFIFO, Priority: 80}, os.Applies[0])
}

func TestApplyFailures(t *testing.T) {
	t.Parallel()

	ec := sched.ExecutionContext{Policy: sched.PolicyFIFO, Priority: 80, StackSize: sched.MinStackSize, Explicit: true}

	os := schedtest.New()
	os.SetErr = syscall.EPERM
	err := sched.NewConfigurator(os, logx.Nop()).Apply(ec)
	assert.True(t, errors.Is(err, rterr.ErrPrivilege), "got %v", err)

	os = schedtest.New()
	os.SetErr = syscall.EINVAL
	err = sched.NewConfigurator(os, logx.Nop()).Apply(ec)
	assert.True(t, errors.Is(err, rterr.ErrSchedulingConfig), "got %v", err)

	os = schedtest.New()
	os.Report = &schedtest.Applied{Policy: sched.PolicyOther}
	err = sched.NewConfigurator(os, logx.Nop()).Apply(ec)
	assert.True(t, errors.Is(err, rterr.ErrSchedulingConfig), "got %v", err)

	implicit := ec
	implicit.Explicit = false
	err = sched.NewConfigurator(schedtest.New(), logx.Nop()).Apply(implicit)
	assert.True(t, errors.Is(err, rterr.ErrSchedulingConfig), "got %v", err)
}

func TestHostOSDefaultPolicyOnLockedThread(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	errc := make(chan error, 1)
	go func() {
		// The thread is discarded when this goroutine exits locked.
		runtime.LockOSThread()
		c := sched.NewConfigurator(sched.HostOS(), logx.Nop())
		errc <- c.Apply(sched.ExecutionContext{Policy: sched.PolicyOther, StackSize: sched.MinStackSize, Explicit: true})
	}()
	require.NoError(t, <-errc)
}
