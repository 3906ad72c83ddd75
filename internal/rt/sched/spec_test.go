package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpulse/internal/rt/rterr"
)

func TestResolveClampsToMinimum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		period  time.Duration
		clamped bool
	}{
		{name: "default", req: Request{}, period: DefaultPeriod},
		{name: "below floor", req: Request{Period: 10 * time.Microsecond}, period: 40 * time.Microsecond, clamped: true},
		{name: "negative", req: Request{Period: -5 * time.Microsecond}, period: 40 * time.Microsecond, clamped: true},
		{name: "at floor", req: Request{Period: 40 * time.Microsecond}, period: 40 * time.Microsecond},
		{name: "custom floor", req: Request{Period: 90 * time.Microsecond, MinPeriod: 250 * time.Microsecond}, period: 250 * time.Microsecond, clamped: true},
		{name: "above floor", req: Request{Period: 1234 * time.Microsecond}, period: 1234 * time.Microsecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec, res, err := Resolve(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.period, spec.Period)
			assert.Equal(t, tt.clamped, res.Clamped)
			assert.GreaterOrEqual(t, spec.Period, spec.MinPeriod)
			assert.Greater(t, spec.Period, time.Duration(0))
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	spec, _, err := Resolve(Request{LockMemory: true, RealtimePolicy: true, StackSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, spec.Priority)
	assert.Equal(t, MinStackSize, spec.StackSize)
	assert.Equal(t, DefaultMinPeriod, spec.MinPeriod)
	assert.True(t, spec.LockMemory)
	assert.True(t, spec.RealtimePolicy)
}

func TestResolveRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, _, err := Resolve(Request{MinPeriod: -time.Microsecond})
	require.True(t, errors.Is(err, rterr.ErrConfig))

	_, _, err = Resolve(Request{Priority: 120})
	require.True(t, errors.Is(err, rterr.ErrConfig))
}

func TestBuild(t *testing.T) {
	t.Parallel()

	rt, err := Build(PeriodSpec{RealtimePolicy: true, Priority: 80, StackSize: MinStackSize})
	require.NoError(t, err)
	assert.Equal(t, ExecutionContext{Policy: PolicyFIFO, Priority: 80, StackSize: MinStackSize, Explicit: true}, rt)

	ts, err := Build(PeriodSpec{Priority: 80})
	require.NoError(t, err)
	assert.Equal(t, ExecutionContext{Policy: PolicyOther, StackSize: MinStackSize, Explicit: true}, ts)

	_, err = Build(PeriodSpec{RealtimePolicy: true, Priority: 0})
	require.True(t, errors.Is(err, rterr.ErrSchedulingConfig))
}
