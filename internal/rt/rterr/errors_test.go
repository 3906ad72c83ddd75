package rterr

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("startup: %w", New(KindPrivilege, "mlockall", syscall.EPERM))

	assert.True(t, errors.Is(err, ErrPrivilege))
	assert.False(t, errors.Is(err, ErrSchedulingConfig))
	assert.True(t, errors.Is(err, syscall.EPERM))
	assert.Equal(t, KindPrivilege, KindOf(err))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := New(KindResourceAcquisition, "open line", errors.New("no such device"))
	assert.Equal(t, "resource_acquisition: open line: no such device", err.Error())
	assert.Equal(t, "task_lifecycle", New(KindTaskLifecycle, "", nil).Error())
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("boom"), want: ExitFailure},
		{name: "config", err: New(KindConfig, "parse", nil), want: ExitConfig},
		{name: "resource", err: New(KindResourceAcquisition, "open", nil), want: ExitResourceAcquisition},
		{name: "privilege", err: New(KindPrivilege, "mlockall", nil), want: ExitPrivilege},
		{name: "sched", err: New(KindSchedulingConfig, "sched_setattr", nil), want: ExitSchedulingConfig},
		{name: "lifecycle", err: New(KindTaskLifecycle, "join", nil), want: ExitTaskLifecycle},
	}
	seen := map[int]string{}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExitCode(tt.err))
		})
		if tt.err != nil && tt.want != ExitFailure {
			prev, dup := seen[tt.want]
			require.False(t, dup, "exit code %d shared by %s and %s", tt.want, prev, tt.name)
			seen[tt.want] = tt.name
		}
	}
}
