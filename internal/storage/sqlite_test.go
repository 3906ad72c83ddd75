//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "rtpulse/pkg/logx"
)

func TestSQLiteStoreAppendAndList(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.sqlite"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendRun(ctx, RunRecord{ID: "old", StartedAt: t0, StoppedAt: t0.Add(time.Second), Line: "sim", Policy: "SCHED_OTHER"}))
	require.NoError(t, st.AppendRun(ctx, RunRecord{
		ID:              "new",
		StartedAt:       t0.Add(time.Hour),
		StoppedAt:       t0.Add(time.Hour + time.Second),
		Line:            "cdev:gpiochip0/17",
		Period:          40 * time.Microsecond,
		Clamped:         true,
		Policy:          "SCHED_FIFO",
		Priority:        80,
		LockMemory:      true,
		Iterations:      25000,
		Overruns:        3,
		ActuationErrors: 1,
		MaxLateness:     12 * time.Microsecond,
		ExitCode:        0,
	}))

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	r := runs[0]
	assert.Equal(t, "new", r.ID)
	assert.True(t, r.Clamped)
	assert.Equal(t, 40*time.Microsecond, r.Period)
	assert.Equal(t, uint64(25000), r.Iterations)
	assert.Equal(t, 12*time.Microsecond, r.MaxLateness)
	assert.True(t, r.StartedAt.Equal(t0.Add(time.Hour)))
	assert.Empty(t, r.Error)

	runs, err = st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
