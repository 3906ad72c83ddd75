package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "rtpulse/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err, "file driver needs a path")
}

func TestFileStoreAppendAndList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "history.db")}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendRun(ctx, RunRecord{
			ID:         string(rune('a' + i)),
			StartedAt:  t0.Add(time.Duration(i) * time.Minute),
			StoppedAt:  t0.Add(time.Duration(i)*time.Minute + time.Second),
			Line:       "sim",
			Period:     100 * time.Microsecond,
			Policy:     "SCHED_FIFO",
			Priority:   80,
			Iterations: uint64(1000 * (i + 1)),
		}))
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, uint64(3000), runs[0].Iterations)
	assert.Equal(t, 100*time.Microsecond, runs[0].Period)
	assert.True(t, runs[0].StartedAt.Equal(t0.Add(2*time.Minute)))

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	require.Error(t, st.AppendRun(ctx, RunRecord{ID: "d"}))

	// History survives reopening and tolerates a torn line.
	f, err := os.OpenFile(filepath.Join(dir, "history.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"torn",`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(Config{Driver: "file", Path: filepath.Join(dir, "history.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	runs, err = st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
