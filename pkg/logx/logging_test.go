package logx

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceApplySwapsLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "warn", Console: true}, &buf)
	defer svc.Close()

	log.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	svc.Apply(Config{Level: "debug", Console: true})
	log.With(String("comp", "test")).Debug("visible", Int("n", 3))
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "comp=test")
	assert.Contains(t, out, "n=3")
	assert.Equal(t, "debug", strings.ToLower(svc.Config().Level))
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := Nop()
	assert.False(t, l.IsZero())
	assert.False(t, l.Enabled(LevelError))
	l.Error("nothing")
	var zero Logger
	assert.True(t, zero.IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "trace", "DEBUG", "info", "warning", "error"} {
		_, ok := ParseLevel(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}

func TestThrottledCountsSuppressedLines(t *testing.T) {
	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "info", Console: true}, &buf)
	defer svc.Close()

	th := NewThrottled(log, 0.0001, 1)
	th.Warn("first")
	th.Warn("second")
	th.Error("third")

	require.Equal(t, uint64(2), th.Suppressed())
	out := buf.String()
	assert.Contains(t, out, "first")
	assert.NotContains(t, out, "second")
	assert.NotContains(t, out, "third")
}

func TestThrottledSkipsDisabledLevels(t *testing.T) {
	th := NewThrottled(Nop(), 1000, 10)
	th.Warn("dropped")
	assert.Zero(t, th.Suppressed())
}

type journalEntry struct {
	msg  string
	pri  journal.Priority
	vars map[string]string
}

func TestJournalSinkSendsFields(t *testing.T) {
	var got []journalEntry
	fake := journalWriter{send: func(msg string, pri journal.Priority, vars map[string]string) error {
		got = append(got, journalEntry{msg, pri, vars})
		return nil
	}}

	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "info"}, &buf)
	defer svc.Close()
	svc.journal = func() (io.Writer, bool) { return fake, true }
	svc.Apply(Config{Level: "info", Journal: true})

	log.With(String("comp", "task")).Warn("deadline overrun", Uint64("overruns", 3))
	log.Debug("hidden")

	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, "deadline overrun", e.msg)
	assert.Equal(t, journal.PriWarning, e.pri)
	assert.Equal(t, "task", e.vars["COMP"])
	assert.Equal(t, "3", e.vars["OVERRUNS"])
	assert.Contains(t, e.vars["CALLER"], "logging_test.go:")
	assert.NotContains(t, e.vars, "MESSAGE")
	assert.Empty(t, buf.String(), "journal only, no console")
}

func TestJournalUnavailableFallsBackToConsole(t *testing.T) {
	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "info"}, &buf)
	defer svc.Close()
	svc.journal = func() (io.Writer, bool) { return nil, false }
	svc.Apply(Config{Level: "info", Journal: true})

	log.Info("still here")
	assert.Contains(t, buf.String(), "still here")
}

func TestJournalField(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"comp":         "COMP",
		"rate_hz":      "RATE_HZ",
		"task.period":  "TASK_PERIOD",
		"_private":     "PRIVATE",
		"9lives":       "F_9LIVES",
		"---":          "F_",
		"max-lateness": "MAX_LATENESS",
	}
	for in, want := range cases {
		assert.Equal(t, want, journalField(in), in)
	}
}

func TestJournalPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, journal.PriDebug, journalPriority(LevelTrace))
	assert.Equal(t, journal.PriInfo, journalPriority(LevelInfo))
	assert.Equal(t, journal.PriErr, journalPriority(LevelError))
	assert.Equal(t, journal.PriNotice, journalPriority(zerolog.NoLevel))
}

func TestCallerNamesCallSite(t *testing.T) {
	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "info", Console: true}, &buf)
	defer svc.Close()

	log.Info("direct")
	NewThrottled(log, 10, 1).Warn("throttled")
	assert.NotContains(t, buf.String(), "logger.go")
	assert.NotContains(t, buf.String(), "throttle.go")
	assert.Equal(t, 2, strings.Count(buf.String(), "logging_test.go:"))
}
