package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
)

// journalWriter turns zerolog JSON lines into native journal entries: the
// message becomes MESSAGE, the level PRIORITY, every other key a field.
type journalWriter struct {
	send func(msg string, pri journal.Priority, vars map[string]string) error
}

func systemJournal() (io.Writer, bool) {
	if !journal.Enabled() {
		return nil, false
	}
	return journalWriter{send: journal.Send}, true
}

func (w journalWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.NoLevel, p) }

func (w journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return len(p), w.send(strings.TrimSpace(string(p)), journalPriority(level), nil)
	}

	msg, _ := m[zerolog.MessageFieldName].(string)
	vars := make(map[string]string, len(m))
	for k, v := range m {
		switch k {
		case zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.TimestampFieldName:
			continue
		}
		vars[journalField(k)] = fmt.Sprint(v)
	}
	if err := w.send(msg, journalPriority(level), vars); err != nil {
		return 0, err
	}
	return len(p), nil
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return journal.PriDebug
	case zerolog.InfoLevel:
		return journal.PriInfo
	case zerolog.WarnLevel:
		return journal.PriWarning
	case zerolog.ErrorLevel:
		return journal.PriErr
	case zerolog.FatalLevel:
		return journal.PriCrit
	case zerolog.PanicLevel:
		return journal.PriEmerg
	default:
		return journal.PriNotice
	}
}

// journalField maps a log key to a valid journal field name: upper case
// letters, digits and underscores, not starting with an underscore or digit.
func journalField(k string) string {
	b := make([]byte, 0, len(k))
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		default:
			b = append(b, '_')
		}
	}
	s := strings.TrimLeft(string(b), "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "F_" + s
	}
	return s
}
