package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "rtpulse/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe structured fields for the reload log line.
	Attrs []logx.Field
	// Restart is true when a changed section only takes effect on the next
	// run (anything but logging and the telemetry schedule).
	Restart bool
}

// Summarize compares oldCfg and newCfg. Nil is treated as Default().
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = Default()
	}
	if newCfg == nil {
		newCfg = Default()
	}
	var ch Change

	if oldCfg.Task != newCfg.Task {
		ch.Sections = append(ch.Sections, "task")
		ch.Restart = true
		ch.Attrs = append(ch.Attrs,
			logx.Int64("task.period_us", newCfg.Task.PeriodUS),
			logx.Bool("task.lock_memory", newCfg.Task.LockMemory),
			logx.Bool("task.realtime_policy", newCfg.Task.RealtimePolicy),
			logx.Int("task.priority", newCfg.Task.Priority),
		)
	}

	if oldCfg.Line != newCfg.Line {
		ch.Sections = append(ch.Sections, "line")
		ch.Restart = true
		ch.Attrs = append(ch.Attrs,
			logx.String("line.backend", newCfg.Line.Backend),
			logx.String("line.chip", newCfg.Line.Chip),
			logx.Int("line.offset", newCfg.Line.Offset),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.journal", newCfg.Logging.Journal),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		ch.Restart = true
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		ch.Attrs = append(ch.Attrs,
			logx.Bool("storage.enabled", newCfg.Storage != nil),
			logx.String("storage.driver", driver),
		)
	}

	if oldCfg.Telemetry != newCfg.Telemetry {
		ch.Sections = append(ch.Sections, "telemetry")
		if oldCfg.Telemetry.Systemd != newCfg.Telemetry.Systemd {
			ch.Restart = true
		}
		ch.Attrs = append(ch.Attrs,
			logx.String("telemetry.schedule", newCfg.Telemetry.Schedule),
			logx.Bool("telemetry.systemd", newCfg.Telemetry.Systemd),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		ch.Sections = append(ch.Sections, "monitor")
		ch.Restart = true
		ch.Attrs = append(ch.Attrs,
			logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
			logx.String("monitor.addr", newCfg.Monitor.Addr),
			logx.Bool("monitor.pprof", newCfg.Monitor.Pprof),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
