package app

import (
	"strings"
	"time"

	"rtpulse/internal/config"
	"rtpulse/internal/pulse"
	"rtpulse/internal/rt/sched"
	"rtpulse/internal/rt/task"
	logx "rtpulse/pkg/logx"
)

// ---- Config mapping ----

func taskRequest(cfg *config.Config) sched.Request {
	return sched.Request{
		Period:         cfg.Task.Period(),
		MinPeriod:      cfg.Task.MinPeriod(),
		LockMemory:     cfg.Task.LockMemory,
		RealtimePolicy: cfg.Task.RealtimePolicy,
		Priority:       cfg.Task.Priority,
		StackSize:      cfg.Task.StackSize,
	}
}

func waitSlice(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("task.wait_slice", cfg.Task.WaitSlice, task.DefaultWaitSlice)
}

func lineConfig(cfg *config.Config) pulse.Config {
	return pulse.Config{
		Backend:  strings.TrimSpace(cfg.Line.Backend),
		Chip:     strings.TrimSpace(cfg.Line.Chip),
		Offset:   cfg.Line.Offset,
		Consumer: strings.TrimSpace(cfg.Line.Consumer),
		MMIO: pulse.MMIOConfig{
			Device: cfg.Line.MMIO.Device,
			Base:   cfg.Line.MMIO.Base,
			Pin:    cfg.Line.MMIO.Pin,
		},
	}
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Journal: cfg.Logging.Journal,
	}
}
