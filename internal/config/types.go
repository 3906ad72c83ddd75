package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"rtpulse/pkg/logx"
)

// Config is the on-disk configuration (JSON or YAML). CLI flags override it.
//
// Example (YAML):
//
//	task:
//	  period_us: 100
//	  lock_memory: true
//	  realtime_policy: true
//	line:
//	  backend: cdev
//	  chip: gpiochip0
//	  offset: 17
//	logging:
//	  level: info
//	  console: true
type Config struct {
	Task      TaskConfig      `json:"task"`
	Line      LineConfig      `json:"line"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Monitor   MonitorConfig   `json:"monitor"`
}

// TaskConfig describes the periodic task. Periods are integer microseconds.
type TaskConfig struct {
	PeriodUS       int64 `json:"period_us"`
	MinPeriodUS    int64 `json:"min_period_us,omitempty"`
	LockMemory     bool  `json:"lock_memory"`
	RealtimePolicy bool  `json:"realtime_policy"`

	// Priority is the SCHED_FIFO priority (1..99). 0 selects the default.
	Priority  int `json:"priority,omitempty"`
	StackSize int `json:"stack_size,omitempty"`

	// Iterations bounds the run (0: until stopped).
	Iterations uint64 `json:"iterations,omitempty"`

	// WaitSlice is a Go duration string bounding stop latency.
	WaitSlice string `json:"wait_slice,omitempty"`
}

type LineConfig struct {
	Backend  string     `json:"backend"` // cdev | mmio | sim
	Chip     string     `json:"chip,omitempty"`
	Offset   int        `json:"offset"`
	Consumer string     `json:"consumer,omitempty"`
	MMIO     MMIOConfig `json:"mmio,omitempty"`
}

type MMIOConfig struct {
	Device string `json:"device,omitempty"`
	Base   int64  `json:"base,omitempty"`
	Pin    int    `json:"pin"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Journal bool        `json:"journal,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the run history store. Nil disables it.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./rtpulse_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelemetryConfig controls the periodic stats report and systemd integration.
type TelemetryConfig struct {
	// Schedule is a cron spec ("@every 10s", "*/1 * * * *"). Empty disables
	// the report.
	Schedule string `json:"schedule,omitempty"`
	// Systemd enables sd_notify READY/STOPPING and watchdog pings when the
	// process runs under systemd.
	Systemd bool `json:"systemd"`
}

// MonitorConfig controls the local HTTP monitor (health, stats, pprof).
//
// Security: keep Addr on loopback (default 127.0.0.1:6060); a non-loopback
// Addr needs Token or AllowInsecure.
type MonitorConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// ScheduleParser accepts 5- or 6-field cron specs and @descriptors. It is
// the parser every telemetry schedule goes through.
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a telemetry schedule with ScheduleParser.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return ScheduleParser.Parse(strings.TrimSpace(spec))
}

const (
	DefaultPeriodUS    = 100
	DefaultMinPeriodUS = 40
	DefaultSchedule    = "@every 10s"

	// MaxPeriodUS is the longest period that still fits a time.Duration.
	MaxPeriodUS = math.MaxInt64 / int64(time.Microsecond)
)

// Default returns the configuration used when no file is given. Parse
// decodes on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Task: TaskConfig{
			PeriodUS:    DefaultPeriodUS,
			MinPeriodUS: DefaultMinPeriodUS,
		},
		Line: LineConfig{
			Backend: "cdev",
			Chip:    "gpiochip0",
			Offset:  17,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Telemetry: TelemetryConfig{
			Schedule: DefaultSchedule,
			Systemd:  true,
		},
	}
}

// Validate checks values that the strict decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if p := c.Task.PeriodUS; p <= 0 || p > MaxPeriodUS {
		errs = append(errs, fmt.Errorf("task.period_us: must be in [1, %d] (got %d)", MaxPeriodUS, p))
	}
	if p := c.Task.MinPeriodUS; p < 0 || p > MaxPeriodUS {
		errs = append(errs, fmt.Errorf("task.min_period_us: must be in [0, %d], 0 for the default (got %d)", MaxPeriodUS, p))
	}
	if p := c.Task.Priority; p < 0 || p > 99 {
		errs = append(errs, fmt.Errorf("task.priority: must be in [1, 99] (got %d)", p))
	}
	if c.Task.StackSize < 0 {
		errs = append(errs, fmt.Errorf("task.stack_size: must be >= 0 (got %d)", c.Task.StackSize))
	}
	if _, err := ParseDurationField("task.wait_slice", c.Task.WaitSlice); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Line.Backend)) {
	case "", "cdev", "gpiod", "mmio", "devmem", "sim":
	default:
		errs = append(errs, fmt.Errorf("line.backend: unknown backend %q", c.Line.Backend))
	}
	if c.Line.Offset < 0 {
		errs = append(errs, fmt.Errorf("line.offset: must be >= 0 (got %d)", c.Line.Offset))
	}
	if s := strings.TrimSpace(c.Telemetry.Schedule); s != "" {
		if _, err := ParseSchedule(s); err != nil {
			errs = append(errs, fmt.Errorf("telemetry.schedule: %w", err))
		}
	}
	if c.Monitor.Enabled && strings.TrimSpace(c.Monitor.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(c.Monitor.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("monitor.addr: %w", err))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Period and MinPeriod convert to durations. Validate bounds both so the
// conversion cannot overflow; a zero MinPeriod means the default.
func (t TaskConfig) Period() time.Duration    { return time.Duration(t.PeriodUS) * time.Microsecond }
func (t TaskConfig) MinPeriod() time.Duration { return time.Duration(t.MinPeriodUS) * time.Microsecond }
