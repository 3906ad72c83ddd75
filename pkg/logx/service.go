package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	DefaultFilePath = "./rtpulse.log"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	// Journal sends every line to the systemd journal with its fields as
	// journal fields. Ignored when journald is not reachable.
	Journal bool
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Loggers taken from it read the current root on
// every line, so Apply takes effect immediately everywhere.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	console io.Writer
	file    *os.File
	journal func() (io.Writer, bool)

	root atomic.Pointer[zerolog.Logger]
}

// New logs to stdout.
func New(cfg Config) (*Service, Logger) { return NewWithWriter(cfg, os.Stdout) }

// NewWithWriter is New with an explicit console sink.
func NewWithWriter(cfg Config, console io.Writer) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
	if console == nil {
		console = os.Stdout
	}
	s := &Service{console: console, journal: systemJournal}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply rebuilds the sinks for cfg. A sink that cannot be opened is reported
// on stderr and skipped; with no sink left, the console is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(s.console))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Journal {
		if w, ok := s.journal(); ok {
			sinks = append(sinks, w)
		} else {
			fmt.Fprintln(os.Stderr, "logx: journal logging enabled but journald is not available")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(s.console))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close releases the log file. Loggers keep working on the other sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		NoColor:    !isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
