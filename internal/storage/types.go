package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": <path without ext>.runs.jsonl
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord summarizes one run of the periodic task. Keep it schema-stable.
type RunRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`

	Line       string        `json:"line"`
	Period     time.Duration `json:"period_ns"`
	Clamped    bool          `json:"clamped,omitempty"`
	Policy     string        `json:"policy"`
	Priority   int           `json:"priority"`
	LockMemory bool          `json:"lock_memory"`

	Iterations      uint64        `json:"iterations"`
	Overruns        uint64        `json:"overruns"`
	ActuationErrors uint64        `json:"actuation_errors"`
	MaxLateness     time.Duration `json:"max_lateness_ns"`

	StopReason string `json:"stop_reason,omitempty"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
}
