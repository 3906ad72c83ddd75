// Package rterr defines the startup/runtime error taxonomy of the pulse
// controller and its mapping to process exit codes.
package rterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Every startup failure is fatal; none are retried.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindResourceAcquisition
	KindPrivilege
	KindSchedulingConfig
	KindTaskLifecycle
	KindActuation
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindResourceAcquisition:
		return "resource_acquisition"
	case KindPrivilege:
		return "privilege"
	case KindSchedulingConfig:
		return "scheduling_config"
	case KindTaskLifecycle:
		return "task_lifecycle"
	case KindActuation:
		return "actuation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a Kind.
var (
	ErrConfig              = &Error{Kind: KindConfig}
	ErrResourceAcquisition = &Error{Kind: KindResourceAcquisition}
	ErrPrivilege           = &Error{Kind: KindPrivilege}
	ErrSchedulingConfig    = &Error{Kind: KindSchedulingConfig}
	ErrTaskLifecycle       = &Error{Kind: KindTaskLifecycle}
	ErrActuation           = &Error{Kind: KindActuation}
)

// Error carries a Kind, the failing operation and the cause.
//
// Example:
//
//	return rterr.New(rterr.KindPrivilege, "mlockall", err)
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Process exit codes. 0 is reserved for a graceful stop.
const (
	ExitOK                  = 0
	ExitFailure             = 1
	ExitConfig              = 2
	ExitResourceAcquisition = 3
	ExitPrivilege           = 4
	ExitSchedulingConfig    = 5
	ExitTaskLifecycle       = 6
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfig:
		return ExitConfig
	case KindResourceAcquisition:
		return ExitResourceAcquisition
	case KindPrivilege:
		return ExitPrivilege
	case KindSchedulingConfig:
		return ExitSchedulingConfig
	case KindTaskLifecycle:
		return ExitTaskLifecycle
	default:
		return ExitFailure
	}
}
