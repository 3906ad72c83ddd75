package app

// StopReason says why a run ended. It is logged and stored with the run.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopCompleted  StopReason = "completed" // bounded run reached its iteration count
	StopFatalError StopReason = "fatal_error"
)
