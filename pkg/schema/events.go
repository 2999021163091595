package schema

import "time"

// TransitionLabel names one kind of recorded transition.
type TransitionLabel string

// Execution-level transitions.
const (
	ExecutionStarted   TransitionLabel = "ExecutionStarted"
	ExecutionSucceeded TransitionLabel = "ExecutionSucceeded"
	ExecutionFailed    TransitionLabel = "ExecutionFailed"
	ExecutionAborted   TransitionLabel = "ExecutionAborted"
	ExecutionTimedOut  TransitionLabel = "ExecutionTimedOut"
)

// Coordinator and task-handler transitions.
const (
	MapStateStarted       TransitionLabel = "MapStateStarted"
	MapStateSucceeded     TransitionLabel = "MapStateSucceeded"
	MapIterationStarted   TransitionLabel = "MapIterationStarted"
	MapIterationSucceeded TransitionLabel = "MapIterationSucceeded"

	ParallelStateStarted   TransitionLabel = "ParallelStateStarted"
	ParallelStateSucceeded TransitionLabel = "ParallelStateSucceeded"

	LambdaFunctionScheduled TransitionLabel = "LambdaFunctionScheduled"
	LambdaFunctionStarted   TransitionLabel = "LambdaFunctionStarted"
	LambdaFunctionSucceeded TransitionLabel = "LambdaFunctionSucceeded"
	LambdaFunctionFailed    TransitionLabel = "LambdaFunctionFailed"
)

// StatePhase is the suffix of a per-state transition label.
type StatePhase string

const (
	PhaseEntered StatePhase = "Entered"
	PhaseExited  StatePhase = "Exited"
	PhaseFailed  StatePhase = "Failed"
	PhaseAborted StatePhase = "Aborted"
)

// StateLabel builds the per-state label, e.g. TaskStateEntered.
func StateLabel(t StateType, phase StatePhase) TransitionLabel {
	return TransitionLabel(string(t) + "State" + string(phase))
}

// TransitionRecord is one immutable entry of an execution trace.
type TransitionRecord struct {
	Sequence      int64           `json:"sequence"`
	ExecutionID   string          `json:"execution_id"`
	Label         TransitionLabel `json:"label"`
	StateName     string          `json:"state_name,omitempty"`
	ElapsedMillis int64           `json:"elapsed_ms"`
	Timestamp     time.Time       `json:"timestamp"`
	Input         any             `json:"input,omitempty"`
	Output        any             `json:"output,omitempty"`
	Index         *int            `json:"index,omitempty"`
	Length        *int            `json:"length,omitempty"`
	Error         *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail is the serializable view of an ExecutionError stored on a transition.
type ErrorDetail struct {
	Error string `json:"error"`
	Cause string `json:"cause"`
}

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionStatusAborted   ExecutionStatus = "ABORTED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusAborted:
		return true
	}
	return false
}

// RuntimeOptions are fixed for the lifetime of one execution.
type RuntimeOptions struct {
	RespectWaitCeiling bool    `json:"respect_wait_ceiling" mapstructure:"respect_wait_ceiling"`
	MaxWaitSeconds     float64 `json:"max_wait_seconds" mapstructure:"max_wait_seconds"`
	MaxConcurrency     int     `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// Runtime option defaults.
const (
	DefaultMaxWaitSeconds = 30
	DefaultMaxConcurrency = 10
)

// DefaultRuntimeOptions returns the options used when none are supplied.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{MaxWaitSeconds: DefaultMaxWaitSeconds, MaxConcurrency: DefaultMaxConcurrency}
}

// WithDefaults fills zero-valued limits with their defaults.
func (o RuntimeOptions) WithDefaults() RuntimeOptions {
	if o.MaxWaitSeconds <= 0 {
		o.MaxWaitSeconds = DefaultMaxWaitSeconds
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}
