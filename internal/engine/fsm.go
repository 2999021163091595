package engine

import (
	"sync"

	"github.com/rendis/sfnsim/pkg/schema"
)

// TransitionHook is called before or after an execution status transition.
type TransitionHook func(from, to schema.ExecutionStatus) error

type statusHookKey struct {
	from, to schema.ExecutionStatus
}

// ValidStatusTransitions is the execution lifecycle. A terminal status may
// only go back to PENDING when the engine is reset for the next run.
var ValidStatusTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending: {schema.ExecutionStatusRunning},
	schema.ExecutionStatusRunning: {
		schema.ExecutionStatusSucceeded,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusTimedOut,
		schema.ExecutionStatusAborted,
	},
	schema.ExecutionStatusSucceeded: {schema.ExecutionStatusPending},
	schema.ExecutionStatusFailed:    {schema.ExecutionStatusPending},
	schema.ExecutionStatusTimedOut:  {schema.ExecutionStatusPending},
	schema.ExecutionStatusAborted:   {schema.ExecutionStatusPending},
}

// ExecutionFSM guards the lifecycle of the engine's current execution.
type ExecutionFSM struct {
	mu     sync.Mutex
	status schema.ExecutionStatus
	before map[statusHookKey][]TransitionHook
	after  map[statusHookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM in the PENDING status.
func NewExecutionFSM() *ExecutionFSM {
	return &ExecutionFSM{
		status: schema.ExecutionStatusPending,
		before: make(map[statusHookKey][]TransitionHook),
		after:  make(map[statusHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition; an error vetoes it.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := statusHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Status returns the current status.
func (f *ExecutionFSM) Status() schema.ExecutionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Transition validates and applies a status change.
func (f *ExecutionFSM) Transition(executionID string, to schema.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.status
	if !isValidStatusTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := statusHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.status = to

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// Reset moves a terminal execution back to PENDING. It is a no-op when
// already PENDING.
func (f *ExecutionFSM) Reset(executionID string) error {
	if f.Status() == schema.ExecutionStatusPending {
		return nil
	}
	return f.Transition(executionID, schema.ExecutionStatusPending)
}

func isValidStatusTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidStatusTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// terminalStatus maps an execution's final error to its status and label.
// Exactly one terminal label is recorded per execution.
func terminalStatus(err error) (schema.ExecutionStatus, schema.TransitionLabel) {
	switch {
	case err == nil:
		return schema.ExecutionStatusSucceeded, schema.ExecutionSucceeded
	case schema.IsKind(err, schema.ErrorAborted):
		return schema.ExecutionStatusAborted, schema.ExecutionAborted
	case schema.IsKind(err, schema.ErrorTimeout):
		return schema.ExecutionStatusTimedOut, schema.ExecutionTimedOut
	default:
		return schema.ExecutionStatusFailed, schema.ExecutionFailed
	}
}
