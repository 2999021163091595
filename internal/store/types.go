package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

// ExecutionRecord is the archived form of one execution.
type ExecutionRecord struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	StateMachine string                    `json:"state_machine"`
	Status       schema.ExecutionStatus    `json:"status"`
	Definition   json.RawMessage           `json:"definition,omitempty"`
	Input        json.RawMessage           `json:"input,omitempty"`
	Output       json.RawMessage           `json:"output,omitempty"`
	Error        *schema.ErrorDetail       `json:"error,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	StoppedAt    *time.Time                `json:"stopped_at,omitempty"`
	Transitions  []schema.TransitionRecord `json:"transitions,omitempty"`
}

// Duration returns the wall time of a finished execution, zero otherwise.
func (r *ExecutionRecord) Duration() time.Duration {
	if r.StoppedAt == nil {
		return 0
	}
	return r.StoppedAt.Sub(r.StartedAt)
}

// NewExecutionRecord converts an engine result into its archived form. def
// may be nil when the definition should not be stored.
func NewExecutionRecord(res *engine.ExecutionResult, def *schema.StateMachine) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{
		ID:           res.ExecutionID,
		Name:         res.Name,
		StateMachine: res.StateMachine,
		Status:       res.Status,
		Error:        res.Error,
		StartedAt:    res.StartTime,
		Transitions:  res.Trace,
	}
	if !res.StopTime.IsZero() {
		stopped := res.StopTime
		rec.StoppedAt = &stopped
	}

	var err error
	if def != nil {
		if rec.Definition, err = json.Marshal(def); err != nil {
			return nil, fmt.Errorf("marshal definition: %w", err)
		}
	}
	if rec.Input, err = json.Marshal(res.Input); err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	if res.Status == schema.ExecutionStatusSucceeded {
		if rec.Output, err = json.Marshal(res.Output); err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
	}
	return rec, nil
}

// ExecutionFilter controls ListExecutions.
type ExecutionFilter struct {
	StateMachine string
	Status       schema.ExecutionStatus
	Since        *time.Time
	Limit        int
	Offset       int
}

// TransitionFilter controls ListTransitions.
type TransitionFilter struct {
	Since     int64 // only records with a greater sequence
	StateName string
	Labels    []schema.TransitionLabel
	Limit     int
}

// Replayed state statuses.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCaught    = "caught"
	StateAborted   = "aborted"
)

// StateSummary is the replayed view of one state across an execution. Status
// reflects the latest visit.
type StateSummary struct {
	StateName   string `json:"state_name"`
	Status      string `json:"status"`
	Entries     int    `json:"entries"`
	Attempts    int    `json:"attempts"`
	Failures    int    `json:"failures"`
	Error       string `json:"error,omitempty"`
	FirstSeenMs int64  `json:"first_seen_ms"`
	LastSeenMs  int64  `json:"last_seen_ms"`
}

// DurationMs is the span between the first and last transition of the state.
func (s *StateSummary) DurationMs() int64 {
	return s.LastSeenMs - s.FirstSeenMs
}
