package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

// Recorder archives executions while they run. It listens to every
// transition of an engine: ExecutionStarted opens the execution row, each
// transition is appended, and the terminal transition closes the row.
type Recorder struct {
	archive Archive
	logger  *slog.Logger
	timeout time.Duration

	mu           sync.Mutex
	stateMachine string
	definition   json.RawMessage
	err          error
}

// NewRecorder creates a Recorder writing to archive.
func NewRecorder(archive Archive, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{archive: archive, logger: logger, timeout: 5 * time.Second}
}

// Attach subscribes the recorder to e and returns the unsubscribe function.
func (r *Recorder) Attach(e *engine.Engine) (func(), error) {
	def, err := json.Marshal(e.Definition())
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	r.mu.Lock()
	r.stateMachine = e.Name()
	r.definition = def
	r.mu.Unlock()
	return e.SubscribeAll(r.Record), nil
}

// Record archives one transition. Write failures are logged and the first
// one is kept for Err; the run itself is never interrupted.
func (r *Recorder) Record(rec schema.TransitionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if rec.Label == schema.ExecutionStarted {
		if err := r.begin(ctx, rec); err != nil {
			r.fail(rec, err)
			return
		}
	}
	if err := r.archive.AppendTransition(ctx, rec); err != nil {
		r.fail(rec, err)
		return
	}
	if status, ok := terminalStatus(rec.Label); ok {
		if err := r.finish(ctx, rec, status); err != nil {
			r.fail(rec, err)
		}
	}
}

func (r *Recorder) begin(ctx context.Context, rec schema.TransitionRecord) error {
	r.mu.Lock()
	sm, def := r.stateMachine, r.definition
	r.mu.Unlock()

	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	return r.archive.BeginExecution(ctx, &ExecutionRecord{
		ID:           rec.ExecutionID,
		Name:         rec.ExecutionID,
		StateMachine: sm,
		Status:       schema.ExecutionStatusRunning,
		Definition:   def,
		Input:        input,
		StartedAt:    rec.Timestamp.Add(-time.Duration(rec.ElapsedMillis) * time.Millisecond),
	})
}

func (r *Recorder) finish(ctx context.Context, rec schema.TransitionRecord, status schema.ExecutionStatus) error {
	stopped := rec.Timestamp
	out := &ExecutionRecord{
		ID:        rec.ExecutionID,
		Status:    status,
		Error:     rec.Error,
		StoppedAt: &stopped,
	}
	if status == schema.ExecutionStatusSucceeded {
		b, err := json.Marshal(rec.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		out.Output = b
	}
	return r.archive.FinishExecution(ctx, out)
}

func (r *Recorder) fail(rec schema.TransitionRecord, err error) {
	r.logger.Warn("archive write failed",
		slog.String("execution_id", rec.ExecutionID),
		slog.Int64("sequence", rec.Sequence),
		slog.String("label", string(rec.Label)),
		slog.String("error", err.Error()),
	)
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func terminalStatus(label schema.TransitionLabel) (schema.ExecutionStatus, bool) {
	switch label {
	case schema.ExecutionSucceeded:
		return schema.ExecutionStatusSucceeded, true
	case schema.ExecutionFailed:
		return schema.ExecutionStatusFailed, true
	case schema.ExecutionAborted:
		return schema.ExecutionStatusAborted, true
	case schema.ExecutionTimedOut:
		return schema.ExecutionStatusTimedOut, true
	}
	return "", false
}

// Summarize replays the archived trace of an execution into one summary per
// state.
func Summarize(ctx context.Context, archive Archive, executionID string) (map[string]*StateSummary, error) {
	records, err := archive.ListTransitions(ctx, executionID, TransitionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	if len(records) == 0 {
		return nil, storeNotFound("execution trace", executionID)
	}
	return SummarizeTrace(records)
}

// SummarizeTrace folds a trace into one summary per state name. A gap in the
// sequence means the trace is incomplete and is reported as a store error.
//
// A state that failed and then exited was recovered by a Catch and ends up
// "caught".
func SummarizeTrace(records []schema.TransitionRecord) (map[string]*StateSummary, error) {
	summaries := make(map[string]*StateSummary)
	for i, rec := range records {
		if want := int64(i + 1); rec.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"trace of %s has a gap: expected sequence %d, got %d", rec.ExecutionID, want, rec.Sequence)
		}
		if rec.StateName == "" {
			continue
		}

		s, ok := summaries[rec.StateName]
		if !ok {
			s = &StateSummary{StateName: rec.StateName, FirstSeenMs: rec.ElapsedMillis}
			summaries[rec.StateName] = s
		}
		s.LastSeenMs = rec.ElapsedMillis

		label := string(rec.Label)
		switch {
		case rec.Label == schema.LambdaFunctionScheduled:
			s.Attempts++
		case strings.HasSuffix(label, "State"+string(schema.PhaseEntered)):
			s.Entries++
			s.Status = StateRunning
		case strings.HasSuffix(label, "State"+string(schema.PhaseExited)):
			if s.Status == StateFailed {
				s.Status = StateCaught
			} else {
				s.Status = StateSucceeded
			}
		case strings.HasSuffix(label, "State"+string(schema.PhaseFailed)):
			s.Failures++
			s.Status = StateFailed
			if rec.Error != nil {
				s.Error = rec.Error.Error
			}
		case strings.HasSuffix(label, "State"+string(schema.PhaseAborted)):
			s.Status = StateAborted
		}
	}
	return summaries, nil
}
