package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/sfnsim/pkg/schema"
)

// Listener observes transitions. It is called synchronously while the trace
// is locked, so it must not call back into the Engine.
type Listener func(rec schema.TransitionRecord)

// Publisher forwards transitions to live observers, e.g. a streaming.MemoryHub.
type Publisher interface {
	Publish(ctx context.Context, rec schema.TransitionRecord) error
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// TransitionLog is the append-only trace of one execution plus the listener
// registry that outlives it. Appends, listener calls and publishing happen
// under one lock so observers see records in sequence order.
type TransitionLog struct {
	mu          sync.Mutex
	executionID string
	start       time.Time
	seq         int64
	records     []schema.TransitionRecord

	nextID    uint64
	byLabel   map[schema.TransitionLabel][]listenerEntry
	all       []listenerEntry
	publisher Publisher
	logger    *slog.Logger
}

// NewTransitionLog creates an empty log.
func NewTransitionLog(publisher Publisher, logger *slog.Logger) *TransitionLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionLog{
		byLabel:   make(map[schema.TransitionLabel][]listenerEntry),
		publisher: publisher,
		logger:    logger,
	}
}

// Reset clears the trace for a new execution. Listeners are kept.
func (l *TransitionLog) Reset(executionID string, start time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executionID = executionID
	l.start = start
	l.seq = 0
	l.records = nil
}

// Subscribe registers fn for one label and returns its unsubscribe function.
func (l *TransitionLog) Subscribe(label schema.TransitionLabel, fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.byLabel[label] = append(l.byLabel[label], listenerEntry{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.byLabel[label] = removeListener(l.byLabel[label], id)
	}
}

// SubscribeAll registers fn for every label.
func (l *TransitionLog) SubscribeAll(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.all = append(l.all, listenerEntry{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.all = removeListener(l.all, id)
	}
}

func removeListener(entries []listenerEntry, id uint64) []listenerEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Append stamps rec with the next sequence number and the elapsed time,
// stores it and notifies listeners before returning.
func (l *TransitionLog) Append(ctx context.Context, rec schema.TransitionRecord) schema.TransitionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.seq++
	rec.Sequence = l.seq
	rec.ExecutionID = l.executionID
	rec.Timestamp = now
	rec.ElapsedMillis = now.Sub(l.start).Milliseconds()
	l.records = append(l.records, rec)

	for _, e := range l.byLabel[rec.Label] {
		l.notify(e.fn, rec)
	}
	for _, e := range l.all {
		l.notify(e.fn, rec)
	}
	if l.publisher != nil {
		// Aborted executions still publish their terminal records.
		if err := l.publisher.Publish(context.WithoutCancel(ctx), rec); err != nil {
			l.logger.Warn("publish transition failed", slog.String("label", string(rec.Label)), slog.String("error", err.Error()))
		}
	}
	return rec
}

func (l *TransitionLog) notify(fn Listener, rec schema.TransitionRecord) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("transition listener panicked", slog.String("label", string(rec.Label)), slog.Any("panic", r))
		}
	}()
	fn(rec)
}

// Records returns a copy of the trace in sequence order.
func (l *TransitionLog) Records() []schema.TransitionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.TransitionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Last returns the most recent record, if any.
func (l *TransitionLog) Last() (schema.TransitionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return schema.TransitionRecord{}, false
	}
	return l.records[len(l.records)-1], true
}

// Len returns the number of records in the trace.
func (l *TransitionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func errorDetail(err error) *schema.ErrorDetail {
	if err == nil {
		return nil
	}
	ee, ok := schema.AsExecutionError(err)
	if !ok {
		return &schema.ErrorDetail{Error: string(schema.ErrorRuntime), Cause: err.Error()}
	}
	return &schema.ErrorDetail{Error: ee.Name(), Cause: ee.Message}
}

func intPtr(v int) *int { return &v }
