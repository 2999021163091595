package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

// CustomError is a handler error matched by its type name.
type CustomError struct {
	msg string
}

func (e *CustomError) Error() string { return e.msg }

// namedError picks its own match name.
type namedError struct{}

func (namedError) Error() string     { return "rate limited" }
func (namedError) ErrorName() string { return "Throttled" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustParse(t testing.TB, def string) *schema.StateMachine {
	t.Helper()
	sm, err := schema.ParseStateMachine([]byte(def))
	require.NoError(t, err)
	return sm
}

func newTestEngine(t testing.TB, def string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(mustParse(t, def), append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return e
}

func labelsOf(trace []schema.TransitionRecord) []schema.TransitionLabel {
	out := make([]schema.TransitionLabel, len(trace))
	for i, r := range trace {
		out[i] = r.Label
	}
	return out
}

func countLabel(trace []schema.TransitionRecord, label schema.TransitionLabel) int {
	n := 0
	for _, r := range trace {
		if r.Label == label {
			n++
		}
	}
	return n
}

func terminalLabels(trace []schema.TransitionRecord) []schema.TransitionLabel {
	var out []schema.TransitionLabel
	for _, r := range trace {
		switch r.Label {
		case schema.ExecutionSucceeded, schema.ExecutionFailed, schema.ExecutionAborted, schema.ExecutionTimedOut:
			out = append(out, r.Label)
		}
	}
	return out
}

func run(t testing.TB, e *Engine, input any) (*ExecutionResult, error) {
	t.Helper()
	return e.StartExecution(context.Background(), input, schema.DefaultRuntimeOptions())
}
