package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

const orderMachine = `{
  "StartAt": "Validate",
  "States": {
    "Validate": {"Type": "Pass", "Result": {"ok": true}, "ResultPath": "$.check", "Next": "Charge"},
    "Charge": {"Type": "Task", "Resource": "charge", "End": true}
  }
}`

func newTestArchive(t testing.TB) *TraceArchive {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	a, err := OpenTraceArchive(context.Background(), "file:"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrderEngine(t testing.TB, charge engine.TaskHandler) *engine.Engine {
	t.Helper()
	def, err := schema.ParseStateMachine([]byte(orderMachine))
	require.NoError(t, err)
	e, err := engine.New(def,
		engine.WithName("orders"),
		engine.WithLogger(quietLogger()),
		engine.WithResources(map[string]engine.TaskHandler{"charge": charge}),
	)
	require.NoError(t, err)
	return e
}

func runOrder(t testing.TB, e *engine.Engine, input any) *engine.ExecutionResult {
	t.Helper()
	res, _ := e.StartExecution(context.Background(), input, schema.DefaultRuntimeOptions())
	require.NotNil(t, res)
	return res
}

func labels(trace []schema.TransitionRecord) []schema.TransitionLabel {
	out := make([]schema.TransitionLabel, len(trace))
	for i, r := range trace {
		out[i] = r.Label
	}
	return out
}
