package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

const orderMachine = `{
  "StartAt": "Validate",
  "States": {
    "Validate": {"Type": "Pass", "Next": "Charge"},
    "Charge": {
      "Type": "Task", "Resource": "charge", "End": true,
      "Retry": [{"ErrorEquals": ["Throttled"], "IntervalSeconds": 0, "MaxAttempts": 2}]
    }
  }
}`

const fanoutMachine = `{
  "StartAt": "Fan",
  "States": {
    "Fan": {
      "Type": "Map", "MaxConcurrency": 3, "End": true,
      "Iterator": {"StartAt": "Item", "States": {"Item": {"Type": "Pass", "End": true}}}
    }
  }
}`

type throttled struct{}

func (throttled) Error() string     { return "slow down" }
func (throttled) ErrorName() string { return "Throttled" }

type declined struct{}

func (declined) Error() string     { return "card declined" }
func (declined) ErrorName() string { return "CardDeclined" }

// flakyCharge throttles the first call and succeeds afterwards.
func flakyCharge() engine.TaskHandler {
	calls := 0
	return func(_ context.Context, _ any) (any, error) {
		calls++
		if calls == 1 {
			return nil, throttled{}
		}
		return map[string]any{"charged": true}, nil
	}
}

func declinedCharge(context.Context, any) (any, error) {
	return nil, declined{}
}

func newEngine(t testing.TB, def string, charge engine.TaskHandler) *engine.Engine {
	t.Helper()
	sm, err := schema.ParseStateMachine([]byte(def))
	require.NoError(t, err)
	opts := []engine.Option{
		engine.WithName("orders"),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if charge != nil {
		opts = append(opts, engine.WithResources(map[string]engine.TaskHandler{"charge": charge}))
	}
	e, err := engine.New(sm, opts...)
	require.NoError(t, err)
	return e
}

func run(t testing.TB, e *engine.Engine, input any) *engine.ExecutionResult {
	t.Helper()
	res, _ := e.StartExecution(context.Background(), input, schema.DefaultRuntimeOptions())
	require.NotNil(t, res)
	return res
}

func schemaRecord(label, executionID, state string) schema.TransitionRecord {
	return schema.TransitionRecord{Label: schema.TransitionLabel(label), ExecutionID: executionID, StateName: state}
}
