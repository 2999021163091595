package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func mapDef(maxConcurrency int) string {
	return `{
		"StartAt": "Each",
		"States": {
			"Each": {
				"Type": "Map",
				"ItemsPath": "$.items",
				"MaxConcurrency": ` + strconv.Itoa(maxConcurrency) + `,
				"Iterator": {"StartAt": "Work", "States": {"Work": {"Type": "Task", "Resource": "work", "End": true}}},
				"End": true
			}
		}
	}`
}

func TestMapPreservesOrder(t *testing.T) {
	for _, conc := range []int{0, 1, 4} {
		t.Run("max_concurrency_"+strconv.Itoa(conc), func(t *testing.T) {
			e := newTestEngine(t, mapDef(conc))
			// Earlier items sleep longer so completion order is reversed.
			e.BindTaskResource("Work", func(_ context.Context, input any) (any, error) {
				n := input.(float64)
				time.Sleep(time.Duration(5-n) * 5 * time.Millisecond)
				return input, nil
			})

			res, err := run(t, e, map[string]any{"items": []any{0, 1, 2, 3, 4}})
			require.NoError(t, err)
			assert.Equal(t, []any{0.0, 1.0, 2.0, 3.0, 4.0}, res.Output)

			assert.Equal(t, 5, countLabel(res.Trace, schema.MapIterationStarted))
			assert.Equal(t, 5, countLabel(res.Trace, schema.MapIterationSucceeded))
			for _, rec := range res.Trace {
				switch rec.Label {
				case schema.MapStateStarted:
					require.NotNil(t, rec.Length)
					assert.Equal(t, 5, *rec.Length)
				case schema.MapIterationStarted, schema.MapIterationSucceeded:
					require.NotNil(t, rec.Index)
					require.NotNil(t, rec.Length)
					assert.Equal(t, 5, *rec.Length)
				}
			}
		})
	}
}

func TestMapConcurrencyIsBounded(t *testing.T) {
	e := newTestEngine(t, mapDef(3))

	var active, peak atomic.Int32
	e.BindTaskResource("Work", func(_ context.Context, input any) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return input, nil
	})

	items := make([]any, 12)
	for i := range items {
		items[i] = i
	}
	_, err := run(t, e, map[string]any{"items": items})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestMapRuntimeCeilingCapsConcurrency(t *testing.T) {
	e := newTestEngine(t, mapDef(8))

	var active, peak atomic.Int32
	e.BindTaskResource("Work", func(_ context.Context, input any) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return input, nil
	})

	_, err := e.StartExecution(context.Background(),
		map[string]any{"items": []any{1, 2, 3, 4, 5, 6}},
		schema.RuntimeOptions{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMapItemSelection(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    any
		wantErr bool
	}{
		{name: "missing items path", input: map[string]any{}, want: []any{}},
		{name: "null items", input: map[string]any{"items": nil}, want: []any{}},
		{name: "non-array items", input: map[string]any{"items": "nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, mapDef(0))
			res, err := run(t, e, tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestMapParametersAndPaths(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "Each",
		"States": {
			"Each": {
				"Type": "Map",
				"InputPath": "$.order",
				"ItemsPath": "$.lines",
				"Parameters": {
					"sku.$": "$.sku",
					"index.$": "$$.Map.Item.Index",
					"line.$": "$$.Map.Item.Value"
				},
				"Iterator": {"StartAt": "Price", "States": {"Price": {"Type": "Task", "Resource": "price", "End": true}}},
				"OutputPath": "$.total",
				"ResultPath": "$.totals",
				"End": true
			}
		}
	}`)

	var mu sync.Mutex
	indices := map[string]any{}
	e.BindTaskResource("Price", func(_ context.Context, input any) (any, error) {
		m := input.(map[string]any)
		mu.Lock()
		indices[m["sku"].(string)] = m["index"]
		mu.Unlock()
		line := m["line"].(map[string]any)
		return map[string]any{"total": line["qty"].(float64) * 10}, nil
	})

	input := map[string]any{
		"id": "o-1",
		"order": map[string]any{"lines": []any{
			map[string]any{"sku": "a", "qty": 1},
			map[string]any{"sku": "b", "qty": 3},
		}},
	}
	res, err := run(t, e, input)
	require.NoError(t, err)

	// ResultPath is applied to the raw state input; there is no aggregate OutputPath.
	out := res.Output.(map[string]any)
	assert.Equal(t, "o-1", out["id"])
	assert.Equal(t, []any{10.0, 30.0}, out["totals"])
	assert.Equal(t, map[string]any{"a": 0.0, "b": 1.0}, indices)
}

func TestMapIterationFailure(t *testing.T) {
	e := newTestEngine(t, mapDef(0))
	var calls atomic.Int32
	e.BindTaskResource("Work", func(_ context.Context, input any) (any, error) {
		calls.Add(1)
		if input.(float64) == 1 {
			return nil, &CustomError{msg: "bad item"}
		}
		return input, nil
	})

	res, err := run(t, e, map[string]any{"items": []any{0, 1, 2}})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, countLabel(res.Trace, "MapStateFailed"))
	assert.Equal(t, "CustomError", res.Error.Error)
}

func parallelDef(branches int) string {
	def := `{"StartAt": "Fan", "States": {"Fan": {"Type": "Parallel", "End": true, "Branches": [`
	for i := 0; i < branches; i++ {
		if i > 0 {
			def += ","
		}
		def += `{"StartAt": "B` + strconv.Itoa(i) + `", "States": {"B` + strconv.Itoa(i) + `": {"Type": "Task", "Resource": "b", "End": true}}}`
	}
	return def + `]}}}`
}

func TestParallelResultOrder(t *testing.T) {
	const k = 4
	e := newTestEngine(t, parallelDef(k))
	for i := 0; i < k; i++ {
		e.BindTaskResource("B"+strconv.Itoa(i), func(_ context.Context, input any) (any, error) {
			time.Sleep(time.Duration(k-i) * 5 * time.Millisecond)
			return map[string]any{"branch": i, "in": input}, nil
		})
	}

	res, err := e.StartExecution(context.Background(), map[string]any{"x": 1}, schema.RuntimeOptions{MaxConcurrency: k})
	require.NoError(t, err)

	out := res.Output.([]any)
	require.Len(t, out, k)
	for i := 0; i < k; i++ {
		assert.Equal(t, map[string]any{"branch": float64(i), "in": map[string]any{"x": 1.0}}, out[i])
	}

	assert.Equal(t, k, countLabel(res.Trace, schema.ParallelStateStarted))
	assert.Equal(t, 1, countLabel(res.Trace, schema.ParallelStateSucceeded))
}

func TestParallelBatchesAreBarriers(t *testing.T) {
	const k = 5
	e := newTestEngine(t, parallelDef(k))

	var mu sync.Mutex
	finished := 0
	finishedBefore := make([]int, k)
	for i := 0; i < k; i++ {
		e.BindTaskResource("B"+strconv.Itoa(i), func(_ context.Context, input any) (any, error) {
			mu.Lock()
			finishedBefore[i] = finished
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
			return i, nil
		})
	}

	res, err := e.StartExecution(context.Background(), map[string]any{}, schema.RuntimeOptions{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, []any{0.0, 1.0, 2.0, 3.0, 4.0}, res.Output)

	// Batches of 2, 2 and 1: a branch starts only after every earlier batch finished.
	for i, n := range finishedBefore {
		assert.GreaterOrEqual(t, n, (i/2)*2, "branch %d started early", i)
	}
}

func TestParallelBranchesGetIndependentInput(t *testing.T) {
	e := newTestEngine(t, parallelDef(2))
	for i := 0; i < 2; i++ {
		e.BindTaskResource("B"+strconv.Itoa(i), func(_ context.Context, input any) (any, error) {
			m := input.(map[string]any)
			m["touched"] = i
			return m, nil
		})
	}

	res, err := run(t, e, map[string]any{"shared": true})
	require.NoError(t, err)
	out := res.Output.([]any)
	assert.Equal(t, map[string]any{"shared": true, "touched": 0.0}, out[0])
	assert.Equal(t, map[string]any{"shared": true, "touched": 1.0}, out[1])
}

func TestParallelFirstErrorCancelsSiblings(t *testing.T) {
	e := newTestEngine(t, parallelDef(2))

	siblingDone := make(chan error, 1)
	e.BindTaskResource("B0", func(context.Context, any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, &CustomError{msg: "branch failed"}
	})
	e.BindTaskResource("B1", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-ctx.Done():
			siblingDone <- ctx.Err()
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			siblingDone <- nil
			return "too late", nil
		}
	})

	start := time.Now()
	res, err := run(t, e, map[string]any{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	ee, ok := schema.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, "CustomError", ee.Name())
	assert.ErrorIs(t, <-siblingDone, context.Canceled)

	assert.Equal(t, 1, countLabel(res.Trace, "TaskStateAborted"))
	assert.Equal(t, 1, countLabel(res.Trace, "ParallelStateFailed"))
	assert.Equal(t, []schema.TransitionLabel{schema.ExecutionFailed}, terminalLabels(res.Trace))
}

func TestNestedParallelInsideMap(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "Each",
		"States": {
			"Each": {
				"Type": "Map",
				"MaxConcurrency": 2,
				"Iterator": {
					"StartAt": "Both",
					"States": {
						"Both": {
							"Type": "Parallel",
							"Branches": [
								{"StartAt": "Left", "States": {"Left": {"Type": "Pass", "Parameters": {"side": "L", "v.$": "$"}, "End": true}}},
								{"StartAt": "Right", "States": {"Right": {"Type": "Pass", "Parameters": {"side": "R", "v.$": "$"}, "End": true}}}
							],
							"End": true
						}
					}
				},
				"End": true
			}
		}
	}`)

	res, err := run(t, e, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{
		[]any{map[string]any{"side": "L", "v": "a"}, map[string]any{"side": "R", "v": "a"}},
		[]any{map[string]any{"side": "L", "v": "b"}, map[string]any{"side": "R", "v": "b"}},
	}, res.Output)

	trace := res.Trace
	for i := 1; i < len(trace); i++ {
		assert.Greater(t, trace[i].Sequence, trace[i-1].Sequence)
	}
}
