package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func TestSelectPath(t *testing.T) {
	e := newTestEngine(t, singleTask)
	ctx := context.Background()
	doc := map[string]any{"a": map[string]any{"b": 1.0}}

	got, err := e.selectPath(ctx, "InputPath", schema.Path{}, doc)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	got, err = e.selectPath(ctx, "InputPath", schema.NullPath(), doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got)

	got, err = e.selectPath(ctx, "InputPath", schema.NewPath("$.a.b"), doc)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	_, err = e.selectPath(ctx, "InputPath", schema.NewPath("$.missing"), doc)
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
	assert.Contains(t, err.Error(), "InputPath")
}

func TestPlaceResult(t *testing.T) {
	e := newTestEngine(t, singleTask)
	ctx := context.Background()

	tests := []struct {
		name     string
		path     schema.Path
		original any
		want     any
		wantErr  bool
	}{
		{"absent replaces", schema.Path{}, map[string]any{"a": 1.0}, "r", false},
		{"null keeps original", schema.NullPath(), map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, false},
		{"root replaces", schema.NewPath("$"), map[string]any{"a": 1.0}, "r", false},
		{"root on scalar", schema.NewPath("$"), "scalar", "r", false},
		{"nested write", schema.NewPath("$.x.y"), map[string]any{"a": 1.0}, map[string]any{"a": 1.0, "x": map[string]any{"y": "r"}}, false},
		{"scalar original", schema.NewPath("$.x"), "scalar", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.placeResult(ctx, tt.path, tt.original, "r")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlaceResultDoesNotMutateOriginal(t *testing.T) {
	e := newTestEngine(t, singleTask)
	original := map[string]any{"a": 1.0}

	_, err := e.placeResult(context.Background(), schema.NewPath("$.b"), original, "r")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, original)
}

func TestNoOpPathsRoundTrip(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "P",
		"States": {"P": {"Type": "Pass", "InputPath": "$", "ResultPath": "$", "OutputPath": "$", "End": true}}
	}`)
	input := map[string]any{"nested": map[string]any{"list": []any{1.0, "two", nil, true}}}

	res, err := run(t, e, input)
	require.NoError(t, err)
	assert.Equal(t, input, res.Output)
}

func TestResultSelectorShapesResult(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "T",
		"States": {
			"T": {
				"Type": "Task",
				"Resource": "t",
				"ResultSelector": {"status.$": "$.meta.status", "fixed": "yes"},
				"ResultPath": "$.summary",
				"End": true
			}
		}
	}`)
	e.BindTaskResource("T", func(context.Context, any) (any, error) {
		return map[string]any{"meta": map[string]any{"status": "ok"}, "noise": 1}, nil
	})

	res, err := run(t, e, map[string]any{"id": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":      "x",
		"summary": map[string]any{"status": "ok", "fixed": "yes"},
	}, res.Output)
}

func TestJSONTypeName(t *testing.T) {
	assert.Equal(t, "null", jsonTypeName(nil))
	assert.Equal(t, "boolean", jsonTypeName(true))
	assert.Equal(t, "string", jsonTypeName("s"))
	assert.Equal(t, "number", jsonTypeName(1.5))
	assert.Equal(t, "object", jsonTypeName(map[string]any{}))
	assert.Equal(t, "array", jsonTypeName([]any{}))
	assert.Equal(t, "unknown", jsonTypeName(struct{}{}))
}
