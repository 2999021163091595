package engine

import (
	"context"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/pkg/schema"
)

// selectPath applies an InputPath or OutputPath: absent keeps doc, null
// yields an empty object, and a path that matches nothing fails.
func (e *Engine) selectPath(ctx context.Context, field string, p schema.Path, doc any) (any, error) {
	switch {
	case p.IsZero():
		return doc, nil
	case p.IsNull():
		return map[string]any{}, nil
	}
	v, found, err := e.resolver.Get(ctx, doc, p.Expr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, schema.NewErrorf(schema.ErrorRuntime, "%s %q did not match any value", field, p.Expr)
	}
	return v, nil
}

// applyInput produces the effective input: InputPath, then Parameters.
func (e *Engine) applyInput(ctx context.Context, st *schema.State, doc any, ctxDoc map[string]any) (any, error) {
	selected, err := e.selectPath(ctx, "InputPath", st.InputPath, doc)
	if err != nil {
		return nil, err
	}
	if st.Parameters == nil {
		return selected, nil
	}
	return e.builder.Build(ctx, st.Parameters, selected, ctxDoc)
}

// placeResult applies a ResultPath: absent lets result replace the input,
// null discards result, and a path writes result into a copy of original.
func (e *Engine) placeResult(ctx context.Context, p schema.Path, original, result any) (any, error) {
	switch {
	case p.IsZero():
		return result, nil
	case p.IsNull():
		return original, nil
	}

	parsed, err := expressions.ParsePath(p.Expr)
	if err != nil {
		return nil, err
	}
	if parsed.IsRoot() {
		return result, nil
	}
	if !expressions.IsContainer(original) {
		return nil, schema.NewErrorf(schema.ErrorRuntime,
			"ResultPath %q requires an object or array input, got %s", p.Expr, jsonTypeName(original))
	}
	return e.resolver.Set(ctx, original, p.Expr, result)
}

// applyOutput runs the post-invocation pipeline: ResultSelector, ResultPath
// against the raw state input, then OutputPath.
func (e *Engine) applyOutput(ctx context.Context, st *schema.State, original, result any, ctxDoc map[string]any) (any, error) {
	placed, err := e.applyResult(ctx, st, original, result, ctxDoc)
	if err != nil {
		return nil, err
	}
	return e.selectPath(ctx, "OutputPath", st.OutputPath, placed)
}

// applyResult is applyOutput without the final OutputPath.
func (e *Engine) applyResult(ctx context.Context, st *schema.State, original, result any, ctxDoc map[string]any) (any, error) {
	if st.ResultSelector != nil {
		selected, err := e.builder.Build(ctx, st.ResultSelector, result, ctxDoc)
		if err != nil {
			return nil, err
		}
		result = selected
	}
	return e.placeResult(ctx, st.ResultPath, original, result)
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "unknown"
	}
}
