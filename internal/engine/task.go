package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/pkg/schema"
)

// TaskHandler simulates the remote resource behind a Task state. It receives
// a private copy of the effective input. A returned error that implements
// schema.ErrorNamer, or is of a named type, can be matched by that name in
// Retry and Catch rules.
type TaskHandler func(ctx context.Context, input any) (any, error)

// handler looks up the handler bound to a Task by state name, then by Resource.
func (e *Engine) handler(name, resource string) TaskHandler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	if h, ok := e.handlers[name]; ok {
		return h
	}
	if resource != "" {
		if h, ok := e.handlers[resource]; ok {
			return h
		}
	}
	return nil
}

// invokeTask runs one attempt of a Task state, from effective input to output.
func (e *Engine) invokeTask(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time, attempt int) (any, error) {
	ctxDoc := sc.contextDoc(name, entered, attempt)
	eff, err := e.applyInput(ctx, st, input, ctxDoc)
	if err != nil {
		return nil, err
	}

	sc.record(ctx, schema.TransitionRecord{Label: schema.LambdaFunctionScheduled, StateName: name, Input: eff})
	sc.record(ctx, schema.TransitionRecord{Label: schema.LambdaFunctionStarted, StateName: name})

	result, err := e.callHandler(ctx, name, e.handler(name, st.Resource), eff)
	if err != nil {
		if ctx.Err() != nil {
			err = abortError(ctx)
		}
		sc.record(ctx, schema.TransitionRecord{Label: schema.LambdaFunctionFailed, StateName: name, Error: errorDetail(err)})
		return nil, err
	}
	sc.record(ctx, schema.TransitionRecord{Label: schema.LambdaFunctionSucceeded, StateName: name, Output: result})

	return e.applyOutput(ctx, st, input, result, ctxDoc)
}

// callHandler invokes h on a copy of input. An unbound Task passes its input
// through. Panics and handler errors become States.TaskFailed.
func (e *Engine) callHandler(ctx context.Context, name string, h TaskHandler, input any) (out any, err error) {
	arg, err := expressions.Normalize(input)
	if err != nil {
		return nil, err
	}
	if h == nil {
		e.logger.DebugContext(ctx, "no handler bound, passing input through", slog.String("state", name))
		return arg, nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "task handler panicked", slog.String("state", name), slog.Any("panic", r))
			out, err = nil, schema.NewErrorf(schema.ErrorTaskFailed, "task handler panicked: %v", r).
				WithState(name).
				WithCause(fmt.Errorf("panic: %v", r))
		}
	}()

	raw, herr := h(ctx, arg)
	if herr != nil {
		return nil, schema.WrapTaskError(name, herr)
	}
	result, nerr := expressions.Normalize(raw)
	if nerr != nil {
		return nil, schema.NewErrorf(schema.ErrorTaskFailed, "task handler returned a value that is not JSON: %s", nerr.Error()).
			WithState(name).
			WithCause(nerr)
	}
	return result, nil
}
