package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/pkg/schema"
)

// run drives one branch from start until a state ends it. Transitions are
// followed in a loop, so long workflows do not grow the stack.
func (e *Engine) run(ctx context.Context, sc *scope, start string, input any) (any, error) {
	name, doc := start, input
	for {
		if ctx.Err() != nil {
			return nil, abortError(ctx)
		}
		st, ok := sc.states[name]
		if !ok || st == nil {
			return nil, schema.NewErrorf(schema.ErrorRuntime, "state %q is not defined", name).WithState(name)
		}

		next, out, err := e.executeState(ctx, sc, name, st, doc)
		if err != nil {
			return nil, err
		}
		if next == "" {
			return out, nil
		}
		name, doc = next, out
	}
}

// executeState runs one state and returns the name of the next state, empty
// when the branch ends, together with the state output.
func (e *Engine) executeState(ctx context.Context, sc *scope, name string, st *schema.State, input any) (next string, out any, err error) {
	ctx = sc.stateContext(ctx, name)
	entered := time.Now()

	sc.stateRecord(ctx, st, name, schema.PhaseEntered, input, nil, nil)
	e.logger.DebugContext(ctx, "state entered", slog.String("type", string(st.Type)))

	switch st.Type {
	case schema.StateTypeTask, schema.StateTypeParallel, schema.StateTypeMap:
		invoke := e.invoker(st.Type)
		out, err = e.withRetry(ctx, name, st.Retry, func(attempt int) (any, error) {
			return invoke(ctx, sc, name, st, input, entered, attempt)
		})
		next = st.Next
	case schema.StateTypeChoice:
		next, out, err = e.executeChoice(ctx, sc, name, st, input, entered)
	case schema.StateTypePass:
		out, err = e.executePass(ctx, sc, name, st, input, entered)
		next = st.Next
	case schema.StateTypeWait:
		out, err = e.executeWait(ctx, sc, name, st, input, entered)
		next = st.Next
	case schema.StateTypeSucceed:
		out, err = e.executeSucceed(ctx, sc, name, st, input, entered)
	case schema.StateTypeFail:
		err = failError(name, st)
	default:
		err = schema.NewErrorf(schema.ErrorRuntime, "unsupported state type %q", st.Type)
	}

	if err == nil {
		if st.IsTerminal() {
			next = ""
		}
		sc.stateRecord(ctx, st, name, schema.PhaseExited, nil, out, nil)
		e.logger.DebugContext(ctx, "state exited", slog.String("next", next))
		return next, out, nil
	}

	if ctx.Err() != nil && !schema.IsKind(err, schema.ErrorAborted) {
		err = abortError(ctx)
	}
	if ee, ok := schema.AsExecutionError(err); ok && ee.State == "" {
		ee.State = name
	}

	if schema.IsKind(err, schema.ErrorAborted) {
		sc.stateRecord(ctx, st, name, schema.PhaseAborted, nil, nil, err)
		e.logger.DebugContext(ctx, "state aborted")
		return "", nil, err
	}

	sc.stateRecord(ctx, st, name, schema.PhaseFailed, nil, nil, err)

	if catchable(st.Type) {
		if rule, pattern := e.findCatch(st.Catch, err); rule != nil {
			recovered, rerr := e.recoverWith(ctx, name, rule, pattern, input, err)
			if rerr == nil {
				sc.stateRecord(ctx, st, name, schema.PhaseExited, nil, recovered, nil)
				return rule.Next, recovered, nil
			}
			err = rerr
		}
	}

	e.logger.ErrorContext(ctx, "state failed", slog.String("type", string(st.Type)), slog.String("error", err.Error()))
	return "", nil, err
}

type invokeFunc func(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time, attempt int) (any, error)

func (e *Engine) invoker(t schema.StateType) invokeFunc {
	switch t {
	case schema.StateTypeParallel:
		return e.invokeParallel
	case schema.StateTypeMap:
		return e.invokeMap
	default:
		return e.invokeTask
	}
}

func catchable(t schema.StateType) bool {
	return t == schema.StateTypeTask || t == schema.StateTypeParallel || t == schema.StateTypeMap
}

// executePass shapes data without invoking anything. A Result replaces the
// effective input as the state's result.
func (e *Engine) executePass(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time) (any, error) {
	ctxDoc := sc.contextDoc(name, entered, 0)
	eff, err := e.applyInput(ctx, st, input, ctxDoc)
	if err != nil {
		return nil, err
	}
	result := eff
	if st.Result != nil {
		if result, err = expressions.Normalize(st.Result); err != nil {
			return nil, err
		}
	}
	placed, err := e.placeResult(ctx, st.ResultPath, input, result)
	if err != nil {
		return nil, err
	}
	return e.selectPath(ctx, "OutputPath", st.OutputPath, placed)
}

// executeSucceed ends the branch with its filtered input.
func (e *Engine) executeSucceed(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time) (any, error) {
	eff, err := e.applyInput(ctx, st, input, sc.contextDoc(name, entered, 0))
	if err != nil {
		return nil, err
	}
	return e.selectPath(ctx, "OutputPath", st.OutputPath, eff)
}

// failError is the error a Fail state raises: its Error and Cause when set.
func failError(name string, st *schema.State) error {
	kind := schema.ErrorTaskFailed
	if st.Error != "" {
		kind = schema.ErrorKind(st.Error)
	}
	msg := st.Cause
	if msg == "" {
		msg = fmt.Sprintf("transitioned to a Fail state for %s", name)
	}
	return schema.NewError(kind, msg).WithState(name)
}
