package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/pkg/schema"
)

// Span attribute keys.
const (
	attrStateMachine = attribute.Key("sfn.state_machine")
	attrExecutionID  = attribute.Key("sfn.execution_id")
	attrStateName    = attribute.Key("sfn.state.name")
	attrStateType    = attribute.Key("sfn.state.type")
	attrErrorName    = attribute.Key("sfn.error")
	attrIndex        = attribute.Key("sfn.index")
	attrLength       = attribute.Key("sfn.length")
)

type spanKey struct {
	execution string
	state     string
}

type execSpan struct {
	ctx  context.Context
	span trace.Span
}

// SpanRecorder turns an execution into an OpenTelemetry trace: one root span
// per execution and one child span per state visit. Task lifecycle and Map
// iteration transitions become span events.
//
// States of concurrent Map iterations share a name, so their spans are
// matched last-in first-out.
type SpanRecorder struct {
	tracer trace.Tracer

	mu     sync.Mutex
	roots  map[string]execSpan
	states map[spanKey][]trace.Span
}

// NewSpanRecorder creates a recorder that starts spans on tracer.
func NewSpanRecorder(tracer trace.Tracer) *SpanRecorder {
	return &SpanRecorder{
		tracer: tracer,
		roots:  make(map[string]execSpan),
		states: make(map[spanKey][]trace.Span),
	}
}

// Listener returns an engine listener tagging spans with stateMachine.
func (r *SpanRecorder) Listener(stateMachine string) engine.Listener {
	return func(rec schema.TransitionRecord) {
		r.observe(stateMachine, rec)
	}
}

// Attach subscribes the recorder to every transition of e.
func (r *SpanRecorder) Attach(e *engine.Engine) func() {
	return e.SubscribeAll(r.Listener(e.Name()))
}

func (r *SpanRecorder) observe(sm string, rec schema.TransitionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Label == schema.ExecutionStarted {
		ctx, span := r.tracer.Start(context.Background(), "execution "+sm,
			trace.WithTimestamp(rec.Timestamp),
			trace.WithAttributes(attrStateMachine.String(sm), attrExecutionID.String(rec.ExecutionID)),
		)
		r.roots[rec.ExecutionID] = execSpan{ctx: ctx, span: span}
		return
	}

	root, ok := r.roots[rec.ExecutionID]
	if !ok {
		return
	}

	if status, ok := terminalStatus(rec.Label); ok {
		r.closeOpen(rec)
		if status != schema.ExecutionStatusSucceeded {
			markError(root.span, rec.Error)
		} else {
			root.span.SetStatus(codes.Ok, "")
		}
		root.span.End(trace.WithTimestamp(rec.Timestamp))
		delete(r.roots, rec.ExecutionID)
		return
	}

	key := spanKey{execution: rec.ExecutionID, state: rec.StateName}
	if stateType, phase, ok := splitStateLabel(rec.Label); ok {
		if phase == schema.PhaseEntered {
			_, span := r.tracer.Start(root.ctx, rec.StateName,
				trace.WithTimestamp(rec.Timestamp),
				trace.WithAttributes(attrStateName.String(rec.StateName), attrStateType.String(string(stateType))),
			)
			r.states[key] = append(r.states[key], span)
			return
		}
		span := r.pop(key)
		if span == nil {
			return
		}
		switch phase {
		case schema.PhaseExited:
			span.SetStatus(codes.Ok, "")
		default:
			markError(span, rec.Error)
		}
		span.End(trace.WithTimestamp(rec.Timestamp))
		return
	}

	// Lifecycle events land on the state span they belong to.
	stack := r.states[key]
	if len(stack) == 0 {
		return
	}
	var attrs []attribute.KeyValue
	if rec.Index != nil {
		attrs = append(attrs, attrIndex.Int(*rec.Index))
	}
	if rec.Length != nil {
		attrs = append(attrs, attrLength.Int(*rec.Length))
	}
	if rec.Error != nil {
		attrs = append(attrs, attrErrorName.String(rec.Error.Error))
	}
	stack[len(stack)-1].AddEvent(string(rec.Label), trace.WithTimestamp(rec.Timestamp), trace.WithAttributes(attrs...))
}

func (r *SpanRecorder) pop(key spanKey) trace.Span {
	stack := r.states[key]
	if len(stack) == 0 {
		return nil
	}
	span := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(r.states, key)
	} else {
		r.states[key] = stack[:len(stack)-1]
	}
	return span
}

// closeOpen ends state spans an execution left open.
func (r *SpanRecorder) closeOpen(rec schema.TransitionRecord) {
	for key, stack := range r.states {
		if key.execution != rec.ExecutionID {
			continue
		}
		for _, span := range stack {
			span.End(trace.WithTimestamp(rec.Timestamp))
		}
		delete(r.states, key)
	}
}

func markError(span trace.Span, d *schema.ErrorDetail) {
	if d == nil {
		span.SetStatus(codes.Error, "")
		return
	}
	span.SetAttributes(attrErrorName.String(d.Error))
	span.SetStatus(codes.Error, d.Cause)
}
