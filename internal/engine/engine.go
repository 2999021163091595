package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/internal/logging"
	"github.com/rendis/sfnsim/pkg/schema"
)

// Validator checks a definition once, when the Engine is built.
type Validator interface {
	Validate(def *schema.StateMachine) *schema.ValidationResult
}

// ExecutionResult summarizes one finished execution.
type ExecutionResult struct {
	ExecutionID  string                    `json:"execution_id"`
	Name         string                    `json:"name"`
	StateMachine string                    `json:"state_machine"`
	Status       schema.ExecutionStatus    `json:"status"`
	Input        any                       `json:"input,omitempty"`
	Output       any                       `json:"output,omitempty"`
	Error        *schema.ErrorDetail       `json:"error,omitempty"`
	StartTime    time.Time                 `json:"start_time"`
	StopTime     time.Time                 `json:"stop_time"`
	Trace        []schema.TransitionRecord `json:"trace"`
}

// Duration returns the wall time of the execution.
func (r *ExecutionResult) Duration() time.Duration {
	return r.StopTime.Sub(r.StartTime)
}

// Option configures an Engine.
type Option func(*Engine)

// WithName sets the state machine name used in ARNs and the context
// document. It defaults to the definition's StartAt.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithResources binds task handlers by state name or Resource.
func WithResources(handlers map[string]TaskHandler) Option {
	return func(e *Engine) {
		for k, h := range handlers {
			e.handlers[k] = h
		}
	}
}

// WithValidator validates the definition in New.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithLegacyOrSemantics makes an Or rule true only when more than one nested
// rule is true.
func WithLegacyOrSemantics() Option {
	return func(e *Engine) { e.legacyOr = true }
}

// WithStrictErrorMatching disables matching ErrorEquals patterns against
// error messages; only kinds and type names match.
func WithStrictErrorMatching() Option {
	return func(e *Engine) { e.strictErrors = true }
}

// WithHub publishes every transition to a live hub.
func WithHub(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCollationLocale sets the locale for String ordering comparators.
func WithCollationLocale(tag language.Tag) Option {
	return func(e *Engine) { e.locale = tag }
}

// WithResolver replaces the path resolver.
func WithResolver(r expressions.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// Engine runs one state machine definition. Executions on one Engine are
// serialized; the trace and result of the latest one stay readable until the
// next starts.
type Engine struct {
	def          *schema.StateMachine
	name         string
	logger       *slog.Logger
	resolver     expressions.Resolver
	builder      *expressions.Builder
	validator    Validator
	publisher    Publisher
	locale       language.Tag
	collator     *stringCollator
	legacyOr     bool
	strictErrors bool

	handlersMu sync.RWMutex
	handlers   map[string]TaskHandler

	log *TransitionLog
	fsm *ExecutionFSM

	runMu  sync.Mutex
	mu     sync.Mutex
	cancel context.CancelCauseFunc
	result any
	last   *ExecutionResult
}

// New builds an Engine for def.
func New(def *schema.StateMachine, opts ...Option) (*Engine, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "state machine definition is nil")
	}

	e := &Engine{
		def:      def,
		name:     def.StartAt,
		logger:   slog.Default(),
		locale:   language.Und,
		handlers: make(map[string]TaskHandler),
		fsm:      NewExecutionFSM(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.resolver == nil {
		r, err := expressions.NewGoJQResolver()
		if err != nil {
			return nil, err
		}
		e.resolver = r
	}
	e.builder = expressions.NewBuilder(e.resolver)
	e.collator = newStringCollator(e.locale)
	e.logger = e.logger.With(slog.String("state_machine", e.name))
	e.log = NewTransitionLog(e.publisher, e.logger)

	if e.validator != nil {
		if err := e.validator.Validate(def).ToError(); err != nil {
			return nil, err
		}
	} else if _, ok := def.States[def.StartAt]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "StartAt state %q is not defined", def.StartAt)
	}

	return e, nil
}

// Name returns the state machine name.
func (e *Engine) Name() string { return e.name }

// Definition returns the state machine the engine runs.
func (e *Engine) Definition() *schema.StateMachine { return e.def }

// BindTaskResource binds a handler to a Task state name or Resource string.
func (e *Engine) BindTaskResource(name string, h TaskHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[name] = h
}

// Subscribe registers a listener for one transition label.
func (e *Engine) Subscribe(label schema.TransitionLabel, l Listener) func() {
	return e.log.Subscribe(label, l)
}

// SubscribeAll registers a listener for every transition.
func (e *Engine) SubscribeAll(l Listener) func() {
	return e.log.SubscribeAll(l)
}

// Status returns the lifecycle status of the current or latest execution.
func (e *Engine) Status() schema.ExecutionStatus {
	return e.fsm.Status()
}

// StartExecution runs the state machine on input to completion. A non-nil
// result is returned even on failure; the error is the unrecovered cause.
func (e *Engine) StartExecution(ctx context.Context, input any, opts schema.RuntimeOptions) (*ExecutionResult, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	opts = opts.WithDefaults()
	doc, err := expressions.Normalize(input)
	if err != nil {
		return nil, err
	}

	exec := newExecution(e.name, doc, opts, e.log)
	if err := e.fsm.Reset(exec.id); err != nil {
		return nil, err
	}
	e.log.Reset(exec.id, exec.start)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx = logging.WithExecutionID(runCtx, exec.id)

	e.mu.Lock()
	e.cancel = cancel
	e.result = nil
	e.last = nil
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	if err := e.fsm.Transition(exec.id, schema.ExecutionStatusRunning); err != nil {
		return nil, err
	}

	sc := &scope{exec: exec, states: e.def.States}
	sc.record(runCtx, schema.TransitionRecord{Label: schema.ExecutionStarted, Input: doc})
	e.logger.InfoContext(runCtx, "execution started")

	out, runErr := e.run(runCtx, sc, e.def.StartAt, doc)

	status, label := terminalStatus(runErr)
	final := schema.TransitionRecord{Label: label}
	if runErr == nil {
		final.Output = out
	} else {
		final.Error = errorDetail(runErr)
	}
	sc.record(runCtx, final)

	if err := e.fsm.Transition(exec.id, status); err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		ExecutionID:  exec.id,
		Name:         exec.name,
		StateMachine: e.name,
		Status:       status,
		Input:        doc,
		Output:       out,
		Error:        final.Error,
		StartTime:    exec.start,
		StopTime:     time.Now(),
		Trace:        e.log.Records(),
	}

	e.mu.Lock()
	e.result = out
	e.last = result
	e.mu.Unlock()

	if runErr != nil {
		e.logger.ErrorContext(runCtx, "execution finished", slog.String("status", string(status)), slog.String("error", runErr.Error()))
		return result, runErr
	}
	e.logger.InfoContext(runCtx, "execution finished", slog.String("status", string(status)), slog.Duration("duration", result.Duration()))
	return result, nil
}

// Abort cancels the running execution. It reports whether one was running.
func (e *Engine) Abort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.cancel(schema.NewError(schema.ErrorAborted, "execution aborted by caller"))
	return true
}

// GetExecutionResult returns the output of the latest execution, or nil when
// it did not succeed.
func (e *Engine) GetExecutionResult() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// LastExecution returns the summary of the latest finished execution.
func (e *Engine) LastExecution() (*ExecutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.last != nil
}

// GetTrace returns the transitions of the current or latest execution.
func (e *Engine) GetTrace() []schema.TransitionRecord {
	return e.log.Records()
}
