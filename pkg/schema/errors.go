package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrorKind is the ASL error name carried by an ExecutionError.
type ErrorKind string

// Error kinds raised by the engine. ErrorAll is a pattern only; it is never raised.
const (
	ErrorAll              ErrorKind = "States.ALL"
	ErrorRuntime          ErrorKind = "States.Runtime"
	ErrorTimeout          ErrorKind = "States.Timeout"
	ErrorTaskFailed       ErrorKind = "States.TaskFailed"
	ErrorIntrinsicFailure ErrorKind = "States.IntrinsicFailure"
	ErrorAborted          ErrorKind = "Internal.Aborted"
)

// Error codes for the surfaces around the engine (validation, archive, tools).
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeStore      = "STORE_ERROR"

	ErrCodeInvalidTransition = "INVALID_TRANSITION"
)

// ExecutionError is the structured error type for every failure raised while
// running a state machine.
type ExecutionError struct {
	Kind      ErrorKind      `json:"kind"`
	TypeName  string         `json:"type_name,omitempty"`
	Message   string         `json:"message"`
	State     string         `json:"state,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Recovered bool           `json:"recovered,omitempty"`
	Cause     error          `json:"-"`
}

func (e *ExecutionError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("[%s] state %s: %s", e.Name(), e.State, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Name(), e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Name is the value a Retry or Catch rule sees: the custom type name when one
// was surfaced by a handler, the kind otherwise.
func (e *ExecutionError) Name() string {
	if e.TypeName != "" {
		return e.TypeName
	}
	return string(e.Kind)
}

// NewError creates a new ExecutionError.
func NewError(kind ErrorKind, message string) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message}
}

// NewErrorf creates a new ExecutionError with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithState attaches the name of the state that raised the error.
func (e *ExecutionError) WithState(name string) *ExecutionError {
	e.State = name
	return e
}

// WithType attaches a custom error type name.
func (e *ExecutionError) WithType(name string) *ExecutionError {
	e.TypeName = name
	return e
}

// WithCause attaches an underlying cause.
func (e *ExecutionError) WithCause(err error) *ExecutionError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ExecutionError) WithDetails(details map[string]any) *ExecutionError {
	e.Details = details
	return e
}

// ErrorNamer lets a task handler error choose the name Retry and Catch rules match against.
type ErrorNamer interface {
	ErrorName() string
}

// AsExecutionError returns the first ExecutionError in err's chain.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsKind reports whether err carries an ExecutionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ee, ok := AsExecutionError(err)
	return ok && ee.Kind == kind
}

// WrapTaskError converts an arbitrary handler error into a States.TaskFailed
// ExecutionError. Errors that already are ExecutionErrors pass through.
func WrapTaskError(state string, err error) *ExecutionError {
	if ee, ok := AsExecutionError(err); ok {
		if ee.State == "" {
			ee.State = state
		}
		return ee
	}
	return NewError(ErrorTaskFailed, err.Error()).
		WithState(state).
		WithType(ErrorTypeName(err)).
		WithCause(err)
}

// ErrorTypeName derives the custom type name of a handler error: an explicit
// ErrorName(), else the Go type name of the first error in the chain that is not
// one of the standard library's anonymous wrappers.
func ErrorTypeName(err error) string {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if n, ok := cur.(ErrorNamer); ok && n.ErrorName() != "" {
			return n.ErrorName()
		}
		t := reflect.TypeOf(cur)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.PkgPath() {
		case "errors", "fmt", "":
			continue
		}
		return t.Name()
	}
	return ""
}

// MessageChain flattens err and its causes into one message per link, outermost first.
func MessageChain(err error) []string {
	var chain []string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		msg := cur.Error()
		if ee, ok := cur.(*ExecutionError); ok {
			msg = ee.Message
		}
		chain = append(chain, strings.TrimSpace(msg))
	}
	return chain
}
