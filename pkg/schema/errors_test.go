package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }

type namedError struct{}

func (namedError) Error() string     { return "named" }
func (namedError) ErrorName() string { return "Billing.Declined" }

func TestExecutionError_Format(t *testing.T) {
	err := NewError(ErrorRuntime, "path $.a not found").WithState("Shape")
	assert.Equal(t, "[States.Runtime] state Shape: path $.a not found", err.Error())

	err = NewErrorf(ErrorTimeout, "waited %ds", 30)
	assert.Equal(t, "[States.Timeout] waited 30s", err.Error())
}

func TestExecutionError_NamePrefersType(t *testing.T) {
	err := NewError(ErrorTaskFailed, "boom").WithType("CustomError")
	assert.Equal(t, "CustomError", err.Name())
	assert.Equal(t, "States.TaskFailed", NewError(ErrorTaskFailed, "boom").Name())
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrorTaskFailed, "write failed").WithCause(cause)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", err)
	ee, ok := AsExecutionError(wrapped)
	require.True(t, ok)
	assert.Same(t, err, ee)
	assert.True(t, IsKind(wrapped, ErrorTaskFailed))
	assert.False(t, IsKind(wrapped, ErrorRuntime))
}

func TestErrorTypeName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"custom type", &customError{"x"}, "customError"},
		{"wrapped custom type", fmt.Errorf("ctx: %w", &customError{"x"}), "customError"},
		{"namer", namedError{}, "Billing.Declined"},
		{"plain errors.New", errors.New("x"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorTypeName(tt.err))
		})
	}
}

func TestWrapTaskError(t *testing.T) {
	err := WrapTaskError("Charge", namedError{})
	assert.Equal(t, ErrorTaskFailed, err.Kind)
	assert.Equal(t, "Billing.Declined", err.TypeName)
	assert.Equal(t, "Charge", err.State)

	existing := NewError(ErrorTimeout, "late")
	assert.Same(t, existing, WrapTaskError("Charge", existing))
	assert.Equal(t, "Charge", existing.State)
}

func TestMessageChain(t *testing.T) {
	root := errors.New("connection reset")
	err := NewError(ErrorTaskFailed, "call failed").WithCause(fmt.Errorf("dial: %w", root))
	assert.Equal(t, []string{"call failed", "dial: connection reset", "connection reset"}, MessageChain(err))
}
