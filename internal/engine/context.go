package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/sfnsim/internal/logging"
	"github.com/rendis/sfnsim/pkg/schema"
)

const arnPrefix = "arn:aws:states:local:000000000000:"

// StateMachineARN returns the local ARN of a named state machine.
func StateMachineARN(name string) string {
	return arnPrefix + "stateMachine:" + name
}

// ExecutionARN returns the local ARN of one execution of a state machine.
func ExecutionARN(machine, execution string) string {
	return arnPrefix + "execution:" + machine + ":" + execution
}

// execution is the per-run state shared by every branch of one execution.
type execution struct {
	id          string
	name        string
	machineName string
	input       any
	start       time.Time
	opts        schema.RuntimeOptions
	log         *TransitionLog
}

func newExecution(machineName string, input any, opts schema.RuntimeOptions, log *TransitionLog) *execution {
	name := uuid.NewString()
	return &execution{
		id:          ExecutionARN(machineName, name),
		name:        name,
		machineName: machineName,
		input:       input,
		start:       time.Now(),
		opts:        opts,
		log:         log,
	}
}

// mapItem is the Map iteration an invocation runs under.
type mapItem struct {
	index int
	value any
}

// scope is what a single branch of execution carries: the execution, the
// state set it dispatches over and, inside a Map iterator, the current item.
// Scopes are never shared across concurrent branches.
type scope struct {
	exec   *execution
	states map[string]*schema.State
	branch string
	item   *mapItem
}

func (s *scope) child(machine *schema.StateMachine, branch string, item *mapItem) *scope {
	return &scope{exec: s.exec, states: machine.States, branch: branch, item: item}
}

// contextDoc builds the read-only document "$$" paths resolve against.
func (s *scope) contextDoc(state string, entered time.Time, retryCount int) map[string]any {
	doc := map[string]any{
		"Execution": map[string]any{
			"Id":        s.exec.id,
			"Input":     s.exec.input,
			"Name":      s.exec.name,
			"StartTime": s.exec.start.UTC().Format(time.RFC3339Nano),
		},
		"State": map[string]any{
			"Name":        state,
			"EnteredTime": entered.UTC().Format(time.RFC3339Nano),
			"RetryCount":  retryCount,
		},
		"StateMachine": map[string]any{
			"Id":   StateMachineARN(s.exec.machineName),
			"Name": s.exec.machineName,
		},
	}
	if s.item != nil {
		doc["Map"] = map[string]any{
			"Item": map[string]any{
				"Index": s.item.index,
				"Value": s.item.value,
			},
		}
	}
	return doc
}

func (s *scope) record(ctx context.Context, rec schema.TransitionRecord) {
	s.exec.log.Append(ctx, rec)
}

func (s *scope) stateRecord(ctx context.Context, st *schema.State, name string, phase schema.StatePhase, input, output any, err error) {
	s.record(ctx, schema.TransitionRecord{
		Label:     schema.StateLabel(st.Type, phase),
		StateName: name,
		Input:     input,
		Output:    output,
		Error:     errorDetail(err),
	})
}

// stateContext tags ctx with the state for log correlation.
func (s *scope) stateContext(ctx context.Context, name string) context.Context {
	ctx = logging.WithStateName(ctx, name)
	if s.branch != "" {
		ctx = logging.WithBranch(ctx, s.branch)
	}
	return ctx
}

func branchTag(state string, index int) string {
	return fmt.Sprintf("%s[%d]", state, index)
}

// abortError converts a cancelled context into Internal.Aborted, keeping the
// cancel cause in the chain.
func abortError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if ee, ok := schema.AsExecutionError(cause); ok && ee.Kind == schema.ErrorAborted {
		return schema.NewError(schema.ErrorAborted, ee.Message)
	}
	msg := "execution aborted"
	if cause != nil {
		msg = "execution aborted: " + cause.Error()
	}
	return schema.NewError(schema.ErrorAborted, msg).WithCause(cause)
}
