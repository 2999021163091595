package store

import (
	"context"

	"github.com/rendis/sfnsim/pkg/schema"
)

// Archive is the persistence contract for finished and in-flight executions.
// All implementations must be safe for concurrent use.
type Archive interface {
	// Executions
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	BeginExecution(ctx context.Context, rec *ExecutionRecord) error
	FinishExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	DeleteExecution(ctx context.Context, id string) error

	// Transitions (append-only)
	AppendTransition(ctx context.Context, rec schema.TransitionRecord) error
	ListTransitions(ctx context.Context, executionID string, filter TransitionFilter) ([]schema.TransitionRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
