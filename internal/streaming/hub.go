package streaming

import (
	"context"

	"github.com/rendis/sfnsim/pkg/schema"
)

// TransitionFilter specifies which transitions a subscriber wants to receive.
type TransitionFilter struct {
	ExecutionID string                   `json:"execution_id,omitempty"`
	StateName   string                   `json:"state_name,omitempty"`
	Labels      []schema.TransitionLabel `json:"labels,omitempty"`
}

// TransitionHub provides pub/sub for live execution transitions.
type TransitionHub interface {
	Publish(ctx context.Context, rec schema.TransitionRecord) error
	Subscribe(ctx context.Context, filter TransitionFilter) (<-chan schema.TransitionRecord, func(), error)
}
