package validation

import "github.com/rendis/sfnsim/pkg/schema"

// Validator checks state machine definitions before they run.
// Uses JSON Schema Draft 2020-12 for the structural stage and for input documents.
type Validator interface {
	Validate(def *schema.StateMachine) *schema.ValidationResult
	ValidateInput(input any, inputSchema []byte) error
}
