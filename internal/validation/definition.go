package validation

import "github.com/rendis/sfnsim/pkg/schema"

// DefinitionValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (references, transitions, paths, comparators, nested machines)
// 3. Graph (reachability, termination)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline on a parsed definition. Structural errors
// short-circuit the later stages.
func (dv *DefinitionValidator) Validate(def *schema.StateMachine) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "state machine definition is nil")
		return r
	}

	result := structuralResult(dv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}
	return dv.validateParsed(def, result)
}

// ValidateDocument runs the pipeline on raw definition JSON, so the structural
// stage also sees fields the parser drops.
func (dv *DefinitionValidator) ValidateDocument(data []byte) (*schema.StateMachine, *schema.ValidationResult) {
	result := structuralResult(dv.jsonSchema.ValidateDocument(data))
	if !result.Valid() {
		return nil, result
	}
	def, err := schema.ParseStateMachine(data)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, errorMessage(err))
		return nil, result
	}
	return def, dv.validateParsed(def, result)
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (dv *DefinitionValidator) ValidateInput(input any, inputSchema []byte) error {
	return dv.jsonSchema.ValidateInput(input, inputSchema)
}

func (dv *DefinitionValidator) validateParsed(def *schema.StateMachine, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(validateSemantic(def))

	// The graph stage relies on valid references.
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}

// structuralResult converts a JSONSchemaValidator error into a ValidationResult.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	ee, ok := schema.AsExecutionError(err)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := ee.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, ee.Message)
	return result
}
