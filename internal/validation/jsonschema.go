package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/sfnsim/pkg/schema"
)

const machineSchemaURL = "https://sfnsim.dev/schemas/state-machine.json"

// machineSchemaJSON is the structural schema for Amazon States Language
// definitions. Type-specific requirements are expressed with if/then.
const machineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://sfnsim.dev/schemas/state-machine.json",
  "$ref": "#/$defs/machine",
  "$defs": {
    "machine": {
      "type": "object",
      "required": ["StartAt", "States"],
      "properties": {
        "Comment": { "type": "string" },
        "Version": { "type": "string" },
        "TimeoutSeconds": { "type": "integer", "minimum": 0 },
        "StartAt": { "type": "string", "minLength": 1 },
        "States": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": { "$ref": "#/$defs/state" }
        }
      }
    },
    "path": { "type": ["string", "null"] },
    "state": {
      "type": "object",
      "required": ["Type"],
      "properties": {
        "Type": {
          "type": "string",
          "enum": ["Task", "Map", "Parallel", "Choice", "Pass", "Wait", "Fail", "Succeed"]
        },
        "Comment": { "type": "string" },
        "Next": { "type": "string", "minLength": 1 },
        "End": { "type": "boolean" },
        "InputPath": { "$ref": "#/$defs/path" },
        "OutputPath": { "$ref": "#/$defs/path" },
        "ResultPath": { "$ref": "#/$defs/path" },
        "ItemsPath": { "$ref": "#/$defs/path" },
        "Parameters": { "type": "object" },
        "ResultSelector": { "type": "object" },
        "Resource": { "type": "string", "minLength": 1 },
        "Retry": { "type": "array", "items": { "$ref": "#/$defs/retrier" } },
        "Catch": { "type": "array", "items": { "$ref": "#/$defs/catcher" } },
        "Branches": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/machine" } },
        "Iterator": { "$ref": "#/$defs/machine" },
        "ItemProcessor": { "$ref": "#/$defs/machine" },
        "MaxConcurrency": { "type": "integer", "minimum": 0 },
        "Choices": { "type": "array", "minItems": 1, "items": { "type": "object" } },
        "Default": { "type": "string", "minLength": 1 },
        "Seconds": { "type": "number", "minimum": 0 },
        "SecondsPath": { "type": "string" },
        "Timestamp": { "type": "string", "format": "date-time" },
        "TimestampPath": { "type": "string" },
        "Error": { "type": "string" },
        "Cause": { "type": "string" }
      },
      "allOf": [
        {
          "if": { "properties": { "Type": { "const": "Task" } } },
          "then": { "required": ["Resource"] }
        },
        {
          "if": { "properties": { "Type": { "const": "Choice" } } },
          "then": { "required": ["Choices"] }
        },
        {
          "if": { "properties": { "Type": { "const": "Parallel" } } },
          "then": { "required": ["Branches"] }
        },
        {
          "if": { "properties": { "Type": { "const": "Map" } } },
          "then": { "anyOf": [{ "required": ["Iterator"] }, { "required": ["ItemProcessor"] }] }
        }
      ]
    },
    "errorEquals": {
      "type": "array",
      "minItems": 1,
      "items": { "type": "string", "minLength": 1 }
    },
    "retrier": {
      "type": "object",
      "required": ["ErrorEquals"],
      "properties": {
        "ErrorEquals": { "$ref": "#/$defs/errorEquals" },
        "IntervalSeconds": { "type": "number", "minimum": 0 },
        "MaxAttempts": { "type": "integer", "minimum": 0 },
        "BackoffRate": { "type": "number", "minimum": 1 },
        "MaxDelaySeconds": { "type": "number", "exclusiveMinimum": 0 },
        "JitterStrategy": { "type": "string", "enum": ["FULL", "NONE"] },
        "Comment": { "type": "string" }
      },
      "additionalProperties": false
    },
    "catcher": {
      "type": "object",
      "required": ["ErrorEquals", "Next"],
      "properties": {
        "ErrorEquals": { "$ref": "#/$defs/errorEquals" },
        "Next": { "type": "string", "minLength": 1 },
        "ResultPath": { "$ref": "#/$defs/path" },
        "OutputPath": { "$ref": "#/$defs/path" },
        "Comment": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definitions and input documents with JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	machineSchema *jsonschema.Schema

	// mu guards the cache of compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the state machine schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(machineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state machine schema: %w", err)
	}
	if err := c.AddResource(machineSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add state machine schema resource: %w", err)
	}
	compiled, err := c.Compile(machineSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile state machine schema: %w", err)
	}

	return &JSONSchemaValidator{
		machineSchema: compiled,
		cache:         make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks a parsed definition against the schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.StateMachine) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "state machine definition is nil")
	}
	b, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize state machine definition").WithCause(err)
	}
	return v.ValidateDocument(b)
}

// ValidateDocument checks raw definition JSON. Unlike ValidateDefinition it
// sees fields the parser would drop, such as misspelled retrier keys.
func (v *JSONSchemaValidator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is not valid JSON").WithCause(err)
	}
	if err := v.machineSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateInput validates an execution input against a JSON Schema provided
// as raw bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateInput(input any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("sfnsim://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toValidationError flattens a jsonschema.ValidationError into one
// ExecutionError listing every leaf violation.
func toValidationError(err error) *schema.ExecutionError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
