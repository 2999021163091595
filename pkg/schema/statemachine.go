package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// StateType is the ASL Type tag of a state.
type StateType string

const (
	StateTypeTask     StateType = "Task"
	StateTypeMap      StateType = "Map"
	StateTypeParallel StateType = "Parallel"
	StateTypeChoice   StateType = "Choice"
	StateTypePass     StateType = "Pass"
	StateTypeWait     StateType = "Wait"
	StateTypeFail     StateType = "Fail"
	StateTypeSucceed  StateType = "Succeed"
)

// StateTypes lists every supported state type.
var StateTypes = []StateType{
	StateTypeTask, StateTypeMap, StateTypeParallel, StateTypeChoice,
	StateTypePass, StateTypeWait, StateTypeFail, StateTypeSucceed,
}

// StateMachine is a parsed ASL definition. Iterator and branch bodies use the same shape.
type StateMachine struct {
	Comment string            `json:"Comment,omitempty"`
	StartAt string            `json:"StartAt"`
	States  map[string]*State `json:"States"`
}

// State is the tagged union over every ASL state type.
type State struct {
	Type    StateType `json:"Type"`
	Comment string    `json:"Comment,omitempty"`
	Next    string    `json:"Next,omitempty"`
	End     bool      `json:"End,omitempty"`

	InputPath      Path `json:"InputPath,omitzero"`
	OutputPath     Path `json:"OutputPath,omitzero"`
	ResultPath     Path `json:"ResultPath,omitzero"`
	Parameters     any  `json:"Parameters,omitempty"`
	ResultSelector any  `json:"ResultSelector,omitempty"`

	Retry []RetryRule `json:"Retry,omitempty"`
	Catch []CatchRule `json:"Catch,omitempty"`

	// Task
	Resource string `json:"Resource,omitempty"`

	// Pass
	Result any `json:"Result,omitempty"`

	// Map
	ItemsPath      Path          `json:"ItemsPath,omitzero"`
	Iterator       *StateMachine `json:"Iterator,omitempty"`
	ItemProcessor  *StateMachine `json:"ItemProcessor,omitempty"`
	MaxConcurrency int           `json:"MaxConcurrency,omitempty"`

	// Parallel
	Branches []*StateMachine `json:"Branches,omitempty"`

	// Choice
	Choices []ChoiceRule `json:"Choices,omitempty"`
	Default string       `json:"Default,omitempty"`

	// Wait
	Seconds       *float64 `json:"Seconds,omitempty"`
	SecondsPath   string   `json:"SecondsPath,omitempty"`
	Timestamp     string   `json:"Timestamp,omitempty"`
	TimestampPath string   `json:"TimestampPath,omitempty"`

	// Fail
	Error string `json:"Error,omitempty"`
	Cause string `json:"Cause,omitempty"`
}

// IteratorMachine returns the Map body, accepting both the Iterator and ItemProcessor spellings.
func (s *State) IteratorMachine() *StateMachine {
	if s.Iterator != nil {
		return s.Iterator
	}
	return s.ItemProcessor
}

// IsTerminal reports whether the state ends its branch when it completes.
func (s *State) IsTerminal() bool {
	return s.End || s.Type == StateTypeSucceed || s.Type == StateTypeFail
}

// StateNames returns the machine's state names in sorted order.
func (m *StateMachine) StateNames() []string {
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseStateMachine decodes a JSON ASL definition.
func ParseStateMachine(data []byte) (*StateMachine, error) {
	var sm StateMachine
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&sm); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid state machine definition").WithCause(err)
	}
	sm.normalize()
	return &sm, nil
}

// normalize converts json.Number literals in free-form fields to float64 so
// the definition carries the same number representation as decoded documents.
func (m *StateMachine) normalize() {
	for _, st := range m.States {
		if st == nil {
			continue
		}
		st.Parameters = normalizeNumbers(st.Parameters)
		st.ResultSelector = normalizeNumbers(st.ResultSelector)
		st.Result = normalizeNumbers(st.Result)
		for i := range st.Choices {
			st.Choices[i].normalize()
		}
		if it := st.IteratorMachine(); it != nil {
			it.normalize()
		}
		for _, b := range st.Branches {
			if b != nil {
				b.normalize()
			}
		}
	}
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

// Path is a JSONPath field that distinguishes "absent" from an explicit null.
type Path struct {
	Expr string
	set  bool
	null bool
}

// NewPath returns a set, non-null path.
func NewPath(expr string) Path { return Path{Expr: expr, set: true} }

// NullPath returns an explicit null path.
func NullPath() Path { return Path{set: true, null: true} }

// IsSet reports whether the field appeared in the definition, null included.
func (p Path) IsSet() bool { return p.set }

// IsNull reports whether the field was explicitly null.
func (p Path) IsNull() bool { return p.set && p.null }

// IsZero reports whether the field was absent.
func (p Path) IsZero() bool { return !p.set }

// Or returns p's expression, or def when the field is absent.
func (p Path) Or(def string) string {
	if !p.set || p.null {
		return def
	}
	return p.Expr
}

func (p Path) MarshalJSON() ([]byte, error) {
	if !p.set || p.null {
		return []byte("null"), nil
	}
	return json.Marshal(p.Expr)
}

func (p *Path) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*p = NullPath()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("path must be a string or null: %w", err)
	}
	*p = NewPath(s)
	return nil
}

// RetryRule is one entry of a state's Retry list. Pointer fields distinguish
// an explicit zero from an omitted field.
type RetryRule struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds *float64 `json:"IntervalSeconds,omitempty"`
	MaxAttempts     *int     `json:"MaxAttempts,omitempty"`
	BackoffRate     *float64 `json:"BackoffRate,omitempty"`
	MaxDelaySeconds *float64 `json:"MaxDelaySeconds,omitempty"`
}

// Retry defaults applied to omitted fields.
const (
	DefaultRetryInterval    = 1.0
	DefaultRetryMaxAttempts = 3
	DefaultRetryBackoffRate = 2.0
)

// Interval returns IntervalSeconds or its default.
func (r RetryRule) Interval() float64 {
	if r.IntervalSeconds == nil {
		return DefaultRetryInterval
	}
	return *r.IntervalSeconds
}

// Attempts returns MaxAttempts or its default.
func (r RetryRule) Attempts() int {
	if r.MaxAttempts == nil {
		return DefaultRetryMaxAttempts
	}
	return *r.MaxAttempts
}

// Backoff returns BackoffRate or its default.
func (r RetryRule) Backoff() float64 {
	if r.BackoffRate == nil {
		return DefaultRetryBackoffRate
	}
	return *r.BackoffRate
}

// CatchRule is one entry of a state's Catch list.
type CatchRule struct {
	ErrorEquals []string `json:"ErrorEquals"`
	Next        string   `json:"Next"`
	ResultPath  Path     `json:"ResultPath,omitzero"`
	OutputPath  Path     `json:"OutputPath,omitzero"`
}

// ChoiceRule is either a comparison (Variable, one comparator keyword and its
// operand) or a combinator (And, Or, Not). Only top-level rules carry Next.
type ChoiceRule struct {
	Variable string
	Operator string
	Operand  any
	And      []ChoiceRule
	Or       []ChoiceRule
	Not      *ChoiceRule
	Next     string
	Comment  string
}

type choiceRuleFields struct {
	Variable string       `json:"Variable,omitempty"`
	And      []ChoiceRule `json:"And,omitempty"`
	Or       []ChoiceRule `json:"Or,omitempty"`
	Not      *ChoiceRule  `json:"Not,omitempty"`
	Next     string       `json:"Next,omitempty"`
	Comment  string       `json:"Comment,omitempty"`
}

var choiceRuleKeys = map[string]bool{
	"Variable": true, "And": true, "Or": true, "Not": true, "Next": true, "Comment": true,
}

func (r *ChoiceRule) UnmarshalJSON(data []byte) error {
	var fields choiceRuleFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ChoiceRule{
		Variable: fields.Variable,
		And:      fields.And,
		Or:       fields.Or,
		Not:      fields.Not,
		Next:     fields.Next,
		Comment:  fields.Comment,
	}

	for key, value := range raw {
		if choiceRuleKeys[key] {
			continue
		}
		if r.Operator != "" {
			return fmt.Errorf("choice rule has more than one comparator: %s and %s", r.Operator, key)
		}
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var operand any
		if err := dec.Decode(&operand); err != nil {
			return fmt.Errorf("comparator %s: %w", key, err)
		}
		r.Operator = key
		r.Operand = operand
	}
	return nil
}

func (r ChoiceRule) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if r.Variable != "" {
		out["Variable"] = r.Variable
	}
	if r.Operator != "" {
		out[r.Operator] = r.Operand
	}
	if len(r.And) > 0 {
		out["And"] = r.And
	}
	if len(r.Or) > 0 {
		out["Or"] = r.Or
	}
	if r.Not != nil {
		out["Not"] = r.Not
	}
	if r.Next != "" {
		out["Next"] = r.Next
	}
	if r.Comment != "" {
		out["Comment"] = r.Comment
	}
	return json.Marshal(out)
}

func (r *ChoiceRule) normalize() {
	r.Operand = normalizeNumbers(r.Operand)
	for i := range r.And {
		r.And[i].normalize()
	}
	for i := range r.Or {
		r.Or[i].normalize()
	}
	if r.Not != nil {
		r.Not.normalize()
	}
}

var comparisonOperators = func() map[string]bool {
	ops := map[string]bool{
		"BooleanEquals": true, "BooleanEqualsPath": true,
		"StringMatches": true,
		"IsNull": true, "IsPresent": true, "IsNumeric": true,
		"IsString": true, "IsBoolean": true, "IsTimestamp": true,
	}
	for _, kind := range []string{"String", "Numeric", "Timestamp"} {
		for _, cmp := range []string{"Equals", "LessThan", "GreaterThan", "LessThanEquals", "GreaterThanEquals"} {
			ops[kind+cmp] = true
			ops[kind+cmp+"Path"] = true
		}
	}
	return ops
}()

// IsComparisonOperator reports whether op is a Choice comparator keyword.
func IsComparisonOperator(op string) bool {
	return comparisonOperators[op]
}
