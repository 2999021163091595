package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/rendis/sfnsim/pkg/schema"
)

var choiceDoc = map[string]any{
	"n":     10.0,
	"limit": 10.0,
	"s":     "beta",
	"b":     true,
	"ts":    "2024-03-01T12:00:00Z",
	"later": "2024-03-02T00:00:00.500Z",
	"none":  nil,
	"list":  []any{1.0, 2.0},
}

func evalRule(t *testing.T, e *Engine, rule string, doc any) truth {
	t.Helper()
	var r schema.ChoiceRule
	require.NoError(t, json.Unmarshal([]byte(rule), &r))
	got, err := e.evaluate(context.Background(), &r, doc)
	require.NoError(t, err)
	return got
}

func TestChoiceComparators(t *testing.T) {
	e := newTestEngine(t, singleTask)

	tests := []struct {
		name string
		rule string
		want truth
	}{
		{"numeric equals", `{"Variable": "$.n", "NumericEquals": 10}`, truthy},
		{"numeric greater", `{"Variable": "$.n", "NumericGreaterThan": 10}`, falsy},
		{"numeric greater equals", `{"Variable": "$.n", "NumericGreaterThanEquals": 10}`, truthy},
		{"numeric less", `{"Variable": "$.n", "NumericLessThan": 10.5}`, truthy},
		{"numeric less equals", `{"Variable": "$.n", "NumericLessThanEquals": 9}`, falsy},
		{"numeric on string", `{"Variable": "$.s", "NumericEquals": 10}`, falsy},
		{"numeric path", `{"Variable": "$.n", "NumericEqualsPath": "$.limit"}`, truthy},
		{"path operand missing", `{"Variable": "$.n", "NumericEqualsPath": "$.nope"}`, undefined},

		{"string equals", `{"Variable": "$.s", "StringEquals": "beta"}`, truthy},
		{"string equals is exact", `{"Variable": "$.s", "StringEquals": "Beta"}`, falsy},
		{"string less", `{"Variable": "$.s", "StringLessThan": "gamma"}`, truthy},
		{"string greater equals", `{"Variable": "$.s", "StringGreaterThanEquals": "beta"}`, truthy},
		{"string on number", `{"Variable": "$.n", "StringEquals": "10"}`, falsy},
		{"string path", `{"Variable": "$.s", "StringEqualsPath": "$.s"}`, truthy},

		{"matches prefix", `{"Variable": "$.s", "StringMatches": "be*"}`, truthy},
		{"matches inner", `{"Variable": "$.s", "StringMatches": "*et*"}`, truthy},
		{"matches miss", `{"Variable": "$.s", "StringMatches": "a*"}`, falsy},

		{"boolean equals", `{"Variable": "$.b", "BooleanEquals": true}`, truthy},
		{"boolean mismatch", `{"Variable": "$.b", "BooleanEquals": false}`, falsy},
		{"boolean path", `{"Variable": "$.b", "BooleanEqualsPath": "$.b"}`, truthy},

		{"timestamp equals", `{"Variable": "$.ts", "TimestampEquals": "2024-03-01T13:00:00+01:00"}`, truthy},
		{"timestamp less", `{"Variable": "$.ts", "TimestampLessThanPath": "$.later"}`, truthy},
		{"timestamp greater", `{"Variable": "$.ts", "TimestampGreaterThan": "2024-03-02T00:00:00Z"}`, falsy},
		{"timestamp on garbage", `{"Variable": "$.s", "TimestampEquals": "2024-03-01T12:00:00Z"}`, falsy},

		{"is null", `{"Variable": "$.none", "IsNull": true}`, truthy},
		{"is present", `{"Variable": "$.none", "IsPresent": true}`, truthy},
		{"is present missing", `{"Variable": "$.missing", "IsPresent": false}`, truthy},
		{"is numeric", `{"Variable": "$.n", "IsNumeric": true}`, truthy},
		{"is string false", `{"Variable": "$.n", "IsString": false}`, truthy},
		{"is boolean", `{"Variable": "$.b", "IsBoolean": true}`, truthy},
		{"is timestamp", `{"Variable": "$.ts", "IsTimestamp": true}`, truthy},
		{"is timestamp plain string", `{"Variable": "$.s", "IsTimestamp": true}`, falsy},
		{"type test on missing", `{"Variable": "$.missing", "IsNull": false}`, undefined},

		{"missing variable", `{"Variable": "$.missing", "NumericEquals": 1}`, undefined},
		{"array element", `{"Variable": "$.list[1]", "NumericEquals": 2}`, truthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalRule(t, e, tt.rule, choiceDoc))
		})
	}
}

func TestChoiceCombinators(t *testing.T) {
	e := newTestEngine(t, singleTask)
	legacy := newTestEngine(t, singleTask, WithLegacyOrSemantics())

	const (
		yes     = `{"Variable": "$.n", "NumericEquals": 10}`
		no      = `{"Variable": "$.n", "NumericEquals": 11}`
		missing = `{"Variable": "$.missing", "NumericEquals": 1}`
	)

	tests := []struct {
		name   string
		engine *Engine
		rule   string
		want   truth
	}{
		{"and all true", e, `{"And": [` + yes + `,` + yes + `]}`, truthy},
		{"and one false", e, `{"And": [` + yes + `,` + no + `]}`, falsy},
		{"and undefined", e, `{"And": [` + yes + `,` + missing + `]}`, falsy},
		{"or one true", e, `{"Or": [` + no + `,` + yes + `]}`, truthy},
		{"or none true", e, `{"Or": [` + no + `,` + missing + `]}`, falsy},
		{"legacy or needs two", legacy, `{"Or": [` + no + `,` + yes + `]}`, falsy},
		{"legacy or two true", legacy, `{"Or": [` + yes + `,` + yes + `]}`, truthy},
		{"not true", e, `{"Not": ` + yes + `}`, falsy},
		{"not false", e, `{"Not": ` + no + `}`, truthy},
		{"not undefined", e, `{"Not": ` + missing + `}`, falsy},
		{"nested", e, `{"And": [{"Not": ` + no + `}, {"Or": [` + missing + `,` + yes + `]}]}`, truthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalRule(t, tt.engine, tt.rule, choiceDoc))
		})
	}
}

func TestChoiceRuleErrors(t *testing.T) {
	e := newTestEngine(t, singleTask)

	tests := []struct {
		name string
		rule schema.ChoiceRule
	}{
		{"no comparator", schema.ChoiceRule{Variable: "$.n"}},
		{"unknown comparator", schema.ChoiceRule{Variable: "$.n", Operator: "NumericAbout", Operand: 1.0}},
		{"path operand not string", schema.ChoiceRule{Variable: "$.n", Operator: "NumericEqualsPath", Operand: 1.0}},
		{"type test operand not bool", schema.ChoiceRule{Variable: "$.n", Operator: "IsNull", Operand: "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.evaluate(context.Background(), &tt.rule, choiceDoc)
			require.Error(t, err)
			assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
		})
	}
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"log-*.txt", "log-2024.txt", true},
		{"log-*.txt", "log-2024.csv", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "acb", false},
		{`a\*b`, "a*b", true},
		{`a\*b`, "aXb", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"**", "ab", true},
		{"a*", "a", true},
		{"*a", "ba", true},
		{"*ab", "aab", true},
		{`\\`, `\`, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.s, func(t *testing.T) {
			assert.Equal(t, tt.want, wildcardMatch(tt.pattern, tt.s))
		})
	}
}

func TestWildcardMatch_ManyStars(t *testing.T) {
	pattern := strings.Repeat("*a", 10) + "*b"
	s := strings.Repeat("a", 40)

	start := time.Now()
	assert.False(t, wildcardMatch(pattern, s))
	assert.True(t, wildcardMatch(pattern, s+"b"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestStringCollation(t *testing.T) {
	c := newStringCollator(language.Und)
	assert.Negative(t, c.Compare("apple", "banana"))
	assert.Positive(t, c.Compare("banana", "apple"))
	assert.Zero(t, c.Compare("same", "same"))

	// Locale ordering places accented letters next to their base letter.
	assert.Negative(t, c.Compare("état", "zèbre"))

	sv := newStringCollator(language.Swedish)
	assert.Positive(t, sv.Compare("ö", "z"))
}

const thresholdDef = `{
	"StartAt": "Route",
	"States": {
		"Route": {
			"Type": "Choice",
			"Choices": [{"Variable": "$.value", "NumericGreaterThan": 10, "Next": "X"}],
			"Default": "Y"
		},
		"X": {"Type": "Pass", "Result": "X", "End": true},
		"Y": {"Type": "Pass", "Result": "Y", "End": true}
	}
}`

func TestChoiceRoutesAtBoundary(t *testing.T) {
	e := newTestEngine(t, thresholdDef)

	tests := []struct {
		value float64
		want  string
	}{
		{11, "X"},
		{10, "Y"},
		{-3, "Y"},
	}
	for _, tt := range tests {
		res, err := run(t, e, map[string]any{"value": tt.value})
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Output, "value %v", tt.value)
	}
}

func TestChoiceRecordsAndPassesInput(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "Route",
		"States": {
			"Route": {
				"Type": "Choice",
				"InputPath": "$.payload",
				"OutputPath": "$.kind",
				"Choices": [{"Variable": "$.kind", "StringEquals": "a", "Next": "Done"}]
			},
			"Done": {"Type": "Succeed"}
		}
	}`)

	res, err := run(t, e, map[string]any{"payload": map[string]any{"kind": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Output)
	assert.Equal(t, []schema.TransitionLabel{
		schema.ExecutionStarted,
		"ChoiceStateEntered",
		"ChoiceStateExited",
		"SucceedStateEntered",
		"SucceedStateExited",
		schema.ExecutionSucceeded,
	}, labelsOf(res.Trace))
}

func TestChoiceWithoutMatchOrDefaultFails(t *testing.T) {
	e := newTestEngine(t, `{
		"StartAt": "Route",
		"States": {
			"Route": {
				"Type": "Choice",
				"Choices": [{"Variable": "$.value", "NumericEquals": 1, "Next": "Done"}]
			},
			"Done": {"Type": "Succeed"}
		}
	}`)

	res, err := run(t, e, map[string]any{"value": 2})
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrorRuntime))
	assert.Equal(t, schema.ExecutionStatusFailed, res.Status)
	assert.Equal(t, 1, countLabel(res.Trace, "ChoiceStateFailed"))
}
