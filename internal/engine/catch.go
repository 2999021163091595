package engine

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/rendis/sfnsim/pkg/schema"
)

// MatchesError reports whether an ErrorEquals pattern matches err by tag:
// States.ALL, the error's kind, or its custom type name. Aborts never match.
func MatchesError(pattern string, err error) bool {
	if err == nil || schema.IsKind(err, schema.ErrorAborted) {
		return false
	}
	if pattern == string(schema.ErrorAll) {
		return true
	}
	if ee, ok := schema.AsExecutionError(err); ok {
		return pattern == string(ee.Kind) || (ee.TypeName != "" && pattern == ee.TypeName)
	}
	return pattern == schema.ErrorTypeName(err)
}

// matchesLegacyMessage is the compatibility fallback: the pattern appears in
// one of the messages along err's cause chain.
func matchesLegacyMessage(pattern string, err error) bool {
	if pattern == "" || err == nil || schema.IsKind(err, schema.ErrorAborted) {
		return false
	}
	return slices.ContainsFunc(schema.MessageChain(err), func(msg string) bool {
		return strings.Contains(msg, pattern)
	})
}

// matchAny returns the first pattern that matches err. Tag matches win over
// the message fallback, which strict matching disables.
func (e *Engine) matchAny(patterns []string, err error) (string, bool) {
	for _, p := range patterns {
		if MatchesError(p, err) {
			return p, true
		}
	}
	if e.strictErrors {
		return "", false
	}
	for _, p := range patterns {
		if matchesLegacyMessage(p, err) {
			return p, true
		}
	}
	return "", false
}

// findCatch returns the first Catch rule in list order matching err.
func (e *Engine) findCatch(rules []schema.CatchRule, err error) (*schema.CatchRule, string) {
	for i := range rules {
		if pattern, ok := e.matchAny(rules[i].ErrorEquals, err); ok {
			return &rules[i], pattern
		}
	}
	return nil, ""
}

// errorName is the name an error is reported under in a Catch document.
func errorName(err error) string {
	if ee, ok := schema.AsExecutionError(err); ok {
		return ee.Name()
	}
	if name := schema.ErrorTypeName(err); name != "" {
		return name
	}
	return string(schema.ErrorRuntime)
}

// errorOutput builds the {Error, Cause} document a Catch rule hands to its Next state.
func errorOutput(pattern string, err error) map[string]any {
	name := pattern
	if pattern == string(schema.ErrorAll) {
		name = errorName(err)
	}

	message, errType := err.Error(), errorName(err)
	if ee, ok := schema.AsExecutionError(err); ok {
		message = ee.Message
		if ee.TypeName != "" {
			errType = ee.TypeName
		}
	}

	chain := schema.MessageChain(err)
	trace := make([]any, len(chain))
	for i, m := range chain {
		trace[i] = m
	}

	return map[string]any{
		"Error": name,
		"Cause": map[string]any{
			"errorMessage": message,
			"errorType":    errType,
			"stackTrace":   trace,
		},
	}
}

// recoverWith applies a matched Catch rule: the error document is placed into
// the raw state input by the rule's ResultPath and filtered by its OutputPath.
// On success err is marked recovered.
func (e *Engine) recoverWith(ctx context.Context, name string, rule *schema.CatchRule, pattern string, input any, err error) (any, error) {
	doc := errorOutput(pattern, err)

	out, perr := e.placeResult(ctx, rule.ResultPath, input, doc)
	if perr != nil {
		return nil, perr
	}
	out, perr = e.selectPath(ctx, "OutputPath", rule.OutputPath, out)
	if perr != nil {
		return nil, perr
	}

	if ee, ok := schema.AsExecutionError(err); ok {
		ee.Recovered = true
	}
	e.logger.WarnContext(ctx, "error caught",
		slog.String("state", name),
		slog.String("pattern", pattern),
		slog.String("next", rule.Next),
		slog.String("error", err.Error()),
	)
	return out, nil
}
