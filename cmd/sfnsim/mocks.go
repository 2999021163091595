package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/loader"
)

// mockError is the failure raised by a --mock-error handler. Its name is
// what Retry and Catch rules match.
type mockError struct {
	name  string
	cause string
}

func (e *mockError) Error() string     { return e.cause }
func (e *mockError) ErrorName() string { return e.name }

// parseMocks turns --mock and --mock-error flags into task handlers keyed by
// state name or Resource.
//
//	--mock Charge='{"charged": true}'
//	--mock-error Charge=CardDeclined:card was declined
func parseMocks(results, failures []string) (map[string]engine.TaskHandler, error) {
	handlers := make(map[string]engine.TaskHandler, len(results)+len(failures))

	for _, flag := range results {
		key, value, ok := strings.Cut(flag, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--mock %q: expected NAME=JSON", flag)
		}
		key = strings.TrimSpace(key)
		if _, dup := handlers[key]; dup {
			return nil, fmt.Errorf("%s is mocked twice", key)
		}
		result, err := loader.ParseInput([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("--mock %s: %w", key, err)
		}
		handlers[key] = func(context.Context, any) (any, error) {
			return result, nil
		}
	}

	for _, flag := range failures {
		key, value, ok := strings.Cut(flag, "=")
		if !ok || strings.TrimSpace(key) == "" || value == "" {
			return nil, fmt.Errorf("--mock-error %q: expected NAME=ERROR[:CAUSE]", flag)
		}
		key = strings.TrimSpace(key)
		if _, dup := handlers[key]; dup {
			return nil, fmt.Errorf("%s is mocked twice", key)
		}
		name, cause, _ := strings.Cut(value, ":")
		if cause == "" {
			cause = name
		}
		err := &mockError{name: name, cause: cause}
		handlers[key] = func(context.Context, any) (any, error) {
			return nil, err
		}
	}
	return handlers, nil
}
