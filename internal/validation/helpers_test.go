package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func mustParse(t *testing.T, def string) *schema.StateMachine {
	t.Helper()
	sm, err := schema.ParseStateMachine([]byte(def))
	require.NoError(t, err)
	return sm
}

// machine wraps a States object in a definition starting at "A".
func machine(states string) string {
	return `{"StartAt": "A", "States": ` + states + `}`
}

func issuePaths(issues []schema.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Path
	}
	return out
}

func hasIssue(issues []schema.ValidationIssue, path, fragment string) bool {
	for _, is := range issues {
		if is.Path == path && strings.Contains(is.Message, fragment) {
			return true
		}
	}
	return false
}
