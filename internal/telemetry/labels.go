// Package telemetry turns execution transitions into Prometheus metrics and
// OpenTelemetry spans. Both are plain engine listeners.
package telemetry

import (
	"strings"

	"github.com/rendis/sfnsim/pkg/schema"
)

var phases = []schema.StatePhase{
	schema.PhaseEntered,
	schema.PhaseExited,
	schema.PhaseFailed,
	schema.PhaseAborted,
}

// splitStateLabel splits a per-state label such as TaskStateFailed into its
// state type and phase.
func splitStateLabel(label schema.TransitionLabel) (schema.StateType, schema.StatePhase, bool) {
	s := string(label)
	for _, p := range phases {
		suffix := "State" + string(p)
		if prefix, ok := strings.CutSuffix(s, suffix); ok && prefix != "" {
			return schema.StateType(prefix), p, true
		}
	}
	return "", "", false
}

func terminalStatus(label schema.TransitionLabel) (schema.ExecutionStatus, bool) {
	switch label {
	case schema.ExecutionSucceeded:
		return schema.ExecutionStatusSucceeded, true
	case schema.ExecutionFailed:
		return schema.ExecutionStatusFailed, true
	case schema.ExecutionAborted:
		return schema.ExecutionStatusAborted, true
	case schema.ExecutionTimedOut:
		return schema.ExecutionStatusTimedOut, true
	}
	return "", false
}
