package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/sfnsim/pkg/schema"
)

func TestSplitStateLabel(t *testing.T) {
	tests := []struct {
		label     schema.TransitionLabel
		wantType  schema.StateType
		wantPhase schema.StatePhase
		wantOK    bool
	}{
		{"TaskStateEntered", schema.StateTypeTask, schema.PhaseEntered, true},
		{"ParallelStateFailed", schema.StateTypeParallel, schema.PhaseFailed, true},
		{"MapStateAborted", schema.StateTypeMap, schema.PhaseAborted, true},
		{"ChoiceStateExited", schema.StateTypeChoice, schema.PhaseExited, true},
		{schema.MapStateStarted, "", "", false},
		{schema.LambdaFunctionScheduled, "", "", false},
		{schema.ExecutionSucceeded, "", "", false},
		{"StateEntered", "", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.label), func(t *testing.T) {
			typ, phase, ok := splitStateLabel(tt.label)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantPhase, phase)
		})
	}
}
