package diagram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

func mustParse(t *testing.T, def string) *schema.StateMachine {
	t.Helper()
	sm, err := schema.ParseStateMachine([]byte(def))
	require.NoError(t, err)
	return sm
}

func linearMachine(t *testing.T) *schema.StateMachine {
	return mustParse(t, `{
	  "StartAt": "Fetch",
	  "States": {
	    "Fetch": {"Type": "Task", "Resource": "fetch", "Next": "Transform"},
	    "Transform": {"Type": "Pass", "Next": "Store"},
	    "Store": {"Type": "Task", "Resource": "store", "End": true}
	  }
	}`)
}

func choiceMachine(t *testing.T) *schema.StateMachine {
	return mustParse(t, `{
	  "Comment": "routes orders",
	  "StartAt": "Route",
	  "States": {
	    "Route": {
	      "Type": "Choice",
	      "Choices": [
	        {"Variable": "$.total", "NumericGreaterThan": 100, "Next": "Review"},
	        {"And": [
	          {"Variable": "$.country", "StringEquals": "SE"},
	          {"Not": {"Variable": "$.vip", "BooleanEquals": true}}
	        ], "Next": "Hold"}
	      ],
	      "Default": "Approve"
	    },
	    "Review": {"Type": "Task", "Resource": "review", "Next": "Approve",
	      "Catch": [{"ErrorEquals": ["States.ALL"], "Next": "Reject"}]},
	    "Hold": {"Type": "Wait", "Seconds": 5, "Next": "Approve"},
	    "Approve": {"Type": "Succeed"},
	    "Reject": {"Type": "Fail", "Error": "Rejected"},
	    "Orphan": {"Type": "Pass", "End": true}
	  }
	}`)
}

func nestedMachine(t *testing.T) *schema.StateMachine {
	return mustParse(t, `{
	  "StartAt": "Fan",
	  "States": {
	    "Fan": {
	      "Type": "Parallel",
	      "Branches": [
	        {"StartAt": "Left", "States": {"Left": {"Type": "Pass", "End": true}}},
	        {"StartAt": "Items", "States": {
	          "Items": {"Type": "Map", "End": true,
	            "Iterator": {"StartAt": "Work", "States": {
	              "Work": {"Type": "Task", "Resource": "work", "Next": "Done"},
	              "Done": {"Type": "Succeed"}
	            }}}
	        }}
	      ],
	      "Next": "Finish"
	    },
	    "Finish": {"Type": "Pass", "End": true}
	  }
	}`)
}

func linearSummaries() map[string]*store.StateSummary {
	return map[string]*store.StateSummary{
		"Fetch":     {StateName: "Fetch", Status: store.StateSucceeded, Entries: 1, Attempts: 3, FirstSeenMs: 0, LastSeenMs: 120},
		"Transform": {StateName: "Transform", Status: store.StateRunning, Entries: 1},
		"Store":     {StateName: "Store", Status: store.StateFailed, Entries: 1, Attempts: 1, Error: "Boom"},
	}
}

func edgeSet(edges []Edge) map[string]string {
	out := make(map[string]string, len(edges))
	for _, e := range edges {
		out[e.From+"->"+e.To] = e.Label
	}
	return out
}
