package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func TestBuildLinear(t *testing.T) {
	model, err := Build("orders", linearMachine(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "orders", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, startID, model.Nodes[0].ID)
	assert.Equal(t, endID, model.Nodes[4].ID)
	assert.Equal(t, "Fetch\n(fetch)", model.Nodes[1].Label)
	assert.Equal(t, NodeKindTask, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindPass, model.Nodes[2].Kind)

	assert.Equal(t, [][]string{{startID}, {"Fetch"}, {"Transform"}, {"Store"}, {endID}}, model.Levels)

	edges := edgeSet(model.Edges)
	assert.Len(t, edges, 4)
	assert.Contains(t, edges, startID+"->Fetch")
	assert.Contains(t, edges, "Fetch->Transform")
	assert.Contains(t, edges, "Transform->Store")
	assert.Contains(t, edges, "Store->"+endID)
}

func TestBuildChoiceAndCatch(t *testing.T) {
	model, err := Build("", choiceMachine(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "routes orders", model.Title, "falls back to the Comment")

	edges := edgeSet(model.Edges)
	assert.Equal(t, "$.total > 100", edges["Route->Review"])
	assert.Equal(t, "$.country == 'SE' && !($.vip == true)", edges["Route->Hold"])
	assert.Equal(t, "default", edges["Route->Approve"])
	assert.Equal(t, "catch States.ALL", edges["Review->Reject"])
	assert.Contains(t, edges, "Approve->"+endID)
	assert.Contains(t, edges, "Reject->"+endID)
	assert.Contains(t, edges, "Orphan->"+endID)

	assert.Equal(t, []string{"Route"}, model.Levels[1])
	assert.Equal(t, []string{"Approve", "Hold", "Review"}, model.Levels[2])
	assert.Equal(t, []string{"Reject"}, model.Levels[3])
	assert.Equal(t, []string{"Orphan"}, model.Levels[4], "unreachable states come last")

	kinds := map[string]NodeKind{}
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindChoice, kinds["Route"])
	assert.Equal(t, NodeKindWait, kinds["Hold"])
	assert.Equal(t, NodeKindSucceed, kinds["Approve"])
	assert.Equal(t, NodeKindFail, kinds["Reject"])
}

func TestBuildNestedBodies(t *testing.T) {
	model, err := Build("", nestedMachine(t), nil)
	require.NoError(t, err)

	fan := findNode(model.Nodes, "Fan")
	require.NotNil(t, fan)
	assert.Equal(t, NodeKindParallel, fan.Kind)
	require.Len(t, fan.Children, 2)
	assert.Equal(t, "branch_0", fan.Children[0].Label)
	assert.Equal(t, "Fan.branch_0.Left", fan.Children[0].Nodes[0].ID)
	assert.Empty(t, fan.Children[0].Edges, "terminal states inside a body have no end edge")

	items := fan.Children[1].Nodes[0]
	assert.Equal(t, "Fan.branch_1.Items", items.ID)
	assert.Equal(t, NodeKindMap, items.Kind)
	require.Len(t, items.Children, 1)
	iter := items.Children[0]
	assert.Equal(t, "iterator", iter.Label)
	require.Len(t, iter.Nodes, 2)
	assert.Equal(t, "Fan.branch_1.Items.iterator.Work", iter.Nodes[0].ID)
	assert.Equal(t, []Edge{{From: "Fan.branch_1.Items.iterator.Work", To: "Fan.branch_1.Items.iterator.Done"}}, iter.Edges)
}

func TestBuildStatusOverlay(t *testing.T) {
	model, err := Build("", linearMachine(t), linearSummaries())
	require.NoError(t, err)

	fetch := findNode(model.Nodes, "Fetch")
	require.NotNil(t, fetch.Status)
	assert.Equal(t, "succeeded", fetch.Status.Status)
	assert.Equal(t, int64(120), fetch.Status.DurationMs)
	assert.Equal(t, 2, fetch.Status.RetryCount)

	st := findNode(model.Nodes, "Store")
	assert.Equal(t, "failed", st.Status.Status)
	assert.Equal(t, "Boom", st.Status.Error)
	assert.Equal(t, 0, st.Status.RetryCount)

	assert.Nil(t, findNode(model.Nodes, startID).Status)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build("", nil, nil)
	assert.Error(t, err)

	_, err = Build("", &schema.StateMachine{StartAt: "Missing", States: map[string]*schema.State{}}, nil)
	assert.ErrorContains(t, err, "Missing")
}

func TestRuleLabel(t *testing.T) {
	tests := []struct {
		rule schema.ChoiceRule
		want string
	}{
		{schema.ChoiceRule{Variable: "$.n", Operator: "NumericLessThanEquals", Operand: 3.0}, "$.n <= 3"},
		{schema.ChoiceRule{Variable: "$.s", Operator: "StringMatches", Operand: "a*"}, "$.s matches 'a*'"},
		{schema.ChoiceRule{Variable: "$.a", Operator: "NumericEqualsPath", Operand: "$.b"}, "$.a == $.b"},
		{schema.ChoiceRule{Variable: "$.x", Operator: "IsPresent", Operand: false}, "$.x IsPresent false"},
		{schema.ChoiceRule{Or: []schema.ChoiceRule{
			{Variable: "$.t", Operator: "TimestampGreaterThan", Operand: "2026-01-01T00:00:00Z"},
			{Variable: "$.n", Operator: "NumericEquals", Operand: 1.0},
		}}, "$.t > '2026-01-01T00:00:00Z' || $.n == 1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ruleLabel(tt.rule))
		})
	}
}
