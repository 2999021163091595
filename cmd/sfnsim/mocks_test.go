package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMocks(t *testing.T) {
	handlers, err := parseMocks(
		[]string{`Charge={"charged": true}`, "Lookup=42"},
		[]string{"Ship=CarrierDown:no trucks", "Notify=Throttled"},
	)
	require.NoError(t, err)
	require.Len(t, handlers, 4)

	out, err := handlers["Charge"](context.Background(), map[string]any{"ignored": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"charged": true}, out)

	out, err = handlers["Lookup"](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)

	_, err = handlers["Ship"](context.Background(), nil)
	var me *mockError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "CarrierDown", me.ErrorName())
	assert.Equal(t, "no trucks", me.Error())

	_, err = handlers["Notify"](context.Background(), nil)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Throttled", me.ErrorName())
	assert.Equal(t, "Throttled", me.Error(), "cause defaults to the name")
}

func TestParseMocks_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		results  []string
		failures []string
	}{
		{name: "missing separator", results: []string{"Charge"}},
		{name: "empty name", results: []string{`={"a":1}`}},
		{name: "bad json", results: []string{"Charge={oops"}},
		{name: "missing error", failures: []string{"Charge="}},
		{name: "duplicate result", results: []string{"A=1", "A=2"}},
		{name: "result and error", results: []string{"A=1"}, failures: []string{"A=Boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMocks(tt.results, tt.failures)
			assert.Error(t, err)
		})
	}
}
