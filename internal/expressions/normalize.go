package expressions

import (
	"encoding/json"

	"github.com/rendis/sfnsim/pkg/schema"
)

// Normalize returns a deep copy of v in decoded-JSON form: nil, bool, float64,
// string, []any and map[string]any. Handler results of any Go type pass
// through here before they reach the pipeline.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrorRuntime, "value is not JSON-serializable").WithCause(err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, schema.NewError(schema.ErrorRuntime, "value is not JSON-serializable").WithCause(err)
	}
	return out, nil
}

// IsContainer reports whether v is a JSON object or array.
func IsContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
