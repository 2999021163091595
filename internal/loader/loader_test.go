package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

const helloJSON = `{
  "Comment": "greets",
  "StartAt": "Hello",
  "States": {
    "Hello": {"Type": "Pass", "Result": {"greeting": "hi"}, "Next": "Done"},
    "Done": {"Type": "Succeed"}
  }
}`

const helloYAML = `
Comment: greets
StartAt: Hello
States:
  Hello:
    Type: Pass
    Result:
      greeting: hi
    Next: Done
  Done:
    Type: Succeed
`

const waitYAML = `
StartAt: Hold
States:
  Hold:
    Type: Wait
    Timestamp: 2026-01-02T03:04:05Z
    Next: Check
  Check:
    Type: Choice
    Choices:
      - Variable: $.count
        NumericGreaterThan: 3
        Next: Done
    Default: Done
  Done:
    Type: Succeed
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"json explicit", helloJSON, FormatJSON},
		{"json sniffed", helloJSON, FormatAuto},
		{"yaml explicit", helloYAML, FormatYAML},
		{"yaml sniffed", helloYAML, FormatAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := Parse([]byte(tt.data), tt.format)
			require.NoError(t, err)
			assert.Equal(t, "Hello", def.Machine.StartAt)
			assert.Equal(t, "greets", def.Machine.Comment)
			require.Contains(t, def.Machine.States, "Done")
			assert.Equal(t, schema.StateTypeSucceed, def.Machine.States["Done"].Type)
			assert.Equal(t, "Done", def.Machine.States["Hello"].Next)
			assert.JSONEq(t, helloJSON, string(def.JSON))
		})
	}
}

func TestParseYAMLKeepsTimestampsAndNumbers(t *testing.T) {
	def, err := Parse([]byte(waitYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "2026-01-02T03:04:05Z", def.Machine.States["Hold"].Timestamp)
	choice := def.Machine.States["Check"].Choices[0]
	assert.Equal(t, "NumericGreaterThan", choice.Operator)
	assert.Equal(t, 3.0, choice.Operand)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"broken json", `{"StartAt": `, FormatJSON},
		{"broken yaml", "StartAt: [unclosed", FormatYAML},
		{"wrong shape", `{"StartAt": 5, "States": []}`, FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	for _, name := range []string{"hello.json", "hello.yaml", "hello.asl"} {
		t.Run(name, func(t *testing.T) {
			content := helloJSON
			if filepath.Ext(name) == ".yaml" {
				content = helloYAML
			}
			path := writeFile(t, name, content)

			def, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "hello", def.Name)
			assert.Equal(t, path, def.Source)
			assert.Equal(t, "Hello", def.Machine.StartAt)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{"empty", "  ", map[string]any{}},
		{"json object", `{"n": 1, "tags": ["a"]}`, map[string]any{"n": 1.0, "tags": []any{"a"}}},
		{"json array", `[1, 2]`, []any{1.0, 2.0}},
		{"yaml object", "n: 1\nok: true\n", map[string]any{"n": 1.0, "ok": true}},
		{"bare string", `"hi"`, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInput([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadInput(t *testing.T) {
	path := writeFile(t, "input.yaml", "order: o-1\nitems:\n  - 1\n  - 2\n")
	got, err := LoadInput(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"order": "o-1", "items": []any{1.0, 2.0}}, got)
}

func TestJSONCompatibleRewritesNonStringKeys(t *testing.T) {
	got := jsonCompatible(map[any]any{1: "one", "nested": []any{map[any]any{true: "yes"}}})
	assert.Equal(t, map[string]any{"1": "one", "nested": []any{map[string]any{"true": "yes"}}}, got)
}
