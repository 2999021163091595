// Package loader reads state machine definitions from JSON or YAML files and
// from AWS Step Functions.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/sfnsim/pkg/schema"
)

// Format is the encoding of a definition or input document.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Definition is a parsed state machine together with its canonical JSON.
type Definition struct {
	Name    string
	Source  string // file path or ARN
	JSON    []byte
	Machine *schema.StateMachine
}

// LoadFile reads and parses a definition file. The format follows the
// extension; anything other than .yaml or .yml is sniffed.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return def, nil
}

// Parse decodes a definition. YAML is converted to JSON first, so both
// encodings go through the same schema decoder.
func Parse(data []byte, format Format) (*Definition, error) {
	raw, err := ToJSON(data, format)
	if err != nil {
		return nil, err
	}
	sm, err := schema.ParseStateMachine(raw)
	if err != nil {
		return nil, err
	}
	return &Definition{Name: sm.StartAt, JSON: raw, Machine: sm}, nil
}

// ToJSON returns data as JSON, converting from YAML when needed.
func ToJSON(data []byte, format Format) ([]byte, error) {
	if format == FormatAuto {
		format = sniff(data)
	}
	if format == FormatJSON {
		if !json.Valid(data) {
			return nil, schema.NewError(schema.ErrCodeValidation, "definition is not valid JSON")
		}
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "definition is not valid YAML: %v", err).WithCause(err)
	}
	out, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return nil, fmt.Errorf("convert YAML to JSON: %w", err)
	}
	return out, nil
}

// ParseInput decodes an execution input given as JSON or YAML. Empty data
// yields an empty object.
func ParseInput(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	raw, err := ToJSON(data, FormatAuto)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return v, nil
}

// LoadInput reads an input document from a file.
func LoadInput(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return ParseInput(data)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json", ".asl":
		return FormatJSON
	}
	return FormatAuto
}

// sniff treats a document whose first significant byte opens a JSON object
// or array as JSON, everything else as YAML.
func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return FormatJSON
	}
	return FormatYAML
}

// jsonCompatible rewrites YAML-decoded values so encoding/json accepts them.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return v
}
