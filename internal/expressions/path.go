package expressions

import (
	"strconv"
	"strings"

	"github.com/rendis/sfnsim/pkg/schema"
)

// ParsedPath is a reference path broken into gojq path segments.
// Context paths start with "$$" and address the context document.
type ParsedPath struct {
	Raw      string
	Context  bool
	Segments []any // string keys and int indices
}

// IsRoot reports whether the path selects the whole document.
func (p *ParsedPath) IsRoot() bool {
	return len(p.Segments) == 0
}

// ParsePath parses a reference path such as $.order.items[0]['unit price'].
// Only single-value selectors are accepted; wildcards, filters and recursive
// descent fail with States.Runtime.
func ParsePath(raw string) (*ParsedPath, error) {
	p := &ParsedPath{Raw: raw, Segments: []any{}}

	rest := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(rest, "$$"):
		p.Context = true
		rest = rest[2:]
	case strings.HasPrefix(rest, "$"):
		rest = rest[1:]
	default:
		return nil, pathError(raw, "must start with $")
	}

	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if strings.HasPrefix(rest, ".") {
				return nil, pathError(raw, "recursive descent is not supported")
			}
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			key := rest[:end]
			if key == "" {
				return nil, pathError(raw, "empty field name")
			}
			if key == "*" {
				return nil, pathError(raw, "wildcards are not supported")
			}
			p.Segments = append(p.Segments, key)
			rest = rest[end:]
		case '[':
			seg, n, err := parseBracket(raw, rest)
			if err != nil {
				return nil, err
			}
			p.Segments = append(p.Segments, seg)
			rest = rest[n:]
		default:
			return nil, pathError(raw, "unexpected character "+strconv.Quote(rest[:1]))
		}
	}
	return p, nil
}

// parseBracket parses one [n] or ['key'] selector at the start of s and returns
// the segment and the number of bytes consumed.
func parseBracket(raw, s string) (any, int, error) {
	if len(s) > 1 && (s[1] == '\'' || s[1] == '"') {
		quote := s[1]
		var b strings.Builder
		for i := 2; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
				continue
			}
			if c == quote {
				if i+1 >= len(s) || s[i+1] != ']' {
					return nil, 0, pathError(raw, "unterminated bracket")
				}
				return b.String(), i + 2, nil
			}
			b.WriteByte(c)
		}
		return nil, 0, pathError(raw, "unterminated quoted field")
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, 0, pathError(raw, "unterminated bracket")
	}
	inner := strings.TrimSpace(s[1:end])
	idx, err := strconv.Atoi(inner)
	if err != nil {
		return nil, 0, pathError(raw, "unsupported selector ["+inner+"]")
	}
	if idx < 0 {
		return nil, 0, pathError(raw, "negative indices are not supported")
	}
	return idx, end + 1, nil
}

func pathError(raw, reason string) error {
	return schema.NewErrorf(schema.ErrorRuntime, "invalid path %q: %s", raw, reason)
}
