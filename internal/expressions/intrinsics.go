package expressions

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/sfnsim/pkg/schema"
)

const intrinsicPrefix = "States."

// IsIntrinsic reports whether a dynamic parameter value is an intrinsic call.
func IsIntrinsic(expr string) bool {
	return strings.HasPrefix(strings.TrimSpace(expr), intrinsicPrefix)
}

// intrinsicCall is a parsed States.Name(arg, ...) expression.
type intrinsicCall struct {
	name string
	args []intrinsicArg
}

type argKind int

const (
	argLiteral argKind = iota
	argPath
	argCall
)

type intrinsicArg struct {
	kind  argKind
	value any // literal value, path string or *intrinsicCall
}

// EvalIntrinsic evaluates an intrinsic expression. Only States.Format is
// supported; every other function fails with States.IntrinsicFailure.
func (b *Builder) EvalIntrinsic(ctx context.Context, expr string, doc, ctxDoc any) (any, error) {
	call, rest, err := parseCall(strings.TrimSpace(expr))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, intrinsicError("unexpected trailing input %q in %s", rest, expr)
	}
	return b.evalCall(ctx, call, doc, ctxDoc)
}

// CheckIntrinsic parses expr without evaluating it. Unsupported functions are
// reported so a definition can be rejected before it runs.
func CheckIntrinsic(expr string) error {
	call, rest, err := parseCall(strings.TrimSpace(expr))
	if err != nil {
		return err
	}
	if strings.TrimSpace(rest) != "" {
		return intrinsicError("unexpected trailing input %q in %s", rest, expr)
	}
	return checkCall(call)
}

func checkCall(call *intrinsicCall) error {
	if call.name != "States.Format" {
		return intrinsicError("intrinsic function %s is not supported", call.name)
	}
	for _, a := range call.args {
		switch a.kind {
		case argPath:
			if _, err := ParsePath(a.value.(string)); err != nil {
				return err
			}
		case argCall:
			if err := checkCall(a.value.(*intrinsicCall)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) evalCall(ctx context.Context, call *intrinsicCall, doc, ctxDoc any) (any, error) {
	if call.name != "States.Format" {
		return nil, intrinsicError("intrinsic function %s is not supported", call.name)
	}

	args := make([]any, len(call.args))
	for i, a := range call.args {
		switch a.kind {
		case argLiteral:
			args[i] = a.value
		case argPath:
			v, err := b.resolveDynamic(ctx, a.value.(string), doc, ctxDoc)
			if err != nil {
				return nil, err
			}
			args[i] = v
		case argCall:
			v, err := b.evalCall(ctx, a.value.(*intrinsicCall), doc, ctxDoc)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
	}

	return format(call, args)
}

// format substitutes each unescaped {} in the template with the next argument.
func format(call *intrinsicCall, args []any) (any, error) {
	if len(args) == 0 || call.args[0].kind != argLiteral {
		return nil, intrinsicError("States.Format requires a literal template as its first argument")
	}
	tmpl, ok := args[0].(string)
	if !ok {
		return nil, intrinsicError("States.Format template must be a string")
	}
	values := args[1:]

	var b strings.Builder
	next := 0
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c == '\\' && i+1 < len(tmpl) && (tmpl[i+1] == '{' || tmpl[i+1] == '}') {
			b.WriteByte(tmpl[i+1])
			i++
			continue
		}
		if c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '}' {
			if next >= len(values) {
				return nil, intrinsicError("States.Format has more placeholders than arguments")
			}
			s, err := formatArg(values[next])
			if err != nil {
				return nil, err
			}
			b.WriteString(s)
			next++
			i++
			continue
		}
		b.WriteByte(c)
	}
	if next != len(values) {
		return nil, intrinsicError("States.Format has %d placeholders but %d arguments", next, len(values))
	}
	return b.String(), nil
}

func formatArg(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "null", nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", intrinsicError("States.Format arguments must be scalars, got %T", v)
	}
}

// parseCall parses "States.Name(args...)" at the start of s and returns the
// unconsumed remainder.
func parseCall(s string) (*intrinsicCall, string, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return nil, "", intrinsicError("malformed intrinsic %q", s)
	}
	call := &intrinsicCall{name: strings.TrimSpace(s[:open])}
	if !strings.HasPrefix(call.name, intrinsicPrefix) {
		return nil, "", intrinsicError("malformed intrinsic %q", s)
	}

	rest := strings.TrimLeft(s[open+1:], " ")
	if strings.HasPrefix(rest, ")") {
		return call, rest[1:], nil
	}
	for {
		arg, r, err := parseArg(strings.TrimLeft(rest, " "))
		if err != nil {
			return nil, "", err
		}
		call.args = append(call.args, arg)
		r = strings.TrimLeft(r, " ")
		if r == "" {
			return nil, "", intrinsicError("unterminated intrinsic %q", s)
		}
		switch r[0] {
		case ',':
			rest = r[1:]
		case ')':
			return call, r[1:], nil
		default:
			return nil, "", intrinsicError("unexpected %q in intrinsic %q", r[:1], s)
		}
	}
}

func parseArg(s string) (intrinsicArg, string, error) {
	switch {
	case s == "":
		return intrinsicArg{}, "", intrinsicError("missing intrinsic argument")
	case s[0] == '\'':
		return parseStringLiteral(s)
	case strings.HasPrefix(s, intrinsicPrefix):
		call, rest, err := parseCall(s)
		if err != nil {
			return intrinsicArg{}, "", err
		}
		return intrinsicArg{kind: argCall, value: call}, rest, nil
	}

	end := strings.IndexAny(s, ",)")
	if end < 0 {
		end = len(s)
	}
	token := strings.TrimSpace(s[:end])
	rest := s[end:]

	if strings.HasPrefix(token, "$") {
		return intrinsicArg{kind: argPath, value: token}, rest, nil
	}
	switch token {
	case "null":
		return intrinsicArg{kind: argLiteral}, rest, nil
	case "true", "false":
		return intrinsicArg{kind: argLiteral, value: token == "true"}, rest, nil
	}
	var n float64
	if err := json.Unmarshal([]byte(token), &n); err != nil {
		return intrinsicArg{}, "", intrinsicError("invalid intrinsic argument %q", token)
	}
	return intrinsicArg{kind: argLiteral, value: n}, rest, nil
}

// parseStringLiteral reads a single-quoted literal. \' and \\ are unescaped;
// \{ and \} are kept so States.Format can tell them from placeholders.
func parseStringLiteral(s string) (intrinsicArg, string, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\'', '\\':
				b.WriteByte(s[i+1])
			default:
				b.WriteByte(c)
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		if c == '\'' {
			return intrinsicArg{kind: argLiteral, value: b.String()}, s[i+1:], nil
		}
		b.WriteByte(c)
	}
	return intrinsicArg{}, "", intrinsicError("unterminated string literal")
}

func intrinsicError(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrorIntrinsicFailure, format, args...)
}
