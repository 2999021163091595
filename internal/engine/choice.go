package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/rendis/sfnsim/pkg/schema"
)

// truth is the tri-state result of a Choice rule.
type truth int

const (
	undefined truth = iota
	falsy
	truthy
)

func truthOf(b bool) truth {
	if b {
		return truthy
	}
	return falsy
}

func (t truth) String() string {
	switch t {
	case truthy:
		return "true"
	case falsy:
		return "false"
	default:
		return "undefined"
	}
}

// stringCollator orders strings by locale. collate.Collator is not safe for
// concurrent use.
type stringCollator struct {
	mu sync.Mutex
	c  *collate.Collator
}

func newStringCollator(tag language.Tag) *stringCollator {
	return &stringCollator{c: collate.New(tag)}
}

func (s *stringCollator) Compare(a, b string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.CompareString(a, b)
}

// executeChoice picks the Next of the first rule that evaluates to true, or
// the Default. The output is the effective input filtered by OutputPath.
func (e *Engine) executeChoice(ctx context.Context, sc *scope, name string, st *schema.State, input any, entered time.Time) (string, any, error) {
	eff, err := e.applyInput(ctx, st, input, sc.contextDoc(name, entered, 0))
	if err != nil {
		return "", nil, err
	}

	next := ""
	for i := range st.Choices {
		t, err := e.evaluate(ctx, &st.Choices[i], eff)
		if err != nil {
			return "", nil, err
		}
		if t == truthy {
			next = st.Choices[i].Next
			break
		}
	}
	if next == "" {
		if st.Default == "" {
			return "", nil, schema.NewError(schema.ErrorRuntime, "no choice rule matched and no Default state is set")
		}
		next = st.Default
	}

	out, err := e.selectPath(ctx, "OutputPath", st.OutputPath, eff)
	if err != nil {
		return "", nil, err
	}
	return next, out, nil
}

// evaluate returns the truth of one rule against doc.
func (e *Engine) evaluate(ctx context.Context, rule *schema.ChoiceRule, doc any) (truth, error) {
	switch {
	case len(rule.And) > 0:
		for i := range rule.And {
			t, err := e.evaluate(ctx, &rule.And[i], doc)
			if err != nil {
				return undefined, err
			}
			if t != truthy {
				return falsy, nil
			}
		}
		return truthy, nil

	case len(rule.Or) > 0:
		matched := 0
		for i := range rule.Or {
			t, err := e.evaluate(ctx, &rule.Or[i], doc)
			if err != nil {
				return undefined, err
			}
			if t == truthy {
				matched++
			}
		}
		if e.legacyOr {
			return truthOf(matched > 1), nil
		}
		return truthOf(matched > 0), nil

	case rule.Not != nil:
		t, err := e.evaluate(ctx, rule.Not, doc)
		if err != nil {
			return undefined, err
		}
		switch t {
		case truthy:
			return falsy, nil
		case falsy:
			return truthy, nil
		default:
			return falsy, nil
		}
	}

	return e.compare(ctx, rule, doc)
}

// compare evaluates a leaf comparison. An unresolved Variable is undefined,
// except for IsPresent, and a type mismatch is false.
func (e *Engine) compare(ctx context.Context, rule *schema.ChoiceRule, doc any) (truth, error) {
	if rule.Variable == "" || rule.Operator == "" {
		return undefined, schema.NewError(schema.ErrorRuntime, "choice rule needs a Variable and a comparator")
	}

	value, found, err := e.resolver.Get(ctx, doc, rule.Variable)
	if err != nil {
		return undefined, err
	}

	op := rule.Operator
	if strings.HasPrefix(op, "Is") {
		want, ok := rule.Operand.(bool)
		if !ok {
			return undefined, schema.NewErrorf(schema.ErrorRuntime, "%s requires a boolean operand", op)
		}
		if op == "IsPresent" {
			return truthOf(found == want), nil
		}
		if !found {
			return undefined, nil
		}
		got, err := typeTest(op, value)
		if err != nil {
			return undefined, err
		}
		return truthOf(got == want), nil
	}

	if !found {
		return undefined, nil
	}

	operand := rule.Operand
	if base, ok := strings.CutSuffix(op, "Path"); ok {
		path, isString := operand.(string)
		if !isString {
			return undefined, schema.NewErrorf(schema.ErrorRuntime, "%s requires a path operand", op)
		}
		resolved, found, err := e.resolver.Get(ctx, doc, path)
		if err != nil {
			return undefined, err
		}
		if !found {
			return undefined, nil
		}
		op, operand = base, resolved
	}

	switch {
	case op == "BooleanEquals":
		a, aok := value.(bool)
		b, bok := operand.(bool)
		return truthOf(aok && bok && a == b), nil

	case op == "StringMatches":
		a, aok := value.(string)
		pattern, bok := operand.(string)
		return truthOf(aok && bok && wildcardMatch(pattern, a)), nil

	case strings.HasPrefix(op, "String"):
		a, aok := value.(string)
		b, bok := operand.(string)
		if !aok || !bok {
			return falsy, nil
		}
		if op == "StringEquals" {
			return truthOf(a == b), nil
		}
		return compareOrdered(op, "String", e.collator.Compare(a, b))

	case strings.HasPrefix(op, "Numeric"):
		a, aok := toNumber(value)
		b, bok := toNumber(operand)
		if !aok || !bok {
			return falsy, nil
		}
		return compareOrdered(op, "Numeric", cmpFloat(a, b))

	case strings.HasPrefix(op, "Timestamp"):
		a, aok := toEpochMillis(value)
		b, bok := toEpochMillis(operand)
		if !aok || !bok {
			return falsy, nil
		}
		return compareOrdered(op, "Timestamp", cmpInt(a, b))
	}

	return undefined, schema.NewErrorf(schema.ErrorRuntime, "unsupported choice comparator %s", rule.Operator)
}

// compareOrdered maps a three-way comparison onto the comparator suffix.
func compareOrdered(op, family string, c int) (truth, error) {
	switch strings.TrimPrefix(op, family) {
	case "Equals":
		return truthOf(c == 0), nil
	case "LessThan":
		return truthOf(c < 0), nil
	case "GreaterThan":
		return truthOf(c > 0), nil
	case "LessThanEquals":
		return truthOf(c <= 0), nil
	case "GreaterThanEquals":
		return truthOf(c >= 0), nil
	}
	return undefined, schema.NewErrorf(schema.ErrorRuntime, "unsupported choice comparator %s", op)
}

func typeTest(op string, v any) (bool, error) {
	switch op {
	case "IsNull":
		return v == nil, nil
	case "IsString":
		_, ok := v.(string)
		return ok, nil
	case "IsNumeric":
		_, ok := toNumber(v)
		return ok, nil
	case "IsBoolean":
		_, ok := v.(bool)
		return ok, nil
	case "IsTimestamp":
		_, ok := toEpochMillis(v)
		return ok, nil
	}
	return false, schema.NewErrorf(schema.ErrorRuntime, "unsupported choice comparator %s", op)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toEpochMillis(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// wildcardMatch reports whether s matches pattern, where * matches any run of
// characters and \* a literal asterisk. Matching is greedy and only ever
// backtracks to the most recent star, so it runs in O(len(pattern)*len(s)).
func wildcardMatch(pattern, s string) bool {
	type elem struct {
		c    byte
		star bool
	}
	pat := make([]elem, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			i++
			pat = append(pat, elem{c: pattern[i]})
		case pattern[i] == '*':
			pat = append(pat, elem{star: true})
		default:
			pat = append(pat, elem{c: pattern[i]})
		}
	}

	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pat) && pat[p].star:
			star, mark = p, i
			p++
		case p < len(pat) && pat[p].c == s[i]:
			p++
			i++
		case star >= 0:
			mark++
			p, i = star+1, mark
		default:
			return false
		}
	}
	for p < len(pat) && pat[p].star {
		p++
	}
	return p == len(pat)
}
