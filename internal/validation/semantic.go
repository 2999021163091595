package validation

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rendis/sfnsim/internal/expressions"
	"github.com/rendis/sfnsim/pkg/schema"
)

// highRetryAttempts is the MaxAttempts above which a warning is raised.
const highRetryAttempts = 10

// validateSemantic checks what the structural schema cannot: state references,
// transitions, path syntax, comparator operands and nested machines. Each
// Parallel branch and Map iterator is its own scope.
func validateSemantic(def *schema.StateMachine) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	validateMachineSemantic(def, "", result)
	return result
}

func validateMachineSemantic(m *schema.StateMachine, prefix string, result *schema.ValidationResult) {
	if m.StartAt == "" {
		result.AddError(prefix+"StartAt", schema.ErrCodeValidation, "StartAt is required")
	} else if _, ok := m.States[m.StartAt]; !ok {
		result.AddError(prefix+"StartAt", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent state %q", m.StartAt))
	}
	if len(m.States) == 0 {
		result.AddError(prefix+"States", schema.ErrCodeValidation, "a state machine needs at least one state")
	}

	for _, name := range m.StateNames() {
		path := prefix + "States." + name
		st := m.States[name]
		if st == nil {
			result.AddError(path, schema.ErrCodeValidation, "state is null")
			continue
		}
		validateStateSemantic(m, st, path, result)
	}
}

func validateStateSemantic(m *schema.StateMachine, st *schema.State, path string, result *schema.ValidationResult) {
	checkRef := func(field, target string) {
		if _, ok := m.States[target]; !ok {
			result.AddError(path+"."+field, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent state %q", target))
		}
	}

	// Transitions.
	switch st.Type {
	case schema.StateTypeChoice, schema.StateTypeSucceed, schema.StateTypeFail:
		if st.Next != "" || st.End {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("a %s state cannot have Next or End", st.Type))
		}
	default:
		switch {
		case st.Next != "" && st.End:
			result.AddError(path, schema.ErrCodeValidation, "Next and End are mutually exclusive")
		case st.Next == "" && !st.End:
			result.AddError(path, schema.ErrCodeValidation, "a non-terminal state needs Next or End")
		case st.Next != "":
			checkRef("Next", st.Next)
		}
	}

	// Paths.
	checkPath(path+".InputPath", st.InputPath, false, result)
	checkPath(path+".OutputPath", st.OutputPath, false, result)
	checkPath(path+".ResultPath", st.ResultPath, true, result)
	checkPath(path+".ItemsPath", st.ItemsPath, false, result)
	checkTemplate(path+".Parameters", st.Parameters, result)
	checkTemplate(path+".ResultSelector", st.ResultSelector, result)

	// Retry and Catch.
	recoverable := st.Type == schema.StateTypeTask || st.Type == schema.StateTypeParallel || st.Type == schema.StateTypeMap
	if !recoverable && (len(st.Retry) > 0 || len(st.Catch) > 0) {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("Retry and Catch are only valid on Task, Parallel and Map states, not %s", st.Type))
	}
	for i, r := range st.Retry {
		rp := fmt.Sprintf("%s.Retry[%d]", path, i)
		checkErrorEquals(rp, r.ErrorEquals, i == len(st.Retry)-1, result)
		if r.Attempts() > highRetryAttempts {
			result.AddWarning(rp+".MaxAttempts", schema.ErrCodeValidation,
				fmt.Sprintf("high retry count (%d) may cause excessive delays", r.Attempts()))
		}
	}
	for i, c := range st.Catch {
		cp := fmt.Sprintf("%s.Catch[%d]", path, i)
		checkErrorEquals(cp, c.ErrorEquals, i == len(st.Catch)-1, result)
		if c.Next == "" {
			result.AddError(cp+".Next", schema.ErrCodeValidation, "a catcher needs Next")
		} else {
			checkRef(fmt.Sprintf("Catch[%d].Next", i), c.Next)
		}
		checkPath(cp+".ResultPath", c.ResultPath, true, result)
		checkPath(cp+".OutputPath", c.OutputPath, false, result)
	}

	switch st.Type {
	case schema.StateTypeTask:
		if st.Resource == "" {
			result.AddError(path+".Resource", schema.ErrCodeValidation, "a Task state needs a Resource")
		}

	case schema.StateTypeChoice:
		if len(st.Choices) == 0 {
			result.AddError(path+".Choices", schema.ErrCodeValidation, "a Choice state needs at least one rule")
		}
		for i := range st.Choices {
			rp := fmt.Sprintf("%s.Choices[%d]", path, i)
			rule := &st.Choices[i]
			if rule.Next == "" {
				result.AddError(rp+".Next", schema.ErrCodeValidation, "a top-level choice rule needs Next")
			} else {
				checkRef(fmt.Sprintf("Choices[%d].Next", i), rule.Next)
			}
			checkChoiceRule(rule, rp, result)
		}
		if st.Default != "" {
			checkRef("Default", st.Default)
		}

	case schema.StateTypeWait:
		set := 0
		for _, present := range []bool{st.Seconds != nil, st.SecondsPath != "", st.Timestamp != "", st.TimestampPath != ""} {
			if present {
				set++
			}
		}
		if set != 1 {
			result.AddError(path, schema.ErrCodeValidation,
				"a Wait state needs exactly one of Seconds, SecondsPath, Timestamp or TimestampPath")
		}
		if st.Seconds != nil && *st.Seconds < 0 {
			result.AddError(path+".Seconds", schema.ErrCodeValidation, "Seconds cannot be negative")
		}
		if st.Timestamp != "" {
			if _, err := time.Parse(time.RFC3339Nano, st.Timestamp); err != nil {
				result.AddError(path+".Timestamp", schema.ErrCodeValidation,
					fmt.Sprintf("%q is not an RFC3339 timestamp", st.Timestamp))
			}
		}
		checkPathString(path+".SecondsPath", st.SecondsPath, result)
		checkPathString(path+".TimestampPath", st.TimestampPath, result)

	case schema.StateTypeParallel:
		if len(st.Branches) == 0 {
			result.AddError(path+".Branches", schema.ErrCodeValidation, "a Parallel state needs at least one branch")
		}
		for i, b := range st.Branches {
			bp := fmt.Sprintf("%s.Branches[%d].", path, i)
			if b == nil {
				result.AddError(strings.TrimSuffix(bp, "."), schema.ErrCodeValidation, "branch is null")
				continue
			}
			validateMachineSemantic(b, bp, result)
		}

	case schema.StateTypeMap:
		it := st.IteratorMachine()
		if it == nil {
			result.AddError(path+".Iterator", schema.ErrCodeValidation, "a Map state needs an Iterator or ItemProcessor")
		} else {
			validateMachineSemantic(it, path+".Iterator.", result)
		}
		if st.MaxConcurrency < 0 {
			result.AddError(path+".MaxConcurrency", schema.ErrCodeValidation, "MaxConcurrency cannot be negative")
		}
	}
}

// checkErrorEquals enforces that States.ALL appears alone and in the last rule.
func checkErrorEquals(path string, patterns []string, last bool, result *schema.ValidationResult) {
	if len(patterns) == 0 {
		result.AddError(path+".ErrorEquals", schema.ErrCodeValidation, "ErrorEquals cannot be empty")
		return
	}
	if !slices.Contains(patterns, string(schema.ErrorAll)) {
		return
	}
	if len(patterns) > 1 {
		result.AddError(path+".ErrorEquals", schema.ErrCodeValidation, "States.ALL must appear alone")
	}
	if !last {
		result.AddError(path+".ErrorEquals", schema.ErrCodeValidation, "States.ALL must be in the last rule")
	}
}

func checkPath(path string, p schema.Path, writable bool, result *schema.ValidationResult) {
	if !p.IsSet() || p.IsNull() {
		return
	}
	parsed, err := expressions.ParsePath(p.Expr)
	if err != nil {
		result.AddError(path, schema.ErrCodeValidation, errorMessage(err))
		return
	}
	if writable && parsed.Context {
		result.AddError(path, schema.ErrCodeValidation, "cannot write to the context object")
	}
}

func checkPathString(path, expr string, result *schema.ValidationResult) {
	if expr == "" {
		return
	}
	if _, err := expressions.ParsePath(expr); err != nil {
		result.AddError(path, schema.ErrCodeValidation, errorMessage(err))
	}
}

// checkTemplate walks a Parameters or ResultSelector template. Keys ending in
// .$ need a path or an intrinsic call as their value.
func checkTemplate(path string, tmpl any, result *schema.ValidationResult) {
	switch t := tmpl.(type) {
	case map[string]any:
		for k, v := range t {
			kp := path + "." + k
			if !strings.HasSuffix(k, ".$") {
				checkTemplate(kp, v, result)
				continue
			}
			expr, ok := v.(string)
			if !ok {
				result.AddError(kp, schema.ErrCodeValidation, "a dynamic key needs a string value")
				continue
			}
			if expressions.IsIntrinsic(expr) {
				if err := expressions.CheckIntrinsic(expr); err != nil {
					result.AddError(kp, schema.ErrCodeValidation, errorMessage(err))
				}
				continue
			}
			checkPathString(kp, expr, result)
		}
	case []any:
		for i, v := range t {
			checkTemplate(fmt.Sprintf("%s[%d]", path, i), v, result)
		}
	}
}

// checkChoiceRule validates one rule and its nested rules. Nested rules must
// not carry Next.
func checkChoiceRule(rule *schema.ChoiceRule, path string, result *schema.ValidationResult) {
	nested := func(sub *schema.ChoiceRule, sp string) {
		if sub.Next != "" {
			result.AddError(sp+".Next", schema.ErrCodeValidation, "a nested choice rule cannot have Next")
		}
		checkChoiceRule(sub, sp, result)
	}

	switch {
	case len(rule.And) > 0:
		for i := range rule.And {
			nested(&rule.And[i], fmt.Sprintf("%s.And[%d]", path, i))
		}
		return
	case len(rule.Or) > 0:
		for i := range rule.Or {
			nested(&rule.Or[i], fmt.Sprintf("%s.Or[%d]", path, i))
		}
		return
	case rule.Not != nil:
		nested(rule.Not, path+".Not")
		return
	}

	if rule.Variable == "" {
		result.AddError(path+".Variable", schema.ErrCodeValidation, "a comparison needs a Variable")
	} else {
		checkPathString(path+".Variable", rule.Variable, result)
	}
	if rule.Operator == "" {
		result.AddError(path, schema.ErrCodeValidation, "a comparison needs a comparator")
		return
	}
	if !schema.IsComparisonOperator(rule.Operator) {
		result.AddError(path+"."+rule.Operator, schema.ErrCodeValidation,
			fmt.Sprintf("unknown comparator %q", rule.Operator))
		return
	}
	if msg := operandProblem(rule.Operator, rule.Operand); msg != "" {
		result.AddError(path+"."+rule.Operator, schema.ErrCodeValidation, msg)
	}
}

// operandProblem describes why operand does not fit op, or returns "".
func operandProblem(op string, operand any) string {
	if strings.HasSuffix(op, "Path") {
		s, ok := operand.(string)
		if !ok {
			return op + " needs a path string"
		}
		if _, err := expressions.ParsePath(s); err != nil {
			return errorMessage(err)
		}
		return ""
	}

	switch {
	case strings.HasPrefix(op, "Is"), op == "BooleanEquals":
		if _, ok := operand.(bool); !ok {
			return op + " needs a boolean"
		}
	case strings.HasPrefix(op, "Numeric"):
		switch operand.(type) {
		case float64, json.Number:
		default:
			return op + " needs a number"
		}
	case strings.HasPrefix(op, "Timestamp"):
		s, ok := operand.(string)
		if !ok {
			return op + " needs a timestamp string"
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return fmt.Sprintf("%q is not an RFC3339 timestamp", s)
		}
	case strings.HasPrefix(op, "String"):
		if _, ok := operand.(string); !ok {
			return op + " needs a string"
		}
	}
	return ""
}

func errorMessage(err error) string {
	if ee, ok := schema.AsExecutionError(err); ok {
		return ee.Message
	}
	return err.Error()
}
