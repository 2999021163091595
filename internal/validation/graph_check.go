package validation

import (
	"fmt"

	"github.com/rendis/sfnsim/pkg/schema"
)

// validateGraph analyses the transition graph of the definition and of every
// nested machine: states unreachable from StartAt are warnings, and a start
// state that can never reach a terminal state is an error. Cycles are legal.
func validateGraph(def *schema.StateMachine) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	validateMachineGraph(def, "", result)
	return result
}

func validateMachineGraph(m *schema.StateMachine, prefix string, result *schema.ValidationResult) {
	names := m.StateNames()

	// edges[name] = successors of name, reverse[name] = predecessors.
	edges := make(map[string][]string, len(names))
	reverse := make(map[string][]string, len(names))
	for _, name := range names {
		for _, next := range successors(m.States[name]) {
			if _, ok := m.States[next]; !ok {
				continue // invalid refs already caught by semantic
			}
			edges[name] = append(edges[name], next)
			reverse[next] = append(reverse[next], name)
		}
	}

	reachable := bfs([]string{m.StartAt}, edges)

	var terminals []string
	for _, name := range names {
		if st := m.States[name]; st != nil && st.IsTerminal() {
			terminals = append(terminals, name)
		}
	}
	finishing := bfs(terminals, reverse)

	if !finishing[m.StartAt] {
		result.AddError(prefix+"StartAt", schema.ErrCodeValidation,
			fmt.Sprintf("no path from %q reaches a terminal state", m.StartAt))
	}

	for _, name := range names {
		path := prefix + "States." + name
		switch {
		case !reachable[name]:
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("state %q is unreachable from %q", name, m.StartAt))
		case !finishing[name]:
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("state %q can never reach a terminal state", name))
		}
	}

	for _, name := range names {
		st := m.States[name]
		if st == nil {
			continue
		}
		path := prefix + "States." + name
		for i, b := range st.Branches {
			if b != nil {
				validateMachineGraph(b, fmt.Sprintf("%s.Branches[%d].", path, i), result)
			}
		}
		if it := st.IteratorMachine(); it != nil {
			validateMachineGraph(it, path+".Iterator.", result)
		}
	}
}

// successors lists every state a state can transition to, Catch targets included.
func successors(st *schema.State) []string {
	if st == nil {
		return nil
	}
	var out []string
	if st.Next != "" && !st.End {
		out = append(out, st.Next)
	}
	for _, c := range st.Choices {
		if c.Next != "" {
			out = append(out, c.Next)
		}
	}
	if st.Default != "" {
		out = append(out, st.Default)
	}
	for _, c := range st.Catch {
		if c.Next != "" {
			out = append(out, c.Next)
		}
	}
	return out
}

func bfs(roots []string, edges map[string][]string) map[string]bool {
	seen := make(map[string]bool, len(edges))
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if r != "" && !seen[r] {
			seen[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
