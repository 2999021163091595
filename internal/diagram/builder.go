package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/pkg/schema"
)

// Build constructs a DiagramModel from a state machine and, optionally, the
// replayed state summaries of one execution. States are laid out breadth
// first from StartAt; unreachable states come last. Parallel branches and Map
// iterators become SubGraph children, nested to any depth.
func Build(title string, def *schema.StateMachine, summaries map[string]*store.StateSummary) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: state machine is nil")
	}
	if _, ok := def.States[def.StartAt]; !ok {
		return nil, fmt.Errorf("diagram: StartAt state %q is not defined", def.StartAt)
	}
	if title == "" {
		title = def.Comment
	}

	levels := layout(def)

	nodes := []*Node{{ID: startID, Label: "Start", Kind: NodeKindStart}}
	for _, level := range levels {
		for _, name := range level {
			nodes = append(nodes, stateNode(name, name, def.States[name], summaries))
		}
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := []Edge{{From: startID, To: def.StartAt}}
	edges = append(edges, machineEdges("", def, endID)...)

	all := make([][]string, 0, len(levels)+2)
	all = append(all, []string{startID})
	all = append(all, levels...)
	all = append(all, []string{endID})

	return &DiagramModel{Title: title, Nodes: nodes, Edges: edges, Levels: all}, nil
}

// stateNode maps one state to a node, including its nested bodies.
func stateNode(id, name string, st *schema.State, summaries map[string]*store.StateSummary) *Node {
	node := &Node{ID: id, Label: nodeLabel(name, st), Kind: kindOf(st.Type)}
	overlayStatus(node, name, summaries)

	switch st.Type {
	case schema.StateTypeParallel:
		for i, branch := range st.Branches {
			node.Children = append(node.Children, buildSubGraph(id, fmt.Sprintf("branch_%d", i), branch, summaries))
		}
	case schema.StateTypeMap:
		if body := st.IteratorMachine(); body != nil {
			node.Children = append(node.Children, buildSubGraph(id, "iterator", body, summaries))
		}
	}
	return node
}

// buildSubGraph creates a SubGraph for a nested machine. Node IDs are
// qualified as parentID.label.stateName.
func buildSubGraph(parentID, label string, m *schema.StateMachine, summaries map[string]*store.StateSummary) *SubGraph {
	sg := &SubGraph{Label: label}
	if m == nil {
		return sg
	}
	prefix := parentID + "." + label + "."
	for _, level := range layout(m) {
		for _, name := range level {
			sg.Nodes = append(sg.Nodes, stateNode(prefix+name, name, m.States[name], summaries))
		}
	}
	sg.Edges = machineEdges(prefix, m, "")
	return sg
}

// nodeLabel shows the state name, plus the resource for Task states.
func nodeLabel(name string, st *schema.State) string {
	if st.Type == schema.StateTypeTask && st.Resource != "" {
		return fmt.Sprintf("%s\n(%s)", name, st.Resource)
	}
	return name
}

// overlayStatus applies the replayed state summary to a node. Summaries are
// keyed by plain state name, so nested states match by name too.
func overlayStatus(node *Node, name string, summaries map[string]*store.StateSummary) {
	s, ok := summaries[name]
	if !ok || s == nil {
		return
	}
	node.Status = &StatusOverlay{
		Status:     s.Status,
		DurationMs: s.DurationMs(),
		Entries:    s.Entries,
		RetryCount: max(s.Attempts-s.Entries, 0),
		Error:      s.Error,
	}
}

// machineEdges lists the transitions of m. Terminal states link to end when
// end is set; inside subgraphs they have no outgoing edge.
func machineEdges(prefix string, m *schema.StateMachine, end string) []Edge {
	var edges []Edge
	for _, name := range m.StateNames() {
		st := m.States[name]
		from := prefix + name
		link := func(to, label string) {
			if _, ok := m.States[to]; ok {
				edges = append(edges, Edge{From: from, To: prefix + to, Label: label})
			}
		}

		switch st.Type {
		case schema.StateTypeChoice:
			for _, rule := range st.Choices {
				link(rule.Next, ruleLabel(rule))
			}
			if st.Default != "" {
				link(st.Default, "default")
			}
		default:
			if st.Next != "" {
				link(st.Next, "")
			}
		}
		for _, c := range st.Catch {
			link(c.Next, "catch "+strings.Join(c.ErrorEquals, ","))
		}
		if st.IsTerminal() && end != "" {
			edges = append(edges, Edge{From: from, To: end})
		}
	}
	return edges
}

// layout groups state names by breadth-first depth from StartAt. Names within
// a level are sorted; unreachable states form a final level.
func layout(m *schema.StateMachine) [][]string {
	depth := map[string]int{}
	var levels [][]string
	frontier := []string{}
	if _, ok := m.States[m.StartAt]; ok {
		frontier = append(frontier, m.StartAt)
		depth[m.StartAt] = 0
	}

	for len(frontier) > 0 {
		sort.Strings(frontier)
		levels = append(levels, frontier)
		var next []string
		for _, name := range frontier {
			for _, to := range successors(m.States[name]) {
				if _, ok := m.States[to]; !ok {
					continue
				}
				if _, seen := depth[to]; seen {
					continue
				}
				depth[to] = len(levels)
				next = append(next, to)
			}
		}
		frontier = next
	}

	var orphans []string
	for _, name := range m.StateNames() {
		if _, seen := depth[name]; !seen {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

func successors(st *schema.State) []string {
	var out []string
	if st.Next != "" {
		out = append(out, st.Next)
	}
	for _, r := range st.Choices {
		out = append(out, r.Next)
	}
	if st.Default != "" {
		out = append(out, st.Default)
	}
	for _, c := range st.Catch {
		out = append(out, c.Next)
	}
	return out
}

var comparatorSymbols = []struct {
	suffix string
	symbol string
}{
	{"GreaterThanEquals", ">="},
	{"LessThanEquals", "<="},
	{"GreaterThan", ">"},
	{"LessThan", "<"},
	{"Equals", "=="},
	{"Matches", "matches"},
}

// ruleLabel renders a Choice rule compactly, e.g. "$.total > 100".
func ruleLabel(r schema.ChoiceRule) string {
	switch {
	case len(r.And) > 0:
		return joinRules(r.And, " && ")
	case len(r.Or) > 0:
		return joinRules(r.Or, " || ")
	case r.Not != nil:
		return "!(" + ruleLabel(*r.Not) + ")"
	}

	op := r.Operator
	if strings.HasPrefix(op, "Is") {
		return fmt.Sprintf("%s %s %v", r.Variable, op, r.Operand)
	}
	op = strings.TrimSuffix(op, "Path")
	for _, c := range comparatorSymbols {
		if strings.HasSuffix(op, c.suffix) {
			op = c.symbol
			break
		}
	}
	operand := r.Operand
	if s, ok := operand.(string); ok {
		operand = fmt.Sprintf("'%s'", s)
		if strings.HasSuffix(r.Operator, "Path") {
			operand = s
		}
	}
	return fmt.Sprintf("%s %s %v", r.Variable, op, operand)
}

func joinRules(rules []schema.ChoiceRule, sep string) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = ruleLabel(r)
	}
	return strings.Join(parts, sep)
}
