package diagram

import "github.com/rendis/sfnsim/pkg/schema"

// NodeKind classifies a diagram node by its state type.
type NodeKind string

const (
	NodeKindTask     NodeKind = "task"
	NodeKindChoice   NodeKind = "choice"
	NodeKindPass     NodeKind = "pass"
	NodeKindWait     NodeKind = "wait"
	NodeKindParallel NodeKind = "parallel"
	NodeKindMap      NodeKind = "map"
	NodeKindSucceed  NodeKind = "succeed"
	NodeKindFail     NodeKind = "fail"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single state in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // Parallel branches, Map iterator
}

// SubGraph holds the states of a Parallel branch or a Map iterator.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries the replayed outcome of a state.
type StatusOverlay struct {
	Status     string // store.State* constants
	DurationMs int64
	Entries    int
	RetryCount int
	Error      string
}

// Edge is a transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

func kindOf(t schema.StateType) NodeKind {
	switch t {
	case schema.StateTypeChoice:
		return NodeKindChoice
	case schema.StateTypePass:
		return NodeKindPass
	case schema.StateTypeWait:
		return NodeKindWait
	case schema.StateTypeParallel:
		return NodeKindParallel
	case schema.StateTypeMap:
		return NodeKindMap
	case schema.StateTypeSucceed:
		return NodeKindSucceed
	case schema.StateTypeFail:
		return NodeKindFail
	default:
		return NodeKindTask
	}
}
