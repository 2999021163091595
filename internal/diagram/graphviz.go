package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an output format of RenderImage.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
	ImageDOT ImageFormat = "dot"
)

// RenderImage renders a DiagramModel with graphviz in the given format.
func RenderImage(ctx context.Context, model *DiagramModel, format ImageFormat) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		if err := addGraphvizNode(graph, graph, node, gvNodes); err != nil {
			return nil, err
		}
	}
	for _, edge := range model.Edges {
		addGraphvizEdge(graph, edge, gvNodes)
	}

	var out graphviz.Format
	switch format {
	case ImageSVG:
		out = graphviz.SVG
	case ImageDOT:
		out = graphviz.XDOT
	case ImagePNG, "":
		out = graphviz.PNG
	default:
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, out, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// addGraphvizNode creates node inside parent and a dashed cluster for each
// of its nested bodies.
func addGraphvizNode(root, parent *cgraph.Graph, node *Node, gvNodes map[string]*cgraph.Node) error {
	gvNode, err := parent.CreateNodeByName(node.ID)
	if err != nil {
		return fmt.Errorf("diagram: create node %s: %w", node.ID, err)
	}
	gvNode.SetLabel(graphvizLabel(node))
	applyNodeStyle(gvNode, node)
	gvNodes[node.ID] = gvNode

	for _, sg := range node.Children {
		sub, err := parent.CreateSubGraphByName("cluster_" + node.ID + "." + sg.Label)
		if err != nil {
			return fmt.Errorf("diagram: create cluster %s: %w", sg.Label, err)
		}
		sub.SetLabel(firstLine(node.Label) + ": " + sg.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)

		for _, child := range sg.Nodes {
			if err := addGraphvizNode(root, sub, child, gvNodes); err != nil {
				return err
			}
		}
		for _, edge := range sg.Edges {
			addGraphvizEdge(root, edge, gvNodes)
		}
	}
	return nil
}

func addGraphvizEdge(graph *cgraph.Graph, edge Edge, gvNodes map[string]*cgraph.Node) {
	from, to := gvNodes[edge.From], gvNodes[edge.To]
	if from == nil || to == nil {
		return
	}
	e, err := graph.CreateEdgeByName("", from, to)
	if err == nil && edge.Label != "" {
		e.SetLabel(edge.Label)
	}
}

func graphvizLabel(node *Node) string {
	label := node.Label
	if node.Status != nil && node.Status.RetryCount > 0 {
		label += fmt.Sprintf("\nretries: %d", node.Status.RetryCount)
	}
	return label
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindTask:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindChoice:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindPass:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case NodeKindWait:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindParallel, NodeKindMap:
		gvNode.SetShape(cgraph.Box3DShape)
	case NodeKindSucceed, NodeKindFail:
		gvNode.SetShape(cgraph.DoubleCircleShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}

	if node.Status != nil {
		applyStatusColor(gvNode, node.Status.Status)
	}
}

// applyStatusColor sets fill color and style based on status.
func applyStatusColor(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case "succeeded":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "failed":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "caught":
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case "running":
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case "aborted":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
