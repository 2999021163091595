package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a replayed status.
func statusTag(status string) string {
	switch status {
	case "succeeded":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "caught":
		return "[CAUGHT]"
	case "running":
		return "[RUN]"
	case "aborted":
		return "[ABORT]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as text: one row of boxes per layout
// level, then the nested bodies of Parallel and Map states.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := findNode(model.Nodes, nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if transitions := labelledEdges(model.Edges); len(transitions) > 0 {
		b.WriteString("\n--- transitions ---\n")
		for _, e := range transitions {
			fmt.Fprintf(&b, "  %s ─[%s]→ %s\n", e.From, e.Label, e.To)
		}
	}

	for _, node := range model.Nodes {
		renderChildren(&b, node, 0)
	}

	return b.String()
}

func labelledEdges(edges []Edge) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Label != "" {
			out = append(out, e)
		}
	}
	return out
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}

	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.RetryCount > 0 {
			contentLines = append(contentLines, fmt.Sprintf("retries: %d", node.Status.RetryCount))
		}
		if node.Status.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := range maxHeight {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// renderChildren lists the nested bodies of a node, indented by depth.
func renderChildren(b *strings.Builder, node *Node, depth int) {
	if len(node.Children) == 0 {
		return
	}
	pad := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "\n%s--- %s ---\n", pad, firstLine(node.Label))
	for _, sg := range node.Children {
		fmt.Fprintf(b, "%s  [%s]\n", pad, sg.Label)
		for _, sub := range sg.Nodes {
			tag := ""
			if sub.Status != nil {
				tag = " " + statusTag(sub.Status.Status)
			}
			fmt.Fprintf(b, "%s    %s%s\n", pad, firstLine(sub.Label), tag)
		}
		for _, edge := range sg.Edges {
			arrow := "─→"
			if edge.Label != "" {
				arrow = "─[" + edge.Label + "]→"
			}
			fmt.Fprintf(b, "%s    %s %s %s\n", pad, shortID(edge.From), arrow, shortID(edge.To))
		}
		for _, sub := range sg.Nodes {
			renderChildren(b, sub, depth+1)
		}
	}
}

// shortID returns the last segment of a dot-separated ID.
func shortID(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
