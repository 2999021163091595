package diagram

import (
	"fmt"
	"strings"
	"unicode"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ")
	}

	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, "    ")
	}

	// Status class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef caught fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef aborted fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		writeMermaidClasses(&b, node)
	}

	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, indent string) {
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))

	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[\"%s: %s\"]\n",
			indent, mermaidSafeID(node.ID+"."+sg.Label), mermaidEscapeLabel(firstLine(node.Label)), sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, indent+"    ")
		}
		for _, edge := range sg.Edges {
			writeMermaidEdge(b, edge, indent+"    ")
		}
		fmt.Fprintf(b, "%send\n", indent)
	}
}

func writeMermaidEdge(b *strings.Builder, edge Edge, indent string) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|\"%s\"|", mermaidEscapeLabel(edge.Label))
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

func writeMermaidClasses(b *strings.Builder, node *Node) {
	if node.Status != nil {
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}
	for _, sg := range node.Children {
		for _, sub := range sg.Nodes {
			writeMermaidClasses(b, sub)
		}
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))
	if node.Status != nil && node.Status.RetryCount > 0 {
		label += fmt.Sprintf(" (retries: %d)", node.Status.RetryCount)
	}

	switch node.Kind {
	case NodeKindChoice:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindParallel, NodeKindMap:
		return fmt.Sprintf("%s[[\"%s\"]]", id, label)
	case NodeKindPass:
		return fmt.Sprintf("%s[/\"%s\"/]", id, label)
	case NodeKindSucceed, NodeKindFail:
		return fmt.Sprintf("%s(\"%s\")", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	default: // task
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier. Anything
// outside letters, digits and underscores becomes an underscore, and the
// reserved word "end" is suffixed.
func mermaidSafeID(id string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, id)
	if strings.EqualFold(safe, "end") {
		safe += "_"
	}
	return safe
}

// mermaidEscapeLabel escapes characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
}

// mermaidStatusClass maps a replayed status to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "succeeded", "failed", "caught", "running", "aborted":
		return status
	default:
		return ""
	}
}
