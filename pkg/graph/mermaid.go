package graph

import (
	"fmt"
	"strings"
)

// Overlay contains thread data to visualize on the graph.
type Overlay struct {
	VisitedNodes []string
	PendingNodes []string
}

// Mermaid produces a Mermaid flowchart of the graph.
// It applies semantic styling:
// - START/END: ((Circle))
// - SubGraph: [[Subroutine]]
// - Join: {{Hexagon}}
// - Default: [Rectangle]
// Conditional edges are dashed, dispatch edges are thick.
// It also applies overlay styles (Visited/Pending) if provided.
func Mermaid(g *Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString(fmt.Sprintf("    %s((\"start\"))\n", sanitizeMermaidID(START)))
	sb.WriteString(fmt.Sprintf("    %s((\"end\"))\n", sanitizeMermaidID(END)))

	for _, id := range g.entry {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(START), sanitizeMermaidID(id)))
	}

	for _, node := range g.Nodes() {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch {
		case node.Kind == KindSubGraph:
			opener, closer = "[[", "]]"
		case g.joins[node.ID] != nil:
			opener, closer = "{{", "}}"
		}

		label := node.ID
		if lg, ok := g.guards[node.ID]; ok {
			label = fmt.Sprintf("%s <br/> max %d", node.ID, lg.Max)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		for _, to := range g.edges[node.ID] {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, sanitizeMermaidID(to)))
		}
		if cond, ok := g.conditional[node.ID]; ok {
			for _, to := range cond.Allowed {
				sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", safeID, sanitizeMermaidID(to)))
			}
		}
		for _, to := range node.Dispatches {
			sb.WriteString(fmt.Sprintf("    %s == \"send\" ==> %s\n", safeID, sanitizeMermaidID(to)))
		}
		if lg, ok := g.guards[node.ID]; ok && lg.OnExhausted != "" {
			sb.WriteString(fmt.Sprintf("    %s -. \"exhausted\" .-> %s\n", safeID, sanitizeMermaidID(lg.OnExhausted)))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef pending fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}
		for _, id := range overlay.PendingNodes {
			sb.WriteString(fmt.Sprintf("    class %s pending;\n", sanitizeMermaidID(id)))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "#", "_")
	return s
}
