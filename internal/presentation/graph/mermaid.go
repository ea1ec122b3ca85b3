package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/bpmn/pkg/domain"
)

// GraphOverlay contains instance state to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	// CurrentNodes are the nodes executions wait on.
	CurrentNodes []string
}

// GenerateMermaid produces a Mermaid flowchart of a process definition.
// It applies semantic styling:
// - Start events: ((Circle))
// - End events: (((Double circle)))
// - Gateways: {Diamond}
// - User tasks: [/Parallelogram/]
// - Service tasks: [[Subroutine]]
// - Catch and receive: ([Stadium])
// - Default: [Rectangle]
// Sub-processes become subgraphs; error boundaries hang off their activity
// with a dotted edge. Overlay styles are applied if provided.
func GenerateMermaid(def *domain.ProcessDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	writeScope(&sb, def, "", "    ")

	for _, t := range def.Transitions {
		arrow := "-->"
		switch {
		case t.Condition != "":
			// Escape double quotes in condition for Mermaid label
			arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(t.Condition, "\"", "'"))
		case isDefault(def, t):
			arrow = "-- \"default\" -->"
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(t.From), arrow, sanitizeMermaidID(t.To))
	}

	for _, n := range def.Nodes {
		if n.Kind != domain.KindErrorBoundary {
			continue
		}
		label := "⚡"
		if n.ErrorCode != "" {
			label = "⚡ " + n.ErrorCode
		}
		fmt.Fprintf(&sb, "    %s -. \"%s\" .-> %s\n", sanitizeMermaidID(n.AttachedTo), label, sanitizeMermaidID(n.ID))
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		styled := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !styled[safeID] && safeID != "" {
				styled[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		current := make(map[string]bool)
		for _, id := range overlay.CurrentNodes {
			safeID := sanitizeMermaidID(id)
			if !current[safeID] && safeID != "" {
				current[safeID] = true
				fmt.Fprintf(&sb, "    class %s current;\n", safeID)
			}
		}
	}

	return sb.String()
}

// writeScope writes the nodes whose parent is scope, nesting sub-processes.
func writeScope(sb *strings.Builder, def *domain.ProcessDefinition, scope, indent string) {
	for _, n := range def.Children(scope) {
		safeID := sanitizeMermaidID(n.ID)
		if n.Kind == domain.KindSubProcess {
			fmt.Fprintf(sb, "%ssubgraph %s [\"%s\"]\n", indent, safeID, escape(n.Label()))
			writeScope(sb, def, n.ID, indent+"    ")
			fmt.Fprintf(sb, "%send\n", indent)
			continue
		}
		opener, closer := shape(n.Kind)
		fmt.Fprintf(sb, "%s%s%s\"%s\"%s\n", indent, safeID, opener, label(n), closer)
	}
}

func shape(kind domain.NodeKind) (string, string) {
	switch kind {
	case domain.KindNoneStart, domain.KindMessageStart, domain.KindSignalStart:
		return "((", "))"
	case domain.KindEnd, domain.KindTerminateEnd:
		return "(((", ")))"
	case domain.KindExclusiveGateway, domain.KindParallelGateway:
		return "{", "}"
	case domain.KindUserTask:
		return "[/", "/]"
	case domain.KindServiceTask:
		return "[[", "]]"
	case domain.KindMessageCatch, domain.KindSignalCatch, domain.KindReceiveTask, domain.KindErrorBoundary:
		return "([", "])"
	}
	return "[", "]"
}

func label(n domain.Node) string {
	text := escape(n.Label())
	switch n.Kind {
	case domain.KindParallelGateway:
		text = "+ " + text
	case domain.KindExclusiveGateway:
		text = "X " + text
	case domain.KindTerminateEnd:
		text = "■ " + text
	}
	switch {
	case n.Message != "":
		text += " <br/> ✉ " + escape(n.Message)
	case n.Signal != "":
		text += " <br/> ⚑ " + escape(n.Signal)
	case n.Assignee != "":
		text += " <br/> 👤 " + escape(n.Assignee)
	}
	return text
}

func isDefault(def *domain.ProcessDefinition, t domain.Transition) bool {
	n, ok := def.Node(t.From)
	return ok && n.Default != "" && n.Default == t.ID
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// NewOverlay marks the completed visits of an instance as visited and the
// nodes its live executions wait on as current.
func NewOverlay(visits []domain.HistoryActivity, executions []domain.Execution) *GraphOverlay {
	o := &GraphOverlay{}
	for _, v := range visits {
		if v.Completed {
			o.VisitedNodes = append(o.VisitedNodes, v.Activity)
		}
	}
	for _, e := range executions {
		if e.IsWaiting && !e.Ended() {
			o.CurrentNodes = append(o.CurrentNodes, e.ActivityID)
		}
	}
	return o
}
