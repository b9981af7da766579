// Package visual renders product dependency graphs for humans.
package visual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/catalogctl/pkg/graph"
)

// MermaidOptions controls how a graph is rendered to a Mermaid flowchart.
type MermaidOptions struct {
	// GroupByPortfolio uses subgraphs to group products by portfolio.
	GroupByPortfolio bool

	// Direction is the flowchart direction: "TD" (top-down) or "LR" (left-right).
	// Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title.
	Title string

	// Only restricts the diagram to these products. Empty means all.
	Only []string

	// Classes assigns a CSS class to products, e.g. "changed" or "blocked".
	// Every class used gets a classDef from ClassStyles.
	Classes map[string]string

	// ClassStyles maps class names to Mermaid style strings.
	ClassStyles map[string]string
}

// DefaultClassStyles colours the change classes used by plan output.
var DefaultClassStyles = map[string]string{
	"changed-directly":   "fill:#fde68a,stroke:#b45309",
	"changed-by-cascade": "fill:#fef3c7,stroke:#d97706",
	"unchanged":          "fill:#e5e7eb,stroke:#6b7280",
}

// RenderMermaid generates a Mermaid flowchart from a dependency graph.
// Edges point from a dependency to its dependent.
func RenderMermaid(g *graph.Graph, opts MermaidOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	var subset []string
	if len(opts.Only) > 0 {
		subset = opts.Only
	}
	sorted, err := g.TopologicalOrder(subset)
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var b strings.Builder
	if opts.Title != "" {
		b.WriteString(fmt.Sprintf("---\ntitle: %s\n---\n", opts.Title))
	}
	b.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	included := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		included[id] = true
	}

	if opts.GroupByPortfolio {
		renderGrouped(&b, g, sorted)
	} else {
		for _, id := range sorted {
			b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", sanitizeMermaidID(id), escapeMermaidLabel(id)))
		}
	}

	b.WriteString("\n")
	for _, id := range sorted {
		node, _ := g.Node(id)
		for _, dep := range node.DependsOn {
			if included[dep] {
				b.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(dep), sanitizeMermaidID(id)))
			}
		}
	}

	renderClasses(&b, sorted, opts)
	return b.String(), nil
}

// renderGrouped renders products grouped by portfolio using subgraphs.
// Products without a portfolio are rendered at the top level.
func renderGrouped(b *strings.Builder, g *graph.Graph, sorted []string) {
	groups := make(map[string][]string)
	var groupOrder []string
	for _, id := range sorted {
		node, _ := g.Node(id)
		if node.Group == "" {
			b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", sanitizeMermaidID(id), escapeMermaidLabel(id)))
			continue
		}
		if _, seen := groups[node.Group]; !seen {
			groupOrder = append(groupOrder, node.Group)
		}
		groups[node.Group] = append(groups[node.Group], id)
	}

	for _, group := range groupOrder {
		b.WriteString(fmt.Sprintf("    subgraph %s [\"%s\"]\n", sanitizeSubgraphID(group), escapeMermaidLabel(group)))
		for _, id := range groups[group] {
			b.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", sanitizeMermaidID(id), escapeMermaidLabel(id)))
		}
		b.WriteString("    end\n")
	}
}

func renderClasses(b *strings.Builder, sorted []string, opts MermaidOptions) {
	if len(opts.Classes) == 0 {
		return
	}
	styles := opts.ClassStyles
	if styles == nil {
		styles = DefaultClassStyles
	}

	members := make(map[string][]string)
	for _, id := range sorted {
		if class, ok := opts.Classes[id]; ok {
			members[class] = append(members[class], sanitizeMermaidID(id))
		}
	}
	if len(members) == 0 {
		return
	}

	b.WriteString("\n")
	for _, class := range sortedKeys(members) {
		name := sanitizeClassName(class)
		if style, ok := styles[class]; ok {
			b.WriteString(fmt.Sprintf("    classDef %s %s\n", name, style))
		}
		b.WriteString(fmt.Sprintf("    class %s %s\n", strings.Join(members[class], ","), name))
	}
}

// sanitizeMermaidID creates a Mermaid-safe node identifier.
func sanitizeMermaidID(id string) string {
	return "p_" + strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id)
}

// sanitizeSubgraphID creates a safe subgraph identifier from a portfolio.
func sanitizeSubgraphID(group string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_", " ", "_")
	return "sg_" + r.Replace(group)
}

func sanitizeClassName(class string) string {
	return strings.ReplaceAll(class, "-", "_")
}

// escapeMermaidLabel escapes characters that have special meaning in Mermaid labels.
func escapeMermaidLabel(s string) string {
	return strings.ReplaceAll(s, `"`, `#quot;`)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
