package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string
}

// DrawMermaid generates a Mermaid diagram representation of the graph
func (r *Runnable) DrawMermaid() string {
	return r.DrawMermaidWithOptions(MermaidOptions{
		Direction: "TD",
	})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options.
// Conditional routes are dashed and labelled with their route key; nodes with
// an interrupt point carry a marker.
func (r *Runnable) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	fmt.Fprintf(&sb, "flowchart %s\n", direction)

	sb.WriteString("    START([\"START\"])\n")
	sb.WriteString("    style START fill:#90EE90\n")

	for _, name := range r.order {
		label := name
		if r.interruptBefore[name] {
			label = "⏸ " + label
		}
		if r.interruptAfter[name] {
			label += " ⏸"
		}
		if name == r.entryPoint {
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", name, label)
		} else {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", name, label)
		}
	}

	if r.reachesEnd() {
		sb.WriteString("    END([\"END\"])\n")
		sb.WriteString("    style END fill:#FFB6C1\n")
	}

	fmt.Fprintf(&sb, "    START --> %s\n", r.entryPoint)
	for _, from := range r.order {
		if to, ok := r.edges[from]; ok {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
			continue
		}
		ce, ok := r.conditional[from]
		if !ok {
			fmt.Fprintf(&sb, "    %s --> END\n", from)
			continue
		}
		if ce.Routes == nil {
			fmt.Fprintf(&sb, "    %s -.-> %s_condition((?))\n", from, from)
			fmt.Fprintf(&sb, "    style %s_condition fill:#FFFFE0,stroke:#333,stroke-dasharray: 5 5\n", from)
			continue
		}
		for _, key := range slices.Sorted(maps.Keys(ce.Routes)) {
			fmt.Fprintf(&sb, "    %s -.->|%s| %s\n", from, key, ce.Routes[key])
		}
	}

	fmt.Fprintf(&sb, "    style %s fill:#87CEEB\n", r.entryPoint)
	return sb.String()
}

func (r *Runnable) reachesEnd() bool {
	for _, name := range r.order {
		to, static := r.edges[name]
		ce, conditional := r.conditional[name]
		switch {
		case static && to == END:
			return true
		case !static && !conditional:
			return true
		case conditional && (ce.Routes == nil || slices.Contains(slices.Collect(maps.Values(ce.Routes)), END)):
			return true
		}
	}
	return false
}
