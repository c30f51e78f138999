package script

import (
	"fmt"
	"strings"
)

// RenderMermaid returns a Mermaid flowchart of the script.
func RenderMermaid(s *Script) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, st := range s.States {
		open, closeShape := "[", "]"
		switch st.Kind {
		case KindInitial, KindTerminal:
			open, closeShape = "([", "])"
		case KindDecision:
			open, closeShape = "{", "}"
		}
		fmt.Fprintf(&b, "    %s%s\"%s\"%s\n", mermaidID(st.Name), open, escapeLabel(st.Name), closeShape)
	}
	for _, e := range s.Edges {
		if e.Condition != nil {
			fmt.Fprintf(&b, "    %s -->|\"%s\"| %s\n", mermaidID(e.From), escapeLabel(e.Condition.Label()), mermaidID(e.To))
			continue
		}
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}
	return b.String()
}

// RenderDOT returns a GraphViz digraph of the script.
func RenderDOT(s *Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", s.Name)
	b.WriteString("    rankdir=TB;\n")
	for _, st := range s.States {
		shape := "box"
		switch st.Kind {
		case KindInitial:
			shape = "oval"
		case KindTerminal:
			shape = "doublecircle"
		case KindDecision:
			shape = "diamond"
		}
		fmt.Fprintf(&b, "    %q [shape=%s];\n", st.Name, shape)
	}
	for _, e := range s.Edges {
		if e.Condition != nil {
			fmt.Fprintf(&b, "    %q -> %q [label=%q];\n", e.From, e.To, e.Condition.Label())
			continue
		}
		fmt.Fprintf(&b, "    %q -> %q;\n", e.From, e.To)
	}
	b.WriteString("}\n")
	return b.String()
}

func mermaidID(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}
