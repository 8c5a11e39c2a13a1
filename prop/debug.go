package prop

import (
	"fmt"
	"slices"
	"strings"
)

const indentStep = "  "

// Dump writes the materialized nodes of the tree, one per line. Dirty nodes
// are marked with `*`, containers not yet loaded with `?`.
func (t *Tree) Dump(w *strings.Builder) {
	t.dumpNode(w, t.Root(), t.schema.Name(), "")
}

func (t *Tree) dumpNode(w *strings.Builder, id NodeID, label, indent string) {
	n := t.node(id)
	var flags string
	if n.dirty {
		flags += "*"
	}
	if !n.loaded {
		flags += "?"
	}
	switch n.kind {
	case scalarNode:
		fmt.Fprintf(w, "%s%s%s: %s = %v\n", indent, label, flags, n.typ.Name(), n.value)
	case complexNode:
		fmt.Fprintf(w, "%s%s%s: %s\n", indent, label, flags, n.typ.Name())
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			t.dumpNode(w, n.children[name], name, indent+indentStep)
		}
	case listNode:
		fmt.Fprintf(w, "%s%s%s: %s (%d items)\n", indent, label, flags, n.typ.Name(), len(n.items))
		for i, c := range n.items {
			t.dumpNode(w, c, fmt.Sprintf("[%d]", i), indent+indentStep)
		}
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

func (t *Tree) String() string {
	var buf strings.Builder
	t.Dump(&buf)
	return buf.String()
}
