package prop

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Update is the dirty subset of a part, ready for the store. Paths are
// canonical and relative to the part root.
type Update struct {
	// Sets are plain leaf writes within the part record; nil means unset.
	Sets map[string]any

	// Lists are full replacements of lists stored under their own key.
	Lists map[string][]any

	// Increments are pending deltas, to be added to the stored value.
	Increments map[string]Delta
}

func (u *Update) IsEmpty() bool {
	return u == nil || len(u.Sets)+len(u.Lists)+len(u.Increments) == 0
}

func (u *Update) String() string {
	var buf strings.Builder
	for _, k := range slices.Sorted(maps.Keys(u.Sets)) {
		fmt.Fprintf(&buf, "set %s = %v\n", k, u.Sets[k])
	}
	for _, k := range slices.Sorted(maps.Keys(u.Lists)) {
		fmt.Fprintf(&buf, "list %s = %v\n", k, u.Lists[k])
	}
	for _, k := range slices.Sorted(maps.Keys(u.Increments)) {
		fmt.Fprintf(&buf, "incr %s += %d\n", k, u.Increments[k].Delta)
	}
	return buf.String()
}

// DirtyUpdate collects what needs persisting. It returns nil when the root is
// clean, however much has been materialized for reading.
func (t *Tree) DirtyUpdate() *Update {
	if !t.IsModified() {
		return nil
	}
	u := &Update{
		Sets:       make(map[string]any),
		Lists:      make(map[string][]any),
		Increments: make(map[string]Delta),
	}
	t.collect(u, t.Root(), "")
	return u
}

func (t *Tree) collect(u *Update, id NodeID, path string) {
	n := t.node(id)
	switch n.kind {
	case scalarNode:
		if d, ok := n.value.(Delta); ok {
			u.Increments[path] = d
		} else {
			u.Sets[path] = n.value
		}
	case complexNode:
		for name, c := range n.children {
			if t.nodes[c].dirty {
				t.collect(u, c, joinPath(path, name))
			}
		}
	case listNode:
		items, _ := t.storageValue(id).([]any)
		if items == nil {
			items = []any{}
		}
		u.Lists[path] = items
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// storageValue returns the plain stored form of a materialized node, with
// pending deltas folded into absolute values. Unset and empty values are
// left out of complex values.
func (t *Tree) storageValue(id NodeID) any {
	n := t.node(id)
	switch n.kind {
	case scalarNode:
		if d, ok := n.value.(Delta); ok {
			return d.Value()
		}
		return n.value
	case complexNode:
		m := make(map[string]any, len(n.raw)+len(n.children))
		for k, v := range n.raw {
			if !isEmpty(v) {
				m[k] = v
			}
		}
		for name, c := range n.children {
			if v := t.storageValue(c); !isEmpty(v) {
				m[name] = v
			}
		}
		return m
	case listNode:
		out := make([]any, len(n.items))
		for i, c := range n.items {
			out[i] = t.storageValue(c)
		}
		return out
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// Committed is called after the store has durably applied DirtyUpdate.
// Incremented holds the absolute values the store computed for each entry of
// Update.Increments; the nodes take those values and drop their deltas.
// Deltas folded into list items become plain values. Every dirty flag is
// cleared.
//
// After a failed write Committed must not be called: the tree keeps its
// deltas and flags, and the next DirtyUpdate resends exactly the same
// increments.
func (t *Tree) Committed(incremented map[string]int64) {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.free || n.kind != scalarNode {
			continue
		}
		d, ok := n.value.(Delta)
		if !ok {
			continue
		}
		if v, found := incremented[t.Path(NodeID(i))]; found {
			n.value = v
		} else {
			n.value = d.Value()
		}
	}
	t.clearDirty()
	t.isNew = false
}

// Equal compares the full values of two parts structurally, independent of
// node identity and of how much of each has been materialized.
func (t *Tree) Equal(o *Tree) (bool, error) {
	a, err := t.Value(t.Root())
	if err != nil {
		return false, err
	}
	b, err := o.Value(o.Root())
	if err != nil {
		return false, err
	}
	return Equal(a, b), nil
}
