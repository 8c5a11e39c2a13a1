package prop

import (
	"fmt"

	"github.com/andreyvit/docprops/schema"
)

// applyDelta records a pending increment on a long scalar. A second delta
// before persistence accumulates onto the first and keeps its Base. A plain
// write discards the pending delta.
func (t *Tree) applyDelta(path string, id NodeID, d Delta) error {
	n := t.node(id)
	st, ok := n.typ.(*schema.ScalarType)
	if !ok || st.Kind() != schema.KindLong {
		return &TypeMismatchError{Path: path, Type: n.typ.Name(), Value: d, Detail: "increments apply to long values only"}
	}

	next := d
	switch cur := n.value.(type) {
	case Delta:
		next = cur.Add(d)
	case nil:
	case int64:
	default:
		panic(fmt.Sprintf("unexpected long value %T", cur))
	}

	if n.field != nil && n.field.Restriction != nil {
		if err := n.field.Restriction.Check(next.Value()); err != nil {
			return &TypeMismatchError{Path: path, Type: n.typ.Name(), Value: d, Detail: err.Error()}
		}
	}
	n.value = next
	t.markDirty(id)
	return nil
}

// PendingDelta returns the pending increment of a node, if any.
func (t *Tree) PendingDelta(id NodeID) (Delta, bool) {
	d, ok := t.node(id).value.(Delta)
	return d, ok
}
