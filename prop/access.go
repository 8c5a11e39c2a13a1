package prop

import (
	"fmt"

	"github.com/andreyvit/docprops/schema"
)

// Get returns the value at path. See Value for the shapes returned.
func (t *Tree) Get(path string) (any, error) {
	id, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	return t.Value(id)
}

// Value returns the current value of a node:
//
//   - scalars: nil when unset, otherwise string, int64, bool, time.Time,
//     float64, BlobRef, or a Delta pending persistence;
//   - arrays: a freshly allocated typed slice, empty when unset;
//   - complex: a map holding every declared field, nil for unset ones;
//   - lists: a []any of item values, empty when unset.
//
// Reading never marks anything dirty.
func (t *Tree) Value(id NodeID) (any, error) {
	n := t.node(id)
	switch n.kind {
	case scalarNode:
		if lt, ok := n.typ.(*schema.ListType); ok {
			items, _ := n.value.([]any)
			return exportArray(lt.ItemKind(), items), nil
		}
		return n.value, nil

	case complexNode:
		ct := n.typ.(*schema.ComplexType)
		m := make(map[string]any, len(ct.Fields()))
		for _, f := range ct.Fields() {
			c, _, err := t.child(id, f.Name)
			if err != nil {
				return nil, err
			}
			v, err := t.Value(c)
			if err != nil {
				return nil, err
			}
			m[f.Name] = v
		}
		return m, nil

	case listNode:
		if err := t.materialize(id); err != nil {
			return nil, err
		}
		items := t.node(id).items
		out := make([]any, len(items))
		for i, c := range items {
			v, err := t.Value(c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// Set writes v at path. The value is validated against the declared type as
// a whole before anything is changed, so a failed Set leaves the tree as it
// was. A Delta may only be written to a long scalar.
func (t *Tree) Set(path string, v any) error {
	id, err := t.Resolve(path)
	if err != nil {
		return err
	}
	return t.setValue(path, id, v)
}

// SetValue is Set on an already resolved node.
func (t *Tree) SetValue(id NodeID, v any) error {
	return t.setValue(t.Path(id), id, v)
}

func (t *Tree) setValue(path string, id NodeID, v any) error {
	n := t.node(id)
	switch d := v.(type) {
	case Delta:
		return t.applyDelta(path, id, d)
	case *Delta:
		if d != nil {
			return t.applyDelta(path, id, *d)
		}
		v = nil
	}
	var restr *schema.Restriction
	if n.field != nil {
		restr = n.field.Restriction
	}
	nv, err := normalize(n.typ, restr, v, path)
	if err != nil {
		return err
	}
	if err := t.prepare(id, nv); err != nil {
		return err
	}
	return t.assign(id, nv)
}

// prepare materializes everything assign is going to touch, so that assign
// itself cannot fail halfway.
func (t *Tree) prepare(id NodeID, v any) error {
	n := t.node(id)
	switch n.kind {
	case scalarNode:
		return nil
	case complexNode:
		m, _ := v.(map[string]any)
		for _, f := range n.typ.(*schema.ComplexType).Fields() {
			c, _, err := t.child(id, f.Name)
			if err != nil {
				return err
			}
			if err := t.prepare(c, m[f.Name]); err != nil {
				return err
			}
		}
		return nil
	case listNode:
		_, err := t.Value(id)
		return err
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// assign stores an already normalized value. Every node written is marked
// dirty, even when the value is unchanged, and a pending delta is replaced.
func (t *Tree) assign(id NodeID, v any) error {
	n := t.node(id)
	switch n.kind {
	case scalarNode:
		n.value = v
		t.markDirty(id)
		return nil

	case complexNode:
		m, _ := v.(map[string]any)
		ct := n.typ.(*schema.ComplexType)
		for _, f := range ct.Fields() {
			c, _, err := t.child(id, f.Name)
			if err != nil {
				return err
			}
			if err := t.assign(c, m[f.Name]); err != nil {
				return err
			}
		}
		return nil

	case listNode:
		items, _ := v.([]any)
		return t.replaceItems(id, items)

	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// replaceItems discards every item of a list and creates new ones.
func (t *Tree) replaceItems(id NodeID, items []any) error {
	n := t.node(id)
	old := n.items
	itemType := n.typ.(*schema.ListType).ItemType()

	fresh := make([]NodeID, 0, len(items))
	for _, v := range items {
		c, err := t.newChild(id, "", nil, itemType, v)
		if err != nil {
			for _, c := range fresh {
				t.release(c)
			}
			return err
		}
		fresh = append(fresh, c)
	}
	for _, c := range old {
		t.release(c)
	}
	n = t.node(id)
	n.items = fresh
	n.loaded = true
	t.markDirty(id)
	return nil
}
