package prop

// markDirty flags a node and its ancestors. Ancestors of a dirty node are
// always dirty, so the walk stops at the first one already flagged.
func (t *Tree) markDirty(id NodeID) {
	for id != NoNode {
		n := t.node(id)
		if n.dirty {
			return
		}
		n.dirty = true
		id = n.parent
	}
}

// IsDirty reports whether the node or anything under it was written since the
// tree was loaded or last committed.
func (t *Tree) IsDirty(id NodeID) bool {
	return t.node(id).dirty
}

// IsModified reports whether anything in the part needs persisting.
func (t *Tree) IsModified() bool {
	return t.nodes[0].dirty
}

// IsPathDirty resolves path and reports whether it is dirty. Resolving may
// materialize containers but never marks anything.
func (t *Tree) IsPathDirty(path string) (bool, error) {
	id, err := t.Resolve(path)
	if err != nil {
		return false, err
	}
	return t.IsDirty(id), nil
}

func (t *Tree) clearDirty() {
	for i := range t.nodes {
		t.nodes[i].dirty = false
	}
}
