package prop

import "fmt"

// Resolve walks a path relative to the part root, materializing containers
// as needed. Errors carry path exactly as given.
func (t *Tree) Resolve(path string) (NodeID, error) {
	return t.ResolveSegments(path, Segments(path))
}

// ResolveSegments resolves already canonical segments, reporting errors
// against orig.
func (t *Tree) ResolveSegments(orig string, segs []string) (NodeID, error) {
	id := t.Root()
	for _, seg := range segs {
		next, err := t.step(orig, id, seg)
		if err != nil {
			return NoNode, err
		}
		id = next
	}
	return id, nil
}

// ResolveAll is Resolve that expands `*` segments over every list item, in
// order. A wildcard over an empty list yields no nodes.
func (t *Tree) ResolveAll(path string) ([]NodeID, error) {
	return t.ResolveAllSegments(path, Segments(path))
}

// ResolveAllSegments is ResolveAll over canonical segments, reporting errors
// against orig.
func (t *Tree) ResolveAllSegments(orig string, segs []string) ([]NodeID, error) {
	frontier := []NodeID{t.Root()}
	for _, seg := range segs {
		var next []NodeID
		for _, id := range frontier {
			if seg == Wildcard {
				n := t.node(id)
				if n.kind != listNode {
					return nil, segmentNotFound(orig, seg)
				}
				if err := t.materialize(id); err != nil {
					return nil, err
				}
				next = append(next, t.node(id).items...)
				continue
			}
			c, err := t.step(orig, id, seg)
			if err != nil {
				return nil, err
			}
			next = append(next, c)
		}
		frontier = next
	}
	return frontier, nil
}

func (t *Tree) step(orig string, id NodeID, seg string) (NodeID, error) {
	n := t.node(id)
	switch n.kind {
	case complexNode:
		c, ok, err := t.child(id, seg)
		if err != nil {
			return NoNode, err
		}
		if !ok {
			return NoNode, segmentNotFound(orig, seg)
		}
		return c, nil

	case listNode:
		idx, ok := parseIndex(seg)
		if !ok {
			return NoNode, segmentNotFound(orig, seg)
		}
		if err := t.materialize(id); err != nil {
			return NoNode, err
		}
		n = t.node(id)
		if idx >= len(n.items) {
			return NoNode, segmentNotFound(orig, seg)
		}
		return n.items[idx], nil

	case scalarNode:
		return NoNode, segmentNotFound(orig, seg)

	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// Len returns the number of items of a list node.
func (t *Tree) Len(id NodeID) (int, error) {
	if err := t.materialize(id); err != nil {
		return 0, err
	}
	n := t.node(id)
	if n.kind != listNode {
		return 0, fmt.Errorf("prop: %q is not a list", t.Path(id))
	}
	return len(n.items), nil
}
