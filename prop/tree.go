// Package prop implements the per-document property tree: a typed value
// hierarchy rooted at one schema, materialized lazily from a backing store,
// addressed by slash paths, with dirty tracking and pending increments.
//
// A Tree is not safe for concurrent use. Each session materializes its own.
package prop

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/andreyvit/docprops/schema"
)

// Loader fetches stored data for lazily materialized containers. The tree
// takes ownership of the returned maps and slices.
type Loader interface {
	// LoadPart returns the stored record of one schema part, or nil if the
	// document has never stored anything for it. Lists that are not nested
	// inside another list are not part of this record.
	LoadPart(docID, schemaName string) (map[string]any, error)

	// LoadList returns the items of a list whose path has no list ancestor.
	LoadList(docID, schemaName, listPath string) ([]any, error)
}

type NodeID int32

const NoNode NodeID = -1

type nodeKind uint8

const (
	scalarNode nodeKind = iota + 1
	listNode
	complexNode
)

func kindOf(typ schema.Type) nodeKind {
	switch typ := typ.(type) {
	case *schema.ScalarType:
		return scalarNode
	case *schema.ListType:
		if typ.IsArray() {
			return scalarNode
		}
		return listNode
	case *schema.ComplexType:
		return complexNode
	default:
		panic(fmt.Sprintf("unexpected type %T", typ))
	}
}

type node struct {
	kind   nodeKind
	parent NodeID
	name   string // field name; empty for the root and list items
	typ    schema.Type
	field  *schema.Field

	dirty  bool
	loaded bool
	inList bool // has a list ancestor, so its data is stored inline
	free   bool

	value    any            // scalarNode: normalized value or Delta
	raw      map[string]any // complexNode: stored data of children not yet created
	children map[string]NodeID
	items    []NodeID // listNode
}

type Options struct {
	DocID      string
	Schema     *schema.Schema
	Generation *schema.Generation

	// Registry, when set, is consulted for fields missing from Generation.
	Registry *schema.Registry

	Loader Loader

	// New marks a document that has never been stored. Its containers start
	// empty and never hit the Loader.
	New bool

	// OnMaterialize is called once the root part has been loaded.
	OnMaterialize func()

	Logger  *slog.Logger
	Verbose bool
}

// Tree is one document part: the root complex node of a schema within a
// document, plus every node materialized under it.
type Tree struct {
	docID  string
	schema *schema.Schema
	gen    *schema.Generation
	reg    *schema.Registry
	loader Loader
	isNew  bool

	onMaterialize func()
	logger        *slog.Logger
	verbose       bool

	nodes []node
	free  []NodeID
}

func NewTree(o Options) *Tree {
	if o.Schema == nil {
		panic("prop: Options.Schema is nil")
	}
	if o.Generation == nil {
		panic("prop: Options.Generation is nil")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	t := &Tree{
		docID:         o.DocID,
		schema:        o.Schema,
		gen:           o.Generation,
		reg:           o.Registry,
		loader:        o.Loader,
		isNew:         o.New,
		onMaterialize: o.OnMaterialize,
		logger:        o.Logger,
		verbose:       o.Verbose,
	}
	t.alloc(node{
		kind:   complexNode,
		parent: NoNode,
		typ:    o.Schema.Root(),
	})
	return t
}

func (t *Tree) DocID() string                  { return t.docID }
func (t *Tree) Schema() *schema.Schema         { return t.schema }
func (t *Tree) Generation() *schema.Generation { return t.gen }
func (t *Tree) Root() NodeID                   { return 0 }

// IsNew reports whether the part has never been persisted.
func (t *Tree) IsNew() bool { return t.isNew }

// IsMaterialized reports whether the root part has been loaded.
func (t *Tree) IsMaterialized() bool { return t.nodes[0].loaded }

func (t *Tree) alloc(n node) NodeID {
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// release returns the subtree rooted at id to the free list.
func (t *Tree) release(id NodeID) {
	n := &t.nodes[id]
	switch n.kind {
	case scalarNode:
	case complexNode:
		for _, c := range n.children {
			t.release(c)
		}
	case listNode:
		for _, c := range n.items {
			t.release(c)
		}
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
	t.nodes[id] = node{free: true, parent: NoNode}
	t.free = append(t.free, id)
}

func (t *Tree) node(id NodeID) *node {
	if id < 0 || int(id) >= len(t.nodes) || t.nodes[id].free {
		panic(fmt.Sprintf("prop: invalid node %d", id))
	}
	return &t.nodes[id]
}

func (t *Tree) Type(id NodeID) schema.Type   { return t.node(id).typ }
func (t *Tree) Field(id NodeID) *schema.Field { return t.node(id).field }
func (t *Tree) Parent(id NodeID) NodeID      { return t.node(id).parent }

// Path returns the canonical path of a node relative to the part root.
func (t *Tree) Path(id NodeID) string {
	n := t.node(id)
	if n.parent == NoNode {
		return ""
	}
	p := t.node(n.parent)
	var seg string
	switch p.kind {
	case complexNode:
		seg = n.name
	case listNode:
		seg = strconv.Itoa(t.indexOf(p, id))
	default:
		panic(fmt.Sprintf("unexpected parent kind %d", p.kind))
	}
	return joinPath(t.Path(n.parent), seg)
}

func (t *Tree) indexOf(list *node, id NodeID) int {
	for i, c := range list.items {
		if c == id {
			return i
		}
	}
	panic(fmt.Sprintf("prop: node %d not found in its list", id))
}

// materialize loads a container's data on first traversal. Materialization
// never marks anything dirty.
func (t *Tree) materialize(id NodeID) error {
	n := t.node(id)
	if n.loaded {
		return nil
	}
	switch n.kind {
	case complexNode:
		var raw map[string]any
		if !t.isNew && t.loader != nil {
			var err error
			raw, err = t.loader.LoadPart(t.docID, t.schema.Name())
			if err != nil {
				return &LoadError{DocID: t.docID, Schema: t.schema.Name(), Err: err}
			}
		}
		n = t.node(id)
		n.raw = raw
		n.loaded = true
		if t.verbose {
			t.logger.LogAttrs(context.Background(), slog.LevelDebug, "materialized part", slog.String("doc", t.docID), slog.String("schema", t.schema.Name()), slog.Int("fields", len(raw)))
		}
		if id == t.Root() && t.onMaterialize != nil {
			t.onMaterialize()
		}
		return nil

	case listNode:
		var raw []any
		if !t.isNew && t.loader != nil {
			path := t.Path(id)
			var err error
			raw, err = t.loader.LoadList(t.docID, t.schema.Name(), path)
			if err != nil {
				return &LoadError{DocID: t.docID, Schema: t.schema.Name(), Path: path, Err: err}
			}
		}
		return t.fillList(id, raw)

	case scalarNode:
		return nil
	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// fillList creates the item nodes of a list from stored data.
func (t *Tree) fillList(id NodeID, raw []any) error {
	itemType := t.node(id).typ.(*schema.ListType).ItemType()
	items := make([]NodeID, 0, len(raw))
	for i, v := range raw {
		c, err := t.newChild(id, "", nil, itemType, v)
		if err != nil {
			for _, c := range items {
				t.release(c)
			}
			return &LoadError{DocID: t.docID, Schema: t.schema.Name(), Path: joinPath(t.Path(id), strconv.Itoa(i)), Err: err}
		}
		items = append(items, c)
	}
	n := t.node(id)
	n.items = items
	n.loaded = true
	return nil
}

// newChild creates a node under parent from stored data v.
func (t *Tree) newChild(parent NodeID, name string, field *schema.Field, typ schema.Type, v any) (NodeID, error) {
	p := t.node(parent)
	inList := p.inList || p.kind == listNode
	n := node{
		kind:   kindOf(typ),
		parent: parent,
		name:   name,
		typ:    typ,
		field:  field,
		inList: inList,
	}
	switch n.kind {
	case scalarNode:
		nv, err := NormalizeStored(typ, v, name)
		if err != nil {
			return NoNode, err
		}
		n.value = nv
		n.loaded = true
		return t.alloc(n), nil

	case complexNode:
		if v != nil {
			m, ok := asMap(v)
			if !ok {
				return NoNode, fmt.Errorf("stored %T is not a %s", v, typ.Name())
			}
			n.raw = m
		}
		n.loaded = true
		return t.alloc(n), nil

	case listNode:
		id := t.alloc(n)
		if !inList && !t.isNew {
			// stored under its own key, loaded on first traversal
			return id, nil
		}
		var raw []any
		if v != nil {
			var ok bool
			raw, ok = asSlice(v)
			if !ok {
				t.release(id)
				return NoNode, fmt.Errorf("stored %T is not a %s", v, typ.Name())
			}
		}
		if err := t.fillList(id, raw); err != nil {
			t.release(id)
			return NoNode, err
		}
		return id, nil

	default:
		panic(fmt.Sprintf("unexpected node kind %d", n.kind))
	}
}

// child returns the node of a declared field of a complex node, creating it
// from stored data on first access. A field unknown to the tree's generation
// is looked up in the registry's current generation; ok is false if neither
// declares it.
func (t *Tree) child(id NodeID, name string) (NodeID, bool, error) {
	if err := t.materialize(id); err != nil {
		return NoNode, false, err
	}
	n := t.node(id)
	if c, found := n.children[name]; found {
		return c, true, nil
	}
	ct := n.typ.(*schema.ComplexType)
	f := ct.Field(name)
	if f == nil {
		var err error
		f, err = t.rebind(id, name)
		if f == nil || err != nil {
			return NoNode, false, err
		}
		n = t.node(id)
	}
	c, err := t.newChild(id, name, f, f.Type, n.raw[name])
	if err != nil {
		return NoNode, false, &LoadError{DocID: t.docID, Schema: t.schema.Name(), Path: joinPath(t.Path(id), name), Err: err}
	}
	n = t.node(id)
	if n.children == nil {
		n.children = make(map[string]NodeID)
	}
	n.children[name] = c
	delete(n.raw, name)
	return c, true, nil
}

// rebind re-resolves the type of a complex node against the current
// generation when the tree's own generation lacks the named field.
func (t *Tree) rebind(id NodeID, name string) (*schema.Field, error) {
	if t.reg == nil {
		return nil, nil
	}
	cur := t.reg.Current()
	if cur.Num() == t.gen.Num() {
		return nil, nil
	}
	if cur.Schema(t.schema.Name()) == nil {
		return nil, &StaleSchemaError{Schema: t.schema.Name(), Generation: t.gen.Num()}
	}
	path := t.Path(id)
	typ, err := cur.TypeOf(t.schema.Name(), path)
	if err != nil {
		return nil, nil
	}
	ct, ok := typ.(*schema.ComplexType)
	if !ok {
		return nil, nil
	}
	f := ct.Field(name)
	if f == nil {
		return nil, nil
	}
	t.node(id).typ = ct
	t.logger.LogAttrs(context.Background(), slog.LevelInfo, "re-resolved stale field", slog.String("doc", t.docID), slog.String("schema", t.schema.Name()), slog.String("path", joinPath(path, name)), slog.Uint64("gen", t.gen.Num()), slog.Uint64("current", cur.Num()))
	return f, nil
}

// StaleSchemaError is returned when a tree built against an older generation
// needs a field that only a newer generation could declare, but the newer
// generation no longer has the tree's schema at all.
type StaleSchemaError struct {
	Schema     string
	Generation uint64
}

func (e *StaleSchemaError) Error() string {
	return fmt.Sprintf("schema %s of generation %d no longer exists", e.Schema, e.Generation)
}
