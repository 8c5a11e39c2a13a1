package docprops

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/andreyvit/docprops/prop"
	"github.com/andreyvit/docprops/schema"
)

// Document is one session's private snapshot of a stored document. Parts are
// materialized from the store on first access to each schema.
type Document struct {
	session  *Session
	header   DocumentHeader
	gen      *schema.Generation
	docType  *schema.DocType
	isNew    bool
	removed  bool
	parts    map[string]*prop.Tree
	prefetch prefetchCache
}

func newDocument(s *Session, h DocumentHeader, gen *schema.Generation, dt *schema.DocType, isNew bool) *Document {
	return &Document{
		session: s,
		header:  h,
		gen:     gen,
		docType: dt,
		isNew:   isNew,
		parts:   make(map[string]*prop.Tree),
		prefetch: prefetchCache{
			logger:  s.repo.logger,
			verbose: s.repo.verbose,
			docID:   h.ID,
		},
	}
}

func (d *Document) ID() string               { return d.header.ID }
func (d *Document) Type() string             { return d.header.Type }
func (d *Document) Created() time.Time       { return d.header.Created }
func (d *Document) Modified() time.Time      { return d.header.Modified }
func (d *Document) IsNew() bool              { return d.isNew }
func (d *Document) DocType() *schema.DocType { return d.docType }

// lookup finds a schema of the document's type, falling back to the type as
// defined by the registry's current generation for schemas added since the
// document was loaded.
func (d *Document) lookup(find func(dt *schema.DocType) *schema.Schema) (*schema.Schema, *schema.Generation) {
	if s := find(d.docType); s != nil {
		return s, d.gen
	}
	cur := d.session.repo.reg.Current()
	if cur.Num() == d.gen.Num() {
		return nil, nil
	}
	dt := cur.DocType(d.docType.Name())
	if dt == nil {
		return nil, nil
	}
	if s := find(dt); s != nil {
		return s, cur
	}
	return nil, nil
}

// Part returns the property tree of one of the document's schemas, by name or
// prefix. The tree is created unmaterialized.
func (d *Document) Part(schemaName string) (*prop.Tree, error) {
	s, gen := d.lookup(func(dt *schema.DocType) *schema.Schema {
		return dt.SchemaByQualifier(schemaName)
	})
	if s == nil {
		return nil, &PropertyNotFoundError{Path: schemaName + ":", Detail: "No such schema"}
	}
	return d.part(s, gen), nil
}

func (d *Document) part(s *schema.Schema, gen *schema.Generation) *prop.Tree {
	if t := d.parts[s.Name()]; t != nil {
		return t
	}
	name := s.Name()
	repo := d.session.repo
	t := prop.NewTree(prop.Options{
		DocID:      d.header.ID,
		Schema:     s,
		Generation: gen,
		Registry:   repo.reg,
		Loader:     repo.store,
		New:        d.isNew,
		OnMaterialize: func() {
			d.prefetch.invalidate(name)
		},
		Logger:  repo.logger,
		Verbose: repo.verbose,
	})
	d.parts[name] = t
	return t
}

// locate splits a caller path into the part it addresses and the canonical
// segments within that part.
func (d *Document) locate(path string) (*prop.Tree, []string, error) {
	if d.removed {
		return nil, nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, d.header.ID)
	}
	q, rest := prop.SplitQualified(path)
	segs := prop.Segments(rest)
	var s *schema.Schema
	var gen *schema.Generation
	if q != "" {
		s, gen = d.lookup(func(dt *schema.DocType) *schema.Schema {
			return dt.SchemaByQualifier(q)
		})
		if s == nil {
			return nil, nil, &PropertyNotFoundError{Path: path, Detail: "No such schema"}
		}
	} else {
		if len(segs) == 0 {
			return nil, nil, &PropertyNotFoundError{Path: path}
		}
		s, gen = d.lookup(func(dt *schema.DocType) *schema.Schema {
			return dt.SchemaForUnprefixed(segs[0])
		})
		if s == nil {
			return nil, nil, &PropertyNotFoundError{Path: path}
		}
	}
	return d.part(s, gen), segs, nil
}

// GetValue reads the value at path, which is either "prefix:field/..." or an
// unprefixed field of a prefix-less schema. Prefetched fields are served
// without materializing their part. See prop.Tree.Value for value shapes.
func (d *Document) GetValue(path string) (any, error) {
	part, segs, err := d.locate(path)
	if err != nil {
		return nil, err
	}
	if v, ok := d.prefetch.get(part.Schema().Name(), strings.Join(segs, "/")); ok {
		return v, nil
	}
	id, err := part.ResolveSegments(path, segs)
	if err != nil {
		return nil, err
	}
	return part.Value(id)
}

// GetProperty reads a field given its schema (by name or prefix) and its path
// within the schema.
func (d *Document) GetProperty(schemaName, field string) (any, error) {
	return d.GetValue(schemaName + ":" + field)
}

// GetValues reads every value matched by a path with `*` segments.
func (d *Document) GetValues(path string) ([]any, error) {
	part, segs, err := d.locate(path)
	if err != nil {
		return nil, err
	}
	ids, err := part.ResolveAllSegments(path, segs)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		v, err := part.Value(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// SetValue writes v at path. Writing a prop.Delta to a long field records an
// increment instead of overwriting.
func (d *Document) SetValue(path string, v any) error {
	part, segs, err := d.locate(path)
	if err != nil {
		return err
	}
	id, err := part.ResolveSegments(path, segs)
	if err != nil {
		return err
	}
	if err := part.SetValue(id, v); err != nil {
		return err
	}
	d.prefetch.invalidate(part.Schema().Name())
	return nil
}

func (d *Document) SetProperty(schemaName, field string, v any) error {
	return d.SetValue(schemaName+":"+field, v)
}

// IsDirty reports whether any part has changes to persist.
func (d *Document) IsDirty() bool {
	for _, t := range d.parts {
		if t.IsModified() {
			return true
		}
	}
	return false
}

func (d *Document) IsPathDirty(path string) (bool, error) {
	part, segs, err := d.locate(path)
	if err != nil {
		return false, err
	}
	id, err := part.ResolveSegments(path, segs)
	if err != nil {
		return false, err
	}
	return part.IsDirty(id), nil
}

// IsPrefetched reports whether path is currently served from the prefetch
// cache.
func (d *Document) IsPrefetched(path string) bool {
	part, segs, err := d.locate(path)
	if err != nil {
		return false
	}
	return d.prefetch.has(part.Schema().Name(), strings.Join(segs, "/"))
}

func (d *Document) IsPrefetchedField(schemaName, field string) bool {
	return d.IsPrefetched(schemaName + ":" + field)
}

// SameAs compares one schema part of two documents structurally.
func (d *Document) SameAs(other *Document, schemaName string) (bool, error) {
	a, err := d.Part(schemaName)
	if err != nil {
		return false, err
	}
	b, err := other.Part(schemaName)
	if err != nil {
		return false, err
	}
	return a.Equal(b)
}

// OpenBlob opens the content referenced by the blob property at path. The
// filename is the resolver's, or the one recorded in the reference.
func (d *Document) OpenBlob(path string) (io.ReadCloser, string, error) {
	v, err := d.GetValue(path)
	if err != nil {
		return nil, "", err
	}
	if v == nil {
		return nil, "", fmt.Errorf("%w: %s is unset", ErrBlobNotFound, path)
	}
	ref, ok := v.(prop.BlobRef)
	if !ok {
		return nil, "", fmt.Errorf("docprops: %s holds %T, not a blob", path, v)
	}
	res, err := d.session.repo.resolver(ref.URI)
	if err != nil {
		return nil, "", err
	}
	r, filename, err := res.Resolve(ref.URI)
	if err != nil {
		return nil, "", err
	}
	if filename == "" {
		filename = ref.Filename
	}
	return r, filename, nil
}

// dirtyParts returns the modified parts in schema name order.
func (d *Document) dirtyParts() []*prop.Tree {
	var out []*prop.Tree
	for _, name := range slices.Sorted(maps.Keys(d.parts)) {
		if t := d.parts[name]; t.IsModified() {
			out = append(out, t)
		}
	}
	return out
}

// Dump describes the materialized state of the document.
func (d *Document) Dump() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s", d.header.Type, d.header.ID)
	if d.isNew {
		buf.WriteString(" (new)")
	}
	buf.WriteByte('\n')
	keys := slices.SortedFunc(maps.Keys(d.prefetch.entries), func(a, b prefetchKey) int {
		return strings.Compare(a.schema+":"+a.path, b.schema+":"+b.path)
	})
	for _, k := range keys {
		fmt.Fprintf(&buf, "prefetch %s:%s = %v\n", k.schema, k.path, d.prefetch.entries[k].value)
	}
	for _, name := range slices.Sorted(maps.Keys(d.parts)) {
		d.parts[name].Dump(&buf)
	}
	return buf.String()
}
