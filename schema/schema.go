package schema

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var ErrTypeNotFound = errors.New("type not found")

// Schema is a named collection of declared fields usable as a document facet.
type Schema struct {
	name   string
	prefix string
	root   *ComplexType
}

func (s *Schema) Name() string { return s.name }

// Prefix returns the qualifier used in paths like "dc:title". Empty for
// schemas whose fields are addressed without a prefix.
func (s *Schema) Prefix() string     { return s.prefix }
func (s *Schema) Root() *ComplexType { return s.root }
func (s *Schema) Field(name string) *Field {
	return s.root.Field(name)
}

func (s *Schema) String() string {
	if s.prefix == "" {
		return s.name
	}
	return s.name + "(" + s.prefix + ")"
}

// PrefetchField is a field of a document type that is eagerly loaded with
// the document.
type PrefetchField struct {
	Schema *Schema
	Path   string // canonical path within the schema
}

func (pf PrefetchField) String() string {
	return pf.Schema.name + ":" + pf.Path
}

type DocType struct {
	name     string
	schemas  []*Schema
	prefetch []PrefetchField
}

func (dt *DocType) Name() string              { return dt.name }
func (dt *DocType) Schemas() []*Schema        { return dt.schemas }
func (dt *DocType) Prefetch() []PrefetchField { return dt.prefetch }

func (dt *DocType) HasSchema(name string) bool {
	return slices.ContainsFunc(dt.schemas, func(s *Schema) bool { return s.name == name })
}

// SchemaByQualifier finds one of the document type's schemas by prefix or by
// schema name.
func (dt *DocType) SchemaByQualifier(q string) *Schema {
	for _, s := range dt.schemas {
		if s.prefix != "" && s.prefix == q {
			return s
		}
	}
	for _, s := range dt.schemas {
		if s.name == q {
			return s
		}
	}
	return nil
}

// SchemaForUnprefixed finds the prefix-less schema declaring a top-level
// field with the given name.
func (dt *DocType) SchemaForUnprefixed(field string) *Schema {
	for _, s := range dt.schemas {
		if s.prefix == "" && s.root.Field(field) != nil {
			return s
		}
	}
	return nil
}

// Generation is an immutable snapshot of all schemas and document types.
// Reloading definitions produces a new generation; trees keep referencing the
// generation they were built against.
type Generation struct {
	num      uint64
	schemas  map[string]*Schema
	byPrefix map[string]*Schema
	docTypes map[string]*DocType
	types    map[string]*ComplexType
}

func emptyGeneration() *Generation {
	return &Generation{
		schemas:  make(map[string]*Schema),
		byPrefix: make(map[string]*Schema),
		docTypes: make(map[string]*DocType),
		types:    make(map[string]*ComplexType),
	}
}

func (g *Generation) Num() uint64 { return g.num }

func (g *Generation) Schema(name string) *Schema {
	return g.schemas[name]
}

// SchemaByQualifier finds a schema by prefix or by name.
func (g *Generation) SchemaByQualifier(q string) *Schema {
	if s := g.byPrefix[q]; s != nil {
		return s
	}
	return g.schemas[q]
}

func (g *Generation) DocType(name string) *DocType {
	return g.docTypes[name]
}

// ComplexType returns a named complex type from the types section.
func (g *Generation) ComplexType(name string) *ComplexType {
	return g.types[name]
}

func (g *Generation) SchemaNames() []string {
	names := make([]string, 0, len(g.schemas))
	for name := range g.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TypeOf resolves a field path within a schema to its static type. The path
// may use slashes or dots as separators. Numeric, `*` and `name[expr]`
// segments step into a list's item type.
func (g *Generation) TypeOf(schemaName, fieldPath string) (Type, error) {
	s := g.schemas[schemaName]
	if s == nil {
		return nil, fmt.Errorf("%w: no such schema %q", ErrTypeNotFound, schemaName)
	}
	if fieldPath == "" {
		return s.root, nil
	}
	var typ Type = s.root
	for _, seg := range splitFieldPath(fieldPath) {
		if _, expr, ok := splitBracket(seg); ok {
			lt, ok := typ.(*ListType)
			if !ok {
				return nil, fmt.Errorf("%w: %s:%s: segment %s cannot be resolved", ErrTypeNotFound, schemaName, fieldPath, seg)
			}
			if !isIndexOrWildcard(expr) {
				return nil, fmt.Errorf("%w: %s:%s: segment %s cannot be resolved", ErrTypeNotFound, schemaName, fieldPath, seg)
			}
			typ = lt.item
			continue
		}
		switch t := typ.(type) {
		case *ComplexType:
			f := t.Field(seg)
			if f == nil {
				return nil, fmt.Errorf("%w: %s:%s: segment %s cannot be resolved", ErrTypeNotFound, schemaName, fieldPath, seg)
			}
			typ = f.Type
		case *ListType:
			if !isIndexOrWildcard(seg) {
				return nil, fmt.Errorf("%w: %s:%s: segment %s cannot be resolved", ErrTypeNotFound, schemaName, fieldPath, seg)
			}
			typ = t.item
		case *ScalarType:
			return nil, fmt.Errorf("%w: %s:%s: segment %s cannot be resolved", ErrTypeNotFound, schemaName, fieldPath, seg)
		default:
			panic(fmt.Sprintf("unexpected type %T", t))
		}
	}
	return typ, nil
}

func splitFieldPath(path string) []string {
	path = strings.TrimLeft(path, "/")
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '.'
	})
}

func splitBracket(seg string) (name, expr string, ok bool) {
	i := strings.IndexByte(seg, '[')
	if i < 0 || !strings.HasSuffix(seg, "]") {
		return "", "", false
	}
	return seg[:i], seg[i+1 : len(seg)-1], true
}

func isIndexOrWildcard(s string) bool {
	if s == "*" {
		return true
	}
	_, err := strconv.ParseUint(s, 10, 31)
	return err == nil
}
