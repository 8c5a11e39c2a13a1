package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Definitions is the declarative source of a generation, usually loaded from
// YAML:
//
//	types:
//	  - name: blobItem
//	    fields:
//	      - {name: filename, type: string}
//	      - {name: blob, type: blob}
//	schemas:
//	  - name: dublincore
//	    prefix: dc
//	    fields:
//	      - {name: title, type: string}
//	      - {name: subjects, type: "string[]"}
//	doctypes:
//	  - name: File
//	    schemas: [common, dublincore]
//	    prefetch: [dc:title, icon]
type Definitions struct {
	Types    []TypeDef    `yaml:"types"`
	Schemas  []SchemaDef  `yaml:"schemas"`
	DocTypes []DocTypeDef `yaml:"doctypes"`
}

type TypeDef struct {
	Name   string     `yaml:"name"`
	Fields []FieldDef `yaml:"fields"`
}

// FieldDef declares a field. Type is a scalar name, a named complex type, or
// either of those with a "[]" suffix for a list. Inline Fields declare an
// anonymous complex type instead; List turns it into a list of that type.
type FieldDef struct {
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type,omitempty"`
	Fields      []FieldDef `yaml:"fields,omitempty"`
	List        bool       `yaml:"list,omitempty"`
	Restriction string     `yaml:"restriction,omitempty"`
}

type SchemaDef struct {
	Name   string     `yaml:"name"`
	Prefix string     `yaml:"prefix,omitempty"`
	Fields []FieldDef `yaml:"fields"`
}

type DocTypeDef struct {
	Name     string   `yaml:"name"`
	Schemas  []string `yaml:"schemas"`
	Prefetch []string `yaml:"prefetch,omitempty"`
}

func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("schema definitions: %w", err)
	}
	return &defs, nil
}

func LoadFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

type genBuilder struct {
	gen      *Generation
	typeDefs map[string]*TypeDef
	building map[string]bool
}

func buildGeneration(defs *Definitions, num uint64) (*Generation, error) {
	b := &genBuilder{
		gen:      emptyGeneration(),
		typeDefs: make(map[string]*TypeDef),
		building: make(map[string]bool),
	}
	b.gen.num = num

	for i := range defs.Types {
		td := &defs.Types[i]
		if td.Name == "" {
			return nil, fmt.Errorf("type #%d: name missing", i+1)
		}
		if ScalarTypeNamed(td.Name) != nil {
			return nil, fmt.Errorf("type %s: shadows a built-in scalar type", td.Name)
		}
		if b.typeDefs[td.Name] != nil {
			return nil, fmt.Errorf("type %s already defined", td.Name)
		}
		b.typeDefs[td.Name] = td
	}
	for i := range defs.Types {
		if _, err := b.namedComplex(defs.Types[i].Name); err != nil {
			return nil, err
		}
	}

	for _, sd := range defs.Schemas {
		if sd.Name == "" {
			return nil, fmt.Errorf("schema name missing")
		}
		if b.gen.schemas[sd.Name] != nil {
			return nil, fmt.Errorf("schema %s already defined", sd.Name)
		}
		root, err := b.complexFromFields(sd.Name, sd.Fields)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", sd.Name, err)
		}
		s := &Schema{name: sd.Name, prefix: sd.Prefix, root: root}
		if sd.Prefix != "" {
			if prior := b.gen.byPrefix[sd.Prefix]; prior != nil {
				return nil, fmt.Errorf("schema %s: prefix %q already used by %s", sd.Name, sd.Prefix, prior.name)
			}
			b.gen.byPrefix[sd.Prefix] = s
		}
		b.gen.schemas[sd.Name] = s
	}

	for _, dd := range defs.DocTypes {
		dt, err := b.docType(dd)
		if err != nil {
			return nil, fmt.Errorf("doctype %s: %w", dd.Name, err)
		}
		b.gen.docTypes[dt.name] = dt
	}
	return b.gen, nil
}

func (b *genBuilder) namedComplex(name string) (*ComplexType, error) {
	if ct := b.gen.types[name]; ct != nil {
		return ct, nil
	}
	td := b.typeDefs[name]
	if td == nil {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	if b.building[name] {
		return nil, fmt.Errorf("type %s refers to itself", name)
	}
	b.building[name] = true
	defer delete(b.building, name)

	ct, err := b.complexFromFields(name, td.Fields)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", name, err)
	}
	b.gen.types[name] = ct
	return ct, nil
}

func (b *genBuilder) complexFromFields(name string, defs []FieldDef) (*ComplexType, error) {
	ct := &ComplexType{
		name:   name,
		byName: make(map[string]*Field, len(defs)),
	}
	for _, fd := range defs {
		if fd.Name == "" {
			return nil, fmt.Errorf("field name missing")
		}
		if strings.ContainsAny(fd.Name, "/:[]*") {
			return nil, fmt.Errorf("invalid field name %q", fd.Name)
		}
		if ct.byName[fd.Name] != nil {
			return nil, fmt.Errorf("duplicate field %s", fd.Name)
		}
		f, err := b.field(name, fd)
		if err != nil {
			return nil, err
		}
		ct.addField(f)
	}
	return ct, nil
}

func (b *genBuilder) field(owner string, fd FieldDef) (*Field, error) {
	typ, err := b.fieldType(owner, fd)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fd.Name, err)
	}
	f := &Field{Name: fd.Name, Type: typ}
	if fd.Restriction != "" {
		if !IsLeaf(typ) {
			return nil, fmt.Errorf("field %s: restrictions only apply to scalars and arrays", fd.Name)
		}
		f.Restriction, err = CompileRestriction(fd.Restriction)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
	}
	return f, nil
}

func (b *genBuilder) fieldType(owner string, fd FieldDef) (Type, error) {
	if len(fd.Fields) > 0 {
		if fd.Type != "" {
			return nil, fmt.Errorf("both type and inline fields specified")
		}
		ct, err := b.complexFromFields(owner+"."+fd.Name, fd.Fields)
		if err != nil {
			return nil, err
		}
		if fd.List {
			return NewListType(ct), nil
		}
		return ct, nil
	}

	name := fd.Type
	if name == "" {
		return nil, fmt.Errorf("type missing")
	}
	isList := fd.List
	if base, ok := strings.CutSuffix(name, "[]"); ok {
		isList = true
		name = base
	}
	if strings.HasSuffix(name, "[]") {
		return nil, fmt.Errorf("lists of lists are not supported")
	}

	var item Type
	if st := ScalarTypeNamed(name); st != nil {
		item = st
	} else {
		ct, err := b.namedComplex(name)
		if err != nil {
			return nil, err
		}
		item = ct
	}
	if isList {
		return NewListType(item), nil
	}
	return item, nil
}

func (b *genBuilder) docType(dd DocTypeDef) (*DocType, error) {
	if dd.Name == "" {
		return nil, fmt.Errorf("name missing")
	}
	if b.gen.docTypes[dd.Name] != nil {
		return nil, fmt.Errorf("already defined")
	}
	dt := &DocType{name: dd.Name}
	for _, name := range dd.Schemas {
		s := b.gen.schemas[name]
		if s == nil {
			return nil, fmt.Errorf("unknown schema %q", name)
		}
		if dt.HasSchema(name) {
			return nil, fmt.Errorf("schema %s listed twice", name)
		}
		dt.schemas = append(dt.schemas, s)
	}
	for _, path := range dd.Prefetch {
		pf, err := resolvePrefetch(dt, path)
		if err != nil {
			return nil, fmt.Errorf("prefetch %s: %w", path, err)
		}
		dt.prefetch = append(dt.prefetch, pf)
	}
	return dt, nil
}

// resolvePrefetch validates a prefetch entry: it must name a scalar or an
// array reachable through complex fields only.
func resolvePrefetch(dt *DocType, qpath string) (PrefetchField, error) {
	q, rest, qualified := strings.Cut(qpath, ":")
	if !qualified {
		rest = q
	}
	segs := splitFieldPath(rest)
	if len(segs) == 0 {
		return PrefetchField{}, fmt.Errorf("empty path")
	}
	var s *Schema
	if qualified {
		s = dt.SchemaByQualifier(q)
	} else {
		s = dt.SchemaForUnprefixed(segs[0])
	}
	if s == nil {
		return PrefetchField{}, fmt.Errorf("no such schema in doctype")
	}

	var typ Type = s.root
	for _, seg := range segs {
		ct, ok := typ.(*ComplexType)
		if !ok {
			return PrefetchField{}, fmt.Errorf("segment %s is not in a complex type", seg)
		}
		f := ct.Field(seg)
		if f == nil {
			return PrefetchField{}, fmt.Errorf("segment %s cannot be resolved", seg)
		}
		typ = f.Type
	}
	if !IsLeaf(typ) {
		return PrefetchField{}, fmt.Errorf("only scalars and arrays can be prefetched, got %s", typ.Name())
	}
	return PrefetchField{Schema: s, Path: strings.Join(segs, "/")}, nil
}
