// Package schema is the type registry of document properties: scalar, list
// and complex types, the schemas and document types built from them, and
// generations of those definitions that can be reloaded at runtime.
package schema

import (
	"fmt"
	"strings"
)

type Variant int

const (
	VariantScalar Variant = iota + 1
	VariantList
	VariantComplex
)

func (v Variant) String() string {
	switch v {
	case VariantScalar:
		return "scalar"
	case VariantList:
		return "list"
	case VariantComplex:
		return "complex"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Kind enumerates primitive scalar kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindString
	KindLong
	KindBoolean
	KindDate
	KindDouble
	KindBlob
)

var kindNames = [...]string{
	KindUnknown: "unknown",
	KindString:  "string",
	KindLong:    "long",
	KindBoolean: "boolean",
	KindDate:    "date",
	KindDouble:  "double",
	KindBlob:    "blob",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is one of *ScalarType, *ListType or *ComplexType. Types are immutable
// once their generation is built and are shared by every tree of that
// generation.
type Type interface {
	Name() string
	String() string
	Variant() Variant
	markerIsType()
}

type ScalarType struct {
	name string
	kind Kind
}

func (typ *ScalarType) Name() string     { return typ.name }
func (typ *ScalarType) String() string   { return typ.name }
func (typ *ScalarType) Variant() Variant { return VariantScalar }
func (typ *ScalarType) Kind() Kind       { return typ.kind }
func (*ScalarType) markerIsType()        {}

var (
	TString  = &ScalarType{"string", KindString}
	TLong    = &ScalarType{"long", KindLong}
	TBoolean = &ScalarType{"boolean", KindBoolean}
	TDate    = &ScalarType{"date", KindDate}
	TDouble  = &ScalarType{"double", KindDouble}
	TBlob    = &ScalarType{"blob", KindBlob}
)

var scalarTypesByName = map[string]*ScalarType{
	"string":   TString,
	"long":     TLong,
	"integer":  TLong,
	"int":      TLong,
	"boolean":  TBoolean,
	"date":     TDate,
	"double":   TDouble,
	"blob":     TBlob,
	"content":  TBlob,
	"datetime": TDate,
}

// ScalarTypeNamed returns a built-in scalar type by name, or nil.
func ScalarTypeNamed(name string) *ScalarType {
	return scalarTypesByName[name]
}

type ListType struct {
	name string
	item Type
}

func NewListType(item Type) *ListType {
	return &ListType{
		name: item.Name() + "[]",
		item: item,
	}
}

func (typ *ListType) Name() string     { return typ.name }
func (typ *ListType) String() string   { return typ.name }
func (typ *ListType) Variant() Variant { return VariantList }
func (typ *ListType) ItemType() Type   { return typ.item }
func (*ListType) markerIsType()        {}

// IsArray reports whether this is a list of scalars. Arrays are stored and
// read as a single leaf value rather than as a container of nodes.
func (typ *ListType) IsArray() bool {
	return typ.item.Variant() == VariantScalar
}

// ItemKind returns the scalar kind of an array's items.
func (typ *ListType) ItemKind() Kind {
	if st, ok := typ.item.(*ScalarType); ok {
		return st.kind
	}
	return KindUnknown
}

type ComplexType struct {
	name   string
	fields []*Field
	byName map[string]*Field
}

func NewComplexType(name string, fields ...*Field) *ComplexType {
	typ := &ComplexType{
		name:   name,
		byName: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		typ.addField(f)
	}
	return typ
}

func (typ *ComplexType) addField(f *Field) {
	if f.Name == "" {
		panic("field name missing")
	}
	if typ.byName[f.Name] != nil {
		panic(fmt.Sprintf("type %s already has field %s", typ.name, f.Name))
	}
	typ.fields = append(typ.fields, f)
	typ.byName[f.Name] = f
}

func (typ *ComplexType) Name() string     { return typ.name }
func (typ *ComplexType) String() string   { return typ.name }
func (typ *ComplexType) Variant() Variant { return VariantComplex }
func (*ComplexType) markerIsType()        {}

// Fields returns the declared fields in declaration order.
func (typ *ComplexType) Fields() []*Field {
	return typ.fields
}

func (typ *ComplexType) Field(name string) *Field {
	return typ.byName[name]
}

func (typ *ComplexType) FieldNames() []string {
	names := make([]string, len(typ.fields))
	for i, f := range typ.fields {
		names[i] = f.Name
	}
	return names
}

type Field struct {
	Name        string
	Type        Type
	Restriction *Restriction
}

func (f *Field) String() string {
	var buf strings.Builder
	buf.WriteString(f.Name)
	buf.WriteByte(':')
	buf.WriteString(f.Type.Name())
	return buf.String()
}

// IsLeaf reports whether values of typ are stored as a single value in the
// property tree: scalars and arrays of scalars.
func IsLeaf(typ Type) bool {
	switch typ := typ.(type) {
	case *ScalarType:
		return true
	case *ListType:
		return typ.IsArray()
	case *ComplexType:
		return false
	default:
		panic(fmt.Sprintf("unexpected type %T", typ))
	}
}
