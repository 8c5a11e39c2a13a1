package prop

import (
	"errors"
	"reflect"
	"testing"

	"github.com/andreyvit/docprops/schema"
)

const testDefs = `
schemas:
  - name: testproperties
    prefix: tp
    fields:
      - {name: string, type: string}
      - {name: count, type: long, restriction: "value >= 0"}
      - {name: shortstring, type: string, restriction: "len(value) <= 5"}
      - {name: stringArray, type: "string[]"}
      - {name: dateArray, type: "date[]"}
      - {name: ratio, type: double}
      - {name: flag, type: boolean}
      - {name: file, type: blob}
      - name: complex
        fields:
          - {name: string, type: string}
          - {name: int, type: long}
      - name: complexChain
        fields:
          - {name: string, type: string}
          - name: complex
            fields:
              - {name: string, type: string}
              - name: inner
                list: true
                fields: [{name: x, type: long}]
      - name: complexList
        list: true
        fields:
          - {name: string, type: string}
          - {name: int, type: long}
          - {name: tags, type: "string[]"}
          - name: sub
            list: true
            fields: [{name: x, type: long}]
`

type fakeLoader struct {
	parts map[string]map[string]any
	lists map[string][]any

	partLoads int
	listLoads int
	fail      error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		parts: make(map[string]map[string]any),
		lists: make(map[string][]any),
	}
}

func (l *fakeLoader) LoadPart(docID, schemaName string) (map[string]any, error) {
	l.partLoads++
	if l.fail != nil {
		return nil, l.fail
	}
	m, _ := clone(l.parts[schemaName]).(map[string]any)
	return m, nil
}

func (l *fakeLoader) LoadList(docID, schemaName, listPath string) ([]any, error) {
	l.listLoads++
	if l.fail != nil {
		return nil, l.fail
	}
	items, _ := clone(l.lists[schemaName+"\x00"+listPath]).([]any)
	return items, nil
}

// clone mimics a store decoding a fresh copy on every load.
func clone(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return nil
		}
		m := make(map[string]any, len(v))
		for k, fv := range v {
			m[k] = clone(fv)
		}
		return m
	case []any:
		if v == nil {
			return nil
		}
		s := make([]any, len(v))
		for i, iv := range v {
			s[i] = clone(iv)
		}
		return s
	default:
		return v
	}
}

// storedFixture is what a previously saved document looks like. Small ints
// use the narrow types msgpack decodes them into.
func storedFixture() *fakeLoader {
	l := newFakeLoader()
	l.parts["testproperties"] = map[string]any{
		"string":      "hello",
		"count":       int8(100),
		"stringArray": []any{"a", "b"},
		"complex":     map[string]any{"string": "cs", "int": uint16(700)},
		"complexChain": map[string]any{
			"string":  "chain",
			"complex": map[string]any{"string": "deep"},
		},
	}
	l.lists["testproperties\x00complexList"] = []any{
		map[string]any{"string": "one", "int": int8(1), "tags": []any{"t1", "t2"}, "sub": []any{map[string]any{"x": int8(5)}}},
		map[string]any{"string": "two"},
	}
	l.lists["testproperties\x00complexChain/complex/inner"] = []any{
		map[string]any{"x": int8(9)},
	}
	return l
}

func setup(t testing.TB) (*schema.Registry, *schema.Generation) {
	t.Helper()
	reg := schema.NewRegistry()
	gen, err := reg.LoadYAML([]byte(testDefs))
	if err != nil {
		t.Fatal(err)
	}
	return reg, gen
}

func openTree(t testing.TB, l Loader, isNew bool) *Tree {
	t.Helper()
	reg, gen := setup(t)
	return NewTree(Options{
		DocID:      "doc1",
		Schema:     gen.Schema("testproperties"),
		Generation: gen,
		Registry:   reg,
		Loader:     l,
		New:        isNew,
	})
}

func get(t testing.TB, tree *Tree, path string) any {
	t.Helper()
	v, err := tree.Get(path)
	if err != nil {
		t.Fatalf("Get(%q): %v", path, err)
	}
	return v
}

func set(t testing.TB, tree *Tree, path string, v any) {
	t.Helper()
	if err := tree.Set(path, v); err != nil {
		t.Fatalf("Set(%q): %v", path, err)
	}
}

func notFound(t testing.TB, err error) *NotFoundError {
	t.Helper()
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("** got %v, wanted NotFoundError", err)
	}
	if !errors.Is(err, ErrPropertyNotFound) {
		t.Fatalf("** %v does not match ErrPropertyNotFound", err)
	}
	return nf
}

func mismatch(t testing.TB, err error) *TypeMismatchError {
	t.Helper()
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("** got %v, wanted TypeMismatchError", err)
	}
	return tm
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func eq[T comparable](t testing.TB, a, e T) {
	if a != e {
		t.Helper()
		t.Fatalf("** got %v, wanted %v", a, e)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}
