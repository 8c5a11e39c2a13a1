package docprops

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/andreyvit/docprops/schema"
)

const testDefs = `
types:
  - name: blobItem
    fields:
      - {name: filename, type: string}
      - {name: blob, type: blob}
schemas:
  - name: testproperties
    prefix: tp
    fields:
      - {name: string, type: string}
      - {name: count, type: long}
      - {name: file, type: blob}
      - {name: stringArray, type: "string[]"}
      - {name: fileList, type: "blobItem[]"}
      - name: complex
        fields:
          - {name: string, type: string}
          - {name: int, type: long}
      - name: complexList
        list: true
        fields:
          - {name: string, type: string}
          - {name: int, type: long}
          - {name: tags, type: "string[]"}
  - name: dublincore
    prefix: dc
    fields:
      - {name: title, type: string}
      - {name: description, type: string}
      - {name: subjects, type: "string[]"}
  - name: common
    fields:
      - {name: icon, type: string}
      - {name: size, type: long}
doctypes:
  - name: File
    schemas: [common, dublincore, testproperties]
    prefetch: [dc:title, dc:subjects, icon]
  - name: Note
    schemas: [common]
  - name: Book
    schemas: [testproperties]
    prefetch: [tp:complex/string, tp:string]
`

// reloadedDefs adds a field to testproperties and a whole schema to File.
var reloadedDefs = strings.NewReplacer(
	"      - {name: count, type: long}\n",
	"      - {name: count, type: long}\n      - {name: newField, type: string}\n",
	"doctypes:\n",
	"  - name: extra\n    prefix: ex\n    fields:\n      - {name: note, type: string}\ndoctypes:\n",
	"schemas: [common, dublincore, testproperties]",
	"schemas: [common, dublincore, testproperties, extra]",
).Replace(testDefs)

func newRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	if _, err := reg.LoadYAML([]byte(testDefs)); err != nil {
		t.Fatal(err)
	}
	return reg
}

func setup(t testing.TB, reg *schema.Registry) *Repository {
	t.Helper()

	dbFile := must(os.CreateTemp("", "docprops_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	repo := must(Open(dbFile.Name(), reg, Options{
		IsTesting: true,
	}))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func setupMemory(t testing.TB, reg *schema.Registry) *Repository {
	t.Helper()
	repo := must(OpenMemory(reg, Options{IsTesting: true}))
	t.Cleanup(func() { repo.Close() })
	return repo
}

// forEachBackend runs f against a fresh Bolt-backed and a fresh in-memory
// repository.
func forEachBackend(t *testing.T, f func(t *testing.T, repo *Repository)) {
	t.Run("bolt", func(t *testing.T) {
		f(t, setup(t, newRegistry(t)))
	})
	t.Run("memory", func(t *testing.T) {
		f(t, setupMemory(t, newRegistry(t)))
	})
}

// faultyStore counts write transactions and can fail them after the callback
// has run, so that the whole batch is rolled back.
type faultyStore struct {
	Store
	writes int
	fail   error
}

func (s *faultyStore) Write(f func(w StoreWriter) error) error {
	s.writes++
	return s.Store.Write(func(w StoreWriter) error {
		if err := f(w); err != nil {
			return err
		}
		return s.fail
	})
}

func setupFaulty(t testing.TB) (*Repository, *faultyStore) {
	t.Helper()
	kv := must(newKVStore(newMemStorage(), slog.Default(), false))
	fs := &faultyStore{Store: kv}
	repo := NewRepository(fs, newRegistry(t), Options{})
	t.Cleanup(func() { repo.Close() })
	return repo, fs
}

// createFile stores a new File document prepared by init and returns its id.
func createFile(t testing.TB, repo *Repository, init func(d *Document)) string {
	t.Helper()
	sess := repo.NewSession()
	defer sess.Close()
	doc := must(sess.CreateDocument("File"))
	if init != nil {
		init(doc)
	}
	ensure(t, sess.Save())
	return doc.ID()
}

func load(t testing.TB, repo *Repository, id string) *Document {
	t.Helper()
	doc, err := repo.NewSession().GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument(%s): %v", id, err)
	}
	return doc
}

func get(t testing.TB, doc *Document, path string) any {
	t.Helper()
	v, err := doc.GetValue(path)
	if err != nil {
		t.Fatalf("GetValue(%q): %v", path, err)
	}
	return v
}

func set(t testing.TB, doc *Document, path string, v any) {
	t.Helper()
	if err := doc.SetValue(path, v); err != nil {
		t.Fatalf("SetValue(%q): %v", path, err)
	}
}

func notFound(t testing.TB, err error) *PropertyNotFoundError {
	t.Helper()
	var nf *PropertyNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("** got %v, wanted PropertyNotFoundError", err)
	}
	if !errors.Is(err, ErrPropertyNotFound) {
		t.Fatalf("** %v does not match ErrPropertyNotFound", err)
	}
	return nf
}

func ensure(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatal(err)
	}
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

// same compares property values, treating unset arrays and empty ones alike.
func same(t testing.TB, a, e any) {
	if diff := cmp.Diff(e, a, cmpopts.EquateEmpty()); diff != "" {
		t.Helper()
		t.Errorf("** mismatch (-wanted +got):\n%s", diff)
	}
}
