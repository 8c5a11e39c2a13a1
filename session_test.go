package docprops

import (
	"errors"
	"testing"

	"github.com/andreyvit/docprops/prop"
)

func TestDeltaAppliesToStoredValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo *Repository) {
		id := createFile(t, repo, func(d *Document) {
			set(t, d, "tp:count", 100)
		})

		sess := repo.NewSession()
		doc := must(sess.GetDocument(id))
		set(t, doc, "tp:count", prop.Delta{Base: 1000, Delta: 123})
		d := get(t, doc, "tp:count").(prop.Delta)
		eq(t, d.Value(), int64(1123))

		ensure(t, sess.Save())
		eq(t, get(t, doc, "tp:count"), any(int64(223)))
		eq(t, get(t, load(t, repo, id), "tp:count"), any(int64(223)))
	})
}

func TestDeltasAccumulateAndNeverRepeat(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo *Repository) {
		id := createFile(t, repo, func(d *Document) {
			set(t, d, "tp:count", 100)
		})

		sess := repo.NewSession()
		doc := must(sess.GetDocument(id))
		set(t, doc, "tp:count", prop.Delta{Base: 1000, Delta: 123})
		set(t, doc, "tp:count", prop.Delta{Base: 1000, Delta: 50})
		eq(t, get(t, doc, "tp:count"), any(prop.Delta{Base: 1000, Delta: 173}))
		ensure(t, sess.Save())
		eq(t, get(t, doc, "tp:count"), any(int64(273)))

		// an unrelated save of the same part must not resend the increment
		set(t, doc, "tp:string", "other")
		ensure(t, sess.Save())
		set(t, doc, "tp:complex/string", "more")
		ensure(t, sess.Save())

		fresh := load(t, repo, id)
		eq(t, get(t, fresh, "tp:count"), any(int64(273)))
		eq(t, get(t, fresh, "tp:string"), any("other"))
	})
}

func TestDeltaOnUnsetFieldUsesBase(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	sess := repo.NewSession()
	doc := must(sess.CreateDocument("File"))
	set(t, doc, "tp:count", prop.Delta{Base: 40, Delta: 2})
	set(t, doc, "tp:complex/int", prop.Delta{Delta: 5})
	ensure(t, sess.Save())

	fresh := load(t, repo, doc.ID())
	eq(t, get(t, fresh, "tp:count"), any(int64(42)))
	eq(t, get(t, fresh, "tp:complex/int"), any(int64(5)))
}

func TestPlainWriteDiscardsDelta(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	id := createFile(t, repo, func(d *Document) {
		set(t, d, "tp:count", 100)
	})

	sess := repo.NewSession()
	doc := must(sess.GetDocument(id))
	set(t, doc, "tp:count", prop.Delta{Base: 100, Delta: 5})
	set(t, doc, "tp:count", 7)
	ensure(t, sess.Save())
	eq(t, get(t, load(t, repo, id), "tp:count"), any(int64(7)))
}

func TestConcurrentDeltasAreAdditive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo *Repository) {
		id := createFile(t, repo, func(d *Document) {
			set(t, d, "tp:count", 100)
		})

		a, b := repo.NewSession(), repo.NewSession()
		docA := must(a.GetDocument(id))
		docB := must(b.GetDocument(id))
		set(t, docA, "tp:count", prop.Delta{Base: 100, Delta: 5})
		set(t, docB, "tp:count", prop.Delta{Base: 100, Delta: 7})
		ensure(t, a.Save())
		ensure(t, b.Save())

		eq(t, get(t, docA, "tp:count"), any(int64(105)))
		eq(t, get(t, docB, "tp:count"), any(int64(112)))
		eq(t, get(t, load(t, repo, id), "tp:count"), any(int64(112)))
	})
}

func TestFailedSaveIsRetried(t *testing.T) {
	repo, fs := setupFaulty(t)
	id := createFile(t, repo, func(d *Document) {
		set(t, d, "tp:count", 100)
	})

	sess := repo.NewSession()
	doc := must(sess.GetDocument(id))
	created := must(sess.CreateDocument("File"))
	set(t, created, "tp:string", "new")
	set(t, doc, "tp:count", prop.Delta{Base: 100, Delta: 10})
	set(t, doc, "tp:string", "changed")

	boom := errors.New("boom")
	fs.fail = boom
	eq(t, errors.Is(sess.Save(), boom), true)
	eq(t, doc.IsDirty(), true)
	eq(t, created.IsNew(), true)
	eq(t, get(t, doc, "tp:count"), any(prop.Delta{Base: 100, Delta: 10}))

	fresh := load(t, repo, id)
	eq(t, get(t, fresh, "tp:count"), any(int64(100)))
	eq(t, get(t, fresh, "tp:string"), nil)
	_, err := repo.NewSession().GetDocument(created.ID())
	eq(t, errors.Is(err, ErrDocumentNotFound), true)

	fs.fail = nil
	ensure(t, sess.Save())
	eq(t, doc.IsDirty(), false)
	eq(t, created.IsNew(), false)

	fresh = load(t, repo, id)
	eq(t, get(t, fresh, "tp:count"), any(int64(110)))
	eq(t, get(t, fresh, "tp:string"), any("changed"))
	eq(t, get(t, load(t, repo, created.ID()), "tp:string"), any("new"))
}

func TestBatchedSaveMixesDeltasAndPlainWrites(t *testing.T) {
	repo, fs := setupFaulty(t)
	var ids []string
	for range 10 {
		ids = append(ids, createFile(t, repo, func(d *Document) {
			set(t, d, "tp:count", 100)
		}))
	}

	sess := repo.NewSession()
	for i, id := range ids {
		doc := must(sess.GetDocument(id))
		if i%2 == 0 {
			set(t, doc, "tp:count", 5)
		} else {
			set(t, doc, "tp:count", prop.Delta{Base: 100, Delta: int64(i)})
		}
	}
	writes := fs.writes
	ensure(t, sess.Save())
	eq(t, fs.writes, writes+1)

	for i, id := range ids {
		want := int64(5)
		if i%2 == 1 {
			want = 100 + int64(i)
		}
		eq(t, get(t, load(t, repo, id), "tp:count"), any(want))
	}

	// nothing left to save
	ensure(t, sess.Save())
	eq(t, fs.writes, writes+1)
}

func TestSessionsSaveSiblingFields(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo *Repository) {
		id := createFile(t, repo, func(d *Document) {
			set(t, d, "tp:count", 1)
		})
		eq(t, must(repo.Stats()).Parts, 1)

		a, b := repo.NewSession(), repo.NewSession()
		docA := must(a.GetDocument(id))
		docB := must(b.GetDocument(id))
		// both sessions materialize the same part before writing
		get(t, docA, "tp:complex")
		get(t, docB, "tp:complex")
		set(t, docA, "tp:string", "from a")
		set(t, docB, "tp:complex/string", "from b")
		ensure(t, a.Save())
		ensure(t, b.Save())

		eq(t, must(repo.Stats()).Parts, 1)
		fresh := load(t, repo, id)
		eq(t, get(t, fresh, "tp:string"), any("from a"))
		eq(t, get(t, fresh, "tp:complex/string"), any("from b"))
		eq(t, get(t, fresh, "tp:count"), any(int64(1)))
	})
}

func TestSaveDocumentSavesOnlyThatDocument(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	idA := createFile(t, repo, nil)
	idB := createFile(t, repo, nil)

	sess := repo.NewSession()
	a := must(sess.GetDocument(idA))
	b := must(sess.GetDocument(idB))
	set(t, a, "tp:string", "a")
	set(t, b, "tp:string", "b")
	ensure(t, sess.SaveDocument(a))
	eq(t, a.IsDirty(), false)
	eq(t, b.IsDirty(), true)

	eq(t, get(t, load(t, repo, idA), "tp:string"), any("a"))
	eq(t, get(t, load(t, repo, idB), "tp:string"), nil)

	other := repo.NewSession()
	if err := other.SaveDocument(b); err == nil {
		t.Fatal("** SaveDocument accepted a document of another session")
	}
}

func TestGetDocumentReturnsFreshSnapshots(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	id := createFile(t, repo, func(d *Document) {
		set(t, d, "tp:string", "v1")
	})

	sess := repo.NewSession()
	first := must(sess.GetDocument(id))
	set(t, first, "tp:string", "unsaved")
	second := must(sess.GetDocument(id))
	eq(t, get(t, second, "tp:string"), any("v1"))
	eq(t, second.IsDirty(), false)
}
