package docprops

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andreyvit/docprops/prop"
)

func readAll(t testing.TB, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	return string(must(io.ReadAll(r)))
}

func TestBlobRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo *Repository) {
		ref := must(repo.PutBlob([]byte("hello"), "hello.txt", "text/plain"))
		eq(t, ref.Length, int64(5))
		eq(t, ref.URI, "blob:"+ref.Digest)

		again := must(repo.PutBlob([]byte("hello"), "other.txt", "text/plain"))
		eq(t, again.URI, ref.URI)
		eq(t, must(repo.Stats()).Blobs, 1)

		id := createFile(t, repo, func(d *Document) {
			set(t, d, "tp:file", ref)
		})

		doc := load(t, repo, id)
		eq(t, get(t, doc, "tp:file"), any(ref))
		r, filename, err := doc.OpenBlob("tp:file")
		ensure(t, err)
		eq(t, filename, "hello.txt")
		eq(t, readAll(t, r), "hello")
	})
}

func TestBlobsInsideLists(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	a := must(repo.PutBlob([]byte("aaa"), "a.bin", ""))
	b := must(repo.PutBlob([]byte("bbb"), "b.bin", ""))
	id := createFile(t, repo, func(d *Document) {
		set(t, d, "tp:fileList", []any{
			map[string]any{"filename": "first", "blob": a},
			map[string]any{"filename": "second", "blob": &b},
		})
	})

	doc := load(t, repo, id)
	r, _, err := doc.OpenBlob("tp:fileList/1/blob")
	ensure(t, err)
	eq(t, readAll(t, r), "bbb")
	eq(t, get(t, doc, "tp:fileList/0/blob").(prop.BlobRef).SameContent(a), true)
}

func TestFSResolver(t *testing.T) {
	dir := t.TempDir()
	ensure(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	ensure(t, os.WriteFile(filepath.Join(dir, "docs", "readme.md"), []byte("# readme"), 0o644))

	fsr := FSResolver{Root: dir}
	repo := must(OpenMemory(newRegistry(t), Options{
		Resolvers: map[string]BlobResolver{"fs": fsr},
	}))
	t.Cleanup(func() { repo.Close() })

	ref := must(fsr.BlobRef("docs/readme.md", "text/markdown"))
	eq(t, ref.URI, "fs:docs/readme.md")
	eq(t, ref.Length, int64(8))

	sess := repo.NewSession()
	doc := must(sess.CreateDocument("File"))
	set(t, doc, "tp:file", ref)
	r, filename, err := doc.OpenBlob("tp:file")
	ensure(t, err)
	eq(t, filename, "readme.md")
	eq(t, readAll(t, r), "# readme")

	_, _, err = fsr.Resolve("fs:../secret")
	if err == nil {
		t.Fatal("** resolved a path outside the root")
	}
	_, _, err = fsr.Resolve("fs:docs/missing.md")
	eq(t, errors.Is(err, ErrBlobNotFound), true)
}

func TestOpenBlobErrors(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	doc := must(repo.NewSession().CreateDocument("File"))

	_, _, err := doc.OpenBlob("tp:file")
	eq(t, errors.Is(err, ErrBlobNotFound), true)

	set(t, doc, "tp:file", prop.BlobRef{URI: "s3:bucket/key"})
	if _, _, err := doc.OpenBlob("tp:file"); err == nil {
		t.Fatal("** opened a blob with an unregistered scheme")
	}

	set(t, doc, "tp:string", "x")
	if _, _, err := doc.OpenBlob("tp:string"); err == nil {
		t.Fatal("** opened a string as a blob")
	}

	set(t, doc, "tp:file", prop.BlobRef{URI: "blob:0000000000000000"})
	_, _, err = doc.OpenBlob("tp:file")
	eq(t, errors.Is(err, ErrBlobNotFound), true)
}

func TestCorruptBlobIsDetected(t *testing.T) {
	repo := setupMemory(t, newRegistry(t))
	ref := must(repo.PutBlob([]byte("original"), "f", ""))
	ensure(t, update(repo.blobs.st, func(tx storageTx) error {
		return tx.Bucket(blobsBucket).Put([]byte(ref.URI), []byte("tampered"))
	}))

	_, _, err := repo.blobs.Resolve(ref.URI)
	var de *DataError
	eq(t, errors.As(err, &de), true)
	eq(t, de.Off, -1)
}

func TestPutBlobWithoutStorage(t *testing.T) {
	repo, _ := setupFaulty(t)
	_, err := repo.PutBlob([]byte("x"), "x", "")
	if err == nil {
		t.Fatal("** PutBlob succeeded without blob storage")
	}
}
