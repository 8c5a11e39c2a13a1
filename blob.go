package docprops

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/docprops/prop"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobResolver opens the content behind a blob URI. The caller closes the
// returned reader.
type BlobResolver interface {
	Resolve(uri string) (r io.ReadCloser, filename string, err error)
}

const blobScheme = "blob"

func blobDigest(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// blobStore keeps content in the blobs bucket, addressed by its digest, so
// storing the same bytes twice yields the same URI.
type blobStore struct {
	st storage
}

func (bs *blobStore) put(content []byte) (string, error) {
	digest := blobDigest(content)
	uri := blobScheme + ":" + digest
	err := update(bs.st, func(tx storageTx) error {
		b, err := tx.CreateBucket(blobsBucket)
		if err != nil {
			return err
		}
		if b.Get([]byte(uri)) != nil {
			return nil
		}
		return b.Put([]byte(uri), content)
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (bs *blobStore) Resolve(uri string) (io.ReadCloser, string, error) {
	var content []byte
	err := view(bs.st, func(tx storageTx) error {
		data := getRaw(tx, blobsBucket, []byte(uri))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrBlobNotFound, uri)
		}
		content = bytes.Clone(data)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if want := strings.TrimPrefix(uri, blobScheme+":"); blobDigest(content) != want {
		return nil, "", dataErrf(content, -1, nil, "blob %s digest mismatch", uri)
	}
	return io.NopCloser(bytes.NewReader(content)), "", nil
}

// FSResolver serves "fs:<name>" URIs from files under Root.
type FSResolver struct {
	Root string
}

func (r FSResolver) Resolve(uri string) (io.ReadCloser, string, error) {
	_, name, _ := strings.Cut(uri, ":")
	if !filepath.IsLocal(name) {
		return nil, "", fmt.Errorf("blob uri %s escapes its root", uri)
	}
	f, err := os.Open(filepath.Join(r.Root, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrBlobNotFound, uri)
	} else if err != nil {
		return nil, "", err
	}
	return f, filepath.Base(name), nil
}

// BlobRef builds a reference to a file already present under Root.
func (r FSResolver) BlobRef(name, mimeType string) (prop.BlobRef, error) {
	if !filepath.IsLocal(name) {
		return prop.BlobRef{}, fmt.Errorf("blob name %s escapes its root", name)
	}
	content, err := os.ReadFile(filepath.Join(r.Root, filepath.FromSlash(name)))
	if err != nil {
		return prop.BlobRef{}, err
	}
	return prop.BlobRef{
		URI:      "fs:" + filepath.ToSlash(name),
		Filename: filepath.Base(name),
		MimeType: mimeType,
		Length:   int64(len(content)),
		Digest:   blobDigest(content),
	}, nil
}

func blobURIScheme(uri string) string {
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok {
		return ""
	}
	return scheme
}
