package docprops

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/docprops/prop"
	"github.com/andreyvit/docprops/schema"
)

// Repository is a document store bound to a schema registry. It is safe for
// concurrent use; the sessions it hands out are not.
type Repository struct {
	store     Store
	reg       *schema.Registry
	blobs     *blobStore
	resolvers map[string]BlobResolver
	logger    *slog.Logger
	verbose   bool

	LoadCount atomic.Uint64
	SaveCount atomic.Uint64
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// Resolvers maps URI schemes to blob resolvers. The "blob" scheme is
	// served by the repository's own storage unless overridden.
	Resolvers map[string]BlobResolver
}

// Open opens or creates a Bolt-backed repository at path.
func Open(path string, reg *schema.Registry, opt Options) (*Repository, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("docprops: %w", err)
	}
	r, err := openStorage(newBoltStorage(bdb), reg, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return r, nil
}

// OpenMemory creates a repository that lives in memory only.
func OpenMemory(reg *schema.Registry, opt Options) (*Repository, error) {
	return openStorage(newMemStorage(), reg, opt)
}

func openStorage(st storage, reg *schema.Registry, opt Options) (*Repository, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	kv, err := newKVStore(st, opt.Logger, opt.Verbose)
	if err != nil {
		return nil, fmt.Errorf("docprops: %w", err)
	}
	r := NewRepository(kv, reg, opt)
	r.blobs = &blobStore{st: st}
	if r.resolvers[blobScheme] == nil {
		r.resolvers[blobScheme] = r.blobs
	}
	return r, nil
}

// NewRepository wraps an arbitrary Store. Such a repository has no built-in
// blob storage, so PutBlob fails; Options.Resolvers still apply.
func NewRepository(store Store, reg *schema.Registry, opt Options) *Repository {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	resolvers := make(map[string]BlobResolver, len(opt.Resolvers)+1)
	for scheme, res := range opt.Resolvers {
		resolvers[scheme] = res
	}
	return &Repository{
		store:     store,
		reg:       reg,
		resolvers: resolvers,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
	}
}

func (r *Repository) Registry() *schema.Registry {
	return r.reg
}

func (r *Repository) Close() error {
	return r.store.Close()
}

func (r *Repository) Stats() (StoreStats, error) {
	return r.store.Stats()
}

// DocumentIDs lists stored documents in key order.
func (r *Repository) DocumentIDs() ([]string, error) {
	return r.store.DocumentIDs()
}

func (r *Repository) NewSession() *Session {
	return &Session{repo: r}
}

// PutBlob stores content and returns a reference to it, suitable for writing
// into a blob property.
func (r *Repository) PutBlob(content []byte, filename, mimeType string) (prop.BlobRef, error) {
	if r.blobs == nil {
		return prop.BlobRef{}, fmt.Errorf("docprops: repository has no blob storage")
	}
	uri, err := r.blobs.put(content)
	if err != nil {
		return prop.BlobRef{}, fmt.Errorf("docprops: storing blob: %w", err)
	}
	return prop.BlobRef{
		URI:      uri,
		Filename: filename,
		MimeType: mimeType,
		Length:   int64(len(content)),
		Digest:   blobDigest(content),
	}, nil
}

func (r *Repository) resolver(uri string) (BlobResolver, error) {
	scheme := blobURIScheme(uri)
	res := r.resolvers[scheme]
	if res == nil {
		return nil, fmt.Errorf("docprops: no resolver for blob uri %q", uri)
	}
	return res, nil
}
