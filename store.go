package docprops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andreyvit/docprops/prop"
	"github.com/andreyvit/docprops/schema"
)

const (
	docsBucket  = "docs"
	partsBucket = "parts"
	listsBucket = "lists"
	blobsBucket = "blobs"
)

var allBuckets = []string{docsBucket, partsBucket, listsBucket, blobsBucket}

// DocumentHeader is the stored identity of a document.
type DocumentHeader struct {
	ID       string    `msgpack:"-"`
	Type     string    `msgpack:"t"`
	Created  time.Time `msgpack:"c"`
	Modified time.Time `msgpack:"m"`
}

// Store is the backing store of documents. Loads run in their own read
// transaction; every write goes through Write.
type Store interface {
	prop.Loader

	// LoadDocument returns ErrDocumentNotFound for unknown ids.
	LoadDocument(docID string) (DocumentHeader, error)

	// LoadPrefetch reads the stored values of the given fields directly from
	// the part records. Unset fields yield nil.
	LoadPrefetch(docID string, fields []schema.PrefetchField) ([]any, error)

	// Write runs f in a single write transaction. Nothing is committed if f
	// returns an error.
	Write(f func(w StoreWriter) error) error

	DocumentIDs() ([]string, error)
	Stats() (StoreStats, error)
	Close() error
}

type StoreWriter interface {
	PutDocument(h DocumentHeader) error

	// PersistDirty merges an update into the stored part. The part record is
	// created on first write and merged into afterwards, so sessions that
	// materialized the same part independently never duplicate it.
	PersistDirty(docID, schemaName string, u *prop.Update) error

	// IncrementField adds d.Delta to the stored long value at path, or to
	// d.Base when nothing is stored, and returns the new value.
	IncrementField(docID, schemaName, path string, d prop.Delta) (int64, error)

	DeleteDocument(docID string) error
}

type StoreStats struct {
	Documents int
	Parts     int
	Lists     int
	Blobs     int
	Size      int64
}

func partKey(docID, schemaName string) []byte {
	return []byte(docID + "\x00" + schemaName)
}

func listKey(docID, schemaName, listPath string) []byte {
	return []byte(docID + "\x00" + schemaName + "\x00" + listPath)
}

// kvStore keeps documents in four flat buckets of a storage backend:
//
//	docs   id                      -> DocumentHeader
//	parts  id \0 schema            -> part record
//	lists  id \0 schema \0 path    -> items of a list not nested in another
//	blobs  blob:<digest>           -> content
type kvStore struct {
	st      storage
	logger  *slog.Logger
	verbose bool
}

func newKVStore(st storage, logger *slog.Logger, verbose bool) (*kvStore, error) {
	err := update(st, func(tx storageTx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &kvStore{st: st, logger: logger, verbose: verbose}, nil
}

func (s *kvStore) Close() error {
	return s.st.Close()
}

func (s *kvStore) LoadDocument(docID string) (DocumentHeader, error) {
	var h DocumentHeader
	err := view(s.st, func(tx storageTx) error {
		data := getRaw(tx, docsBucket, []byte(docID))
		if data == nil {
			return ErrDocumentNotFound
		}
		return decodeRecord(data, &h)
	})
	if err != nil {
		return DocumentHeader{}, err
	}
	h.ID = docID
	return h, nil
}

func (s *kvStore) LoadPart(docID, schemaName string) (map[string]any, error) {
	var rec map[string]any
	err := view(s.st, func(tx storageTx) error {
		var err error
		rec, err = decodePart(getRaw(tx, partsBucket, partKey(docID, schemaName)))
		return err
	})
	return rec, err
}

func (s *kvStore) LoadList(docID, schemaName, listPath string) ([]any, error) {
	var items []any
	err := view(s.st, func(tx storageTx) error {
		var err error
		items, err = decodeList(getRaw(tx, listsBucket, listKey(docID, schemaName, listPath)))
		return err
	})
	return items, err
}

func (s *kvStore) LoadPrefetch(docID string, fields []schema.PrefetchField) ([]any, error) {
	values := make([]any, len(fields))
	err := view(s.st, func(tx storageTx) error {
		records := make(map[string]map[string]any)
		for i, pf := range fields {
			name := pf.Schema.Name()
			rec, found := records[name]
			if !found {
				var err error
				rec, err = decodePart(getRaw(tx, partsBucket, partKey(docID, name)))
				if err != nil {
					return err
				}
				records[name] = rec
			}
			values[i] = getNested(rec, prop.Segments(pf.Path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *kvStore) DocumentIDs() ([]string, error) {
	var ids []string
	err := view(s.st, func(tx storageTx) error {
		b := tx.Bucket(docsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

func (s *kvStore) Stats() (StoreStats, error) {
	var stats StoreStats
	err := view(s.st, func(tx storageTx) error {
		count := func(name string) int {
			if b := tx.Bucket(name); b != nil {
				return b.KeyCount()
			}
			return 0
		}
		stats.Documents = count(docsBucket)
		stats.Parts = count(partsBucket)
		stats.Lists = count(listsBucket)
		stats.Blobs = count(blobsBucket)
		stats.Size = tx.Size()
		return nil
	})
	return stats, err
}

func (s *kvStore) Write(f func(w StoreWriter) error) error {
	return update(s.st, func(tx storageTx) error {
		return f(&kvWriter{store: s, tx: tx})
	})
}

func getRaw(tx storageTx, bucket string, key []byte) []byte {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.Get(key)
}

type kvWriter struct {
	store *kvStore
	tx    storageTx
}

func (w *kvWriter) bucket(name string) (storageBucket, error) {
	return w.tx.CreateBucket(name)
}

func (w *kvWriter) PutDocument(h DocumentHeader) error {
	b, err := w.bucket(docsBucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(h.ID), encodeRecord(h))
}

func (w *kvWriter) PersistDirty(docID, schemaName string, u *prop.Update) error {
	if u.IsEmpty() {
		return nil
	}
	if len(u.Sets) > 0 {
		err := w.modifyPart(docID, schemaName, func(rec map[string]any) error {
			for path, v := range u.Sets {
				setNested(rec, prop.Segments(path), v)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(u.Lists) > 0 {
		b, err := w.bucket(listsBucket)
		if err != nil {
			return err
		}
		for path, items := range u.Lists {
			key := listKey(docID, schemaName, path)
			if len(items) == 0 {
				err = b.Delete(key)
			} else {
				err = b.Put(key, encodeRecord(items))
			}
			if err != nil {
				return docErrf(docID, schemaName, err, "list %s", path)
			}
		}
	}
	if w.store.verbose {
		w.store.logger.LogAttrs(context.Background(), slog.LevelDebug, "persisted part", slog.String("doc", docID), slog.String("schema", schemaName), slog.Int("sets", len(u.Sets)), slog.Int("lists", len(u.Lists)))
	}
	return nil
}

func (w *kvWriter) IncrementField(docID, schemaName, path string, d prop.Delta) (int64, error) {
	var result int64
	err := w.modifyPart(docID, schemaName, func(rec map[string]any) error {
		segs := prop.Segments(path)
		result = d.Base + d.Delta
		if cur := getNested(rec, segs); cur != nil {
			n, ok := prop.LongValue(cur)
			if !ok {
				return fmt.Errorf("cannot increment stored %T at %s", cur, path)
			}
			result = n + d.Delta
		}
		setNested(rec, segs, result)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if w.store.verbose {
		w.store.logger.LogAttrs(context.Background(), slog.LevelDebug, "incremented field", slog.String("doc", docID), slog.String("schema", schemaName), slog.String("path", path), slog.Int64("delta", d.Delta), slog.Int64("value", result))
	}
	return result, nil
}

// modifyPart applies f to the decoded part record and stores the result,
// creating the record if needed. Empty records are removed.
func (w *kvWriter) modifyPart(docID, schemaName string, f func(rec map[string]any) error) error {
	b, err := w.bucket(partsBucket)
	if err != nil {
		return err
	}
	key := partKey(docID, schemaName)
	rec, err := decodePart(b.Get(key))
	if err != nil {
		return docErrf(docID, schemaName, err, "")
	}
	if rec == nil {
		rec = make(map[string]any)
	}
	if err := f(rec); err != nil {
		return docErrf(docID, schemaName, err, "")
	}
	if len(rec) == 0 {
		return b.Delete(key)
	}
	return b.Put(key, encodeRecord(rec))
}

func (w *kvWriter) DeleteDocument(docID string) error {
	b, err := w.bucket(docsBucket)
	if err != nil {
		return err
	}
	if err := b.Delete([]byte(docID)); err != nil {
		return err
	}
	prefix := []byte(docID + "\x00")
	for _, name := range []string{partsBucket, listsBucket} {
		b, err := w.bucket(name)
		if err != nil {
			return err
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, bytes.Clone(k))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func getNested(rec map[string]any, segs []string) any {
	var cur any = rec
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// setNested stores v at segs, creating intermediate records as needed. A nil
// v removes the value, and any intermediate record left empty.
func setNested(m map[string]any, segs []string, v any) {
	k := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(m, k)
		} else {
			m[k] = v
		}
		return
	}
	sub, _ := m[k].(map[string]any)
	if sub == nil {
		if v == nil {
			return
		}
		sub = make(map[string]any)
		m[k] = sub
	}
	setNested(sub, segs[1:], v)
	if len(sub) == 0 {
		delete(m, k)
	}
}
