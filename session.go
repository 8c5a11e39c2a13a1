package docprops

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/docprops/prop"
)

// Session is a unit of work over a repository. Documents obtained from a
// session are private to it and are persisted by Save. A Session is not safe
// for concurrent use.
type Session struct {
	repo   *Repository
	docs   []*Document
	closed bool
}

func (s *Session) track(doc *Document) {
	s.docs = append(s.docs, doc)
}

func (s *Session) untrack(doc *Document) {
	s.docs = slices.DeleteFunc(s.docs, func(d *Document) bool { return d == doc })
}

// CreateDocument starts a new document of the given type. Nothing is stored
// until the session is saved.
func (s *Session) CreateDocument(docType string) (*Document, error) {
	if s.closed {
		return nil, ErrClosed
	}
	gen := s.repo.reg.Current()
	dt := gen.DocType(docType)
	if dt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocType, docType)
	}
	now := time.Now().UTC()
	h := DocumentHeader{
		ID:       uuid.NewString(),
		Type:     docType,
		Created:  now,
		Modified: now,
	}
	doc := newDocument(s, h, gen, dt, true)
	for _, pf := range dt.Prefetch() {
		typ, err := gen.TypeOf(pf.Schema.Name(), pf.Path)
		if err != nil {
			panic(fmt.Errorf("prefetch field %v: %w", pf, err))
		}
		doc.prefetch.put(pf.Schema.Name(), pf.Path, typ, nil)
	}
	s.track(doc)
	return doc, nil
}

// GetDocument loads a fresh snapshot of a stored document, reading only its
// header and prefetched fields. Every call returns a new snapshot.
func (s *Session) GetDocument(id string) (*Document, error) {
	if s.closed {
		return nil, ErrClosed
	}
	store := s.repo.store
	h, err := store.LoadDocument(id)
	if err != nil {
		return nil, docErrf(id, "", err, "")
	}
	gen := s.repo.reg.Current()
	dt := gen.DocType(h.Type)
	if dt == nil {
		return nil, docErrf(id, "", ErrUnknownDocType, "%s", h.Type)
	}

	fields := dt.Prefetch()
	values, err := store.LoadPrefetch(id, fields)
	if err != nil {
		return nil, docErrf(id, "", err, "prefetch")
	}
	doc := newDocument(s, h, gen, dt, false)
	for i, pf := range fields {
		typ, err := gen.TypeOf(pf.Schema.Name(), pf.Path)
		if err != nil {
			panic(fmt.Errorf("prefetch field %v: %w", pf, err))
		}
		v, err := prop.NormalizeStored(typ, values[i], pf.Path)
		if err != nil {
			return nil, docErrf(id, pf.Schema.Name(), err, "prefetch %s", pf.Path)
		}
		doc.prefetch.put(pf.Schema.Name(), pf.Path, typ, v)
	}
	s.repo.LoadCount.Add(1)
	s.track(doc)
	return doc, nil
}

// SaveDocument persists a single document.
func (s *Session) SaveDocument(doc *Document) error {
	if doc.session != s {
		return fmt.Errorf("docprops: document %s belongs to another session", doc.ID())
	}
	return s.save([]*Document{doc})
}

// Save persists every document of the session that is new or modified, in a
// single write. On failure nothing is applied to the documents, so a retry
// writes exactly the same changes.
func (s *Session) Save() error {
	return s.save(s.docs)
}

type pendingPart struct {
	part        *prop.Tree
	update      *prop.Update
	incremented map[string]int64
}

type pendingDoc struct {
	doc   *Document
	parts []*pendingPart
}

func (s *Session) save(docs []*Document) error {
	if s.closed {
		return ErrClosed
	}
	var work []*pendingDoc
	for _, doc := range docs {
		if doc.removed {
			continue
		}
		pd := &pendingDoc{doc: doc}
		for _, part := range doc.dirtyParts() {
			pd.parts = append(pd.parts, &pendingPart{
				part:        part,
				update:      part.DirtyUpdate(),
				incremented: make(map[string]int64),
			})
		}
		if len(pd.parts) == 0 && !doc.isNew {
			continue
		}
		work = append(work, pd)
	}
	if len(work) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var increments int
	err := s.repo.store.Write(func(w StoreWriter) error {
		increments = 0
		for _, pd := range work {
			h := pd.doc.header
			h.Modified = now
			if err := w.PutDocument(h); err != nil {
				return docErrf(h.ID, "", err, "header")
			}
			for _, pp := range pd.parts {
				name := pp.part.Schema().Name()
				if err := w.PersistDirty(h.ID, name, pp.update); err != nil {
					return docErrf(h.ID, name, err, "persist")
				}
				for path, d := range pp.update.Increments {
					v, err := w.IncrementField(h.ID, name, path, d)
					if err != nil {
						return docErrf(h.ID, name, err, "increment %s", path)
					}
					pp.incremented[path] = v
					increments++
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, pd := range work {
		for _, pp := range pd.parts {
			pp.part.Committed(pp.incremented)
		}
		pd.doc.header.Modified = now
		pd.doc.isNew = false
	}
	s.repo.SaveCount.Add(1)
	if s.repo.verbose {
		s.repo.logger.LogAttrs(context.Background(), slog.LevelDebug, "saved documents", slog.Int("docs", len(work)), slog.Int("increments", increments))
	}
	return nil
}

// RemoveDocument deletes a document from the store right away and drops it
// from the session.
func (s *Session) RemoveDocument(doc *Document) error {
	if s.closed {
		return ErrClosed
	}
	if !doc.isNew {
		err := s.repo.store.Write(func(w StoreWriter) error {
			return w.DeleteDocument(doc.ID())
		})
		if err != nil {
			return docErrf(doc.ID(), "", err, "remove")
		}
	}
	doc.removed = true
	s.untrack(doc)
	return nil
}

// Close drops all documents of the session without saving them.
func (s *Session) Close() {
	s.closed = true
	s.docs = nil
}
