// Package memory is an in-process document store with change feeds. It backs
// tests and the memory backend; every write is published through a
// docstore.Broker so subscribers see the same add/modify/remove batches a
// remote store would push.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

type entry struct {
	collection string
	doc        docstore.Document
}

// Store implements docstore.Store in memory.
type Store struct {
	mu        sync.Mutex
	docs      map[string]entry
	broker    *docstore.Broker
	writeErrs []error
	closed    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:   make(map[string]entry),
		broker: docstore.NewBroker(),
	}
}

var _ docstore.Store = (*Store)(nil)

// InjectWriteErrors makes the next len(errs) writes fail with the given errors, in order.
// A nil entry lets that write succeed.
func (s *Store) InjectWriteErrors(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrs = append(s.writeErrs, errs...)
}

// FailSubscriptions delivers err to every query subscription on collection.
func (s *Store) FailSubscriptions(collection string, err error) {
	s.broker.Fail(collection, err)
}

// ActiveSubscriptions returns the number of open change feeds.
func (s *Store) ActiveSubscriptions() int {
	return s.broker.Active()
}

// Get retrieves one document.
func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}
	e, ok := s.docs[path]
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	return docstore.CloneDocument(e.doc), nil
}

// Set replaces the document at path.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	return s.write(ctx, path, func(map[string]any) map[string]any {
		return docstore.CloneData(data)
	})
}

// Merge overwrites the given top-level fields.
func (s *Store) Merge(ctx context.Context, path string, data map[string]any) error {
	return s.write(ctx, path, func(existing map[string]any) map[string]any {
		merged := docstore.CloneData(existing)
		if merged == nil {
			merged = make(map[string]any, len(data))
		}
		for k, v := range docstore.CloneData(data) {
			merged[k] = v
		}
		return merged
	})
}

// Add creates a document with a ULID id.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if !docstore.ValidCollection(collection) {
		return "", fmt.Errorf("add: %w: %q", docstore.ErrInvalidPath, collection)
	}
	id := ulid.Make().String()
	if err := s.Set(ctx, docstore.Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the document at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWrite(); err != nil {
		return err
	}
	e, ok := s.docs[path]
	if !ok {
		return nil
	}
	delete(s.docs, path)
	before := e.doc
	s.broker.Publish(collection, &before, nil)
	return nil
}

// Documents runs q once, ordered by path.
func (s *Store) Documents(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.matching(q), nil
}

// Subscribe opens a change feed for q.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.broker.SubscribeQuery(q, s.matching(q), h), nil
}

// SubscribeDoc opens a change feed for one document.
func (s *Store) SubscribeDoc(ctx context.Context, path string, h docstore.DocHandler) (docstore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	var initial *docstore.Document
	if e, ok := s.docs[path]; ok {
		doc := e.doc
		initial = &doc
	}
	return s.broker.SubscribeDocument(path, initial, h), nil
}

// ClearCache is a no-op; the memory store has no client-side cache.
func (s *Store) ClearCache(context.Context) error {
	return nil
}

// Close cancels all change feeds.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.broker.Close()
	return nil
}

func (s *Store) write(ctx context.Context, path string, build func(existing map[string]any) map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWrite(); err != nil {
		return err
	}

	var before *docstore.Document
	var existing map[string]any
	if e, ok := s.docs[path]; ok {
		doc := e.doc
		before = &doc
		existing = doc.Data
	}
	after := docstore.Document{ID: id, Path: path, Data: build(existing)}
	s.docs[path] = entry{collection: collection, doc: after}
	s.broker.Publish(collection, before, &after)
	return nil
}

// checkWrite must be called with s.mu held.
func (s *Store) checkWrite() error {
	if s.closed {
		return docstore.ErrClosed
	}
	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

// matching must be called with s.mu held.
func (s *Store) matching(q docstore.Query) []docstore.Document {
	var out []docstore.Document
	for _, e := range s.docs {
		if e.collection == q.Collection && q.Matches(e.doc.Data) {
			out = append(out, docstore.CloneDocument(e.doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
