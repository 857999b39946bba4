// Package firestore adapts Cloud Firestore to docstore.Store. Query and document
// listeners map onto Firestore snapshot iterators; gRPC status codes map onto
// the docstore error sentinels.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

// Store implements docstore.Store on a Firestore client.
type Store struct {
	client *firestore.Client
	log    zerolog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New connects to the Firestore project. When FIRESTORE_EMULATOR_HOST is set the
// client talks to the emulator.
func New(ctx context.Context, projectID string, logger zerolog.Logger) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client, log: logger}, nil
}

// Get retrieves one document.
func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	ref, err := s.doc(path)
	if err != nil {
		return docstore.Document{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return docstore.Document{}, mapError(fmt.Errorf("get %s: %w", path, err))
	}
	return toDocument(path, snap), nil
}

// Set replaces the document at path.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return mapError(fmt.Errorf("set %s: %w", path, err))
	}
	return nil
}

// Merge overwrites the given top-level fields.
func (s *Store) Merge(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, data, firestore.MergeAll); err != nil {
		return mapError(fmt.Errorf("merge %s: %w", path, err))
	}
	return nil
}

// Add creates a document with a Firestore-assigned id.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	ref, _, err := coll.Add(ctx, data)
	if err != nil {
		return "", mapError(fmt.Errorf("add to %s: %w", collection, err))
	}
	return ref.ID, nil
}

// Delete removes the document at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapError(fmt.Errorf("delete %s: %w", path, err))
	}
	return nil
}

// Documents runs q once.
func (s *Store) Documents(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(fmt.Errorf("query %s: %w", q.Collection, err))
	}
	out := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toDocument(docstore.Join(q.Collection, snap.Ref.ID), snap))
	}
	return out, nil
}

// Subscribe listens to q. A listener error is delivered once and ends the
// subscription; callers decide whether to subscribe again.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Subscription, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := fq.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Str("collection", q.Collection).Msg("query listener failed")
				h(nil, mapError(err))
				return
			}
			if len(snap.Changes) == 0 {
				continue
			}
			changes := make([]docstore.Change, 0, len(snap.Changes))
			for _, ch := range snap.Changes {
				changes = append(changes, docstore.Change{
					Kind: changeKind(ch.Kind),
					Doc:  toDocument(docstore.Join(q.Collection, ch.Doc.Ref.ID), ch.Doc),
				})
			}
			h(changes, nil)
		}
	}()

	return cancelFunc(cancel), nil
}

// SubscribeDoc listens to one document.
func (s *Store) SubscribeDoc(ctx context.Context, path string, h docstore.DocHandler) (docstore.Subscription, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Str("path", path).Msg("document listener failed")
				h(docstore.Document{Path: path}, false, mapError(err))
				return
			}
			if !snap.Exists() {
				h(docstore.Document{Path: path}, false, nil)
				continue
			}
			h(toDocument(path, snap), true, nil)
		}
	}()

	return cancelFunc(cancel), nil
}

// ClearCache is a no-op: the Go client keeps no offline persistence.
func (s *Store) ClearCache(context.Context) error {
	return nil
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (s *Store) collection(path string) (*firestore.CollectionRef, error) {
	if !docstore.ValidCollection(path) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	coll := s.client.Collection(path)
	if coll == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return coll, nil
}

func (s *Store) query(q docstore.Query) (firestore.Query, error) {
	coll, err := s.collection(q.Collection)
	if err != nil {
		return firestore.Query{}, err
	}
	fq := coll.Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	return fq, nil
}

type cancelFunc context.CancelFunc

func (c cancelFunc) Cancel() { c() }

func toDocument(path string, snap *firestore.DocumentSnapshot) docstore.Document {
	return docstore.Document{ID: snap.Ref.ID, Path: path, Data: snap.Data()}
}

func changeKind(k firestore.DocumentChangeKind) docstore.ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return docstore.ChangeAdded
	case firestore.DocumentRemoved:
		return docstore.ChangeRemoved
	default:
		return docstore.ChangeModified
	}
}

// mapError translates gRPC status codes into docstore sentinels.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	default:
		return err
	}
}
