package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable marks a transient failure that may succeed on retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
	// ErrInvalidPath is returned for paths that do not name a document or collection.
	ErrInvalidPath = errors.New("invalid path")
)

// Document is a flat field map stored at Path.
type Document struct {
	ID   string
	Path string
	Data map[string]any
}

// ChangeKind describes how a document changed relative to a query.
type ChangeKind int

const (
	// ChangeAdded means the document entered the query result.
	ChangeAdded ChangeKind = iota
	// ChangeModified means a document in the result changed.
	ChangeModified
	// ChangeRemoved means the document left the result.
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of an ordered change batch.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Handler receives ordered change batches of a query subscription, or an error
// instead of a batch. Handlers run on store goroutines.
type Handler func(changes []Change, err error)

// DocHandler receives the current state of a single document; exists is false
// once the document is deleted.
type DocHandler func(doc Document, exists bool, err error)

// Subscription is a cancellable change-feed handle.
type Subscription interface {
	// Cancel stops delivery. It is safe to call more than once.
	Cancel()
}

// Store is the remote, eventually consistent document store.
type Store interface {
	// Get retrieves one document or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// Set replaces the document at path.
	Set(ctx context.Context, path string, data map[string]any) error

	// Merge overwrites the given top-level fields, creating the document if needed.
	Merge(ctx context.Context, path string, data map[string]any) error

	// Add creates a document with a store-assigned id in collection and returns the id.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// Delete removes the document at path. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error

	// Documents runs q once.
	Documents(ctx context.Context, q Query) ([]Document, error)

	// Subscribe opens a change feed for q. The first batch holds the current result as additions.
	Subscribe(ctx context.Context, q Query, h Handler) (Subscription, error)

	// SubscribeDoc opens a change feed for one document.
	SubscribeDoc(ctx context.Context, path string, h DocHandler) (Subscription, error)

	// ClearCache drops any client-side cached data.
	ClearCache(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
