// Package sqlite is a document store on SQLite, used as a local emulator of the
// remote store. Documents are JSON rows keyed by path; change feeds are served
// in-process through a docstore.Broker.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// SQLiteStore implements docstore.Store for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	broker *docstore.Broker

	// mu orders writes with subscription snapshots.
	mu sync.Mutex
}

var _ docstore.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function instead of the default schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, broker: docstore.NewBroker()}, nil
}

// Close cancels all change feeds and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.broker.Close()
	return s.db.Close()
}

// Get retrieves one document.
func (s *SQLiteStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	doc, ok, err := s.load(ctx, path)
	if err != nil {
		return docstore.Document{}, err
	}
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	return doc, nil
}

// Set replaces the document at path.
func (s *SQLiteStore) Set(ctx context.Context, path string, data map[string]any) error {
	return s.write(ctx, path, func(map[string]any) map[string]any {
		return docstore.CloneData(data)
	})
}

// Merge overwrites the given top-level fields.
func (s *SQLiteStore) Merge(ctx context.Context, path string, data map[string]any) error {
	return s.write(ctx, path, func(existing map[string]any) map[string]any {
		if existing == nil {
			existing = make(map[string]any, len(data))
		}
		for k, v := range docstore.CloneData(data) {
			existing[k] = v
		}
		return existing
	})
}

// Add creates a document with a ULID id.
func (s *SQLiteStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
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
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	collection, _, err := docstore.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, ok, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return classify(fmt.Errorf("delete document: %w", err))
	}
	s.broker.Publish(collection, &before, nil)
	return nil
}

// Documents runs q once, ordered by path.
func (s *SQLiteStore) Documents(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	return s.query(ctx, q)
}

// Subscribe opens a change feed for q.
func (s *SQLiteStore) Subscribe(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	initial, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.broker.SubscribeQuery(q, initial, h), nil
}

// SubscribeDoc opens a change feed for one document.
func (s *SQLiteStore) SubscribeDoc(ctx context.Context, path string, h docstore.DocHandler) (docstore.Subscription, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	var initial *docstore.Document
	if ok {
		initial = &doc
	}
	return s.broker.SubscribeDocument(path, initial, h), nil
}

// ClearCache is a no-op; rows are the source of truth for this backend.
func (s *SQLiteStore) ClearCache(context.Context) error {
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, path string, build func(existing map[string]any) map[string]any) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	var before *docstore.Document
	var existing map[string]any
	if existed {
		before = &prev
		existing = docstore.CloneData(prev.Data)
	}

	after := docstore.Document{ID: id, Path: path, Data: build(existing)}
	raw, err := encodeData(after.Data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	query := `
		INSERT INTO documents (path, collection, id, data, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, path, collection, id, raw); err != nil {
		return classify(fmt.Errorf("upsert document: %w", err))
	}

	s.broker.Publish(collection, before, &after)
	return nil
}

func (s *SQLiteStore) load(ctx context.Context, path string) (docstore.Document, bool, error) {
	query := `SELECT id, data FROM documents WHERE path = ?`

	var id, raw string
	err := s.db.QueryRowContext(ctx, query, path).Scan(&id, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Document{}, false, nil
		}
		return docstore.Document{}, false, classify(fmt.Errorf("query document: %w", err))
	}

	data, err := decodeData(raw)
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("decode document %s: %w", path, err)
	}
	return docstore.Document{ID: id, Path: path, Data: data}, true, nil
}

func (s *SQLiteStore) query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query := `SELECT path, id, data FROM documents WHERE collection = ? ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, q.Collection)
	if err != nil {
		return nil, classify(fmt.Errorf("query documents: %w", err))
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var path, id, raw string
		if err := rows.Scan(&path, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode document %s: %w", path, err)
		}
		if q.Matches(data) {
			out = append(out, docstore.Document{ID: id, Path: path, Data: data})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate documents: %w", err))
	}
	return out, nil
}

// classify marks busy/locked database errors as retryable.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	}
	return err
}

func encodeData(data map[string]any) (string, error) {
	raw, err := json.Marshal(encodeValue(data))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeData(raw string) (map[string]any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	decoded, _ := decodeValue(v).(map[string]any)
	return decoded, nil
}
