package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTripTypedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 30, 0, 123, time.UTC)
	data := map[string]any{
		"created":   created,
		"senderID":  "u1",
		"readBy":    map[string]time.Time{"u1": created},
		"userIds":   []string{"u1", "u2"},
		"hasUsers":  true,
		"anonymous": false,
	}
	if err := s.Set(ctx, "app-DEV/a1/channels/c1/messages/m1", data); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := s.Get(ctx, "app-DEV/a1/channels/c1/messages/m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "m1" {
		t.Errorf("expected id m1, got %q", doc.ID)
	}
	got, ok := doc.Data["created"].(time.Time)
	if !ok || !got.Equal(created) {
		t.Errorf("created not restored as time: %#v", doc.Data["created"])
	}
	readBy, ok := doc.Data["readBy"].(map[string]any)
	if !ok {
		t.Fatalf("readBy has type %T", doc.Data["readBy"])
	}
	if ts, ok := readBy["u1"].(time.Time); !ok || !ts.Equal(created) {
		t.Errorf("readBy[u1] not restored as time: %#v", readBy["u1"])
	}
	if doc.Data["hasUsers"] != true {
		t.Errorf("expected hasUsers true, got %#v", doc.Data["hasUsers"])
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "users/nobody")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "channels/a", map[string]any{"name": "A", "userIds": []any{"u1"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "channels/b", map[string]any{"name": "B", "userIds": []any{"u2"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(ctx, "channels/a", map[string]any{"name": "A2"}); err != nil {
		t.Fatal(err)
	}

	q := docstore.NewQuery("channels").Where("userIds", docstore.OpArrayContains, "u1")
	docs, err := s.Documents(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Data["name"] != "A2" {
		t.Errorf("expected merged name A2, got %v", docs[0].Data["name"])
	}
}

func TestSubscribeSeesWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []docstore.ChangeKind
	done := make(chan struct{})
	sub, err := s.Subscribe(ctx, docstore.NewQuery("channels"), func(changes []docstore.Change, err error) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			kinds = append(kinds, c.Kind)
		}
		if len(kinds) == 3 {
			close(done)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	id, err := s.Add(ctx, "channels", map[string]any{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	path := docstore.Join("channels", id)
	if err := s.Merge(ctx, path, map[string]any{"name": "y"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, path); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for changes")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []docstore.ChangeKind{docstore.ChangeAdded, docstore.ChangeModified, docstore.ChangeRemoved}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("change %d: expected %v, got %v", i, k, kinds[i])
		}
	}
}
