package docstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]Change
	errs    []error
}

func (r *recorder) handle(changes []Change, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.batches = append(r.batches, changes)
}

func (r *recorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ChangeKind
	for _, b := range r.batches {
		for _, c := range b {
			out = append(out, c.Kind)
		}
	}
	return out
}

func TestBrokerQueryTransitions(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	rec := &recorder{}
	q := NewQuery("channels").Where("hasUsers", OpEqual, false)
	sub := b.SubscribeQuery(q, nil, rec.handle)
	defer sub.Cancel()

	open := Document{ID: "c1", Path: "channels/c1", Data: map[string]any{"hasUsers": false}}
	renamed := Document{ID: "c1", Path: "channels/c1", Data: map[string]any{"hasUsers": false, "name": "x"}}
	closed := Document{ID: "c1", Path: "channels/c1", Data: map[string]any{"hasUsers": true}}

	b.Publish("channels", nil, &open)
	b.Publish("channels", &open, &renamed)
	b.Publish("channels", &renamed, &closed)
	b.Publish("channels", &closed, nil)
	b.Publish("other", nil, &open)

	want := []ChangeKind{ChangeAdded, ChangeModified, ChangeRemoved}
	require.Eventually(t, func() bool { return len(rec.kinds()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.kinds())
}

func TestBrokerInitialBatchAndFail(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	rec := &recorder{}
	initial := []Document{{ID: "a", Path: "c/a"}, {ID: "b", Path: "c/b"}}
	b.SubscribeQuery(NewQuery("c"), initial, rec.handle)

	boom := errors.New("boom")
	b.Fail("c", boom)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.batches) == 1 && len(rec.errs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.batches[0], 2)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Equal(t, 1, b.Active())
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	rec := &recorder{}
	sub := b.SubscribeQuery(NewQuery("c"), nil, rec.handle)
	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, b.Active())

	doc := Document{ID: "a", Path: "c/a"}
	b.Publish("c", nil, &doc)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.kinds())
}

func TestBrokerDocumentFeed(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var mu sync.Mutex
	var states []bool
	b.SubscribeDocument("apps/a1", nil, func(_ Document, exists bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, exists)
	})

	doc := Document{ID: "a1", Path: "apps/a1"}
	b.Publish("apps", nil, &doc)
	b.Publish("apps", &doc, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false, true, false}, states)
}
