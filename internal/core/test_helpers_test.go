package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/docstore/memory"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/retry"
)

const testDebounce = 30 * time.Millisecond

type harness struct {
	t      *testing.T
	store  *memory.Store
	auth   *auth.Service
	m      *Manager
	events chan *Event
	ctx    context.Context
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()

	st := memory.New()
	authSvc := auth.NewService(st, &auth.JWTConfig{Secret: []byte("test"), Issuer: "test", TTL: time.Hour})
	opts := Options{
		AppID:         "app1",
		AppName:       "wirechat",
		Stage:         "TEST",
		PinnedChannel: "Main",
		Debounce:      testDebounce,
		Retry:         retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		Metrics:       metrics.New(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := NewManager(st, authSvc, opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go m.Run(ctx)

	h := &harness{t: t, store: st, auth: authSvc, m: m, events: make(chan *Event, 512), ctx: ctx}
	m.Observe(ObserverFunc(func(ev Event) {
		select {
		case h.events <- &ev:
		default:
		}
	}))

	t.Cleanup(func() {
		_ = m.Teardown(context.Background())
		cancel()
		_ = st.Close()
	})
	return h
}

// ready signs in and initializes the app.
func (h *harness) ready() *App {
	h.t.Helper()
	if err := h.m.AnonymousLoginAndLoad(h.ctx); err != nil {
		h.t.Fatalf("login: %v", err)
	}
	app, err := h.m.AppInitializer(h.ctx)
	if err != nil {
		h.t.Fatalf("init app: %v", err)
	}
	return app
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	if err := h.m.Do(h.ctx, fn); err != nil {
		h.t.Fatalf("do: %v", err)
	}
}

// cachedChannel creates a channel on the loop without touching the store.
func (h *harness) cachedChannel(app *App, id, name string, userIDs []string) *Channel {
	h.t.Helper()
	var c *Channel
	h.do(func() {
		c = newChannel(h.m.env, channelRecord{id: id, appID: app.id, name: name, created: time.Now(), userIDs: userIDs})
		app.AddCachedChannel(c)
	})
	return c
}

func (h *harness) channelsPath() string {
	return h.m.env.channelsCollection()
}

func (h *harness) messagesPath(channelID string) string {
	return docstore.Join(h.channelsPath(), channelID, "messages")
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drainEvents collects everything emitted within d.
func drainEvents(ch <-chan *Event, d time.Duration) []*Event {
	var out []*Event
	timeout := time.After(d)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// eventually polls cond on the loop until it holds.
func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.do(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("condition not met: %s", msg)
}

func messageDoc(id, senderID, senderName, text string, sent time.Time) docstore.Document {
	return docstore.Document{
		ID: id,
		Data: map[string]any{
			fieldCreated:    sent,
			fieldSenderID:   senderID,
			fieldSenderName: senderName,
			fieldReadBy:     map[string]time.Time{},
			fieldKind:       "text",
			fieldContent:    text,
		},
	}
}

func channelDoc(id, name string, created time.Time, userIDs []string) map[string]any {
	ids := userIDs
	if ids == nil {
		ids = []string{}
	}
	return map[string]any{
		fieldChannelID: id,
		fieldAppID:     "app1",
		fieldName:      name,
		fieldCreated:   created,
		fieldUserIDs:   ids,
		fieldHasUsers:  len(ids) > 0,
	}
}
