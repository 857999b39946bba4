package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/loop"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/retry"
)

// env is the context shared by a Manager and everything it owns.
type env struct {
	ctx       context.Context
	loop      *loop.Loop
	store     docstore.Store
	log       zerolog.Logger
	metrics   *metrics.Metrics
	retry     retry.Policy
	debounce  time.Duration
	window    Window
	pinned    string
	now       func() time.Time
	root      string
	observers *observerSet
	signals   *signalHub
}

func (e *env) channelsCollection() string {
	return docstore.Join(e.root, "channels")
}

func (e *env) emit(ev Event) {
	e.observers.dispatch(ev)
}

// subscribe opens a query feed whose batches run on the loop. alive is checked
// on the loop before each delivery so a cancelled feed never applies late batches.
func (e *env) subscribe(kind string, q docstore.Query, alive func() bool, apply func([]docstore.Change)) (docstore.Subscription, error) {
	sub, err := e.store.Subscribe(e.ctx, q, func(changes []docstore.Change, err error) {
		if err != nil {
			e.metrics.ListenerError(kind)
			e.log.Warn().Err(err).Str("kind", kind).Str("collection", q.Collection).Msg("listener error")
			return
		}
		e.loop.Post(func() {
			if alive() {
				apply(changes)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	e.metrics.SubscriptionOpened(kind)
	return &countedSub{Subscription: sub, kind: kind, metrics: e.metrics}, nil
}

// write runs fn with the retry policy, recording the outcome.
func (e *env) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, e.retry, fn, func(attempt int, err error, wait time.Duration) {
		e.metrics.WriteRetried(op)
		e.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying write")
	})
	e.metrics.Write(op, err)
	if err != nil {
		e.log.Error().Err(err).Str("op", op).Msg("write failed")
	}
	return err
}

// writeAsync runs write off the loop and reports through the returned Pending.
func (e *env) writeAsync(op, id string, fn func(ctx context.Context) error) *Pending {
	p := newPending()
	go func() {
		p.resolve(id, e.write(e.ctx, op, fn))
	}()
	return p
}

type countedSub struct {
	docstore.Subscription
	kind    string
	metrics *metrics.Metrics
	closed  bool
}

// Cancel is only called on the loop.
func (s *countedSub) Cancel() {
	if s.closed {
		return
	}
	s.closed = true
	s.Subscription.Cancel()
	s.metrics.SubscriptionClosed(s.kind)
}
