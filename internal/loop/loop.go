// Package loop provides the single serialized execution context that owns all
// mutable sync state. Work arrives from store goroutines and timers and is run
// one task at a time on the loop goroutine.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when work is submitted to a loop that has exited.
var ErrStopped = errors.New("loop stopped")

const defaultBacklog = 256

// Loop runs posted tasks sequentially on a single goroutine.
type Loop struct {
	tasks   chan func()
	quit    chan struct{}
	stopped sync.Once
	log     *zerolog.Logger
}

// New creates a loop. Run must be called for posted work to execute.
func New(logger *zerolog.Logger) *Loop {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Loop{
		tasks: make(chan func(), defaultBacklog),
		quit:  make(chan struct{}),
		log:   logger,
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Stop makes the loop exit; queued tasks are discarded.
func (l *Loop) Stop() {
	l.stopped.Do(func() { close(l.quit) })
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}

// Post enqueues fn. It blocks while the backlog is full and returns false once the loop is stopped.
// Never call Post from the loop goroutine with a full backlog; use it from store and timer goroutines.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
// Calling Do from the loop goroutine deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrStopped
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("loop task panicked")
		}
	}()
	fn()
}
