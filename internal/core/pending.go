package core

import "context"

// Pending is the outcome of an asynchronous remote write.
type Pending struct {
	done chan struct{}
	id   string
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolvedPending(id string, err error) *Pending {
	p := newPending()
	p.resolve(id, err)
	return p
}

func (p *Pending) resolve(id string, err error) {
	p.id = id
	p.err = err
	close(p.done)
}

// Done is closed when the write has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the write finishes and returns the written document id.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.id, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err returns the write error once Done is closed, nil before.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
