package docstore

import "sync"

// Broker fans document writes out to in-process change feeds. Stores that do
// not have a native change feed (memory, sqlite) publish every write here.
// Each subscription delivers on its own goroutine, in publish order, so store
// writes never block on a slow handler.
type Broker struct {
	mu      sync.Mutex
	next    uint64
	queries map[uint64]*querySub
	docs    map[uint64]*docSub
}

type querySub struct {
	q Query
	h Handler
	p *pump
}

type docSub struct {
	path string
	h    DocHandler
	p    *pump
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queries: make(map[uint64]*querySub),
		docs:    make(map[uint64]*docSub),
	}
}

// SubscribeQuery registers h for q and delivers initial as the first batch of additions.
// Callers must hold the lock that orders their writes so no write slips between the
// snapshot and the registration.
func (b *Broker) SubscribeQuery(q Query, initial []Document, h Handler) Subscription {
	sub := &querySub{q: q, h: h, p: newPump()}

	b.mu.Lock()
	b.next++
	id := b.next
	b.queries[id] = sub
	b.mu.Unlock()

	if len(initial) > 0 {
		changes := make([]Change, 0, len(initial))
		for _, doc := range initial {
			changes = append(changes, Change{Kind: ChangeAdded, Doc: CloneDocument(doc)})
		}
		sub.p.push(func() { h(changes, nil) })
	}

	return &brokerSub{cancel: func() {
		b.mu.Lock()
		delete(b.queries, id)
		b.mu.Unlock()
		sub.p.stop()
	}}
}

// SubscribeDocument registers h for the document at path and delivers its current state.
func (b *Broker) SubscribeDocument(path string, initial *Document, h DocHandler) Subscription {
	sub := &docSub{path: path, h: h, p: newPump()}

	b.mu.Lock()
	b.next++
	id := b.next
	b.docs[id] = sub
	b.mu.Unlock()

	if initial != nil {
		doc := CloneDocument(*initial)
		sub.p.push(func() { h(doc, true, nil) })
	} else {
		sub.p.push(func() { h(Document{Path: path}, false, nil) })
	}

	return &brokerSub{cancel: func() {
		b.mu.Lock()
		delete(b.docs, id)
		b.mu.Unlock()
		sub.p.stop()
	}}
}

// Publish announces that the document in collection went from before to after.
// A nil before means created, a nil after means deleted.
func (b *Broker) Publish(collection string, before, after *Document) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.queries {
		if sub.q.Collection != collection {
			continue
		}
		wasIn := before != nil && sub.q.Matches(before.Data)
		isIn := after != nil && sub.q.Matches(after.Data)

		var change Change
		switch {
		case !wasIn && isIn:
			change = Change{Kind: ChangeAdded, Doc: CloneDocument(*after)}
		case wasIn && isIn:
			change = Change{Kind: ChangeModified, Doc: CloneDocument(*after)}
		case wasIn && !isIn:
			// removal reports the last state the subscriber saw
			change = Change{Kind: ChangeRemoved, Doc: CloneDocument(*before)}
		default:
			continue
		}
		h := sub.h
		sub.p.push(func() { h([]Change{change}, nil) })
	}

	var path string
	switch {
	case after != nil:
		path = after.Path
	case before != nil:
		path = before.Path
	}
	for _, sub := range b.docs {
		if sub.path != path {
			continue
		}
		h := sub.h
		if after != nil {
			doc := CloneDocument(*after)
			sub.p.push(func() { h(doc, true, nil) })
		} else {
			sub.p.push(func() { h(Document{Path: path}, false, nil) })
		}
	}
}

// Fail delivers err to every query subscription on collection. The subscriptions stay registered.
func (b *Broker) Fail(collection string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.queries {
		if sub.q.Collection != collection {
			continue
		}
		h := sub.h
		sub.p.push(func() { h(nil, err) })
	}
}

// Active returns the number of live subscriptions.
func (b *Broker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries) + len(b.docs)
}

// Close cancels every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.queries {
		sub.p.stop()
		delete(b.queries, id)
	}
	for id, sub := range b.docs {
		sub.p.stop()
		delete(b.docs, id)
	}
}

type brokerSub struct {
	once   sync.Once
	cancel func()
}

func (s *brokerSub) Cancel() {
	s.once.Do(s.cancel)
}

// pump is an unbounded FIFO of deliveries drained by one goroutine.
type pump struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newPump() *pump {
	p := &pump{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) push(fn func()) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pump) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			fn := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			select {
			case <-p.done:
				return
			default:
			}
			fn()
		}
	}
}

func (p *pump) stop() {
	p.once.Do(func() { close(p.done) })
}
