package core

import "sync"

// Observer receives events on the loop. It must not block or call back into
// blocking Manager methods.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// ObserverHandle identifies one registration.
type ObserverHandle struct {
	set   *observerSet
	obs   Observer
	kinds map[EventKind]struct{}
}

// Remove unregisters the observer. It is safe to call more than once.
func (h *ObserverHandle) Remove() {
	h.set.remove(h)
}

func (h *ObserverHandle) wants(k EventKind) bool {
	if len(h.kinds) == 0 {
		return true
	}
	_, ok := h.kinds[k]
	return ok
}

// observerSet keeps registrations in order; every event goes to every matching observer.
type observerSet struct {
	mu      sync.Mutex
	handles []*ObserverHandle
}

func (s *observerSet) add(obs Observer, kinds []EventKind) *ObserverHandle {
	h := &ObserverHandle{set: s, obs: obs}
	if len(kinds) > 0 {
		h.kinds = make(map[EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			h.kinds[k] = struct{}{}
		}
	}

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

func (s *observerSet) remove(h *ObserverHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.handles {
		if cur == h {
			s.handles = append(s.handles[:i:i], s.handles[i+1:]...)
			return
		}
	}
}

func (s *observerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *observerSet) dispatch(ev Event) {
	s.mu.Lock()
	handles := append([]*ObserverHandle(nil), s.handles...)
	s.mu.Unlock()

	for _, h := range handles {
		if h.wants(ev.Kind) {
			h.obs.OnEvent(ev)
		}
	}
}
