package core

import "sync"

// SignalKind names a process-wide notification.
type SignalKind int

const (
	// SignalAppUnread is broadcast when the aggregate unread count changes.
	SignalAppUnread SignalKind = iota
	// SignalChannelUnread is broadcast when any channel's unread count changes.
	SignalChannelUnread
)

func (k SignalKind) String() string {
	switch k {
	case SignalAppUnread:
		return "app_unread"
	case SignalChannelUnread:
		return "channel_unread"
	default:
		return "unknown"
	}
}

// Signal is a lightweight broadcast that needs no observer registration.
type Signal struct {
	Kind      SignalKind
	ChannelID string
	Count     int
}

// signalHub fans signals out to subscriber channels.
type signalHub struct {
	mu   sync.Mutex
	subs map[chan Signal]struct{}
}

func newSignalHub() *signalHub {
	return &signalHub{subs: make(map[chan Signal]struct{})}
}

func (h *signalHub) subscribe(buffer int) (<-chan Signal, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Signal, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *signalHub) broadcast(s Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Drop if slow consumer.
		}
	}
}
