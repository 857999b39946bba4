package core

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

// Sender is the metadata of a message's author.
type Sender struct {
	ID          string
	DisplayName string
	Role        string
}

// PayloadKind discriminates Payload.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadImage
	PayloadURL
	PayloadRequest
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadImage:
		return "image"
	case PayloadURL:
		return "url"
	case PayloadRequest:
		return "request"
	default:
		return "unknown"
	}
}

// RequestKind discriminates Request.
type RequestKind int

const (
	RequestAction RequestKind = iota
	RequestNotification
)

func (k RequestKind) String() string {
	if k == RequestNotification {
		return "notification"
	}
	return "action"
}

// Request is a structured request addressed to a role.
type Request struct {
	Kind RequestKind
	Name string
	Role string
}

// Payload is the content of a message; exactly the field matching Kind is set.
type Payload struct {
	Kind    PayloadKind
	Text    string
	URL     string
	Request Request
}

// Message is one chat message. Everything except the read receipts is fixed at creation.
type Message struct {
	Sender  Sender
	SentAt  time.Time
	Payload Payload

	id      string
	readBy  map[string]time.Time
	channel *Channel
}

func newMessage(sender Sender, payload Payload) *Message {
	return &Message{
		Sender:  sender,
		SentAt:  time.Now(),
		Payload: payload,
		readBy:  make(map[string]time.Time),
	}
}

// NewTextMessage composes a plain text message.
func NewTextMessage(sender Sender, text string) *Message {
	return newMessage(sender, Payload{Kind: PayloadText, Text: text})
}

// NewImageMessage composes a message referencing an uploaded image.
func NewImageMessage(sender Sender, ref string) *Message {
	return newMessage(sender, Payload{Kind: PayloadImage, URL: ref})
}

// NewURLMessage composes a download-link message.
func NewURLMessage(sender Sender, url string) *Message {
	return newMessage(sender, Payload{Kind: PayloadURL, URL: url})
}

// NewRequestMessage composes a structured request message.
func NewRequestMessage(sender Sender, req Request) *Message {
	return newMessage(sender, Payload{Kind: PayloadRequest, Request: req})
}

// ID returns the store-assigned id; false until the message has been persisted.
func (m *Message) ID() (string, bool) {
	return m.id, m.id != ""
}

// Same reports whether m and other are the same message: equal non-empty ids,
// or the very same value.
func (m *Message) Same(other *Message) bool {
	if m == nil || other == nil {
		return false
	}
	if m == other {
		return true
	}
	return m.id != "" && m.id == other.id
}

// Channel returns the channel holding the message, nil when detached.
func (m *Message) Channel() *Channel {
	return m.channel
}

// ReadBy returns a copy of the read receipts.
func (m *Message) ReadBy() map[string]time.Time {
	out := make(map[string]time.Time, len(m.readBy))
	for k, v := range m.readBy {
		out[k] = v
	}
	return out
}

func (m *Message) participantID() string {
	if m.channel == nil || m.channel.app == nil {
		return ""
	}
	return m.channel.app.participantID
}

// IsFromMe reports whether the current participant sent m. False without linkage.
func (m *Message) IsFromMe() bool {
	pid := m.participantID()
	return pid != "" && pid == m.Sender.ID
}

// IsReadByMe reports whether the current participant has read m. False without linkage.
func (m *Message) IsReadByMe() bool {
	pid := m.participantID()
	if pid == "" {
		return false
	}
	_, ok := m.readBy[pid]
	return ok
}

// MarkAsReadByMe records a read receipt for the current participant and
// persists the receipt map. It returns nil when nothing changed: the message
// was already read, was sent by the participant, or has no channel linkage.
// Must be called on the loop.
func (m *Message) MarkAsReadByMe() *Pending {
	pid := m.participantID()
	if pid == "" || m.IsFromMe() || m.IsReadByMe() {
		return nil
	}

	env := m.channel.env
	m.readBy[pid] = env.now()

	if m.id == "" {
		return resolvedPending("", ErrNotPersisted)
	}

	path := docstore.Join(m.channel.messagesCollection(), m.id)
	receipts := m.ReadBy()
	id := m.id
	return env.writeAsync("mark_read", id, func(ctx context.Context) error {
		return env.store.Merge(ctx, path, map[string]any{fieldReadBy: receipts})
	})
}
