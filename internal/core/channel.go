package core

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/loop"
)

const subMessages = "messages"

// Channel is one conversation: its metadata, an ordered message cache kept in
// sync by a change feed over the message collection, and its unread count.
// Methods must be called on the loop unless noted.
type Channel struct {
	env *env
	app *App

	id      string
	appID   string
	name    string
	created time.Time
	userIDs []string

	messages     []*Message
	participants map[string]Sender
	unread       int

	sub    docstore.Subscription
	subGen uint64
	recalc *loop.Debouncer
}

func newChannel(e *env, rec channelRecord) *Channel {
	c := &Channel{
		env:          e,
		id:           rec.id,
		appID:        rec.appID,
		name:         rec.name,
		created:      rec.created,
		participants: make(map[string]Sender),
	}
	if len(rec.userIDs) > 0 {
		c.userIDs = append([]string(nil), rec.userIDs...)
	}
	c.recalc = loop.NewDebouncer(e.loop, e.debounce, c.recomputeUnread)
	return c
}

func (c *Channel) ID() string         { return c.id }
func (c *Channel) AppID() string      { return c.appID }
func (c *Channel) Name() string       { return c.name }
func (c *Channel) Created() time.Time { return c.created }
func (c *Channel) UnreadCount() int   { return c.unread }
func (c *Channel) Listening() bool    { return c.sub != nil }
func (c *Channel) App() *App          { return c.app }
func (c *Channel) HasUsers() bool     { return len(c.userIDs) > 0 }
func (c *Channel) IsOpen() bool       { return !c.HasUsers() }
func (c *Channel) UserIDs() []string  { return append([]string(nil), c.userIDs...) }
func (c *Channel) MessageCount() int  { return len(c.messages) }

// Messages returns the cache, sorted by SentAt.
func (c *Channel) Messages() []*Message {
	return append([]*Message(nil), c.messages...)
}

// Participants returns the sender directory keyed by sender id.
func (c *Channel) Participants() map[string]Sender {
	out := make(map[string]Sender, len(c.participants))
	for k, v := range c.participants {
		out[k] = v
	}
	return out
}

// LatestMessage returns the last message by SentAt, nil when empty.
func (c *Channel) LatestMessage() *Message {
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// UserIDsWithoutParticipant returns the roster minus the current participant.
// It reports false for open channels or when the participant is not on the roster.
func (c *Channel) UserIDsWithoutParticipant() ([]string, bool) {
	if c.userIDs == nil || c.app == nil || c.app.participantID == "" {
		return nil, false
	}
	out := make([]string, 0, len(c.userIDs))
	found := false
	for _, id := range c.userIDs {
		if id == c.app.participantID && !found {
			found = true
			continue
		}
		out = append(out, id)
	}
	if !found {
		return nil, false
	}
	return out, true
}

func (c *Channel) messagesCollection() string {
	return docstore.Join(c.env.channelsCollection(), c.id, "messages")
}

// SetupListener subscribes to the message collection. It is a no-op while subscribed.
func (c *Channel) SetupListener() error {
	if c.sub != nil {
		return nil
	}
	c.subGen++
	gen := c.subGen
	q := docstore.NewQuery(c.messagesCollection())
	sub, err := c.env.subscribe(subMessages, q, func() bool {
		return c.sub != nil && c.subGen == gen
	}, c.applyChanges)
	if err != nil {
		c.env.log.Error().Err(err).Str("channel_id", c.id).Msg("subscribe to messages failed")
		return err
	}
	c.sub = sub
	return nil
}

// RemoveListener cancels the message subscription, if any.
func (c *Channel) RemoveListener() {
	if c.sub == nil {
		return
	}
	c.sub.Cancel()
	c.sub = nil
	c.subGen++
}

// Cleanup stops listening and recomputing and clears the cache.
func (c *Channel) Cleanup() {
	c.RemoveListener()
	c.recalc.Stop()
	c.messages = nil
	c.participants = make(map[string]Sender)
}

// AddMessage persists m under this channel. The cache is only updated when the
// write echoes back through the listener. Safe to call from any goroutine as
// long as m is not shared.
func (c *Channel) AddMessage(m *Message) *Pending {
	m.channel = c
	if m.readBy == nil {
		m.readBy = make(map[string]time.Time)
	}
	id := ulid.Make().String()
	path := docstore.Join(c.messagesCollection(), id)
	data := encodeMessage(m)
	return c.env.writeAsync("add_message", id, func(ctx context.Context) error {
		return c.env.store.Set(ctx, path, data)
	})
}

// CalculateUnreadMessagesCount schedules a debounced recount, restarting any pending one.
func (c *Channel) CalculateUnreadMessagesCount() {
	c.recalc.Trigger()
}

func (c *Channel) recomputeUnread() {
	c.env.metrics.Recomputed("channel")

	count := 0
	for _, m := range c.messages {
		if !m.IsFromMe() && !m.IsReadByMe() {
			count++
		}
	}
	if count == c.unread || c.app == nil {
		return
	}
	index := c.app.indexOf(c)
	if index < 0 {
		return
	}

	c.unread = count
	c.env.log.Debug().Str("channel_id", c.id).Int("count", count).Msg("channel unread changed")
	c.env.emit(Event{Kind: EventChannelUnreadChanged, App: c.app, Channel: c, Index: index, Count: count})
	c.env.signals.broadcast(Signal{Kind: SignalChannelUnread, ChannelID: c.id, Count: count})
	c.app.CalculateUnreadMessagesCount()
}

func (c *Channel) applyChanges(changes []docstore.Change) {
	for _, ch := range changes {
		m, ok := DecodeMessage(ch.Doc)
		if !ok {
			c.env.metrics.ChangeDropped("decode")
			c.env.log.Debug().Str("channel_id", c.id).Str("message_id", ch.Doc.ID).Msg("dropping undecodable message")
			continue
		}
		m.channel = c

		var applied bool
		switch ch.Kind {
		case docstore.ChangeAdded:
			applied = c.insertMessage(m)
		case docstore.ChangeModified:
			applied = c.modifyMessage(m)
		case docstore.ChangeRemoved:
			applied = c.deleteMessage(m)
		}
		if !applied {
			c.env.metrics.ChangeDropped("unmatched")
			continue
		}
		c.env.metrics.ChangeApplied("message", ch.Kind.String())
		c.CalculateUnreadMessagesCount()
	}
}

func (c *Channel) indexOfMessage(m *Message) int {
	for i, cur := range c.messages {
		if cur.Same(m) {
			return i
		}
	}
	return -1
}

func (c *Channel) sortMessages() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].SentAt.Before(c.messages[j].SentAt)
	})
}

func (c *Channel) insertMessage(m *Message) bool {
	if c.indexOfMessage(m) >= 0 {
		return false
	}
	c.messages = append(c.messages, m)
	c.sortMessages()
	c.participants[m.Sender.ID] = m.Sender

	isLatest := c.indexOfMessage(m) == len(c.messages)-1
	c.env.emit(Event{Kind: EventMessageAdded, App: c.app, Channel: c, Message: m, IsLatest: isLatest})
	return true
}

func (c *Channel) modifyMessage(m *Message) bool {
	idx := c.indexOfMessage(m)
	if idx < 0 {
		return false
	}
	c.messages[idx] = m
	c.sortMessages()
	c.participants[m.Sender.ID] = m.Sender

	c.env.emit(Event{Kind: EventMessageModified, App: c.app, Channel: c, Message: m})
	return true
}

func (c *Channel) deleteMessage(m *Message) bool {
	idx := c.indexOfMessage(m)
	if idx < 0 {
		return false
	}
	removed := c.messages[idx]
	c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	// The sender leaves the directory even if other messages from them remain.
	delete(c.participants, removed.Sender.ID)

	c.env.emit(Event{Kind: EventMessageRemoved, App: c.app, Channel: c, Message: removed})
	return true
}

// lessChannel orders channels by name with the pinned name first; ties by id.
func lessChannel(a, b *Channel, pinned string) bool {
	ap, bp := pinned != "" && a.name == pinned, pinned != "" && b.name == pinned
	if ap != bp {
		return ap
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.id < b.id
}
