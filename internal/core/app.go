package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/loop"
)

const (
	subChannelID    = "channel_id"
	subRoster       = "roster"
	subOpenChannels = "open_channels"
)

// App is the tenant: the channel cache and the listeners that feed it.
// Methods must be called on the loop unless they take a context.
type App struct {
	env *env

	id   string
	name string

	channels      map[string]*Channel
	participantID string
	unread        int

	channelIDSubs map[string]docstore.Subscription
	rosterSub     docstore.Subscription
	rosterTimer   *time.Timer
	openSub       docstore.Subscription
	openTimer     *time.Timer

	recalc *loop.Debouncer
}

func newApp(e *env, id, name string) *App {
	a := &App{
		env:           e,
		id:            id,
		name:          name,
		channels:      make(map[string]*Channel),
		channelIDSubs: make(map[string]docstore.Subscription),
	}
	a.recalc = loop.NewDebouncer(e.loop, e.debounce, a.recomputeUnread)
	return a
}

func (a *App) ID() string            { return a.id }
func (a *App) Name() string          { return a.name }
func (a *App) ParticipantID() string { return a.participantID }
func (a *App) UnreadCount() int      { return a.unread }

// Channels returns the cached channels, pinned channel first, then by name.
func (a *App) Channels() []*Channel {
	out := make([]*Channel, 0, len(a.channels))
	for _, c := range a.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return lessChannel(out[i], out[j], a.env.pinned) })
	return out
}

func (a *App) indexOf(c *Channel) int {
	for i, cur := range a.Channels() {
		if cur.id == c.id {
			return i
		}
	}
	return -1
}

// UnreadFor returns a cached channel's unread count. Unknown channels report false, not zero.
func (a *App) UnreadFor(channelID string) (int, bool) {
	c, ok := a.channels[channelID]
	if !ok {
		return 0, false
	}
	return c.unread, true
}

// AddCachedChannel stores c under its id.
func (a *App) AddCachedChannel(c *Channel) {
	c.app = a
	a.channels[c.id] = c
}

// RemoveCachedChannel drops the entry for channelID without tearing it down.
func (a *App) RemoveCachedChannel(channelID string) (*Channel, bool) {
	c, ok := a.channels[channelID]
	if ok {
		delete(a.channels, channelID)
	}
	return c, ok
}

// CachedChannel looks up a cached channel.
func (a *App) CachedChannel(channelID string) (*Channel, bool) {
	c, ok := a.channels[channelID]
	return c, ok
}

// ClearCachedChannels tears down and drops every cached channel.
func (a *App) ClearCachedChannels() {
	for id, c := range a.channels {
		c.Cleanup()
		delete(a.channels, id)
	}
}

// ForgetChannel tears down and evicts a cached channel. Its channel-id listener, if any, stays.
func (a *App) ForgetChannel(channelID string) bool {
	c, ok := a.RemoveCachedChannel(channelID)
	if ok {
		c.Cleanup()
	}
	return ok
}

func (a *App) channelsQuery() docstore.Query {
	return docstore.NewQuery(a.env.channelsCollection())
}

// SetupChannelIDListener follows the document of one channel. It is a no-op
// while a listener for channelID exists.
func (a *App) SetupChannelIDListener(channelID string) error {
	if _, ok := a.channelIDSubs[channelID]; ok {
		return nil
	}
	var sub docstore.Subscription
	q := a.channelsQuery().Where(fieldChannelID, docstore.OpEqual, channelID)
	sub, err := a.env.subscribe(subChannelID, q, func() bool {
		cur, ok := a.channelIDSubs[channelID]
		return ok && cur == sub
	}, a.applyChanges)
	if err != nil {
		return fmt.Errorf("channel %s listener: %w", channelID, err)
	}
	a.channelIDSubs[channelID] = sub
	return nil
}

// RemoveChannelIDListener stops following one channel document. The channel stays cached.
func (a *App) RemoveChannelIDListener(channelID string) {
	sub, ok := a.channelIDSubs[channelID]
	if !ok {
		return
	}
	sub.Cancel()
	delete(a.channelIDSubs, channelID)
}

// RemoveAllChannelIDListeners stops every channel-id listener.
func (a *App) RemoveAllChannelIDListeners() {
	for id := range a.channelIDSubs {
		a.RemoveChannelIDListener(id)
	}
}

// HasChannelIDListener reports whether channelID is followed.
func (a *App) HasChannelIDListener(channelID string) bool {
	_, ok := a.channelIDSubs[channelID]
	return ok
}

// SetParticipantID replaces the roster listener: the previous one is removed and,
// for a non-empty id, channels whose roster contains id are followed.
func (a *App) SetParticipantID(id string) error {
	a.removeRosterListener()
	a.participantID = id
	if id == "" {
		return nil
	}
	return a.setupRosterListener()
}

// RosterListening reports whether the roster listener is active.
func (a *App) RosterListening() bool {
	return a.rosterSub != nil
}

func (a *App) setupRosterListener() error {
	q := a.channelsQuery().Where(fieldUserIDs, docstore.OpArrayContains, a.participantID)
	sub, timer, err := a.windowedListener(subRoster, q, func() {
		a.removeRosterListener()
		if a.participantID != "" {
			if err := a.setupRosterListener(); err != nil {
				a.env.log.Error().Err(err).Msg("roster listener rollover failed")
			}
		}
	}, func(sub docstore.Subscription) bool { return a.rosterSub == sub })
	if err != nil {
		return fmt.Errorf("roster listener: %w", err)
	}
	a.rosterSub, a.rosterTimer = sub, timer
	return nil
}

func (a *App) removeRosterListener() {
	if a.rosterTimer != nil {
		a.rosterTimer.Stop()
		a.rosterTimer = nil
	}
	if a.rosterSub != nil {
		a.rosterSub.Cancel()
		a.rosterSub = nil
	}
}

// SetupOpenChannelListener follows channels without a roster. It is a no-op while active.
func (a *App) SetupOpenChannelListener() error {
	if a.openSub != nil {
		return nil
	}
	q := a.channelsQuery().Where(fieldHasUsers, docstore.OpEqual, false)
	sub, timer, err := a.windowedListener(subOpenChannels, q, func() {
		a.RemoveOpenChannelListener()
		if err := a.SetupOpenChannelListener(); err != nil {
			a.env.log.Error().Err(err).Msg("open channel listener rollover failed")
		}
	}, func(sub docstore.Subscription) bool { return a.openSub == sub })
	if err != nil {
		return fmt.Errorf("open channel listener: %w", err)
	}
	a.openSub, a.openTimer = sub, timer
	return nil
}

// RemoveOpenChannelListener stops following open channels.
func (a *App) RemoveOpenChannelListener() {
	if a.openTimer != nil {
		a.openTimer.Stop()
		a.openTimer = nil
	}
	if a.openSub != nil {
		a.openSub.Cancel()
		a.openSub = nil
	}
}

// windowedListener restricts q to the current window and, when a window is
// configured, schedules rollover on the loop for when it moves. current reports
// whether sub is still the live feed.
func (a *App) windowedListener(kind string, q docstore.Query, rollover func(), current func(docstore.Subscription) bool) (docstore.Subscription, *time.Timer, error) {
	now := a.env.now()
	var next time.Time
	if w := a.env.window; w != nil {
		start, end := w.Bounds(now)
		q = q.Where(fieldCreated, docstore.OpGreater, start).Where(fieldCreated, docstore.OpLess, end)

		n, err := w.NextRollover(now)
		if err != nil {
			return nil, nil, err
		}
		next = n
	}

	var sub docstore.Subscription
	sub, err := a.env.subscribe(kind, q, func() bool {
		return sub != nil && current(sub)
	}, a.applyChanges)
	if err != nil {
		return nil, nil, err
	}

	var timer *time.Timer
	if !next.IsZero() {
		timer = time.AfterFunc(next.Sub(now), func() {
			a.env.loop.Post(func() {
				if current(sub) {
					a.env.log.Info().Str("kind", kind).Msg("window rolled over")
					rollover()
				}
			})
		})
	}
	return sub, timer, nil
}

// CalculateUnreadMessagesCount schedules a debounced recount of the aggregate.
func (a *App) CalculateUnreadMessagesCount() {
	a.recalc.Trigger()
}

func (a *App) recomputeUnread() {
	a.env.metrics.Recomputed("app")

	total := 0
	for _, c := range a.channels {
		total += c.unread
	}
	if total == a.unread {
		return
	}
	a.unread = total
	a.env.metrics.SetAppUnread(total)
	a.env.log.Debug().Str("app_id", a.id).Int("count", total).Msg("app unread changed")
	a.env.emit(Event{Kind: EventAppUnreadChanged, App: a, Count: total})
	a.env.signals.broadcast(Signal{Kind: SignalAppUnread, Count: total})
}

func (a *App) applyChanges(changes []docstore.Change) {
	for _, ch := range changes {
		rec, ok := decodeChannel(ch.Doc)
		if !ok {
			a.env.metrics.ChangeDropped("decode")
			a.env.log.Debug().Str("channel_id", ch.Doc.ID).Msg("dropping undecodable channel")
			continue
		}

		var applied bool
		switch ch.Kind {
		case docstore.ChangeAdded:
			applied = a.insertChannel(rec)
		case docstore.ChangeModified:
			applied = a.modifyChannel(rec)
		case docstore.ChangeRemoved:
			applied = a.deleteChannel(rec)
		}
		if applied {
			a.env.metrics.ChangeApplied("channel", ch.Kind.String())
		} else {
			a.env.metrics.ChangeDropped("unmatched")
		}
		a.CalculateUnreadMessagesCount()
	}
}

func (a *App) insertChannel(rec channelRecord) bool {
	if _, ok := a.channels[rec.id]; ok {
		return false
	}
	c := newChannel(a.env, rec)
	a.adopt(c)
	return true
}

// adopt caches c, starts its message listener and announces it.
func (a *App) adopt(c *Channel) {
	a.AddCachedChannel(c)
	if err := c.SetupListener(); err != nil {
		a.env.log.Warn().Err(err).Str("channel_id", c.id).Msg("channel cached without message listener")
	}
	a.env.emit(Event{Kind: EventChannelAdded, App: a, Channel: c, Index: a.indexOf(c)})
}

func (a *App) modifyChannel(rec channelRecord) bool {
	c, ok := a.channels[rec.id]
	if !ok {
		return false
	}
	// The app id is fixed once set; only the name follows the document.
	c.name = rec.name
	a.env.emit(Event{Kind: EventChannelModified, App: a, Channel: c, Index: a.indexOf(c)})
	return true
}

func (a *App) deleteChannel(rec channelRecord) bool {
	c, ok := a.channels[rec.id]
	if !ok {
		return false
	}
	index := a.indexOf(c)
	c.Cleanup()
	delete(a.channels, rec.id)
	a.env.emit(Event{Kind: EventChannelRemoved, App: a, Channel: c, Index: index})
	return true
}

// LoadAllChannels reads every channel document once and caches the unknown ones.
// Must not be called on the loop.
func (a *App) LoadAllChannels(ctx context.Context) (int, error) {
	docs, err := a.env.store.Documents(ctx, a.channelsQuery())
	if err != nil {
		return 0, fmt.Errorf("load channels: %w", err)
	}

	added := 0
	err = a.env.loop.Do(ctx, func() {
		for _, doc := range docs {
			rec, ok := decodeChannel(doc)
			if !ok {
				a.env.metrics.ChangeDropped("decode")
				continue
			}
			if a.insertChannel(rec) {
				added++
			}
		}
		if added > 0 {
			a.CalculateUnreadMessagesCount()
		}
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// GetChannel returns the cached channel or reads it from the store. A channel
// read from the store is not cached. Must not be called on the loop.
func (a *App) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var cached *Channel
	if err := a.env.loop.Do(ctx, func() { cached = a.channels[channelID] }); err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	doc, err := a.env.store.Get(ctx, docstore.Join(a.env.channelsCollection(), channelID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	rec, ok := decodeChannel(doc)
	if !ok {
		return nil, fmt.Errorf("%w: %s is malformed", ErrChannelNotFound, channelID)
	}
	c := newChannel(a.env, rec)
	c.app = a
	return c, nil
}

// AddChannel gets or creates a channel. A new channel is cached optimistically and
// removed again when the write fails. Must not be called on the loop.
func (a *App) AddChannel(ctx context.Context, channelID, name string, userIDs []string) (*Channel, error) {
	if channelID == "" {
		return nil, fmt.Errorf("%w: empty channel id", ErrBadRequest)
	}
	existing, err := a.GetChannel(ctx, channelID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrChannelNotFound) {
		return nil, err
	}

	c := newChannel(a.env, channelRecord{
		id:      channelID,
		appID:   a.id,
		name:    name,
		created: a.env.now(),
		userIDs: userIDs,
	})
	data := encodeChannel(c)

	var raced *Channel
	err = a.env.loop.Do(ctx, func() {
		if cur, ok := a.channels[channelID]; ok {
			raced = cur
			return
		}
		a.adopt(c)
	})
	if err != nil {
		return nil, err
	}
	if raced != nil {
		return raced, nil
	}

	path := docstore.Join(a.env.channelsCollection(), channelID)
	werr := a.env.write(ctx, "save_channel", func(ctx context.Context) error {
		return a.env.store.Set(ctx, path, data)
	})
	if werr == nil {
		return c, nil
	}

	a.env.log.Warn().Err(werr).Str("channel_id", channelID).Msg("rolling back channel")
	rollback := func() {
		if cur, ok := a.channels[channelID]; ok && cur == c {
			index := a.indexOf(c)
			c.Cleanup()
			delete(a.channels, channelID)
			a.env.emit(Event{Kind: EventChannelRemoved, App: a, Channel: c, Index: index})
		}
	}
	if err := a.env.loop.Do(context.WithoutCancel(ctx), rollback); err != nil {
		a.env.log.Error().Err(err).Str("channel_id", channelID).Msg("rollback not applied")
	}
	return nil, fmt.Errorf("save channel %s: %w", channelID, werr)
}

// CreateChannel adds the channel, follows its document and schedules a recount.
// Must not be called on the loop.
func (a *App) CreateChannel(ctx context.Context, channelID, name string, userIDs []string) (*Channel, error) {
	c, err := a.AddChannel(ctx, channelID, name, userIDs)
	if err != nil {
		return nil, err
	}
	var lerr error
	err = a.env.loop.Do(ctx, func() {
		lerr = a.SetupChannelIDListener(channelID)
		a.CalculateUnreadMessagesCount()
	})
	if err != nil {
		return nil, err
	}
	return c, lerr
}

// teardown cancels every listener and timer and clears the cache.
func (a *App) teardown() {
	a.removeRosterListener()
	a.RemoveOpenChannelListener()
	a.RemoveAllChannelIDListeners()
	a.ClearCachedChannels()
	a.recalc.Stop()
}
