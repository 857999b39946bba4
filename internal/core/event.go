package core

// EventKind is a notification the core emits to observers.
type EventKind int

const (
	// EventAppAdded fires when the app document was created during initialization.
	EventAppAdded EventKind = iota
	// EventAppModified fires when the app document's name changes.
	EventAppModified
	// EventAppUnreadChanged carries a new aggregate unread count.
	EventAppUnreadChanged
	// EventChannelAdded fires when a channel enters the cache.
	EventChannelAdded
	// EventChannelModified fires when a cached channel's metadata changes.
	EventChannelModified
	// EventChannelRemoved fires when a channel leaves the cache.
	EventChannelRemoved
	// EventChannelUnreadChanged carries a channel's new unread count.
	EventChannelUnreadChanged
	// EventMessageAdded fires when a message enters a channel's cache.
	EventMessageAdded
	// EventMessageModified fires when a cached message is replaced.
	EventMessageModified
	// EventMessageRemoved fires when a message leaves a channel's cache.
	EventMessageRemoved
)

var eventKindNames = [...]string{
	EventAppAdded:             "app_added",
	EventAppModified:          "app_modified",
	EventAppUnreadChanged:     "app_unread_changed",
	EventChannelAdded:         "channel_added",
	EventChannelModified:      "channel_modified",
	EventChannelRemoved:       "channel_removed",
	EventChannelUnreadChanged: "channel_unread_changed",
	EventMessageAdded:         "message_added",
	EventMessageModified:      "message_modified",
	EventMessageRemoved:       "message_removed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event describes what happened. Pointers refer to live cache entries and may
// only be read on the loop, i.e. inside the observer callback.
type Event struct {
	Kind    EventKind
	App     *App
	Channel *Channel
	Message *Message

	// Index is the channel's position in App.Channels (post-sort for added and
	// modified, pre-removal for removed).
	Index int
	// Count is the new unread count for unread events.
	Count int
	// IsLatest reports that an added message sorted to the end of the cache.
	IsLatest bool
}
