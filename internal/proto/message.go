package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeMsg  = "msg"
	InboundTypeRead = "read"

	OutboundTypeEvent  = "event"
	OutboundTypeSignal = "signal"
	OutboundTypeAck    = "ack"
	OutboundTypeError  = "error"
)

// MsgData sends a message to a channel. Exactly one of Text, URL, Image or
// Request is expected.
type MsgData struct {
	Channel string   `json:"channel"`
	Name    string   `json:"name,omitempty"`
	Text    string   `json:"text,omitempty"`
	URL     string   `json:"url,omitempty"`
	Image   string   `json:"image,omitempty"`
	Request *Request `json:"request,omitempty"`
}

// ReadData marks every message of a channel as read by the participant.
type ReadData struct {
	Channel string `json:"channel"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type    string `json:"type"`
	Version int    `json:"v,omitempty"`
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// App describes the mirrored app.
type App struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ParticipantID string `json:"participant_id,omitempty"`
	Unread        int    `json:"unread"`
}

// Channel is a channel summary.
type Channel struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Created  int64    `json:"created"`
	UserIDs  []string `json:"user_ids,omitempty"`
	Open     bool     `json:"open"`
	Unread   int      `json:"unread"`
	Messages int      `json:"messages"`
}

// Request is an action or notification payload.
type Request struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Message is a chat message with its payload flattened by kind.
type Message struct {
	ID         string           `json:"id,omitempty"`
	Channel    string           `json:"channel"`
	SenderID   string           `json:"sender_id"`
	SenderName string           `json:"sender_name"`
	SenderRole string           `json:"sender_role,omitempty"`
	Kind       string           `json:"kind"`
	Text       string           `json:"text,omitempty"`
	URL        string           `json:"url,omitempty"`
	Request    *Request         `json:"request,omitempty"`
	TS         int64            `json:"ts"`
	ReadBy     map[string]int64 `json:"read_by,omitempty"`
	FromMe     bool             `json:"from_me"`
	ReadByMe   bool             `json:"read_by_me"`
}

// Event is the payload of an "event" envelope. Fields not relevant to the
// event name are omitted.
type Event struct {
	App      *App     `json:"app,omitempty"`
	Channel  *Channel `json:"channel,omitempty"`
	Message  *Message `json:"message,omitempty"`
	Index    int      `json:"index"`
	Count    int      `json:"count,omitempty"`
	IsLatest bool     `json:"is_latest,omitempty"`
}

// Signal is the payload of a "signal" envelope.
type Signal struct {
	Channel string `json:"channel,omitempty"`
	Count   int    `json:"count"`
}

// Ack confirms a persisted write.
type Ack struct {
	Channel string `json:"channel"`
	ID      string `json:"id,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
