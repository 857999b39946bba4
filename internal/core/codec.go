package core

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

// Document field names.
const (
	fieldCreated    = "created"
	fieldSenderID   = "senderID"
	fieldSenderName = "senderName"
	fieldSenderRole = "senderRole"
	fieldReadBy     = "readBy"
	fieldKind       = "kind"
	fieldContent    = "content"
	fieldURL        = "url"
	fieldRequest    = "request"

	fieldChannelID = "channelId"
	fieldAppID     = "appId"
	fieldName      = "name"
	fieldUserIDs   = "userIds"
	fieldHasUsers  = "hasUsers"
)

type requestWire struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// legacyRequestWire is {"action":[name, role]} or {"notification":[name, role]}.
type legacyRequestWire struct {
	Action       []string `json:"action"`
	Notification []string `json:"notification"`
}

func encodeMessage(m *Message) map[string]any {
	data := map[string]any{
		fieldCreated:    m.SentAt,
		fieldSenderID:   m.Sender.ID,
		fieldSenderName: m.Sender.DisplayName,
		fieldReadBy:     m.ReadBy(),
		fieldKind:       m.Payload.Kind.String(),
	}
	if m.Sender.Role != "" {
		data[fieldSenderRole] = m.Sender.Role
	}

	switch m.Payload.Kind {
	case PayloadImage, PayloadURL:
		data[fieldURL] = m.Payload.URL
	case PayloadRequest:
		raw, _ := json.Marshal(requestWire{
			Type: m.Payload.Request.Kind.String(),
			Name: m.Payload.Request.Name,
			Role: m.Payload.Request.Role,
		})
		data[fieldRequest] = string(raw)
	default:
		data[fieldContent] = m.Payload.Text
	}
	return data
}

// DecodeMessage builds a message from a stored document. It reports false when
// the sender id, sender name, created timestamp or a recognized payload is
// missing or malformed.
func DecodeMessage(doc docstore.Document) (*Message, bool) {
	data := doc.Data
	created, ok := data[fieldCreated].(time.Time)
	if !ok {
		return nil, false
	}
	senderID, ok := data[fieldSenderID].(string)
	if !ok || senderID == "" {
		return nil, false
	}
	senderName, ok := data[fieldSenderName].(string)
	if !ok {
		return nil, false
	}
	role, _ := data[fieldSenderRole].(string)

	payload, ok := decodePayload(data)
	if !ok {
		return nil, false
	}

	return &Message{
		Sender:  Sender{ID: senderID, DisplayName: senderName, Role: role},
		SentAt:  created,
		Payload: payload,
		id:      doc.ID,
		readBy:  decodeReadBy(data[fieldReadBy]),
	}, true
}

func decodePayload(data map[string]any) (Payload, bool) {
	kind, hasKind := data[fieldKind].(string)
	if !hasKind {
		// Writers without a discriminant: content, then url, then request.
		if text, ok := data[fieldContent].(string); ok {
			return Payload{Kind: PayloadText, Text: text}, true
		}
		if u, ok := decodeURL(data[fieldURL]); ok {
			return Payload{Kind: PayloadURL, URL: u}, true
		}
		if req, ok := decodeRequest(data[fieldRequest]); ok {
			return Payload{Kind: PayloadRequest, Request: req}, true
		}
		return Payload{}, false
	}

	switch kind {
	case "text":
		text, ok := data[fieldContent].(string)
		return Payload{Kind: PayloadText, Text: text}, ok
	case "image":
		u, ok := decodeURL(data[fieldURL])
		return Payload{Kind: PayloadImage, URL: u}, ok
	case "url":
		u, ok := decodeURL(data[fieldURL])
		return Payload{Kind: PayloadURL, URL: u}, ok
	case "request":
		req, ok := decodeRequest(data[fieldRequest])
		return Payload{Kind: PayloadRequest, Request: req}, ok
	default:
		return Payload{}, false
	}
}

func decodeURL(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	if _, err := url.Parse(s); err != nil {
		return "", false
	}
	return s, true
}

func decodeRequest(v any) (Request, bool) {
	s, ok := v.(string)
	if !ok {
		return Request{}, false
	}

	var w requestWire
	if err := json.Unmarshal([]byte(s), &w); err == nil && w.Type != "" {
		switch w.Type {
		case "action":
			return Request{Kind: RequestAction, Name: w.Name, Role: w.Role}, true
		case "notification":
			return Request{Kind: RequestNotification, Name: w.Name, Role: w.Role}, true
		default:
			return Request{}, false
		}
	}

	var legacy legacyRequestWire
	if err := json.Unmarshal([]byte(s), &legacy); err != nil {
		return Request{}, false
	}
	switch {
	case len(legacy.Action) == 2:
		return Request{Kind: RequestAction, Name: legacy.Action[0], Role: legacy.Action[1]}, true
	case len(legacy.Notification) == 2:
		return Request{Kind: RequestNotification, Name: legacy.Notification[0], Role: legacy.Notification[1]}, true
	default:
		return Request{}, false
	}
}

func decodeReadBy(v any) map[string]time.Time {
	out := make(map[string]time.Time)
	switch m := v.(type) {
	case map[string]time.Time:
		for k, ts := range m {
			out[k] = ts
		}
	case map[string]any:
		for k, raw := range m {
			if ts, ok := raw.(time.Time); ok {
				out[k] = ts
			}
		}
	}
	return out
}

func encodeChannel(c *Channel) map[string]any {
	userIDs := c.userIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	return map[string]any{
		fieldChannelID: c.id,
		fieldAppID:     c.appID,
		fieldName:      c.name,
		fieldCreated:   c.created,
		fieldUserIDs:   append([]string(nil), userIDs...),
		fieldHasUsers:  c.HasUsers(),
	}
}

// channelRecord is a decoded channel document.
type channelRecord struct {
	id      string
	appID   string
	name    string
	created time.Time
	userIDs []string
}

func decodeChannel(doc docstore.Document) (channelRecord, bool) {
	data := doc.Data
	name, ok := data[fieldName].(string)
	if !ok {
		return channelRecord{}, false
	}
	appID, ok := data[fieldAppID].(string)
	if !ok {
		return channelRecord{}, false
	}
	created, ok := data[fieldCreated].(time.Time)
	if !ok {
		return channelRecord{}, false
	}

	var userIDs []string
	switch ids := data[fieldUserIDs].(type) {
	case []string:
		userIDs = append(userIDs, ids...)
	case []any:
		for _, v := range ids {
			if s, ok := v.(string); ok {
				userIDs = append(userIDs, s)
			}
		}
	}

	return channelRecord{
		id:      doc.ID,
		appID:   appID,
		name:    name,
		created: created,
		userIDs: userIDs,
	}, true
}

func encodeApp(id, name string) map[string]any {
	return map[string]any{fieldName: name, fieldAppID: id}
}
