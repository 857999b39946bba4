package http

import (
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// The conversions below read live cache entries and must run on the loop.

func appToProto(a *core.App) *proto.App {
	return &proto.App{
		ID:            a.ID(),
		Name:          a.Name(),
		ParticipantID: a.ParticipantID(),
		Unread:        a.UnreadCount(),
	}
}

func channelToProto(c *core.Channel) *proto.Channel {
	return &proto.Channel{
		ID:       c.ID(),
		Name:     c.Name(),
		Created:  c.Created().Unix(),
		UserIDs:  c.UserIDs(),
		Open:     c.IsOpen(),
		Unread:   c.UnreadCount(),
		Messages: c.MessageCount(),
	}
}

func messageToProto(m *core.Message) *proto.Message {
	out := &proto.Message{
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.DisplayName,
		SenderRole: m.Sender.Role,
		Kind:       m.Payload.Kind.String(),
		TS:         m.SentAt.Unix(),
		FromMe:     m.IsFromMe(),
		ReadByMe:   m.IsReadByMe(),
	}
	if id, ok := m.ID(); ok {
		out.ID = id
	}
	if c := m.Channel(); c != nil {
		out.Channel = c.ID()
	}
	switch m.Payload.Kind {
	case core.PayloadText:
		out.Text = m.Payload.Text
	case core.PayloadImage, core.PayloadURL:
		out.URL = m.Payload.URL
	case core.PayloadRequest:
		out.Request = &proto.Request{
			Kind: m.Payload.Request.Kind.String(),
			Name: m.Payload.Request.Name,
			Role: m.Payload.Request.Role,
		}
	}
	if readBy := m.ReadBy(); len(readBy) > 0 {
		out.ReadBy = make(map[string]int64, len(readBy))
		for who, at := range readBy {
			out.ReadBy[who] = at.Unix()
		}
	}
	return out
}

func outboundFromEvent(ev core.Event) proto.Outbound {
	data := proto.Event{Index: ev.Index, Count: ev.Count, IsLatest: ev.IsLatest}
	if ev.App != nil {
		data.App = appToProto(ev.App)
	}
	if ev.Channel != nil {
		data.Channel = channelToProto(ev.Channel)
	}
	if ev.Message != nil {
		data.Message = messageToProto(ev.Message)
	}
	return proto.Outbound{
		Type:    proto.OutboundTypeEvent,
		Version: proto.ProtocolVersion,
		Event:   ev.Kind.String(),
		Data:    data,
	}
}

func outboundFromSignal(s core.Signal) proto.Outbound {
	return proto.Outbound{
		Type:    proto.OutboundTypeSignal,
		Version: proto.ProtocolVersion,
		Event:   s.Kind.String(),
		Data:    proto.Signal{Channel: s.ChannelID, Count: s.Count},
	}
}

func outboundError(err error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Version: proto.ProtocolVersion, Error: protoError(err)}
}

func protoError(err error) *proto.Error {
	if ce := core.AsCoreError(err); ce != nil {
		return &proto.Error{Code: ce.Code, Msg: ce.Message}
	}
	return &proto.Error{Code: "internal", Msg: "internal error"}
}

// messageFromData builds an unsent message from client input.
func messageFromData(d proto.MsgData, sender core.Sender) (*core.Message, error) {
	set := 0
	for _, present := range []bool{d.Text != "", d.URL != "", d.Image != "", d.Request != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "exactly one of text, url, image or request is required"}
	}

	switch {
	case d.Text != "":
		return core.NewTextMessage(sender, d.Text), nil
	case d.URL != "":
		return core.NewURLMessage(sender, d.URL), nil
	case d.Image != "":
		return core.NewImageMessage(sender, d.Image), nil
	}

	req := core.Request{Name: d.Request.Name, Role: d.Request.Role}
	switch d.Request.Kind {
	case "", "action":
		req.Kind = core.RequestAction
	case "notification":
		req.Kind = core.RequestNotification
	default:
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "unknown request kind " + d.Request.Kind}
	}
	if req.Name == "" {
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "request name is required"}
	}
	return core.NewRequestMessage(sender, req), nil
}
