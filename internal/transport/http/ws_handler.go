package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

const (
	wsOutboundBuffer = 256
	wsSignalBuffer   = 16
)

// WSHandler upgrades HTTP connections and bridges core observers to the client.
type WSHandler struct {
	manager *core.Manager
	log     *zerolog.Logger
	rps     float64
	burst   int
}

// NewWSHandler builds a new WebSocket handler. rps limits inbound messages per connection.
func NewWSHandler(manager *core.Manager, logger *zerolog.Logger, rps float64, burst int) *WSHandler {
	return &WSHandler{manager: manager, log: logger, rps: rps, burst: burst}
}

// Serve upgrades the connection once the token is known to be bound to the
// active participant.
// GET /ws
func (h *WSHandler) Serve(c *gin.Context) {
	caller := callerParticipant(c)
	if _, err := authorizeCaller(c.Request.Context(), h.manager, caller); err != nil {
		h.log.Debug().Err(err).Msg("ws session rejected")
		writeError(c, err)
		return
	}
	h.serve(c.Writer, c.Request, caller)
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, caller string) {
	ctx := r.Context()

	connID := uuid.NewString()
	log := h.log.With().Str("conn_id", connID).Logger()

	out := make(chan proto.Outbound, wsOutboundBuffer)
	// Registered before the upgrade so no event after the handshake is missed.
	// Observers run on the loop, so the event is converted there.
	handle := h.manager.Observe(core.ObserverFunc(func(ev core.Event) {
		select {
		case out <- outboundFromEvent(ev):
		default:
			log.Warn().Str("event", ev.Kind.String()).Msg("dropping event for slow client")
		}
	}))
	defer handle.Remove()

	signals, cancelSignals := h.manager.SubscribeSignals(wsSignalBuffer)
	defer cancelSignals()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, caller, out, log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, out, signals, log)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, caller string, out chan<- proto.Outbound, log zerolog.Logger) error {
	limiter := newRateLimiter(h.rps, h.burst)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		reply := h.handleInbound(ctx, caller, inbound, limiter)
		if reply.Type == proto.OutboundTypeError {
			log.Debug().Str("type", inbound.Type).Str("code", reply.Error.Code).Msg("inbound rejected")
		}
		select {
		case out <- reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, caller string, inbound proto.Inbound, limiter *rate.Limiter) proto.Outbound {
	if !allow(limiter) {
		return proto.Outbound{Type: proto.OutboundTypeError, Version: proto.ProtocolVersion, Error: &proto.Error{Code: "rate_limited", Msg: "too many messages"}}
	}

	switch inbound.Type {
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil || msg.Channel == "" {
			return badRequest("channel is required")
		}
		id, err := sendMessage(ctx, h.manager, caller, msg)
		if err != nil {
			return outboundError(err)
		}
		return proto.Outbound{Type: proto.OutboundTypeAck, Version: proto.ProtocolVersion, Event: inbound.Type, Data: proto.Ack{Channel: msg.Channel, ID: id}}
	case proto.InboundTypeRead:
		var read proto.ReadData
		if err := json.Unmarshal(inbound.Data, &read); err != nil || read.Channel == "" {
			return badRequest("channel is required")
		}
		n, err := markChannelRead(ctx, h.manager, caller, read.Channel)
		if err != nil {
			return outboundError(err)
		}
		return proto.Outbound{Type: proto.OutboundTypeAck, Version: proto.ProtocolVersion, Event: inbound.Type, Data: proto.Ack{Channel: read.Channel, Count: n}}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Version: proto.ProtocolVersion, Error: &proto.Error{Code: "invalid_message", Msg: "unknown message type"}}
	}
}

func badRequest(msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Version: proto.ProtocolVersion, Error: &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan proto.Outbound, signals <-chan core.Signal, log zerolog.Logger) error {
	for {
		select {
		case ob := <-out:
			if err := wsjson.Write(ctx, conn, ob); err != nil {
				log.Error().Err(err).Msg("write ws event")
				return err
			}
		case s, ok := <-signals:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromSignal(s)); err != nil {
				log.Error().Err(err).Msg("write ws signal")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
