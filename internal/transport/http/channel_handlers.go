package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// ChannelHandlers provides HTTP handlers for channel and message endpoints.
type ChannelHandlers struct {
	manager *core.Manager
	log     *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(manager *core.Manager, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{manager: manager, log: logger}
}

// CreateChannelRequest represents the create channel request body. An empty
// user list creates an open channel.
type CreateChannelRequest struct {
	ID      string   `json:"id" binding:"required,min=1,max=128"`
	Name    string   `json:"name" binding:"max=64"`
	UserIDs []string `json:"user_ids"`
}

// SendMessageRequest represents the send message body.
type SendMessageRequest struct {
	Name    string         `json:"name"`
	Text    string         `json:"text"`
	URL     string         `json:"url"`
	Image   string         `json:"image"`
	Request *proto.Request `json:"request"`
}

// ListChannels returns the cached channels, pinned channel first.
// GET /api/channels
func (h *ChannelHandlers) ListChannels(c *gin.Context) {
	chans, err := listChannels(c.Request.Context(), h.manager, callerParticipant(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chans)
}

// CreateChannel gets or creates a channel.
// POST /api/channels
func (h *ChannelHandlers) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create channel request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ch, err := createChannel(c.Request.Context(), h.manager, callerParticipant(c), req.ID, req.Name, req.UserIDs)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", req.ID).Msg("failed to create channel")
		writeError(c, err)
		return
	}
	h.log.Info().Str("channel_id", ch.ID).Msg("channel created")
	c.JSON(http.StatusCreated, ch)
}

// ListMessages returns the cached messages of one channel.
// GET /api/channels/:id/messages
func (h *ChannelHandlers) ListMessages(c *gin.Context) {
	msgs, err := listMessages(c.Request.Context(), h.manager, callerParticipant(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage persists a message and returns its id once written.
// POST /api/channels/:id/messages
func (h *ChannelHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	channelID := c.Param("id")
	id, err := sendMessage(c.Request.Context(), h.manager, callerParticipant(c), proto.MsgData{
		Channel: channelID,
		Name:    req.Name,
		Text:    req.Text,
		URL:     req.URL,
		Image:   req.Image,
		Request: req.Request,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to send message")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proto.Ack{Channel: channelID, ID: id})
}

// MarkRead records read receipts for every message of the channel.
// POST /api/channels/:id/read
func (h *ChannelHandlers) MarkRead(c *gin.Context) {
	channelID := c.Param("id")
	n, err := markChannelRead(c.Request.Context(), h.manager, callerParticipant(c), channelID)
	if err != nil {
		h.log.Warn().Err(err).Str("channel_id", channelID).Msg("failed to mark channel read")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.Ack{Channel: channelID, Count: n})
}

// callerParticipant is the participant the request token is bound to.
func callerParticipant(c *gin.Context) string {
	return c.GetString(ContextKeyParticipantID)
}
