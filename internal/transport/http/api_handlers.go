package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// APIHandlers provides the session endpoints.
type APIHandlers struct {
	manager     *core.Manager
	authService *auth.Service
	log         *zerolog.Logger

	// sessionMu serializes session changes so two callers cannot both see
	// no active participant.
	sessionMu sync.Mutex
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(manager *core.Manager, authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		manager:     manager,
		authService: authService,
		log:         logger,
	}
}

// AnonymousRequest names the participant this process acts for.
type AnonymousRequest struct {
	ParticipantID string `json:"participant_id" binding:"required,max=128"`
}

// SignUpRequest represents the sign-up request body.
type SignUpRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required,min=6"`
	ParticipantID string `json:"participant_id" binding:"required,max=128"`
}

// SignInRequest represents the sign-in request body.
type SignInRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required,max=128"`
}

// SessionResponse is returned by every session endpoint.
type SessionResponse struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	Anonymous bool       `json:"anonymous"`
	App       *proto.App `json:"app"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Health reports the manager state.
// GET /health
func (h *APIHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": h.manager.State().String()})
}

// Anonymous creates an anonymous user and loads the app for the participant.
// POST /api/session/anonymous
func (h *APIHandlers) Anonymous(c *gin.Context) {
	var req AnonymousRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid anonymous session request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if !validParticipantID(req.ParticipantID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid participant id"})
		return
	}

	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	user, err := h.authService.CreateAnonymousUser(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create anonymous user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.startSession(c, user, req.ParticipantID)
}

// SignUp registers an email account and loads the app for the participant.
// POST /api/session/signup
func (h *APIHandlers) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid sign-up request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if !validParticipantID(req.ParticipantID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid participant id"})
		return
	}

	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	user, err := h.authService.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Msg("failed to sign up")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	h.startSession(c, user, req.ParticipantID)
}

// SignIn authenticates an email account and loads the app for the participant.
// POST /api/session/signin
func (h *APIHandlers) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid sign-in request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if !validParticipantID(req.ParticipantID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid participant id"})
		return
	}

	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	user, err := h.authService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("failed to sign in")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.startSession(c, user, req.ParticipantID)
}

// SignOut releases the active participant. Only a token bound to it may do so.
// POST /api/session/signout
func (h *APIHandlers) SignOut(c *gin.Context) {
	ctx := c.Request.Context()

	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	app, err := authorizeCaller(ctx, h.manager, callerParticipant(c))
	if err != nil {
		writeError(c, err)
		return
	}
	var perr error
	if err := h.manager.Do(ctx, func() { perr = app.SetParticipantID("") }); err != nil {
		writeError(c, err)
		return
	}
	if perr != nil {
		writeError(c, perr)
		return
	}
	h.authService.SignOut()

	h.log.Info().Str("user_id", c.GetString(ContextKeyUserID)).Msg("session ended")
	c.Status(http.StatusNoContent)
}

// startSession binds participantID to user, points the app at it and returns a
// token for user alone. Must be called with sessionMu held.
func (h *APIHandlers) startSession(c *gin.Context, user *auth.User, participantID string) {
	ctx := c.Request.Context()

	active, err := activeParticipant(ctx, h.manager)
	if err != nil {
		writeError(c, err)
		return
	}
	if active != "" && active != participantID {
		owner, _, err := h.authService.ParticipantOwner(ctx, active)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to look up participant owner")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if owner != user.ID {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "another participant is signed in", Code: "participant_active"})
			return
		}
	}

	if err := h.authService.ClaimParticipant(ctx, user.ID, participantID); err != nil {
		if errors.Is(err, auth.ErrParticipantTaken) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "participant belongs to another user", Code: core.ErrCodeForbidden})
			return
		}
		h.log.Error().Err(err).Msg("failed to claim participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	session, err := h.authService.StartSession(user, participantID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to start session")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	app, err := h.manager.Login(ctx, participantID)
	if err != nil {
		h.log.Error().Err(err).Str("participant_id", participantID).Msg("login failed")
		writeError(c, err)
		return
	}
	snap, err := appSnapshot(ctx, h.manager, app)
	if err != nil {
		writeError(c, err)
		return
	}

	h.log.Info().Str("user_id", session.UserID).Str("participant_id", participantID).Msg("session started")
	c.JSON(http.StatusOK, SessionResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		Anonymous: session.Anonymous,
		App:       snap,
	})
}

func validParticipantID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal server error"}

	if ce := core.AsCoreError(err); ce != nil {
		resp = ErrorResponse{Error: ce.Message, Code: ce.Code}
		switch ce.Code {
		case core.ErrCodeChannelNotFound:
			status = http.StatusNotFound
		case core.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case core.ErrCodeNotReady:
			status = http.StatusServiceUnavailable
		case core.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case core.ErrCodeForbidden:
			status = http.StatusForbidden
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		resp = ErrorResponse{Error: "timeout"}
	}
	c.JSON(status, resp)
}
