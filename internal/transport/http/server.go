package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
)

// NewServer builds the HTTP server: health and metrics, session endpoints,
// authenticated channel endpoints and the websocket event bridge.
func NewServer(manager *core.Manager, authService *auth.Service, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	api := NewAPIHandlers(manager, authService, logger)
	channels := NewChannelHandlers(manager, logger)
	ws := NewWSHandler(manager, logger, cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)

	router.GET("/health", api.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	limited := router.Group("/", RateLimitMiddleware(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst))

	session := limited.Group("/api/session")
	session.POST("/anonymous", api.Anonymous)
	session.POST("/signup", api.SignUp)
	session.POST("/signin", api.SignIn)

	authed := limited.Group("/", AuthMiddleware(authService, logger))
	authed.GET("/api/channels", channels.ListChannels)
	authed.POST("/api/channels", channels.CreateChannel)
	authed.GET("/api/channels/:id/messages", channels.ListMessages)
	authed.POST("/api/channels/:id/messages", channels.SendMessage)
	authed.POST("/api/channels/:id/read", channels.MarkRead)
	authed.POST("/api/session/signout", api.SignOut)
	authed.GET("/ws", ws.Serve)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
