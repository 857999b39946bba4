package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/docstore/firestore"
	"github.com/vovakirdan/wirechat-sync/internal/docstore/memory"
	"github.com/vovakirdan/wirechat-sync/internal/docstore/sqlite"
	applog "github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/retry"
	"github.com/vovakirdan/wirechat-sync/internal/schedule"
	transporthttp "github.com/vovakirdan/wirechat-sync/internal/transport/http"
)

// App wires together store, sync core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	manager         *core.Manager
	store           docstore.Store
	unwatchAuth     func()
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("backend", cfg.Store.Backend).Str("root", cfg.RootCollection()).Msg("document store initialized")

	window, err := buildWindow(cfg.Window)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init window: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)
	authLog := applog.Component(logger, "auth")
	unwatch := authService.OnStateChange(func(s *auth.Session) {
		if s == nil {
			authLog.Info().Msg("signed out")
			return
		}
		authLog.Info().Str("user_id", s.UserID).Bool("anonymous", s.Anonymous).Msg("session changed")
	})

	m := metrics.New()
	manager, err := core.NewManager(st, authService, core.Options{
		AppID:         cfg.App.ID,
		AppName:       cfg.App.Name,
		Stage:         cfg.App.Stage,
		PinnedChannel: cfg.App.PinnedChannel,
		Debounce:      cfg.Sync.Debounce,
		Retry: retry.Policy{
			MaxRetries:      uint64(max(cfg.Retry.MaxRetries, 0)),
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
		Window:  window,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		unwatch()
		_ = st.Close()
		return nil, fmt.Errorf("init sync manager: %w", err)
	}

	server := transporthttp.NewServer(manager, authService, m, cfg, applog.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		manager:         manager,
		store:           st,
		unwatchAuth:     unwatch,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the sync loop and the HTTP server and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// The loop outlives ctx so cleanup can tear the manager down on it.
	go a.manager.Run(context.WithoutCancel(ctx))

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup tears down the manager and closes the store.
func (a *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := a.manager.Teardown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to tear down sync manager")
	}
	a.unwatchAuth()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zerolog.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memory.New(), nil
	case config.BackendSQLite:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendFirestore:
		st, err := firestore.New(ctx, cfg.FirestoreProject, *applog.Component(logger, "firestore"))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildWindow returns nil when the window is disabled.
func buildWindow(cfg config.WindowConfig) (core.Window, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	day, err := schedule.NewOperationalDay(loc, cfg.DayStart)
	if err != nil {
		return nil, err
	}
	return day, nil
}
