package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/loop"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/retry"
)

const subApp = "app"

// DefaultDebounce is the quiet period of unread recomputation.
const DefaultDebounce = 500 * time.Millisecond

// State is the Manager lifecycle.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateAuthenticated
	StateInitializing
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Authenticator is the session source of the Manager. *auth.Service implements it.
type Authenticator interface {
	CurrentSession() (*auth.Session, bool)
	SignInAnonymously(ctx context.Context) (*auth.Session, error)
}

// Options configure a Manager.
type Options struct {
	AppID   string
	AppName string
	Stage   string

	// PinnedChannel sorts first in channel listings. Empty disables pinning.
	PinnedChannel string
	Debounce      time.Duration
	Retry         retry.Policy
	// Window restricts roster and open-channel listeners; nil is unrestricted.
	Window Window
	Now    func() time.Time

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// RootCollection is "{AppName}-{Stage}", the collection holding app documents.
func (o Options) RootCollection() string {
	if o.Stage == "" {
		return o.AppName
	}
	return o.AppName + "-" + o.Stage
}

// Manager owns the loop, the single App and the observer registrations.
type Manager struct {
	env  *env
	auth Authenticator

	appID   string
	appName string

	mu           sync.Mutex
	state        State
	app          *App
	initializing bool

	// appSub is only touched on the loop.
	appSub docstore.Subscription

	cancel context.CancelFunc
}

// NewManager creates a Manager. Run must be started before any other call.
func NewManager(store docstore.Store, authn Authenticator, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("nil store")
	}
	if opts.AppID == "" || opts.AppName == "" {
		return nil, errors.New("app id and app name are required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "sync").Str("app_id", opts.AppID).Logger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &env{
		ctx:       ctx,
		loop:      loop.New(&logger),
		store:     store,
		log:       logger,
		metrics:   opts.Metrics,
		retry:     opts.Retry,
		debounce:  opts.Debounce,
		window:    opts.Window,
		pinned:    opts.PinnedChannel,
		now:       opts.Now,
		root:      docstore.Join(opts.RootCollection(), opts.AppID),
		observers: &observerSet{},
		signals:   newSignalHub(),
	}

	return &Manager{
		env:     e,
		auth:    authn,
		appID:   opts.AppID,
		appName: opts.AppName,
		cancel:  cancel,
	}, nil
}

// Run processes the loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.env.loop.Run(ctx)
}

// Do runs fn on the loop and waits for it. Must not be called from an observer.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	return m.env.loop.Do(ctx, fn)
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// App returns the initialized App.
func (m *Manager) App() (*App, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.app, m.app != nil
}

// Observe registers obs for kinds (all kinds when empty). Observers are called in
// registration order.
func (m *Manager) Observe(obs Observer, kinds ...EventKind) *ObserverHandle {
	return m.env.observers.add(obs, kinds)
}

// SubscribeSignals returns a channel of broadcast signals and its cancel function.
// Signals are dropped when the buffer is full.
func (m *Manager) SubscribeSignals(buffer int) (<-chan Signal, func()) {
	return m.env.signals.subscribe(buffer)
}

// AnonymousLoginAndLoad signs in anonymously unless a session exists, then drops
// cached store data. A sign-in failure leaves the Manager idle. A call made while
// another sign-in is still running fails with ErrInitInProgress.
func (m *Manager) AnonymousLoginAndLoad(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateTornDown:
		m.mu.Unlock()
		return ErrTornDown
	case StateAuthenticating:
		m.mu.Unlock()
		return ErrInitInProgress
	case StateIdle:
		m.state = StateAuthenticating
	default:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.auth == nil {
		m.setState(StateIdle)
		return fmt.Errorf("%w: no authenticator", ErrNotReady)
	}
	if _, ok := m.auth.CurrentSession(); ok {
		m.setState(StateAuthenticated)
		return nil
	}

	session, err := m.auth.SignInAnonymously(ctx)
	if err != nil {
		m.setState(StateIdle)
		m.env.log.Error().Err(err).Msg("anonymous sign-in failed")
		return fmt.Errorf("anonymous sign-in: %w", err)
	}
	m.env.log.Info().Str("user_id", session.UserID).Msg("signed in anonymously")
	m.setState(StateAuthenticated)

	if err := m.env.store.ClearCache(ctx); err != nil {
		return fmt.Errorf("clear store cache: %w", err)
	}
	return nil
}

// AppInitializer returns the App, creating or fetching the app document on first
// use and following it afterwards. Concurrent first calls fail with ErrInitInProgress.
func (m *Manager) AppInitializer(ctx context.Context) (*App, error) {
	m.mu.Lock()
	switch {
	case m.app != nil:
		app := m.app
		m.mu.Unlock()
		return app, nil
	case m.state == StateTornDown:
		m.mu.Unlock()
		return nil, ErrTornDown
	case m.initializing:
		m.mu.Unlock()
		return nil, ErrInitInProgress
	case m.state != StateAuthenticated:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: not authenticated", ErrNotReady)
	}
	m.initializing = true
	m.state = StateInitializing
	m.mu.Unlock()

	app, err := m.initApp(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initializing = false
	if err != nil {
		if m.state == StateInitializing {
			m.state = StateAuthenticated
		}
		return nil, err
	}
	m.app = app
	m.state = StateReady
	return app, nil
}

func (m *Manager) initApp(ctx context.Context) (*App, error) {
	path := m.env.root

	name := m.appName
	created := false
	doc, err := m.env.store.Get(ctx, path)
	switch {
	case err == nil:
		if n, ok := doc.Data[fieldName].(string); ok {
			name = n
		}
	case errors.Is(err, docstore.ErrNotFound):
		data := encodeApp(m.appID, m.appName)
		werr := m.env.write(ctx, "save_app", func(ctx context.Context) error {
			return m.env.store.Set(ctx, path, data)
		})
		if werr != nil {
			return nil, fmt.Errorf("create app: %w", werr)
		}
		created = true
	default:
		return nil, fmt.Errorf("get app: %w", err)
	}

	app := newApp(m.env, m.appID, name)
	var serr error
	err = m.env.loop.Do(ctx, func() {
		serr = m.setupAppListener(app)
		if created {
			m.env.emit(Event{Kind: EventAppAdded, App: app})
		}
	})
	if err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, fmt.Errorf("app listener: %w", serr)
	}
	m.env.log.Info().Str("name", name).Bool("created", created).Msg("app initialized")
	return app, nil
}

func (m *Manager) setupAppListener(app *App) error {
	if m.appSub != nil {
		return nil
	}
	var sub docstore.Subscription
	sub, err := m.env.store.SubscribeDoc(m.env.ctx, m.env.root, func(doc docstore.Document, exists bool, err error) {
		if err != nil {
			m.env.metrics.ListenerError(subApp)
			m.env.log.Warn().Err(err).Msg("app listener error")
			return
		}
		m.env.loop.Post(func() {
			if m.appSub == nil || m.appSub != sub || !exists {
				return
			}
			m.applyAppDoc(app, doc)
		})
	})
	if err != nil {
		return err
	}
	m.env.metrics.SubscriptionOpened(subApp)
	sub = &countedSub{Subscription: sub, kind: subApp, metrics: m.env.metrics}
	m.appSub = sub
	return nil
}

func (m *Manager) applyAppDoc(app *App, doc docstore.Document) {
	name, ok := doc.Data[fieldName].(string)
	if !ok {
		m.env.metrics.ChangeDropped("decode")
		return
	}
	if name == app.name {
		return
	}
	app.name = name
	m.env.metrics.ChangeApplied("app", docstore.ChangeModified.String())
	m.env.emit(Event{Kind: EventAppModified, App: app})
}

// Login runs the full sign-in flow for participantID: authenticate, initialize
// the app, follow the participant's roster, create the participant's own channel
// and the pinned channel, then load every channel.
func (m *Manager) Login(ctx context.Context, participantID string) (*App, error) {
	if participantID == "" {
		return nil, fmt.Errorf("%w: empty participant id", ErrBadRequest)
	}
	if err := m.AnonymousLoginAndLoad(ctx); err != nil {
		return nil, err
	}
	app, err := m.AppInitializer(ctx)
	if err != nil {
		return nil, err
	}

	var perr error
	if err := m.Do(ctx, func() { perr = app.SetParticipantID(participantID) }); err != nil {
		return nil, err
	}
	if perr != nil {
		return nil, perr
	}

	if _, err := app.CreateChannel(ctx, participantID, participantID, []string{participantID}); err != nil {
		return nil, fmt.Errorf("create participant channel: %w", err)
	}
	if pinned := m.env.pinned; pinned != "" && pinned != participantID {
		if _, err := app.CreateChannel(ctx, pinned, pinned, nil); err != nil {
			return nil, fmt.Errorf("create %s channel: %w", pinned, err)
		}
	}
	if _, err := app.LoadAllChannels(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// Teardown cancels every listener, clears the caches and stops the loop.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateTornDown {
		m.mu.Unlock()
		return nil
	}
	app := m.app
	m.app = nil
	m.state = StateTornDown
	m.mu.Unlock()

	err := m.env.loop.Do(ctx, func() {
		if m.appSub != nil {
			m.appSub.Cancel()
			m.appSub = nil
		}
		if app != nil {
			app.teardown()
		}
	})
	m.cancel()
	m.env.loop.Stop()
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}
