package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

const (
	// UsersCollection holds one document per user.
	UsersCollection = "users"
	// ParticipantsCollection maps a participant id to the user that claimed it.
	ParticipantsCollection = "participants"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to sign up with an existing email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned when the email is malformed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrParticipantTaken is returned when a participant belongs to another user.
	ErrParticipantTaken = errors.New("participant belongs to another user")
)

// User is a verified identity that has not started a session yet.
type User struct {
	ID        string
	Email     string
	Anonymous bool
}

// Session is an authenticated identity.
type Session struct {
	UserID        string
	Email         string
	Anonymous     bool
	ParticipantID string
	Token         string
	IssuedAt      time.Time
}

// StateListener is called with the new session, or nil after sign-out.
type StateListener func(*Session)

// Service provides authentication operations over the users collection.
type Service struct {
	store     docstore.Store
	jwtConfig *JWTConfig
	now       func() time.Time

	// claimMu serializes participant claims.
	claimMu sync.Mutex

	mu        sync.Mutex
	session   *Session
	listeners map[int]StateListener
	nextID    int
}

// NewService creates a new authentication service.
func NewService(store docstore.Store, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     store,
		jwtConfig: jwtConfig,
		now:       time.Now,
		listeners: make(map[int]StateListener),
	}
}

// SignInAnonymously creates an anonymous user and makes it the current session.
func (s *Service) SignInAnonymously(ctx context.Context) (*Session, error) {
	u, err := s.CreateAnonymousUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.StartSession(u, "")
}

// CreateAnonymousUser stores a new anonymous user without starting a session.
func (s *Service) CreateAnonymousUser(ctx context.Context) (*User, error) {
	userID := uuid.NewString()
	err := s.store.Set(ctx, userPath(userID), map[string]any{
		"anonymous": true,
		"created":   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create anonymous user: %w", err)
	}
	return &User{ID: userID, Anonymous: true}, nil
}

// SignUp creates an email user and makes it the current session.
func (s *Service) SignUp(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.StartSession(u, "")
}

// Register creates an email user without starting a session.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID := uuid.NewString()
	err = s.store.Set(ctx, userPath(userID), map[string]any{
		"anonymous":    false,
		"email":        email,
		"passwordHash": hashedPassword,
		"created":      s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &User{ID: userID, Email: email}, nil
}

// SignIn validates credentials and makes the user the current session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.StartSession(u, "")
}

// Authenticate validates credentials without starting a session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	doc, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrInvalidCredentials
	}

	hash, _ := doc.Data["passwordHash"].(string)
	if errPwd := ComparePassword(hash, password); errPwd != nil {
		return nil, ErrInvalidCredentials
	}

	return &User{ID: doc.ID, Email: email}, nil
}

// SignOut clears the current session.
func (s *Service) SignOut() {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	s.session = nil
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l(nil)
	}
}

// CurrentSession returns the signed-in session, if any.
func (s *Service) CurrentSession() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, false
	}
	cp := *s.session
	return &cp, true
}

// OnStateChange registers l for sign-in and sign-out. The returned function unregisters it.
func (s *Service) OnStateChange(l StateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// StartSession issues a token for u, bound to participantID when it is not
// empty, and makes it the current session.
func (s *Service) StartSession(u *User, participantID string) (*Session, error) {
	now := s.now()
	token, err := GenerateParticipantToken(s.jwtConfig, u.ID, u.Email, u.Anonymous, participantID, now)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	session := &Session{
		UserID:        u.ID,
		Email:         u.Email,
		Anonymous:     u.Anonymous,
		ParticipantID: participantID,
		Token:         token,
		IssuedAt:      now,
	}

	s.mu.Lock()
	s.session = session
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		cp := *session
		l(&cp)
	}

	cp := *session
	return &cp, nil
}

// ClaimParticipant binds participantID to userID. Claiming a participant the
// user already owns is a no-op. A participant owned by another user yields
// ErrParticipantTaken.
func (s *Service) ClaimParticipant(ctx context.Context, userID, participantID string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	owner, ok, err := s.ParticipantOwner(ctx, participantID)
	if err != nil {
		return err
	}
	if ok {
		if owner != userID {
			return ErrParticipantTaken
		}
		return nil
	}

	err = s.store.Set(ctx, participantPath(participantID), map[string]any{
		"userId":  userID,
		"created": s.now(),
	})
	if err != nil {
		return fmt.Errorf("claim participant: %w", err)
	}
	return nil
}

// ParticipantOwner returns the user that claimed participantID.
func (s *Service) ParticipantOwner(ctx context.Context, participantID string) (string, bool, error) {
	doc, err := s.store.Get(ctx, participantPath(participantID))
	if errors.Is(err, docstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup participant: %w", err)
	}
	owner, _ := doc.Data["userId"].(string)
	return owner, owner != "", nil
}

// snapshotListeners must be called with s.mu held.
func (s *Service) snapshotListeners() []StateListener {
	out := make([]StateListener, 0, len(s.listeners))
	for id := 1; id <= s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (s *Service) findByEmail(ctx context.Context, email string) (*docstore.Document, error) {
	q := docstore.NewQuery(UsersCollection).Where("email", docstore.OpEqual, email)
	docs, err := s.store.Documents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func userPath(userID string) string {
	return docstore.Join(UsersCollection, userID)
}

func participantPath(participantID string) string {
	return docstore.Join(ParticipantsCollection, participantID)
}
