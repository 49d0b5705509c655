package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errMissingProvider = errors.New("session: auth provider is required")

// User identifies a signed-in user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Grant is the result of a successful sign-in or sign-up.
type Grant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Provider performs credential exchanges against the auth backend.
type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (Grant, error)
	SignIn(ctx context.Context, email, password string) (Grant, error)
	SignOut(ctx context.Context, token string) error
}

// SessionConfig wires a client Session.
type SessionConfig struct {
	Provider Provider
	Logger   *zap.Logger
}

// Session holds the client-side auth state and notifies listeners on every change of user.
// Listeners run synchronously on the goroutine that changed the state.
type Session struct {
	provider Provider
	logger   *zap.Logger

	mu        sync.Mutex
	user      *User
	token     string
	ready     bool
	listeners []sessionListener
	nextID    int64
}

type sessionListener struct {
	id       int64
	callback func(*User)
}

// NewSession constructs an unresolved Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{provider: cfg.Provider, logger: logger}, nil
}

// CurrentUser returns a copy of the signed-in user or nil.
func (s *Session) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

// Token returns the session token of the signed-in user.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Ready reports whether the auth state has been resolved at least once.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Restore resolves the session from a previously obtained grant, or as signed out when grant is nil.
func (s *Session) Restore(grant *Grant) {
	if grant == nil || strings.TrimSpace(grant.User.ID) == "" {
		s.apply(nil, "")
		return
	}
	user := grant.User
	s.apply(&user, grant.Token)
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (User, error) {
	grant, err := s.provider.SignUp(ctx, email, password, displayName)
	if err != nil {
		return User{}, err
	}
	user := grant.User
	s.apply(&user, grant.Token)
	return user, nil
}

func (s *Session) SignIn(ctx context.Context, email, password string) (User, error) {
	grant, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return User{}, err
	}
	user := grant.User
	s.apply(&user, grant.Token)
	return user, nil
}

// SignOut clears the local session even when the provider call fails.
func (s *Session) SignOut(ctx context.Context) error {
	token := s.Token()
	var providerErr error
	if token != "" {
		providerErr = s.provider.SignOut(ctx, token)
		if providerErr != nil {
			s.logger.Warn("sign out request failed", zap.Error(providerErr))
		}
	}
	s.apply(nil, "")
	return providerErr
}

// OnAuthStateChange registers listener and returns a function that removes it.
func (s *Session) OnAuthStateChange(listener func(*User)) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, sessionListener{id: id, callback: listener})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for index, registered := range s.listeners {
				if registered.id == id {
					s.listeners = append(s.listeners[:index], s.listeners[index+1:]...)
					return
				}
			}
		})
	}
}

func (s *Session) apply(user *User, token string) {
	s.mu.Lock()
	s.user = user
	s.token = token
	s.ready = true
	listeners := make([]func(*User), 0, len(s.listeners))
	for _, registered := range s.listeners {
		listeners = append(listeners, registered.callback)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		if user == nil {
			listener(nil)
			continue
		}
		copied := *user
		listener(&copied)
	}
}
