// Package session owns the login state shared by every request: the API token and
// the admin flag.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
)

const (
	KeyToken   = "token"
	KeyIsAdmin = "is_admin"
)

var (
	ErrNotAdmin         = errors.New("administrator session required")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrMissingFields    = errors.New("name, email and password are required")
)

// DefaultLoginFailure is shown when the backend rejects a login without a message.
const DefaultLoginFailure = "invalid user or password"

// Session is the persisted login state.
type Session struct {
	Token   string
	IsAdmin bool
}

// Active reports whether the session carries a token.
func (s Session) Active() bool {
	return s.Token != ""
}

func (s Session) values() map[string]string {
	return map[string]string{
		KeyToken:   s.Token,
		KeyIsAdmin: strconv.FormatBool(s.IsAdmin),
	}
}

func fromValues(v map[string]string) Session {
	return Session{Token: v[KeyToken], IsAdmin: v[KeyIsAdmin] == "true"}
}

// Store persists the two session keys as text.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context) error
}

// Poster sends unauthenticated JSON requests.
type Poster interface {
	PostAnonymous(ctx context.Context, path string, body, out any) error
}

// AuthError is a rejected login with the text to show the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Registration is the sign-up form.
type Registration struct {
	Name     string
	Email    string
	Password string
	Repeat   string
}

// Manager is the single writer of the session. Every request reads the token through
// it at call time.
type Manager struct {
	store  Store
	api    Poster
	logger zerolog.Logger

	mu      sync.RWMutex
	current Session
}

func NewManager(store Store, api Poster, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		api:    api,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Restore loads a previously persisted session.
func (m *Manager) Restore(ctx context.Context) (Session, error) {
	values, err := m.store.Load(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	s := fromValues(values)
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s, nil
}

// Login exchanges credentials for a token and persists both keys.
func (m *Manager) Login(ctx context.Context, user, password string) (Session, error) {
	var resp struct {
		Token   string `json:"token"`
		IsAdmin bool   `json:"is_admin"`
	}
	body := map[string]string{"usuario": user, "clave": password}
	if err := m.api.PostAnonymous(ctx, "/login/", body, &resp); err != nil {
		msg := DefaultLoginFailure
		if apiErr, ok := apiclient.AsError(err); ok && apiErr.Message() != "" {
			msg = apiErr.Message()
		}
		return Session{}, &AuthError{Message: msg, Err: err}
	}
	if resp.Token == "" {
		return Session{}, &AuthError{Message: DefaultLoginFailure}
	}

	s := Session{Token: resp.Token, IsAdmin: resp.IsAdmin}
	if err := m.store.Save(ctx, s.values()); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.logger.Info().Str("user", user).Bool("admin", s.IsAdmin).Msg("logged in")
	return s, nil
}

// Logout clears both keys.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.current = Session{}
	m.mu.Unlock()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.logger.Info().Msg("logged out")
	return nil
}

// Register creates an account. No credential is attached.
func (m *Manager) Register(ctx context.Context, r Registration) error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Email) == "" || r.Password == "" {
		return ErrMissingFields
	}
	if r.Password != r.Repeat {
		return ErrPasswordMismatch
	}
	body := map[string]string{"nombre": r.Name, "email": r.Email, "clave": r.Password}
	if err := m.api.PostAnonymous(ctx, "/usuarios/", body, nil); err != nil {
		return fmt.Errorf("register %s: %w", r.Email, err)
	}
	return nil
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Token implements apiclient.CredentialSource.
func (m *Manager) Token() string {
	return m.Current().Token
}

func (m *Manager) IsAdmin() bool {
	return m.Current().IsAdmin
}

// RequireAdmin gates admin-only views.
func (m *Manager) RequireAdmin() error {
	s := m.Current()
	if !s.Active() {
		return ErrNotLoggedIn
	}
	if !s.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}
