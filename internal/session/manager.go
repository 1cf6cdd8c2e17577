// Package session creates, validates and revokes server side sessions and
// manages the session cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/pkce"
	"github.com/openkcm/session-auth/internal/secretstore"
	"github.com/openkcm/session-auth/internal/serviceerr"
)

const (
	DefaultDuration   = 7 * 24 * time.Hour
	DefaultCookieName = "sid"

	idBytes = 32
)

var ErrCreateSession = errors.New("failed to create session")

type Manager struct {
	sessions Repository
	secrets  *pkce.Secrets

	duration      time.Duration
	sliding       bool
	cookie        config.CookieTemplate
	secureCookies bool

	now func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg *config.SessionManager, sessions Repository, secrets *pkce.Secrets, opts ...Option) *Manager {
	m := &Manager{
		sessions:      sessions,
		secrets:       secrets,
		duration:      cfg.SessionDuration,
		sliding:       cfg.SlidingExpiration,
		cookie:        cfg.SessionCookie,
		secureCookies: cfg.SecureCookies,
		now:           time.Now,
	}
	if m.duration <= 0 {
		m.duration = DefaultDuration
	}
	if m.cookie.Name == "" {
		m.cookie.Name = DefaultCookieName
	}
	if m.cookie.Path == "" {
		m.cookie.Path = "/"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// SessionID returns the session id presented by the caller.
func (m *Manager) SessionID(store secretstore.Store) (string, bool) {
	return store.Get(m.cookie.Name)
}

// Create persists a new session for userID and hands its id to the caller.
func (m *Manager) Create(ctx context.Context, store secretstore.Store, userID string, meta Meta) (Session, error) {
	id, err := newID()
	if err != nil {
		return Session{}, oops.In("session").Wrap(errors.Join(ErrCreateSession, err))
	}

	now := m.now()
	s := Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.duration),
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
	}

	if err := m.sessions.CreateSession(ctx, s); err != nil {
		slogctx.Error(ctx, "Failed to create session", "user_id", userID, "error", err)
		return Session{}, oops.In("session").With("user_id", userID).Wrap(errors.Join(ErrCreateSession, err))
	}

	m.setCookie(store, s)

	return s, nil
}

// Get returns the session with id, or nil when it is missing or expired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	now := m.now()
	s, err := m.sessions.GetSession(ctx, id, now)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if !s.IsValid(now) {
		return nil, nil
	}

	return &s, nil
}

// Touch records activity on a session. The expiry moves forward only with
// sliding expiration, in which case the cookie in store (if any) is renewed.
func (m *Manager) Touch(ctx context.Context, store secretstore.Store, id string, meta Meta) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return s, err
	}

	now := m.now()
	s.LastSeenAt = now
	if meta.UserAgent != "" {
		s.UserAgent = meta.UserAgent
	}
	if meta.IPAddress != "" {
		s.IPAddress = meta.IPAddress
	}
	if m.sliding {
		s.ExpiresAt = now.Add(m.duration)
	}

	if err := m.sessions.UpdateSession(ctx, *s); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("updating session: %w", err)
	}

	if m.sliding && store != nil {
		m.setCookie(store, *s)
	}

	return s, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.sessions.DeleteSession(ctx, id); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) error {
	if err := m.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting sessions of user: %w", err)
	}

	return nil
}

func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	return n, nil
}

// ClearClientState removes the session cookie and any OAuth leftovers.
func (m *Manager) ClearClientState(store secretstore.Store) {
	store.Delete(m.cookie.Name, m.cookie.Path)
	m.secrets.Clear(store)
}

func (m *Manager) setCookie(store secretstore.Store, s Session) {
	store.Set(m.cookie.Name, s.ID, secretstore.Attributes{
		Path:     m.cookie.Path,
		Expires:  s.ExpiresAt,
		HTTPOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
