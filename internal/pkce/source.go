// Package pkce issues the short-lived secrets of an authorization code
// round-trip (state, PKCE code verifier and nonce) and keeps them in the
// caller's secret store until the callback consumes them.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/openkcm/session-auth/internal/secretstore"
)

const MethodS256 = "S256"

const (
	NameState        = "oauth_state"
	NameCodeVerifier = "oauth_code_verifier"
	NameNonce        = "oauth_nonce"

	DefaultTTL  = 5 * time.Minute
	DefaultPath = "/oauth"

	tokenBytes = 32
)

// Names lists every ephemeral secret in issue order.
var Names = []string{NameState, NameCodeVerifier, NameNonce}

type Option func(*Secrets)

func WithTTL(ttl time.Duration) Option {
	return func(s *Secrets) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPath(path string) Option {
	return func(s *Secrets) {
		if path != "" {
			s.path = path
		}
	}
}

func WithSecure(secure bool) Option {
	return func(s *Secrets) { s.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(s *Secrets) { s.now = now }
}

// Secrets is safe for concurrent use; all per-caller state lives in the
// secretstore.Store passed to each call.
type Secrets struct {
	ttl    time.Duration
	path   string
	secure bool
	now    func() time.Time
}

func New(opts ...Option) *Secrets {
	s := &Secrets{
		ttl:  DefaultTTL,
		path: DefaultPath,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Path is the cookie scope of the ephemeral secrets.
func (s *Secrets) Path() string { return s.path }

// Issue generates a fresh token, stores it under name and returns it.
func (s *Secrets) Issue(store secretstore.Store, name string) (string, error) {
	token, err := randToken(tokenBytes)
	if err != nil {
		return "", err
	}

	store.Set(name, token, secretstore.Attributes{
		Path:     s.path,
		Expires:  s.now().Add(s.ttl),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return token, nil
}

// Validate compares presented with the stored value. A missing value never
// validates.
func (s *Secrets) Validate(store secretstore.Store, name, presented string) bool {
	stored, ok := store.Get(name)
	if !ok || presented == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func (s *Secrets) Read(store secretstore.Store, name string) (string, bool) {
	return store.Get(name)
}

// Clear removes the named secrets, or all of them when no name is given.
func (s *Secrets) Clear(store secretstore.Store, names ...string) {
	if len(names) == 0 {
		names = Names
	}
	for _, name := range names {
		store.Delete(name, s.path)
	}
}

// Challenge derives the S256 code challenge of a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
