package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-auth/internal/account"
	accountmock "github.com/openkcm/session-auth/internal/account/mock"
	"github.com/openkcm/session-auth/internal/auth"
	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/oauth"
	"github.com/openkcm/session-auth/internal/oidc"
	"github.com/openkcm/session-auth/internal/password"
	"github.com/openkcm/session-auth/internal/pkce"
	"github.com/openkcm/session-auth/internal/secretstore/secretstoremock"
	"github.com/openkcm/session-auth/internal/session"
	sessionmock "github.com/openkcm/session-auth/internal/session/mock"
)

const (
	testClientID = "client-123"

	aliceID       = "user-alice"
	alicePassword = "correct horse battery staple"
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// identityProvider is a minimal OAuth2/OIDC provider. The identity it
// returns is set per test.
type identityProvider struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	subject       string
	email         string
	issuedNonce   string
	nonce         func(issued string) string
	tokenRequests int
}

func startIdentityProvider(t *testing.T) *identityProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &identityProvider{t: t, key: key, subject: "provider-user-1", email: "alice@example.com"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   p.server.URL,
			"jwks_uri": p.server.URL + "/keys",
		})
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: string(jose.RS256), Use: "sig",
		}}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		p.tokenRequests++
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"id_token":     p.idToken(),
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": p.subject, "email": p.email})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func (p *identityProvider) setIdentity(subject, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject, p.email = subject, email
}

// setNonce makes ID tokens carry the nonce returned by fn for the nonce of
// the last authorization URL.
func (p *identityProvider) setNonce(fn func(issued string) string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = fn
}

func (p *identityProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

func (p *identityProvider) idToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "k1"),
	)
	require.NoError(p.t, err)

	nonce := p.issuedNonce
	if p.nonce != nil {
		nonce = p.nonce(p.issuedNonce)
	}

	now := time.Now()
	claims := map[string]any{
		"iss":   p.server.URL,
		"aud":   testClientID,
		"sub":   p.subject,
		"email": p.email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
	}

	signed, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(p.t, err)

	return signed
}

func (p *identityProvider) provider(name string, mode config.IdentityMode) config.Provider {
	return config.Provider{
		Name:         name,
		ClientID:     commoncfg.SourceRef{Source: "embedded", Value: testClientID},
		ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: "secret"},
		Scopes:       []string{"openid", "email"},
		AuthURL:      p.server.URL + "/authorize",
		TokenURL:     p.server.URL + "/token",
		RedirectURL:  "https://app.example.com/oauth/" + name,
		IdentityMode: mode,
		DiscoveryURL: p.server.URL + "/.well-known/openid-configuration",
		UserInfoURL:  p.server.URL + "/userinfo",
	}
}

type fixture struct {
	svc      *auth.Service
	accounts *accountmock.Repository
	sessions *sessionmock.Repository
	idp      *identityProvider
}

// newFixture wires the service with a "github" (user info) and a
// "microsoft" (OIDC) provider.
func newFixture(t *testing.T, accounts *accountmock.Repository, sessions *sessionmock.Repository) *fixture {
	t.Helper()

	idp := startIdentityProvider(t)
	secrets := pkce.New(pkce.WithClock(func() time.Time { return testNow }))
	resolver := oidc.NewResolver(idp.server.Client(), time.Hour)

	var clients []*oauth.Client
	for name, mode := range map[string]config.IdentityMode{
		"github":    config.IdentityModeUserInfo,
		"microsoft": config.IdentityModeOIDC,
	} {
		c, err := oauth.NewClient(idp.provider(name, mode), secrets, resolver, idp.server.Client())
		require.NoError(t, err)
		clients = append(clients, c)
	}

	manager := session.NewManager(&config.SessionManager{
		SessionDuration: 168 * time.Hour,
		SessionCookie:   config.CookieTemplate{Name: "sid", Path: "/"},
	}, sessions, secrets, session.WithClock(func() time.Time { return testNow }))

	return &fixture{
		svc:      auth.NewService(accounts, manager, clients),
		accounts: accounts,
		sessions: sessions,
		idp:      idp,
	}
}

// begin starts a federated sign-in and returns the issued state.
func (f *fixture) begin(t *testing.T, provider string, store *secretstoremock.Store) string {
	t.Helper()

	raw, err := f.svc.AuthURL(t.Context(), provider, store)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	f.idp.mu.Lock()
	f.idp.issuedNonce = u.Query().Get("nonce")
	f.idp.mu.Unlock()

	return u.Query().Get("state")
}

func aliceCredential(t *testing.T) account.Credential {
	t.Helper()

	salt, err := password.GenerateSalt()
	require.NoError(t, err)
	hash, err := password.Hash(alicePassword, salt)
	require.NoError(t, err)

	return account.Credential{UserID: aliceID, Email: "alice@example.com", PasswordHash: hash, PasswordSalt: salt}
}
