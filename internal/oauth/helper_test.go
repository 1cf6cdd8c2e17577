package oauth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/oauth"
	"github.com/openkcm/session-auth/internal/oidc"
	"github.com/openkcm/session-auth/internal/pkce"
)

const (
	testClientID     = "client-123"
	testClientSecret = "client-secret"
)

// fakeProvider serves discovery, keys, token and user info endpoints.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu              sync.Mutex
	key             *rsa.PrivateKey
	kid             string
	issuer          string
	discoveryStatus int
	tokenResponse   func(form url.Values) any
	userInfo        func(r *http.Request) (int, any)
	tokenRequests   []url.Values
	keyRequests     int
}

func startProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{t: t, discoveryStatus: http.StatusOK}
	p.rotateKey()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.discoveryStatus != http.StatusOK {
			w.WriteHeader(p.discoveryStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                p.Issuer(),
			"jwks_uri":                              p.server.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.keyRequests++
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     p.kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.mu.Lock()
		p.tokenRequests = append(p.tokenRequests, r.PostForm)
		respond := p.tokenResponse
		p.mu.Unlock()

		if respond == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch body := respond(r.PostForm).(type) {
		case string:
			_, _ = w.Write([]byte(body))
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(body)
		}
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		status, body := p.userInfo(r)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func (p *fakeProvider) Issuer() string {
	if p.issuer != "" {
		return strings.ReplaceAll(p.issuer, "{base}", p.server.URL)
	}
	return p.server.URL
}

func (p *fakeProvider) rotateKey() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(p.t, err)

	p.key = key
	p.kid = rand.Text()
}

func (p *fakeProvider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenRequests...)
}

func (p *fakeProvider) KeyRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyRequests
}

func (p *fakeProvider) mint(claims jwtv5.MapClaims) string {
	p.t.Helper()

	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	signed, err := tok.SignedString(p.key)
	require.NoError(p.t, err)

	return signed
}

// idTokenClaims returns valid claims for the default client.
func (p *fakeProvider) idTokenClaims(nonce string) jwtv5.MapClaims {
	now := time.Now()
	return jwtv5.MapClaims{
		"iss":   p.Issuer(),
		"aud":   testClientID,
		"sub":   "provider-user-1",
		"email": "  Alice@Example.COM ",
		"name":  "Alice",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
	}
}

func (p *fakeProvider) oidcProvider() config.Provider {
	return config.Provider{
		Name:         "microsoft",
		ClientID:     commoncfg.SourceRef{Source: "embedded", Value: testClientID},
		ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: testClientSecret},
		Scopes:       []string{"openid", "profile", "email"},
		AuthURL:      p.server.URL + "/authorize",
		TokenURL:     p.server.URL + "/token",
		RedirectURL:  "https://app.example.com/oauth/microsoft",
		IdentityMode: config.IdentityModeOIDC,
		DiscoveryURL: p.server.URL + "/.well-known/openid-configuration",
	}
}

func (p *fakeProvider) userInfoProvider() config.Provider {
	return config.Provider{
		Name:         "github",
		ClientID:     commoncfg.SourceRef{Source: "embedded", Value: testClientID},
		ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: testClientSecret},
		Scopes:       []string{"read:user", "user:email"},
		AuthURL:      p.server.URL + "/authorize",
		TokenURL:     p.server.URL + "/token",
		RedirectURL:  "https://app.example.com/oauth/github",
		IdentityMode: config.IdentityModeUserInfo,
		UserInfoURL:  p.server.URL + "/userinfo",
		Claims:       config.ClaimMapping{Subject: "id", Name: "login"},
	}
}

func newClient(t *testing.T, p *fakeProvider, provider config.Provider) (*oauth.Client, *oidc.Resolver) {
	t.Helper()

	resolver := oidc.NewResolver(p.server.Client(), time.Hour)
	c, err := oauth.NewClient(provider, pkce.New(), resolver, p.server.Client())
	require.NoError(t, err)

	return c, resolver
}
