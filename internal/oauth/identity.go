package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/oidc"
)

// IdentityResolver turns the token response into raw identity claims.
// expectedNonce is empty when no nonce was issued.
type IdentityResolver interface {
	Resolve(ctx context.Context, tokens Tokens, expectedNonce string) (map[string]any, error)
}

var defaultSigningAlgs = []jose.SignatureAlgorithm{jose.RS256}

// oidcResolver verifies the ID token of the response against the
// provider's published keys.
type oidcResolver struct {
	discoveryURL string
	clientID     string
	resolver     *oidc.Resolver
	now          func() time.Time
}

func newOIDCResolver(discoveryURL, clientID string, resolver *oidc.Resolver) *oidcResolver {
	return &oidcResolver{
		discoveryURL: discoveryURL,
		clientID:     clientID,
		resolver:     resolver,
		now:          time.Now,
	}
}

func (r *oidcResolver) Resolve(ctx context.Context, tokens Tokens, expectedNonce string) (map[string]any, error) {
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: missing id_token", ErrInvalidToken)
	}

	conf, err := r.resolver.Discover(ctx, r.discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("discovering provider configuration: %w", err)
	}

	algs := defaultSigningAlgs
	if len(conf.SigningAlgs) > 0 {
		algs = make([]jose.SignatureAlgorithm, 0, len(conf.SigningAlgs))
		for _, alg := range conf.SigningAlgs {
			algs = append(algs, jose.SignatureAlgorithm(alg))
		}
	}

	token, err := jwt.ParseSigned(tokens.IDToken, algs)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("parsing id token: %w", err))
	}

	// The tenant only selects the expected issuer; the issuer itself is
	// checked on the verified claims below.
	var tenantID string
	if conf.IsMultiTenant() {
		var unverified struct {
			TenantID string `json:"tid"`
		}
		if err := token.UnsafeClaimsWithoutVerification(&unverified); err != nil || unverified.TenantID == "" {
			return nil, fmt.Errorf("%w: missing tenant id", ErrInvalidToken)
		}
		tenantID = unverified.TenantID
	}

	std, raw, err := r.verifiedClaims(ctx, token, conf.JwksURI)
	if err != nil {
		return nil, err
	}

	expected := jwt.Expected{
		Issuer:      conf.ExpectedIssuer(tenantID),
		AnyAudience: jwt.Audience{r.clientID},
		Time:        r.now(),
	}
	if err := std.ValidateWithLeeway(expected, jwt.DefaultLeeway); err != nil {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("validating claims: %w", err))
	}

	if atHash, _ := raw["at_hash"].(string); atHash != "" {
		if err := verifyAccessToken(tokens.AccessToken, atHash, token); err != nil {
			return nil, err
		}
	}

	if expectedNonce != "" {
		if nonce, _ := raw["nonce"].(string); nonce != expectedNonce {
			return nil, ErrInvalidNonce
		}
	}

	return raw, nil
}

// verifiedClaims checks the signature, refetching the key set once when
// the cached keys do not verify (key rotation).
func (r *oidcResolver) verifiedClaims(ctx context.Context, token *jwt.JSONWebToken, jwksURI string) (jwt.Claims, map[string]any, error) {
	var lastErr error
	for attempt := range 2 {
		if attempt > 0 {
			r.resolver.Forget(jwksURI)
		}

		keySet, err := r.resolver.KeySet(ctx, jwksURI)
		if err != nil {
			lastErr = err
			continue
		}

		var std jwt.Claims
		var raw map[string]any
		if err := token.Claims(keySet, &std, &raw); err != nil {
			slogctx.Debug(ctx, "ID token signature did not verify", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		return std, raw, nil
	}

	return jwt.Claims{}, nil, errors.Join(ErrInvalidToken, fmt.Errorf("verifying signature: %w", lastErr))
}

func verifyAccessToken(accessToken, atHash string, idToken *jwt.JSONWebToken) error {
	var h hash.Hash
	switch alg := idToken.Headers[0].Algorithm; alg {
	case "RS256", "ES256", "PS256":
		h = sha256.New()
	case "RS384", "ES384", "PS384":
		h = sha512.New384()
	case "RS512", "ES512", "PS512", "EdDSA":
		h = sha512.New()
	default:
		return fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidToken, alg)
	}

	h.Write([]byte(accessToken))
	sum := h.Sum(nil)[:h.Size()/2]
	if base64.RawURLEncoding.EncodeToString(sum) != atHash {
		return fmt.Errorf("%w: at_hash mismatch", ErrInvalidToken)
	}

	return nil
}

// userInfoResolver calls the provider's user endpoint with the access
// token, for OAuth2 providers without ID tokens.
type userInfoResolver struct {
	url        string
	httpClient *http.Client
}

func (r *userInfoResolver) Resolve(ctx context.Context, tokens Tokens, _ string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, errors.Join(ErrFetchUser, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", tokens.TokenType+" "+tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrFetchUser, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchUser, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, errors.Join(ErrFetchUser, fmt.Errorf("decoding response: %w", err))
	}

	return claims, nil
}
