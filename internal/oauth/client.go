// Package oauth implements the authorization code flow with PKCE against a
// configured identity provider and turns the result into an Identity.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/oidc"
	"github.com/openkcm/session-auth/internal/pkce"
	"github.com/openkcm/session-auth/internal/secretstore"
)

// Identity is the normalised user information asserted by a provider.
type Identity struct {
	ProviderUserID string
	Email          string
	Name           string
	Issuer         string
	TenantID       string
}

type Client struct {
	name         string
	oauth2       *oauth2.Config
	clientSecret string
	authParams   map[string]string
	claims       config.ClaimMapping

	secrets    *pkce.Secrets
	identity   IdentityResolver
	httpClient *http.Client
}

func NewClient(
	provider config.Provider,
	secrets *pkce.Secrets,
	resolver *oidc.Resolver,
	httpClient *http.Client,
) (*Client, error) {
	if err := provider.Validate(); err != nil {
		return nil, err
	}

	clientID, err := commoncfg.LoadValueFromSourceRef(provider.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id: %w", err)
	}

	// public clients have no secret
	var clientSecret []byte
	if provider.ClientSecret.Source != "" {
		clientSecret, err = commoncfg.LoadValueFromSourceRef(provider.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("loading client secret: %w", err)
		}
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		name: provider.Name,
		oauth2: &oauth2.Config{
			ClientID:     string(clientID),
			ClientSecret: string(clientSecret),
			Endpoint: oauth2.Endpoint{
				AuthURL:  provider.AuthURL,
				TokenURL: provider.TokenURL,
			},
			RedirectURL: provider.RedirectURL,
			Scopes:      provider.Scopes,
		},
		clientSecret: string(clientSecret),
		authParams:   provider.AuthParams,
		claims:       provider.Claims.WithDefaults(),
		secrets:      secrets,
		httpClient:   httpClient,
	}

	switch provider.IdentityMode {
	case config.IdentityModeUserInfo:
		c.identity = &userInfoResolver{url: provider.UserInfoURL, httpClient: httpClient}
	default:
		c.identity = newOIDCResolver(provider.DiscoveryURL, string(clientID), resolver)
	}

	return c, nil
}

func (c *Client) Name() string { return c.name }

// CreateAuthURL issues state, code verifier and nonce into store and
// returns the provider's authorization URL.
func (c *Client) CreateAuthURL(store secretstore.Store) (string, error) {
	state, err := c.secrets.Issue(store, pkce.NameState)
	if err != nil {
		return "", fmt.Errorf("issuing state: %w", err)
	}

	verifier, err := c.secrets.Issue(store, pkce.NameCodeVerifier)
	if err != nil {
		return "", fmt.Errorf("issuing code verifier: %w", err)
	}

	nonce, err := c.secrets.Issue(store, pkce.NameNonce)
	if err != nil {
		return "", fmt.Errorf("issuing nonce: %w", err)
	}

	opts := make([]oauth2.AuthCodeOption, 0, 2+len(c.authParams))
	opts = append(opts,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	for k, v := range c.authParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return c.oauth2.AuthCodeURL(state, opts...), nil
}

// Abandon discards the secrets of a flow that will not be completed.
func (c *Client) Abandon(store secretstore.Store) {
	c.secrets.Clear(store)
}

// FetchUser completes the flow started by CreateAuthURL. The ephemeral
// secrets are single use: they are cleared on a state mismatch and after
// every attempt that got past the verifier lookup.
func (c *Client) FetchUser(ctx context.Context, code, state string, store secretstore.Store) (Identity, error) {
	ctx = slogctx.With(ctx, "provider", c.name)

	if !c.secrets.Validate(store, pkce.NameState, state) {
		c.secrets.Clear(store)
		return Identity{}, ErrInvalidState
	}

	verifier, ok := c.secrets.Read(store, pkce.NameCodeVerifier)
	if !ok {
		return Identity{}, ErrInvalidCodeVerifier
	}

	nonce, _ := c.secrets.Read(store, pkce.NameNonce)
	defer c.secrets.Clear(store)

	tokens, err := c.exchangeCode(ctx, code, verifier)
	if err != nil {
		return Identity{}, err
	}
	slogctx.Debug(ctx, "Exchanged the auth code for tokens")

	claims, err := c.identity.Resolve(ctx, tokens, nonce)
	if err != nil {
		return Identity{}, err
	}

	return c.parseIdentity(claims)
}

func (c *Client) parseIdentity(claims map[string]any) (Identity, error) {
	uc, err := mapClaims(claims, c.claims)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidUserSchema, err)
	}

	return Identity{
		ProviderUserID: uc.Subject,
		Email:          strings.ToLower(strings.TrimSpace(uc.Email)),
		Name:           uc.Name,
		Issuer:         uc.Issuer,
		TenantID:       uc.TenantID,
	}, nil
}
