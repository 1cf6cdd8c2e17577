package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
	zoidc "github.com/zitadel/oidc/v3/pkg/oidc"

	slogctx "github.com/veqryn/slog-context"
)

var (
	ErrDiscovery = errors.New("oidc discovery failed")
	ErrConfig    = errors.New("oidc configuration invalid")
	ErrKeySet    = errors.New("fetching key set failed")
)

const DefaultKeySetTTL = time.Hour

// Resolver fetches discovery documents on every call and caches key sets
// per URI. It is safe for concurrent use.
type Resolver struct {
	httpClient *http.Client
	keySets    *cache.Cache
}

func NewResolver(httpClient *http.Client, keySetTTL time.Duration) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if keySetTTL <= 0 {
		keySetTTL = DefaultKeySetTTL
	}

	return &Resolver{
		httpClient: httpClient,
		keySets:    cache.New(keySetTTL, 2*keySetTTL),
	}
}

// Discover loads the discovery document at url.
func (r *Resolver) Discover(ctx context.Context, url string) (Configuration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Configuration{}, errors.Join(ErrDiscovery, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Configuration{}, errors.Join(ErrDiscovery, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Configuration{}, fmt.Errorf("%w: status %d", ErrDiscovery, resp.StatusCode)
	}

	var doc zoidc.DiscoveryConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Configuration{}, errors.Join(ErrConfig, fmt.Errorf("decoding discovery document: %w", err))
	}

	if doc.Issuer == "" || doc.JwksURI == "" {
		return Configuration{}, fmt.Errorf("%w: missing issuer or jwks_uri", ErrConfig)
	}

	return Configuration{
		Issuer:      doc.Issuer,
		JwksURI:     doc.JwksURI,
		SigningAlgs: doc.IDTokenSigningAlgValuesSupported,
	}, nil
}

// KeySet returns the key set at uri, fetching it when it is not cached.
func (r *Resolver) KeySet(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	if v, ok := r.keySets.Get(uri); ok {
		if keySet, ok := v.(*jose.JSONWebKeySet); ok {
			return keySet, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Join(ErrKeySet, fmt.Errorf("creating request: %w", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrKeySet, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeySet, resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, errors.Join(ErrKeySet, fmt.Errorf("decoding keyset response: %w", err))
	}

	r.keySets.SetDefault(uri, &keySet)
	slogctx.Debug(ctx, "Fetched key set", "uri", uri, "keys", len(keySet.Keys))

	return &keySet, nil
}

// Forget drops the cached key set of uri so the next KeySet call refetches.
func (r *Resolver) Forget(uri string) {
	r.keySets.Delete(uri)
}
