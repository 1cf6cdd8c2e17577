package oidc_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-auth/internal/oidc"
)

func TestResolver_Discover(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    oidc.Configuration
		wantErr error
	}{
		{
			name:   "valid document",
			status: http.StatusOK,
			body:   `{"issuer":"https://login.example.com/{tenantid}/v2.0","jwks_uri":"https://login.example.com/keys","id_token_signing_alg_values_supported":["RS256"]}`,
			want: oidc.Configuration{
				Issuer:      "https://login.example.com/{tenantid}/v2.0",
				JwksURI:     "https://login.example.com/keys",
				SigningAlgs: []string{"RS256"},
			},
		},
		{
			name:    "non 2xx status",
			status:  http.StatusBadGateway,
			body:    `{}`,
			wantErr: oidc.ErrDiscovery,
		},
		{
			name:    "missing jwks_uri",
			status:  http.StatusOK,
			body:    `{"issuer":"https://login.example.com"}`,
			wantErr: oidc.ErrConfig,
		},
		{
			name:    "missing issuer",
			status:  http.StatusOK,
			body:    `{"jwks_uri":"https://login.example.com/keys"}`,
			wantErr: oidc.ErrConfig,
		},
		{
			name:    "issuer is not a string",
			status:  http.StatusOK,
			body:    `{"issuer":42,"jwks_uri":"https://login.example.com/keys"}`,
			wantErr: oidc.ErrConfig,
		},
		{
			name:    "not json",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: oidc.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			r := oidc.NewResolver(server.Client(), 0)
			got, err := r.Discover(t.Context(), server.URL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_DiscoverIsNotCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"issuer":"https://issuer","jwks_uri":"https://issuer/keys"}`))
	}))
	defer server.Close()

	r := oidc.NewResolver(server.Client(), 0)
	for range 3 {
		_, err := r.Discover(t.Context(), server.URL)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), hits.Load())
}

func TestResolver_KeySet(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{})
	}))
	defer server.Close()

	r := oidc.NewResolver(server.Client(), 0)

	_, err := r.KeySet(t.Context(), server.URL)
	require.NoError(t, err)
	_, err = r.KeySet(t.Context(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "key set must be cached")

	r.Forget(server.URL)
	_, err = r.KeySet(t.Context(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolver_KeySetError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := oidc.NewResolver(server.Client(), 0)
	_, err := r.KeySet(t.Context(), server.URL)
	assert.ErrorIs(t, err, oidc.ErrKeySet)
}

func TestConfiguration_ExpectedIssuer(t *testing.T) {
	multi := oidc.Configuration{Issuer: "https://login.example.com/{tenantid}/v2.0"}
	assert.True(t, multi.IsMultiTenant())
	assert.Equal(t, "https://login.example.com/abc/v2.0", multi.ExpectedIssuer("abc"))

	single := oidc.Configuration{Issuer: "https://accounts.example.com"}
	assert.False(t, single.IsMultiTenant())
	assert.Equal(t, "https://accounts.example.com", single.ExpectedIssuer("abc"))
}
