package business

import (
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/pkce"
)

func validDatabase() config.Database {
	return config.Database{
		Host:     commoncfg.SourceRef{Source: "embedded", Value: "localhost"},
		Port:     "5432",
		Name:     "testdb",
		User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
		Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
	}
}

func TestInitDependencies(t *testing.T) {
	missingFile := commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}}

	tests := []struct {
		name      string
		cfg       func() *config.Config
		errSubstr string
	}{
		{
			name: "invalid database host",
			cfg: func() *config.Config {
				db := validDatabase()
				db.Host = missingFile
				return &config.Config{Database: db}
			},
			errSubstr: "making dsn from config",
		},
		{
			name: "invalid valkey host",
			cfg: func() *config.Config {
				return &config.Config{
					Database: validDatabase(),
					ValKey:   config.ValKey{Host: missingFile},
					SessionManager: config.SessionManager{
						Backend: config.SessionBackendValkey,
					},
				}
			},
			errSubstr: "loading valkey host",
		},
		{
			name: "unknown session backend",
			cfg: func() *config.Config {
				return &config.Config{
					Database: validDatabase(),
					SessionManager: config.SessionManager{
						Backend: "memcached",
					},
				}
			},
			errSubstr: "unknown session backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, err := initDependencies(t.Context(), tt.cfg())

			require.Error(t, err)
			assert.Nil(t, deps)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestInitDependencies_PostgresBackend(t *testing.T) {
	cfg := &config.Config{
		Database: validDatabase(),
		SessionManager: config.SessionManager{
			Backend:     config.SessionBackendPostgres,
			HTTPTimeout: 3 * time.Second,
		},
	}

	deps, err := initDependencies(t.Context(), cfg)
	require.NoError(t, err)
	defer deps.close()

	assert.NotNil(t, deps.accounts)
	assert.NotNil(t, deps.sessions)
	assert.Equal(t, 3*time.Second, deps.httpClient.Timeout)
}

func TestInitProviders(t *testing.T) {
	github := config.Provider{
		Name:         "github",
		ClientID:     commoncfg.SourceRef{Source: "embedded", Value: "client"},
		AuthURL:      "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		RedirectURL:  "https://app.example.com/oauth/github",
		IdentityMode: config.IdentityModeUserInfo,
		UserInfoURL:  "https://api.github.com/user",
	}

	t.Run("creates a client per provider", func(t *testing.T) {
		microsoft := github
		microsoft.Name = "microsoft"
		microsoft.IdentityMode = config.IdentityModeOIDC
		microsoft.DiscoveryURL = "https://login.microsoftonline.com/common/v2.0/.well-known/openid-configuration"

		cfg := &config.Config{Providers: []config.Provider{github, microsoft}}

		clients, err := initProviders(cfg, pkce.New(), nil)

		require.NoError(t, err)
		require.Len(t, clients, 2)
		assert.Equal(t, "github", clients[0].Name())
		assert.Equal(t, "microsoft", clients[1].Name())
	})

	t.Run("rejects an invalid provider", func(t *testing.T) {
		broken := github
		broken.UserInfoURL = ""

		_, err := initProviders(&config.Config{Providers: []config.Provider{broken}}, pkce.New(), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), `creating client for provider "github"`)
	})
}

func TestMain_InvalidDatabaseConfig(t *testing.T) {
	db := validDatabase()
	db.Password = commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}}

	err := Main(t.Context(), &config.Config{Database: db})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialising dependencies")
}
