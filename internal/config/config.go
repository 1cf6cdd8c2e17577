// Package config defines the necessary types to configure the application.
// Configuration is read from config.yaml in /etc/session-auth, $HOME/.session-auth or the working directory.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database       Database       `yaml:"database"`
	ValKey         ValKey         `yaml:"valkey"`
	Migrate        Migrate        `yaml:"migrate"`
	Housekeeper    Housekeeper    `yaml:"housekeeper"`
	SessionManager SessionManager `yaml:"sessionManager"`

	// Providers are the federated identity providers offered at sign-in.
	Providers []Provider `yaml:"providers"`
	// ProvidersFile optionally points at a YAML catalog with more providers.
	ProvidersFile string `yaml:"providersFile"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	// TrustProxyHeaders enables client IP extraction from reverse proxy
	// headers. Only enable it behind a trusted proxy.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"session-auth"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Migrate struct {
	// TargetVersion stops the migration at the given version. Zero applies
	// all pending migrations.
	TargetVersion int64 `yaml:"targetVersion"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"15m"`
}

// SessionBackend selects where sessions are persisted.
type SessionBackend string

const (
	SessionBackendPostgres SessionBackend = "postgres"
	SessionBackendValkey   SessionBackend = "valkey"
)

type SessionManager struct {
	SessionDuration time.Duration `yaml:"sessionDuration" default:"168h"`
	// SlidingExpiration extends a session on every validation. Sessions
	// expire at an absolute time otherwise.
	SlidingExpiration bool           `yaml:"slidingExpiration"`
	Backend           SessionBackend `yaml:"backend" default:"postgres"`

	SessionCookie CookieTemplate `yaml:"sessionCookie"`
	// SecureCookies sets the Secure flag on every cookie the service writes.
	SecureCookies bool `yaml:"secureCookies" default:"true"`

	OAuthStateDuration time.Duration `yaml:"oauthStateDuration" default:"5m"`
	OAuthCookiePath    string        `yaml:"oauthCookiePath" default:"/oauth"`

	SignInPath      string `yaml:"signInPath" default:"/sign-in"`
	AfterSignInPath string `yaml:"afterSignInPath" default:"/private"`

	HTTPTimeout time.Duration `yaml:"httpTimeout" default:"10s"`
	KeySetTTL   time.Duration `yaml:"keySetTTL" default:"1h"`
}

// IdentityMode selects how a provider's identity claims are obtained.
type IdentityMode string

const (
	IdentityModeOIDC     IdentityMode = "oidc"
	IdentityModeUserInfo IdentityMode = "userinfo"
)

type Provider struct {
	Name         string              `yaml:"name"`
	ClientID     commoncfg.SourceRef `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	Scopes       []string            `yaml:"scopes"`
	AuthURL      string              `yaml:"authURL"`
	TokenURL     string              `yaml:"tokenURL"`
	RedirectURL  string              `yaml:"redirectURL"`

	IdentityMode IdentityMode `yaml:"identityMode"`
	DiscoveryURL string       `yaml:"discoveryURL"`
	UserInfoURL  string       `yaml:"userInfoURL"`

	Claims ClaimMapping `yaml:"claims"`
	// AuthParams are added verbatim to the authorization URL.
	AuthParams map[string]string `yaml:"authParams"`
}

// ClaimMapping names the claims that carry the identity attributes.
// Empty fields fall back to the OIDC standard claim names.
type ClaimMapping struct {
	Subject  string   `yaml:"subject"`
	Email    []string `yaml:"email"`
	Name     string   `yaml:"name"`
	Issuer   string   `yaml:"issuer"`
	TenantID string   `yaml:"tenantID"`
}

func (m ClaimMapping) WithDefaults() ClaimMapping {
	if m.Subject == "" {
		m.Subject = "sub"
	}
	if len(m.Email) == 0 {
		m.Email = []string{"email", "preferred_username"}
	}
	if m.Name == "" {
		m.Name = "name"
	}
	if m.Issuer == "" {
		m.Issuer = "iss"
	}
	if m.TenantID == "" {
		m.TenantID = "tid"
	}

	return m
}
