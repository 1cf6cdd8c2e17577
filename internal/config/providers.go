package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

var ErrInvalidProvider = errors.New("invalid provider configuration")

type providerCatalog struct {
	Providers []Provider `yaml:"providers"`
}

// LoadProviderCatalog reads additional providers from a YAML file.
func LoadProviderCatalog(path string) ([]Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}

	var catalog providerCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}

	return catalog.Providers, nil
}

// AllProviders merges the inline providers with the catalog file, if any,
// and validates the result. Provider names are case-insensitive and unique.
func (c *Config) AllProviders() ([]Provider, error) {
	providers := append([]Provider(nil), c.Providers...)
	if c.ProvidersFile != "" {
		extra, err := LoadProviderCatalog(c.ProvidersFile)
		if err != nil {
			return nil, err
		}
		providers = append(providers, extra...)
	}

	seen := make(map[string]struct{}, len(providers))
	for i := range providers {
		p := &providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.IdentityMode == "" {
			p.IdentityMode = IdentityModeOIDC
		}

		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate provider %q", ErrInvalidProvider, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	return providers, nil
}

func (p Provider) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidProvider)
	case p.AuthURL == "" || p.TokenURL == "" || p.RedirectURL == "":
		return fmt.Errorf("%w: %s: auth, token and redirect URLs are required", ErrInvalidProvider, p.Name)
	}

	switch p.IdentityMode {
	case IdentityModeOIDC:
		if p.DiscoveryURL == "" {
			return fmt.Errorf("%w: %s: discoveryURL is required in oidc mode", ErrInvalidProvider, p.Name)
		}
	case IdentityModeUserInfo:
		if p.UserInfoURL == "" {
			return fmt.Errorf("%w: %s: userInfoURL is required in userinfo mode", ErrInvalidProvider, p.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown identity mode %q", ErrInvalidProvider, p.Name, p.IdentityMode)
	}

	return nil
}
