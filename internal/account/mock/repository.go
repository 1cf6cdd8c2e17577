package accountmock

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/openkcm/session-auth/internal/account"
	"github.com/openkcm/session-auth/internal/serviceerr"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu          sync.Mutex
	credentials map[string]account.Credential
	links       map[string]account.Link
	allowed     map[string]bool

	// Upserts records every UpsertLink call that succeeded.
	Upserts []account.Link

	credentialErr, getLinkErr, upsertErr, allowedErr, provisionErr error

	// upsertOwner simulates a link written concurrently for another user.
	upsertOwner string
}

var _ account.Repository = (*Repository)(nil)

func WithCredential(c account.Credential) RepositoryOption {
	return func(r *Repository) { r.credentials[strings.ToLower(c.Email)] = c }
}
func WithLink(l account.Link) RepositoryOption {
	return func(r *Repository) { r.links[linkKey(l.Provider, l.ProviderUserID)] = l }
}
func WithAllowedProvider(userID, provider string) RepositoryOption {
	return func(r *Repository) { r.allowed[allowedKey(userID, provider)] = true }
}
func WithCredentialError(err error) RepositoryOption {
	return func(r *Repository) { r.credentialErr = err }
}
func WithGetLinkError(err error) RepositoryOption {
	return func(r *Repository) { r.getLinkErr = err }
}
func WithUpsertLinkError(err error) RepositoryOption {
	return func(r *Repository) { r.upsertErr = err }
}
func WithAllowedError(err error) RepositoryOption {
	return func(r *Repository) { r.allowedErr = err }
}

// WithUpsertLinkOwner makes UpsertLink report userID as the owner of every
// identity without storing the link.
func WithUpsertLinkOwner(userID string) RepositoryOption {
	return func(r *Repository) { r.upsertOwner = userID }
}
func WithProvisionError(err error) RepositoryOption {
	return func(r *Repository) { r.provisionErr = err }
}

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		credentials: make(map[string]account.Credential),
		links:       make(map[string]account.Link),
		allowed:     make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// StoredLink is a helper method for tests to read a stored link.
func (r *Repository) StoredLink(provider, providerUserID string) (account.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[linkKey(provider, providerUserID)]
	return l, ok
}

func (r *Repository) CredentialByEmail(_ context.Context, email string) (account.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credentialErr != nil {
		return account.Credential{}, r.credentialErr
	}
	if c, ok := r.credentials[strings.ToLower(email)]; ok {
		return c, nil
	}
	return account.Credential{}, serviceerr.ErrNotFound
}

func (r *Repository) GetLink(_ context.Context, provider, providerUserID string) (account.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getLinkErr != nil {
		return account.Link{}, r.getLinkErr
	}
	if l, ok := r.links[linkKey(provider, providerUserID)]; ok {
		return l, nil
	}
	return account.Link{}, serviceerr.ErrNotFound
}

func (r *Repository) UpsertLink(_ context.Context, link account.Link) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return "", r.upsertErr
	}
	if r.upsertOwner != "" {
		return r.upsertOwner, nil
	}
	key := linkKey(link.Provider, link.ProviderUserID)
	if existing, ok := r.links[key]; ok {
		existing.Issuer, existing.TenantID = link.Issuer, link.TenantID
		link = existing
	}
	r.links[key] = link
	r.Upserts = append(r.Upserts, link)
	return link.UserID, nil
}

func (r *Repository) IsProviderAllowed(_ context.Context, userID, provider string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allowedErr != nil {
		return false, r.allowedErr
	}
	return r.allowed[allowedKey(userID, provider)], nil
}

func (r *Repository) ProvisionUser(_ context.Context, p account.Provisioning) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.provisionErr != nil {
		return "", r.provisionErr
	}
	key := strings.ToLower(p.Email)
	c, ok := r.credentials[key]
	if !ok {
		c = account.Credential{UserID: uuid.NewString(), Email: p.Email}
	}
	if p.PasswordHash != "" {
		c.PasswordHash, c.PasswordSalt = p.PasswordHash, p.PasswordSalt
	}
	r.credentials[key] = c
	for _, provider := range p.AllowedProviders {
		r.allowed[allowedKey(c.UserID, provider)] = true
	}
	return c.UserID, nil
}

func linkKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func allowedKey(userID, provider string) string {
	return userID + "\x00" + provider
}
