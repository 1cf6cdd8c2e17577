// Package account stores the provisioned accounts: password credentials,
// federated identity links and the providers an account may sign in with.
package account

import "context"

// Credential is the password credential of an account. PasswordHash and
// PasswordSalt are empty for accounts without a password.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	PasswordSalt string
}

// HasPassword reports whether both hash and salt are present.
func (c Credential) HasPassword() bool {
	return c.PasswordHash != "" && c.PasswordSalt != ""
}

// Link binds a provider identity to an account. (Provider, ProviderUserID)
// is unique.
type Link struct {
	Provider       string
	ProviderUserID string
	UserID         string
	Issuer         string
	TenantID       string
}

// Provisioning describes an account created or updated by an operator.
// Empty DisplayName, PasswordHash and PasswordSalt keep the stored values.
type Provisioning struct {
	Email            string
	DisplayName      string
	PasswordHash     string
	PasswordSalt     string
	AllowedProviders []string
}

// Repository lookups of missing records return serviceerr.ErrNotFound.
type Repository interface {
	// CredentialByEmail matches email case-insensitively.
	CredentialByEmail(ctx context.Context, email string) (Credential, error)
	GetLink(ctx context.Context, provider, providerUserID string) (Link, error)
	// UpsertLink creates the link or refreshes issuer and tenant of an
	// existing one. It returns the id of the account the identity is linked
	// to, which differs from link.UserID when another account owns it.
	UpsertLink(ctx context.Context, link Link) (string, error)
	IsProviderAllowed(ctx context.Context, userID, provider string) (bool, error)
	// ProvisionUser upserts the account matching p.Email case-insensitively
	// and adds p.AllowedProviders to its allow-list. It returns the user id.
	ProvisionUser(ctx context.Context, p Provisioning) (string, error)
}
