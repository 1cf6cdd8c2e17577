package business

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/account"
	accountsql "github.com/openkcm/session-auth/internal/account/sql"
	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/password"
)

// ProvisionUserRequest is an operator's request to create or update an
// account. An empty Password keeps the stored credential.
type ProvisionUserRequest struct {
	Email            string   `validate:"required,email,max=254"`
	DisplayName      string   `validate:"max=200"`
	Password         string   `validate:"omitempty,min=8,max=200"`
	AllowedProviders []string `validate:"dive,required,max=64"`
}

// ProvisionUserMain upserts one account in the configured database.
func ProvisionUserMain(ctx context.Context, cfg *config.Config, req ProvisionUserRequest) error {
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return oops.In("provision").Wrapf(err, "failed to connect to the database")
	}
	defer pool.Close()

	warnUnknownProviders(ctx, cfg, req.AllowedProviders)

	userID, err := ProvisionUser(ctx, accountsql.NewRepository(pool), req)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Provisioned user", "user_id", userID, "allowed_providers", req.AllowedProviders)

	return nil
}

// ProvisionUser validates req, hashes its password with a fresh salt and
// stores the account. Emails are stored lower-cased.
func ProvisionUser(ctx context.Context, accounts account.Repository, req ProvisionUserRequest) (string, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	providers := make([]string, 0, len(req.AllowedProviders))
	for _, p := range req.AllowedProviders {
		providers = append(providers, strings.ToLower(strings.TrimSpace(p)))
	}
	slices.Sort(providers)
	req.AllowedProviders = slices.Compact(providers)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(req); err != nil {
		return "", oops.In("provision").Wrapf(err, "invalid request")
	}

	p := account.Provisioning{
		Email:            req.Email,
		DisplayName:      strings.TrimSpace(req.DisplayName),
		AllowedProviders: req.AllowedProviders,
	}

	if req.Password != "" {
		salt, err := password.GenerateSalt()
		if err != nil {
			return "", fmt.Errorf("generating salt: %w", err)
		}

		hash, err := password.Hash(req.Password, salt)
		if err != nil {
			return "", fmt.Errorf("hashing password: %w", err)
		}

		p.PasswordHash, p.PasswordSalt = hash, salt
	}

	userID, err := accounts.ProvisionUser(ctx, p)
	if err != nil {
		return "", oops.In("provision").With("email", req.Email).Wrapf(err, "storing account")
	}

	return userID, nil
}

// warnUnknownProviders logs allow-list entries no configured provider
// answers to. They are stored anyway so accounts can be prepared before a
// provider is rolled out.
func warnUnknownProviders(ctx context.Context, cfg *config.Config, names []string) {
	providers, err := cfg.AllProviders()
	if err != nil {
		slogctx.Warn(ctx, "Failed to load providers; skipping the allow-list check", "error", err)
		return
	}

	known := make(map[string]bool, len(providers))
	for _, p := range providers {
		known[strings.ToLower(p.Name)] = true
	}

	for _, name := range names {
		if !known[strings.ToLower(strings.TrimSpace(name))] {
			slogctx.Warn(ctx, "Allowed provider is not configured", "provider", name)
		}
	}
}
