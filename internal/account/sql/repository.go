package accountsql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/session-auth/internal/account"
	"github.com/openkcm/session-auth/internal/serviceerr"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ account.Repository = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) CredentialByEmail(ctx context.Context, email string) (c account.Credential, _ error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_credential_by_email_sql")
	defer span.End()

	if err := r.db.QueryRow(ctx,
		`SELECT id::text, email, COALESCE(password_hash, ''), COALESCE(password_salt, '')
FROM users
WHERE lower(email) = lower($1);`,
		email,
	).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.PasswordSalt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Credential{}, serviceerr.ErrNotFound
		}

		span.RecordError(err)
		return account.Credential{}, fmt.Errorf("selecting from users: %w", err)
	}

	return c, nil
}

func (r *Repository) GetLink(ctx context.Context, provider, providerUserID string) (l account.Link, _ error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oauth_account_sql")
	defer span.End()

	if err := r.db.QueryRow(ctx,
		`SELECT provider, provider_user_id, user_id::text, COALESCE(issuer, ''), COALESCE(tenant_id, '')
FROM user_oauth_accounts
WHERE provider = $1
	AND provider_user_id = $2;`,
		provider, providerUserID,
	).Scan(&l.Provider, &l.ProviderUserID, &l.UserID, &l.Issuer, &l.TenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Link{}, serviceerr.ErrNotFound
		}

		span.RecordError(err)
		return account.Link{}, fmt.Errorf("selecting from user_oauth_accounts: %w", err)
	}

	return l, nil
}

func (r *Repository) UpsertLink(ctx context.Context, link account.Link) (string, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "upsert_oauth_account_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// A concurrent insert of the same identity lands on the conflict branch,
	// which keeps the owner of the existing row.
	var userID string
	if err := tx.QueryRow(ctx,
		`INSERT INTO user_oauth_accounts (user_id, provider, provider_user_id, issuer, tenant_id)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
	ON CONFLICT (provider, provider_user_id)
	DO UPDATE SET issuer = EXCLUDED.issuer, tenant_id = EXCLUDED.tenant_id, updated_at = now()
	RETURNING user_id::text;`,
		link.UserID, link.Provider, link.ProviderUserID, link.Issuer, link.TenantID,
	).Scan(&userID); err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return "", err
		}

		return "", fmt.Errorf("upserting into user_oauth_accounts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("committing tx: %w", err)
	}

	return userID, nil
}

func (r *Repository) IsProviderAllowed(ctx context.Context, userID, provider string) (bool, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "is_provider_allowed_sql")
	defer span.End()

	var allowed bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
	SELECT 1 FROM user_allowed_providers
	WHERE user_id = $1
		AND provider = $2
);`,
		userID, provider,
	).Scan(&allowed); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("selecting from user_allowed_providers: %w", err)
	}

	return allowed, nil
}

func (r *Repository) ProvisionUser(ctx context.Context, p account.Provisioning) (string, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "provision_user_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	if err := tx.QueryRow(ctx,
		`INSERT INTO users (email, display_name, password_hash, password_salt)
	VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
	ON CONFLICT (lower(email))
	DO UPDATE SET
		display_name = COALESCE(EXCLUDED.display_name, users.display_name),
		password_hash = COALESCE(EXCLUDED.password_hash, users.password_hash),
		password_salt = COALESCE(EXCLUDED.password_salt, users.password_salt)
	RETURNING id::text;`,
		p.Email, p.DisplayName, p.PasswordHash, p.PasswordSalt,
	).Scan(&userID); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("upserting into users: %w", err)
	}

	for _, provider := range p.AllowedProviders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_allowed_providers (user_id, provider)
	VALUES ($1, $2)
	ON CONFLICT DO NOTHING;`,
			userID, provider,
		); err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("inserting into user_allowed_providers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("committing tx: %w", err)
	}

	return userID, nil
}
