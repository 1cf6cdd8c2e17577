package sessionsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ session.Repository = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) CreateSession(ctx context.Context, s session.Session) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "create_session_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Empty user agent and address are stored as NULL.
	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at, user_agent, ip_address)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''));`,
		s.ID, s.UserID, s.CreatedAt, s.LastSeenAt, s.ExpiresAt, s.UserAgent, s.IPAddress,
	); err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string, now time.Time) (s session.Session, _ error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_session_sql")
	defer span.End()

	if err := r.db.QueryRow(ctx,
		`SELECT id, user_id::text, created_at, last_seen_at, expires_at, COALESCE(user_agent, ''), COALESCE(ip_address, '')
FROM sessions
WHERE id = $1
	AND expires_at > $2;`,
		id, now,
	).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt, &s.UserAgent, &s.IPAddress); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		span.RecordError(err)
		return session.Session{}, fmt.Errorf("selecting from sessions: %w", err)
	}

	return s, nil
}

func (r *Repository) UpdateSession(ctx context.Context, s session.Session) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "update_session_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE sessions
	SET last_seen_at = $1, expires_at = $2, user_agent = NULLIF($3, ''), ip_address = NULLIF($4, '')
	WHERE id = $5;`,
		s.LastSeenAt, s.ExpiresAt, s.UserAgent, s.IPAddress, s.ID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating sessions: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_session_sql")
	defer span.End()

	ct, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting from sessions: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func (r *Repository) DeleteUserSessions(ctx context.Context, userID string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_user_sessions_sql")
	defer span.End()

	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1;`, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting from sessions: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_expired_sessions_sql")
	defer span.End()

	ct, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1;`, now)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}
