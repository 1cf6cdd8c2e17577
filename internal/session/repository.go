package session

import (
	"context"
	"time"
)

// Repository persists sessions. Lookups of missing or expired sessions
// return serviceerr.ErrNotFound.
type Repository interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string, now time.Time) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	// DeleteExpiredSessions removes sessions expired at now and reports how
	// many records were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
