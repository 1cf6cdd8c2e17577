// Package sessionvalkey keeps sessions in valkey. Session keys expire with
// the session; a per-user set indexes the sessions of a user and is pruned
// by DeleteExpiredSessions.
package sessionvalkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
)

type objectType string

const (
	objectTypeSession      objectType = "session"
	objectTypeUserSessions objectType = "userSessions"
)

var (
	ErrGetSession    = errors.New("getting session from store")
	ErrStoreSession  = errors.New("setting session into storage")
	ErrDeleteSession = errors.New("deleting session from store")
)

type Repository struct {
	store *store
	now   func() time.Time
}

var _ session.Repository = (*Repository)(nil)

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
		now:   time.Now,
	}
}

func (r *Repository) CreateSession(ctx context.Context, s session.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.store.set(ctx, r.store.key(objectTypeSession, s.ID), s, ttl, writeIfAbsent); err != nil {
		return errors.Join(ErrStoreSession, err)
	}

	if err := r.store.addMembers(ctx, r.store.key(objectTypeUserSessions, s.UserID), s.ID); err != nil {
		if _, delErr := r.store.del(ctx, r.store.key(objectTypeSession, s.ID)); delErr != nil {
			slogctx.Error(ctx, "couldn't delete session during rollback", "error", delErr)
		}

		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string, now time.Time) (session.Session, error) {
	var s session.Session
	if err := r.store.get(ctx, r.store.key(objectTypeSession, id), &s); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return session.Session{}, err
		}

		return session.Session{}, errors.Join(ErrGetSession, err)
	}

	if !s.IsValid(now) {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return s, nil
}

func (r *Repository) UpdateSession(ctx context.Context, s session.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return serviceerr.ErrNotFound
	}

	if err := r.store.set(ctx, r.store.key(objectTypeSession, s.ID), s, ttl, writeIfPresent); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return err
		}

		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	key := r.store.key(objectTypeSession, id)

	var s session.Session
	if err := r.store.get(ctx, key, &s); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return err
		}

		return errors.Join(ErrDeleteSession, err)
	}

	if _, err := r.store.del(ctx, key); err != nil {
		return errors.Join(ErrDeleteSession, err)
	}

	if _, err := r.store.removeMembers(ctx, r.store.key(objectTypeUserSessions, s.UserID), id); err != nil {
		slogctx.Warn(ctx, "couldn't remove session from user index", "error", err)
	}

	return nil
}

func (r *Repository) DeleteUserSessions(ctx context.Context, userID string) error {
	indexKey := r.store.key(objectTypeUserSessions, userID)

	ids, err := r.store.members(ctx, indexKey)
	if err != nil {
		return errors.Join(ErrDeleteSession, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.store.key(objectTypeSession, id))
	}
	keys = append(keys, indexKey)

	if _, err := r.store.del(ctx, keys...); err != nil {
		return errors.Join(ErrDeleteSession, err)
	}

	return nil
}

// DeleteExpiredSessions prunes user index entries whose session key has
// already expired and reports how many were pruned. Session keys themselves
// are removed by valkey when their TTL runs out.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, _ time.Time) (int64, error) {
	var removed int64

	pattern := r.store.key(objectTypeUserSessions, "*")
	err := r.store.scan(ctx, pattern, func(indexKey string) error {
		ids, err := r.store.members(ctx, indexKey)
		if err != nil {
			return err
		}

		stale := make([]string, 0, len(ids))
		for _, id := range ids {
			ok, err := r.store.exists(ctx, r.store.key(objectTypeSession, id))
			if err != nil {
				return err
			}
			if !ok {
				stale = append(stale, id)
			}
		}

		n, err := r.store.removeMembers(ctx, indexKey, stale...)
		if err != nil {
			return err
		}
		removed += n

		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("pruning user session index: %w", err)
	}

	return removed, nil
}

