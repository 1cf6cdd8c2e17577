package sessionmock

import (
	"context"
	"sync"
	"time"

	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory session.Repository that records the calls
// made to it.
type Repository struct {
	mu       sync.Mutex
	sessions map[string]session.Session

	Created []session.Session
	Updated []session.Session
	Deleted []string

	createErr, getErr, updateErr, deleteErr, deleteExpiredErr error
}

var _ session.Repository = (*Repository)(nil)

func WithSession(s session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[s.ID] = s }
}
func WithCreateError(err error) RepositoryOption {
	return func(r *Repository) { r.createErr = err }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithUpdateError(err error) RepositoryOption {
	return func(r *Repository) { r.updateErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}
func WithDeleteExpiredError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteExpiredErr = err }
}

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		sessions: make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Stored returns the raw record with id regardless of its expiry.
func (r *Repository) Stored(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Repository) CreateSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.sessions[s.ID]; ok {
		return serviceerr.ErrConflict
	}
	r.sessions[s.ID] = s
	r.Created = append(r.Created, s)
	return nil
}

func (r *Repository) GetSession(_ context.Context, id string, now time.Time) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return session.Session{}, r.getErr
	}
	s, ok := r.sessions[id]
	if !ok || !s.IsValid(now) {
		return session.Session{}, serviceerr.ErrNotFound
	}
	return s, nil
}

func (r *Repository) UpdateSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.sessions[s.ID]; !ok {
		return serviceerr.ErrNotFound
	}
	r.sessions[s.ID] = s
	r.Updated = append(r.Updated, s)
	return nil
}

func (r *Repository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.sessions[id]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.sessions, id)
	r.Deleted = append(r.Deleted, id)
	return nil
}

func (r *Repository) DeleteUserSessions(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			r.Deleted = append(r.Deleted, id)
		}
	}
	return nil
}

func (r *Repository) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteExpiredErr != nil {
		return 0, r.deleteExpiredErr
	}
	var n int64
	for id, s := range r.sessions {
		if !s.IsValid(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
