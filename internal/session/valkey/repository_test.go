package sessionvalkey_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-auth/internal/dbtest/valkeytest"
	"github.com/openkcm/session-auth/internal/serviceerr"
	"github.com/openkcm/session-auth/internal/session"
	sessionvalkey "github.com/openkcm/session-auth/internal/session/valkey"
)

var client valkey.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	var terminate func(context.Context)
	client, _, terminate = valkeytest.Start(ctx)

	code := m.Run()
	terminate(ctx)

	os.Exit(code)
}

func newSession(userID string, expiresIn time.Duration) session.Session {
	// JSON drops the monotonic clock reading and the location.
	now := time.Now().Round(0).UTC()
	return session.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(expiresIn),
		UserAgent:  "curl/8.0",
		IPAddress:  "198.51.100.7",
	}
}

func indexMembers(t *testing.T, prefix, userID string) []string {
	t.Helper()

	members, err := client.Do(t.Context(), client.B().Smembers().Key(fmt.Sprintf("%s:userSessions:%s", prefix, userID)).Build()).AsStrSlice()
	require.NoError(t, err)

	return members
}

func TestRepository_CreateAndGet(t *testing.T) {
	const prefix = "create-get"
	r := sessionvalkey.NewRepository(client, prefix)

	s := newSession("user-1", time.Hour)
	require.NoError(t, r.CreateSession(t.Context(), s))

	got, err := r.GetSession(t.Context(), s.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, []string{s.ID}, indexMembers(t, prefix, s.UserID))

	t.Run("Duplicate id", func(t *testing.T) {
		err := r.CreateSession(t.Context(), s)
		assert.ErrorIs(t, err, serviceerr.ErrConflict)
	})

	t.Run("Key carries the session ttl", func(t *testing.T) {
		ttl, err := client.Do(t.Context(), client.B().Ttl().Key(prefix+":session:"+s.ID).Build()).AsInt64()
		require.NoError(t, err)
		assert.InDelta(t, time.Hour.Seconds(), float64(ttl), 5)
	})
}

func TestRepository_GetSession(t *testing.T) {
	const prefix = "get"
	r := sessionvalkey.NewRepository(client, prefix)

	s := newSession("user-1", time.Hour)
	require.NoError(t, r.CreateSession(t.Context(), s))

	tests := []struct {
		name      string
		id        string
		now       time.Time
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name:      "Success",
			id:        s.ID,
			now:       time.Now(),
			assertErr: assert.NoError,
		},
		{
			name: "Missing session",
			id:   "does-not-exist",
			now:  time.Now(),
			assertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrNotFound)
			},
		},
		{
			name: "Expired by the clock before the key ttl",
			id:   s.ID,
			now:  s.ExpiresAt,
			assertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrNotFound)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetSession(t.Context(), tt.id, tt.now)
			if !tt.assertErr(t, err, fmt.Sprintf("Repository.GetSession() error %v", err)) || err != nil {
				assert.Zero(t, got)
				return
			}

			assert.Equal(t, s.UserID, got.UserID)
		})
	}
}

func TestRepository_UpdateSession(t *testing.T) {
	r := sessionvalkey.NewRepository(client, "update")

	s := newSession("user-1", time.Hour)
	require.NoError(t, r.CreateSession(t.Context(), s))

	t.Run("Update succeeds", func(t *testing.T) {
		updated := s
		updated.LastSeenAt = s.LastSeenAt.Add(time.Minute)
		updated.ExpiresAt = s.ExpiresAt.Add(time.Hour)
		updated.UserAgent = "firefox"

		require.NoError(t, r.UpdateSession(t.Context(), updated))

		got, err := r.GetSession(t.Context(), s.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("Does not exist", func(t *testing.T) {
		err := r.UpdateSession(t.Context(), newSession("user-1", time.Hour))
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})
}

func TestRepository_DeleteSession(t *testing.T) {
	const prefix = "delete"
	r := sessionvalkey.NewRepository(client, prefix)

	s := newSession("user-1", time.Hour)
	require.NoError(t, r.CreateSession(t.Context(), s))

	require.NoError(t, r.DeleteSession(t.Context(), s.ID))

	_, err := r.GetSession(t.Context(), s.ID, time.Now())
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	assert.Empty(t, indexMembers(t, prefix, s.UserID))

	err = r.DeleteSession(t.Context(), s.ID)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestRepository_DeleteUserSessions(t *testing.T) {
	const prefix = "delete-user"
	r := sessionvalkey.NewRepository(client, prefix)

	first := newSession("user-1", time.Hour)
	second := newSession("user-1", time.Hour)
	other := newSession("user-2", time.Hour)
	for _, s := range []session.Session{first, second, other} {
		require.NoError(t, r.CreateSession(t.Context(), s))
	}

	require.NoError(t, r.DeleteUserSessions(t.Context(), "user-1"))

	for _, id := range []string{first.ID, second.ID} {
		_, err := r.GetSession(t.Context(), id, time.Now())
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	}
	assert.Empty(t, indexMembers(t, prefix, "user-1"))

	_, err := r.GetSession(t.Context(), other.ID, time.Now())
	assert.NoError(t, err)
}

func TestRepository_DeleteExpiredSessions(t *testing.T) {
	const prefix = "expired"
	r := sessionvalkey.NewRepository(client, prefix)

	live := newSession("user-1", time.Hour)
	require.NoError(t, r.CreateSession(t.Context(), live))

	// An index entry whose session key already expired.
	err := client.Do(t.Context(), client.B().Sadd().Key(prefix+":userSessions:user-1").Member("gone").Build()).Error()
	require.NoError(t, err)

	n, err := r.DeleteExpiredSessions(t.Context(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{live.ID}, indexMembers(t, prefix, "user-1"))

	n, err = r.DeleteExpiredSessions(t.Context(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
