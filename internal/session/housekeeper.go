package session

import (
	"context"

	slogctx "github.com/veqryn/slog-context"
)

// TriggerHousekeeping removes expired sessions. Reads already filter by
// expiry, so a sweep running concurrently with them is harmless.
func (m *Manager) TriggerHousekeeping(ctx context.Context) error {
	n, err := m.DeleteExpired(ctx)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Removed expired sessions", "count", n)

	return nil
}
