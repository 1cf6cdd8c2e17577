package cmdutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-auth/internal/config"
)

func passthrough(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	return fn(ctx, cfg)
}

func noop(context.Context, *config.Config) error { return nil }

func TestCobraCommand(t *testing.T) {
	t.Run("carries the command texts", func(t *testing.T) {
		cmd := CobraCommand("housekeeper", "short desc", "long description", "{}", passthrough, noop)

		assert.Equal(t, "housekeeper", cmd.Use)
		assert.Equal(t, "short desc", cmd.Short)
		assert.Equal(t, "long description", cmd.Long)
		assert.NotNil(t, cmd.RunE)
	})

	t.Run("fails before the wrapper when the config cannot be loaded", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		called := false
		wrapper := func(context.Context, func(context.Context, *config.Config) error, *config.Config) error {
			called = true
			return errors.New("wrapper error")
		}

		cmd := CobraCommand("migrate", "short", "long", "{}", wrapper, noop)
		cmd.SetArgs([]string{})

		err := cmd.ExecuteContext(t.Context())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading config")
		assert.False(t, called)
	})
}

func TestStatusListener(t *testing.T) {
	tests := []struct {
		name  string
		state health.State
	}{
		{
			name:  "without checks",
			state: health.State{Status: "up", CheckState: map[string]health.CheckState{}},
		},
		{
			name: "with failing checks",
			state: health.State{
				Status: "down",
				CheckState: map[string]health.CheckState{
					"database": {Status: "down", Result: errors.New("connection refused")},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				statusListener(t.Context(), tt.state)
			})
		})
	}
}

func TestStartStatusServer_InvalidDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	err := startStatusServer(ctx, &config.Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "making connection string from config")
}
