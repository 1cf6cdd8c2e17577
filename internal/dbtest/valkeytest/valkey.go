// Package valkeytest runs a throwaway Valkey container for repository tests.
package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/config"
)

const image = "valkey/valkey:8-alpine"

// Start runs the container and returns a client built from the returned
// configuration. It panics when the container cannot be started.
func Start(ctx context.Context) (valkey.Client, config.ValKey, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start the Valkey container", "error", err)
		panic(err)
	}

	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	if err != nil {
		slogctx.Error(ctx, "Failed to map the Valkey port", "error", err)
		panic(err)
	}

	cfg := config.ValKey{
		Host:     commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", port.Port())},
		User:     commoncfg.SourceRef{Source: "embedded"},
		Password: commoncfg.SourceRef{Source: "embedded"},
		Prefix:   "session-auth-test",
	}

	opts, err := config.MakeValkeyOptions(cfg)
	if err != nil {
		panic(err)
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		slogctx.Error(ctx, "Failed to create the Valkey client", "error", err)
		panic(err)
	}

	terminate := func(ctx context.Context) {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate the Valkey container", "error", err)
		}
	}

	return client, cfg, terminate
}
