package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/auth"
	"github.com/openkcm/session-auth/internal/config"
)

// createHTTPServer creates the public http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, svc *auth.Service) *http.Server {
	h := newHandler(cfg, svc)

	mux := http.NewServeMux()
	mux.Handle("GET /oauth/{provider}/authorize", newTraceMiddleware(cfg, "authorize", h.authorize))
	mux.Handle("GET /oauth/{provider}", newTraceMiddleware(cfg, "callback", h.callback))
	mux.Handle("POST /api/auth/login", newTraceMiddleware(cfg, "login", h.login))
	mux.Handle("POST /api/auth/logout", newTraceMiddleware(cfg, "logout", h.logout))
	mux.Handle("GET /api/auth/session", newTraceMiddleware(cfg, "session", h.session))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: mux,
	}
}

// StartHTTPServer starts the public HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, svc *auth.Service) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, svc)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// The address may be given as network://address, e.g. unix:///tmp/auth.sock.
	network := "tcp"
	if idx := strings.Index(server.Addr, "://"); idx != -1 {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
