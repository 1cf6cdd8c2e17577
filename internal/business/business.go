package business

import (
	"context"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/account"
	accountsql "github.com/openkcm/session-auth/internal/account/sql"
	"github.com/openkcm/session-auth/internal/auth"
	"github.com/openkcm/session-auth/internal/business/server"
	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/oauth"
	"github.com/openkcm/session-auth/internal/oidc"
	"github.com/openkcm/session-auth/internal/pkce"
	"github.com/openkcm/session-auth/internal/session"
	sessionsql "github.com/openkcm/session-auth/internal/session/sql"
	sessionvalkey "github.com/openkcm/session-auth/internal/session/valkey"
)

// Main starts the public HTTP server.
func Main(ctx context.Context, cfg *config.Config) error {
	deps, err := initDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising dependencies: %w", err)
	}
	defer deps.close()

	clients, err := initProviders(cfg, deps.secrets, deps.httpClient)
	if err != nil {
		return fmt.Errorf("initialising identity providers: %w", err)
	}

	auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
	if err != nil {
		return fmt.Errorf("creating audit logger: %w", err)
	}

	svc := auth.NewService(deps.accounts, deps.sessions, clients, auth.WithAuditLogger(auditLogger))

	return server.StartHTTPServer(ctx, cfg, svc)
}

// dependencies are the components shared by the commands.
type dependencies struct {
	accounts   account.Repository
	sessions   *session.Manager
	secrets    *pkce.Secrets
	httpClient *http.Client
	closeFns   []func()
}

func (d *dependencies) close() {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		d.closeFns[i]()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config) (_ *dependencies, err error) {
	deps := &dependencies{
		httpClient: &http.Client{Timeout: cfg.SessionManager.HTTPTimeout},
		secrets: pkce.New(
			pkce.WithTTL(cfg.SessionManager.OAuthStateDuration),
			pkce.WithPath(cfg.SessionManager.OAuthCookiePath),
			pkce.WithSecure(cfg.SessionManager.SecureCookies),
		),
	}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	db, err := newPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	deps.closeFns = append(deps.closeFns, db.Close)
	deps.accounts = accountsql.NewRepository(db)

	var sessionRepo session.Repository
	switch cfg.SessionManager.Backend {
	case config.SessionBackendValkey:
		valkeyClient, err := newValkeyClient(cfg.ValKey)
		if err != nil {
			return nil, err
		}
		deps.closeFns = append(deps.closeFns, valkeyClient.Close)
		sessionRepo = sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix)
	case config.SessionBackendPostgres, "":
		sessionRepo = sessionsql.NewRepository(db)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionManager.Backend)
	}

	slogctx.Info(ctx, "Using session backend", "backend", cfg.SessionManager.Backend)

	deps.sessions = session.NewManager(&cfg.SessionManager, sessionRepo, deps.secrets)

	return deps, nil
}

func newPool(ctx context.Context, conf config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(conf)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}

func newValkeyClient(conf config.ValKey) (valkey.Client, error) {
	opts, err := config.MakeValkeyOptions(conf)
	if err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return client, nil
}

func initProviders(cfg *config.Config, secrets *pkce.Secrets, httpClient *http.Client) ([]*oauth.Client, error) {
	providers, err := cfg.AllProviders()
	if err != nil {
		return nil, err
	}

	resolver := oidc.NewResolver(httpClient, cfg.SessionManager.KeySetTTL)

	clients := make([]*oauth.Client, 0, len(providers))
	for _, p := range providers {
		c, err := oauth.NewClient(p, secrets, resolver, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating client for provider %q: %w", p.Name, err)
		}
		clients = append(clients, c)
	}

	return clients, nil
}
