package business

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/session-auth/internal/config"
	migrations "github.com/openkcm/session-auth/sql"
)

// MigrateMain applies the schema migrations to the configured database.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	dbAttrs := otelsql.WithAttributes(semconv.DBSystemNamePostgreSQL)

	db, err := otelsql.Open(migrations.Dialect, connStr, dbAttrs)
	if err != nil {
		return oops.In("migrate").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, dbAttrs)
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}
	defer func() {
		if err := reg.Unregister(); err != nil {
			slogctx.Error(ctx, "Failed to unregister db stats metrics", "error", err)
		}
	}()

	slogctx.Info(ctx, "Applying database migrations", "target_version", cfg.Migrate.TargetVersion)

	if err := migrations.Up(ctx, db, cfg.Migrate.TargetVersion); err != nil {
		return oops.In("migrate").Wrapf(err, "migrating %s", cfg.Database.Name)
	}

	slogctx.Info(ctx, "Applied database migrations")

	return nil
}
