// Package migrations holds the goose migrations of the session-auth schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Dialect is the goose dialect and database/sql driver name.
const Dialect = "pgx"

//go:embed *.sql
var FS embed.FS

// Up applies the embedded migrations up to version, or all of them when
// version is zero.
func Up(ctx context.Context, db *sql.DB, version int64) error {
	goose.SetBaseFS(FS)

	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	var err error
	if version > 0 {
		err = goose.UpToContext(ctx, db, ".", version)
	} else {
		err = goose.UpContext(ctx, db, ".")
	}
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
