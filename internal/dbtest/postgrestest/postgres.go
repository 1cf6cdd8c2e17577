package postgrestest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/password"
	migrations "github.com/openkcm/session-auth/sql"
)

const (
	DBHost     = "localhost"
	DBUser     = "postgres"
	DBPassword = "secret"
	DBName     = "session_auth"
	DBSSLMode  = "disable"
)

// Seeded accounts.
const (
	// AliceID has a password and may sign in with "github".
	AliceID       = "11111111-1111-1111-1111-111111111111"
	AliceEmail    = "alice@example.com"
	AlicePassword = "correct horse battery staple"

	// BobID has no password, may sign in with "google" and is linked to
	// the google account BobGoogleID.
	BobID       = "22222222-2222-2222-2222-222222222222"
	BobEmail    = "bob@example.com"
	BobGoogleID = "bob-google-sub"

	// CarolID exists without any allowed provider.
	CarolID    = "33333333-3333-3333-3333-333333333333"
	CarolEmail = "carol@example.com"
)

// Seeded sessions.
const (
	SessionID        = "sessionid-one"
	ExpiredSessionID = "sessionid-expired"
)

// ExpiryTime is the time used as "expires_at" for the inserted sessions
var ExpiryTime = time.Now().Add(30 * 24 * time.Hour).Truncate(time.Microsecond).UTC()

// Start initialises a database instance and returns a connection pool, database port, and termination function.
//
// Database credentials are available as exported variables.
// The database contains pre-defined test data. See the INSERT statements in seed.
func Start(ctx context.Context) (*pgxpool.Pool, nat.Port, func(ctx context.Context)) {
	pgContainer, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(DBName),
		postgres.WithUsername(DBUser),
		postgres.WithPassword(DBPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		slogctx.Error(ctx, "Failed to start PostgreSQL", slog.String("error", err.Error()))
		panic(err)
	}

	port, err := pgContainer.MappedPort(ctx, nat.Port("5432"))
	if err != nil {
		slogctx.Error(ctx, "Failed to get mapped port for the PostgreSQL container", slog.String("error", err.Error()))
		panic(err)
	}

	connStr := ConnStr(port)
	migrateDB(ctx, connStr)

	dbPool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		panic(err)
	}

	seed(ctx, dbPool)

	terminate := func(ctx context.Context) {
		dbPool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate PostgreSQL container", slog.String("error", err.Error()))
			panic(err)
		}
	}

	return dbPool, port, terminate
}

func ConnStr(port nat.Port) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s", DBHost, DBUser, DBPassword, DBName, port.Port(), DBSSLMode)
}

func migrateDB(ctx context.Context, connStr string) {
	db, err := sql.Open(migrations.Dialect, connStr)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := migrations.Up(ctx, db, 0); err != nil {
		panic(err)
	}
}

func seed(ctx context.Context, dbPool *pgxpool.Pool) {
	salt, err := password.GenerateSalt()
	if err != nil {
		panic(err)
	}

	hash, err := password.Hash(AlicePassword, salt)
	if err != nil {
		panic(err)
	}

	b := new(pgx.Batch)
	b.Queue(`INSERT INTO users (id, email, display_name, password_hash, password_salt) VALUES ($1, $2, 'Alice', $3, $4);`, AliceID, AliceEmail, hash, salt)
	b.Queue(`INSERT INTO users (id, email, display_name) VALUES ($1, $2, 'Bob');`, BobID, BobEmail)
	b.Queue(`INSERT INTO users (id, email) VALUES ($1, $2);`, CarolID, CarolEmail)
	b.Queue(`INSERT INTO user_allowed_providers (user_id, provider) VALUES ($1, 'github');`, AliceID)
	b.Queue(`INSERT INTO user_allowed_providers (user_id, provider) VALUES ($1, 'google');`, BobID)
	b.Queue(`INSERT INTO user_oauth_accounts (user_id, provider, provider_user_id, issuer) VALUES ($1, 'google', $2, 'https://accounts.google.com');`, BobID, BobGoogleID)
	b.Queue(`INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at, user_agent, ip_address) VALUES ($1, $2, now(), now(), $3, 'test-agent', '192.0.2.1');`, SessionID, AliceID, ExpiryTime)
	b.Queue(`INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at) VALUES ($1, $2, now() - interval '2 days', now() - interval '2 days', now() - interval '1 day');`, ExpiredSessionID, AliceID)

	res := dbPool.SendBatch(ctx, b)
	if err := res.Close(); err != nil {
		panic(err)
	}
}
