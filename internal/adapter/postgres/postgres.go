package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/pscheid92/livealert/internal/platform/retry"
)

//go:embed schemas/*.sql
var schemaFiles embed.FS

const (
	applicationName = "livealert"
	versionTable    = "public.schema_version"

	// schemaLockID is the advisory lock key serializing migrations ("livale" in ASCII hex).
	schemaLockID      = 0x6c6976616c65
	unlockTimeout     = 5 * time.Second
	connectAttempts   = 5
	connectBackoff    = 500 * time.Millisecond
	connectMaxBackoff = 4 * time.Second
)

// Connect opens a pool and waits for the database to answer a ping. Workers often start
// alongside the database, so refused connections are retried with backoff. A non-nil
// tracer is installed on every connection.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	if tracer != nil {
		poolCfg.ConnConfig.Tracer = tracer
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:    connectAttempts,
		InitialBackoff: connectBackoff,
		MaxBackoff:     connectMaxBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable yet", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if err := retry.DoVoid(ctx, policy, classifyConnect, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"tls", poolCfg.ConnConfig.TLSConfig != nil,
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

// classifyConnect retries network failures. A server-side error such as a bad password
// or an unknown database will not fix itself.
func classifyConnect(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	if _, ok := errors.AsType[*pgconn.PgError](err); ok {
		return retry.Stop
	}
	return retry.Retry
}

// RunMigrationsWithLock applies the embedded schema. Workers booting together take turns
// on a session advisory lock, so only the first one migrates.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), schemaLockID, func() error {
		return migrateSchema(ctx, conn.Conn())
	})
}

func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, id int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", id); err != nil {
			slog.Error("Failed to release advisory lock", "lock_id", id, "error", err)
		}
	}()
	return fn()
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	schemas, err := fs.Sub(schemaFiles, "schemas")
	if err != nil {
		return fmt.Errorf("failed to open embedded schemas: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(schemas); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	migrator.OnStart = func(sequence int32, name, direction, _ string) {
		slog.Info("Applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	before, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	after, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Info("Database schema ready", "from_version", before, "to_version", after)
	return nil
}
