// Package postgres provides the PostgreSQL connection pool, the migration
// runner and the flash map store backed by the flash_sessions table.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx" for goose
	"github.com/pressly/goose/v3"

	"github.com/Strob0t/webmvc/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool opens the pool backing the flash store and pings it once.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns, poolCfg.MinConns = cfg.MaxConns, cfg.MinConns
	poolCfg.MaxConnLifetime, poolCfg.MaxConnIdleTime = cfg.MaxConnLifetime, cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = "webmvc-flash"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping flash store: %w", err)
	}
	return pool, nil
}

// newMigrator opens a database/sql handle for dsn and returns a goose
// provider over the embedded flash_sessions schema. Closing the provider
// closes the handle.
func newMigrator(dsn string) (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db for migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	return p, nil
}

// RunMigrations applies all pending migrations of the flash store schema.
func RunMigrations(ctx context.Context, dsn string) error {
	p, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, res := range results {
		slog.InfoContext(ctx, "migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}

// RollbackMigrations rolls back up to steps migrations. It stops early once
// no migration is left to roll back.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	p, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	for range steps {
		res, err := p.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		slog.InfoContext(ctx, "migration rolled back", "version", res.Source.Version)
	}
	return nil
}

// MigrationVersion returns the version of the last applied migration, 0
// for an empty schema.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	p, err := newMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer func() { _ = p.Close() }()

	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}
