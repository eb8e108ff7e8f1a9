/*
Package db opens the relational store that backs sessions and accounts.

A DSN starting with postgres:// or postgresql:// is served by a pgx connection pool;
anything else is treated as a SQLite database file. Both dialects share one set of
embedded goose migrations, and callers write queries with '?' placeholders that
sqlx rebinds for the active driver.
*/
package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	// DialectPostgres names the pgx-backed store.
	DialectPostgres = "postgres"

	// DialectSQLite names the file-backed store.
	DialectSQLite = "sqlite"

	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
)

// DB is an sqlx handle that also remembers its dialect and owns the underlying pool.
type DB struct {
	*sqlx.DB

	// Dialect is DialectPostgres or DialectSQLite.
	Dialect string

	pool *pgxpool.Pool
}

// Close closes the sql.DB and, for Postgres, the pgx pool behind it.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// Open connects to the store named by dsn and applies all pending migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	var (
		d   *DB
		err error
	)

	if isPostgres(dsn) {
		d, err = openPostgres(ctx, dsn)
	} else {
		d, err = openSQLite(ctx, dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, d); err != nil {
		_ = d.Close()
		return nil, err
	}

	return d, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// openPostgres initializes a PostgreSQL connection pool and exposes it through database/sql.
func openPostgres(ctx context.Context, dsn string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	return &DB{
		DB:      sqlx.NewDb(sqlDB, "pgx"),
		Dialect: DialectPostgres,
		pool:    pool,
	}, nil
}

// openSQLite opens (or creates) a SQLite database file with WAL, foreign keys and a busy timeout.
func openSQLite(ctx context.Context, dsn string) (*DB, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}

	sqlxDB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := sqlxDB.PingContext(ctx); err != nil {
		_ = sqlxDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &DB{DB: sqlxDB, Dialect: DialectSQLite}, nil
}

// Migrate applies all pending migrations from the embedded file system.
func Migrate(ctx context.Context, d *DB) error {
	dialect := goose.DialectSQLite3
	if d.Dialect == DialectPostgres {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, d.DB.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
