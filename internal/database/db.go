// Package database provides connection management, SQL dialects, error
// classification and the transaction-scoped Session used by ETL processes.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver for local runs and tests

	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Default pool settings
const (
	defaultMaxOpenConns    = 5
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config holds connection settings.
type Config struct {
	// Driver is "postgres" or "sqlite3"
	Driver string

	// URL is the driver-specific data source name
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the initial ping
	ConnectTimeout time.Duration
}

// sqlOpen is replaced in tests.
var sqlOpen = sql.Open

// DB is an open connection pool bound to a SQL dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens and pings a database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required for driver %s", cfg.Driver)
	}

	db, err := sqlOpen(dialect.sqlDriver(), cfg.URL)
	if err != nil {
		return nil, ClassifyDatabaseError(err, dialect.Name(), "open", "", 0)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	// In-memory SQLite databases live and die with their connection
	if dialect.Name() == DriverSQLite {
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, ClassifyDatabaseError(err, dialect.Name(), "ping", "", 0)
	}

	logger.Debug("database connection opened",
		slog.String("driver", dialect.Name()),
		slog.Int("max_open_conns", maxOpen),
	)

	return &DB{db: db, dialect: dialect}, nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB, driver string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, dialect: dialect}, nil
}

// Driver returns the dialect name.
func (d *DB) Driver() string {
	return d.dialect.Name()
}

// Dialect returns the SQL dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Begin starts a transaction and returns a Session bound to it.
func (d *DB) Begin(ctx context.Context) (*Session, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewTransactionError("begin failed", err, IsRetryableError(err))
	}
	return &Session{q: tx, tx: tx, dialect: d.dialect}, nil
}

// Session returns a Session that runs every statement in autocommit mode.
// Commit and Rollback are no-ops on it.
func (d *DB) Session() *Session {
	return &Session{q: d.db, dialect: d.dialect}
}
