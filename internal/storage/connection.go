// Package storage provides the PostgreSQL write store for orders,
// executions, their event logs and the transactional outbox.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ordercore-io/ordercore/internal/config"
)

// ErrNoDatabaseConnection is returned when a store is constructed without
// a database connection.
var ErrNoDatabaseConnection = errors.New("no database connection")

const (
	// connectTimeout bounds the initial ping when the pool is opened.
	connectTimeout = 10 * time.Second

	// healthCheckTimeout bounds readiness pings so probes cannot hang.
	healthCheckTimeout = 5 * time.Second
)

// Connection wraps *sql.DB with pool configuration and health checking.
// It is safe for concurrent use and shared across stores.
type Connection struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewConnection opens a PostgreSQL connection pool and verifies it with a
// bounded ping before returning.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Database connection established",
		slog.String("database_url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return &Connection{DB: db, logger: logger}, nil
}

// BeginTx starts a transaction. A nil opts defaults to READ COMMITTED, the
// isolation level every write-path transaction runs at.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if opts == nil {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	tx, err := c.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, classifyError(err)
	}

	return tx, nil
}

// QueryRowContext executes a single-row query outside any transaction.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// QueryContext executes a multi-row query outside any transaction.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}

	return rows, nil
}

// ExecContext executes a statement outside any transaction.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := c.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}

	return result, nil
}

// HealthCheck verifies the pool can reach the database.
//
// Used by readiness probes and monitoring; returns nil if healthy, error
// with details if the database is unavailable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return nil
}

// Close closes the underlying pool.
func (c *Connection) Close() error {
	return c.DB.Close()
}
