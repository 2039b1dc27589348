package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ordercore-io/ordercore/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when no database URL is configured.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds the PostgreSQL pool settings. databaseURL stays unexported
// so raw credentials cannot leak through struct dumps; logs go through
// MaskDatabaseURL instead.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig reads the pool settings from the environment, falling back to
// defaults sized for a single service instance.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("ORDERCORE_DB_CONNECTION_POOL_SIZE", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("ORDERCORE_DB_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("ORDERCORE_DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("ORDERCORE_DB_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// NewConfig builds a Config for the given database URL with default pool
// settings. Tests and tools that do not read the environment use this.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Validate checks the URL and the pool bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MaxOpenConns < 1 {
		return fmt.Errorf("connection pool size must be at least 1, got %d", c.MaxOpenConns)
	}

	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max idle connections cannot be negative, got %d", c.MaxIdleConns)
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle connections %d exceeds pool size %d",
			c.MaxIdleConns, c.MaxOpenConns)
	}

	if c.ConnMaxLifetime <= 0 {
		return fmt.Errorf("connection max lifetime must be positive, got %v", c.ConnMaxLifetime)
	}

	if c.ConnMaxIdleTime <= 0 {
		return fmt.Errorf("connection max idle time must be positive, got %v", c.ConnMaxIdleTime)
	}

	return nil
}

// MaskDatabaseURL returns the connection URL with the password replaced by
// asterisks, safe for startup logs.
func (c *Config) MaskDatabaseURL() string {
	scheme, rest, ok := strings.Cut(c.databaseURL, "://")
	if !ok {
		return c.databaseURL
	}

	// The last @ separates userinfo from host, so passwords containing @
	// mask fully.
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return c.databaseURL
	}

	user, password, ok := strings.Cut(rest[:at], ":")
	if !ok || password == "" {
		return c.databaseURL
	}

	return scheme + "://" + user + ":***" + rest[at:]
}
