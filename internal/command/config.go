package command

import (
	"fmt"
	"time"

	"github.com/ordercore-io/ordercore/internal/config"
)

// Defaults for the command processing pool.
const (
	DefaultWorkers          = 4
	DefaultDeadline         = 5 * time.Second
	DefaultConflictRetryMax = 3
)

// Config sizes the dispatcher and the per-command bounds.
type Config struct {
	// Workers is the dispatcher pool size.
	Workers int

	// DeadlineDefault bounds commands that carry no deadline of their own.
	DeadlineDefault time.Duration

	// ConflictRetryMax bounds optimistic-concurrency retries per command.
	ConflictRetryMax int

	// RateLimit caps intake in commands per second; zero disables limiting.
	RateLimit int

	// RateBurst is the limiter bucket size; defaults to RateLimit when zero.
	RateBurst int
}

// LoadConfig reads the command configuration from the environment, falling
// back to defaults for anything unset.
func LoadConfig() *Config {
	return &Config{
		Workers:          config.GetEnvInt("ORDERCORE_WORKER_COUNT", DefaultWorkers),
		DeadlineDefault:  config.GetEnvDuration("ORDERCORE_DEADLINE_DEFAULT", DefaultDeadline),
		ConflictRetryMax: config.GetEnvInt("ORDERCORE_CONFLICT_RETRY_MAX", DefaultConflictRetryMax),
		RateLimit:        config.GetEnvInt("ORDERCORE_COMMAND_RATE_LIMIT", 0),
		RateBurst:        config.GetEnvInt("ORDERCORE_COMMAND_RATE_BURST", 0),
	}
}

// Validate rejects configurations the dispatcher cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Workers)
	}

	if c.DeadlineDefault <= 0 {
		return fmt.Errorf("default deadline must be positive, got %s", c.DeadlineDefault)
	}

	if c.ConflictRetryMax < 0 {
		return fmt.Errorf("conflict retry max must not be negative, got %d", c.ConflictRetryMax)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit)
	}

	if c.RateBurst < 0 {
		return fmt.Errorf("rate burst must not be negative, got %d", c.RateBurst)
	}

	return nil
}
