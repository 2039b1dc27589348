package outbox

import (
	"fmt"
	"time"

	"github.com/ordercore-io/ordercore/internal/config"
)

// Defaults for the outbox publisher fleet.
const (
	DefaultPublishers         = 2
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultBatchSize          = 100
	DefaultBackoffInitial     = 1 * time.Second
	DefaultBackoffMax         = 30 * time.Second
	DefaultPublishTimeout     = 10 * time.Second
	DefaultQuarantineAttempts = 10
	DefaultOrderTopic         = "order-events"
	DefaultExecutionTopic     = "execution-events"
	DefaultBrokers            = "localhost:9092"
	DefaultAutoCreateTopics   = true
)

// Config sizes the publisher fleet and its delivery behavior.
type Config struct {
	// Publishers is the number of workers per event family. Each worker
	// owns one hash slot of order ids, so raising the count spreads load
	// without ever splitting a single order across workers.
	Publishers int

	// PollInterval is the idle rhythm: how often a worker with an empty
	// slot looks for new rows.
	PollInterval time.Duration

	// BatchSize caps the rows claimed per transaction.
	BatchSize int

	// BackoffInitial and BackoffMax bound the exponential retry delay
	// after a failed publish. Retries never stop; rows wait in the outbox
	// until the broker takes them.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// PublishTimeout bounds a single WriteMessages call.
	PublishTimeout time.Duration

	// QuarantineAttempts is how many non-transient rejections a row may
	// accumulate before it is parked in the quarantine table.
	QuarantineAttempts int

	// OrderTopic and ExecutionTopic name the destination topics for the
	// two event families.
	OrderTopic     string
	ExecutionTopic string

	// Brokers lists the Kafka bootstrap addresses.
	Brokers []string

	// AutoCreateTopics asks the brokers to create missing topics on first
	// write. Clusters that manage topics explicitly turn this off.
	AutoCreateTopics bool
}

// LoadConfig reads the publisher configuration from the environment, falling
// back to defaults for anything unset.
func LoadConfig() *Config {
	return &Config{
		Publishers:         config.GetEnvInt("ORDERCORE_OUTBOX_PUBLISHER_COUNT", DefaultPublishers),
		PollInterval:       config.GetEnvDuration("ORDERCORE_OUTBOX_POLL_INTERVAL", DefaultPollInterval),
		BatchSize:          config.GetEnvInt("ORDERCORE_OUTBOX_BATCH_SIZE", DefaultBatchSize),
		BackoffInitial:     config.GetEnvDuration("ORDERCORE_OUTBOX_BACKOFF_INITIAL", DefaultBackoffInitial),
		BackoffMax:         config.GetEnvDuration("ORDERCORE_OUTBOX_BACKOFF_MAX", DefaultBackoffMax),
		PublishTimeout:     config.GetEnvDuration("ORDERCORE_OUTBOX_PUBLISH_TIMEOUT", DefaultPublishTimeout),
		QuarantineAttempts: config.GetEnvInt("ORDERCORE_OUTBOX_QUARANTINE_ATTEMPTS", DefaultQuarantineAttempts),
		OrderTopic:         config.GetEnvStr("ORDERCORE_TOPIC_ORDER_EVENTS", DefaultOrderTopic),
		ExecutionTopic:     config.GetEnvStr("ORDERCORE_TOPIC_EXECUTION_EVENTS", DefaultExecutionTopic),
		Brokers:            config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", DefaultBrokers)),
		AutoCreateTopics:   config.GetEnvBool("ORDERCORE_OUTBOX_AUTO_CREATE_TOPICS", DefaultAutoCreateTopics),
	}
}

// Validate rejects configurations the publisher cannot run with.
func (c *Config) Validate() error {
	if c.Publishers < 1 {
		return fmt.Errorf("publisher count must be at least 1, got %d", c.Publishers)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}

	if c.BackoffInitial <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", c.BackoffInitial)
	}

	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("max backoff %s must not undercut initial backoff %s", c.BackoffMax, c.BackoffInitial)
	}

	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive, got %s", c.PublishTimeout)
	}

	if c.QuarantineAttempts < 1 {
		return fmt.Errorf("quarantine attempts must be at least 1, got %d", c.QuarantineAttempts)
	}

	if c.OrderTopic == "" {
		return fmt.Errorf("order events topic must not be empty")
	}

	if c.ExecutionTopic == "" {
		return fmt.Errorf("execution events topic must not be empty")
	}

	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}

	return nil
}
