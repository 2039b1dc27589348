package outbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/storage"
)

// Group runs the full publisher fleet: one publisher per (family, slot)
// pair, sharing one writer per topic. The two event families drain
// independently so a stalled execution topic never blocks order events.
type Group struct {
	publishers []*Publisher
	writers    []*kafka.Writer
	logger     *slog.Logger
	stopOnce   sync.Once
}

// NewGroup builds publishers for both event families from the configuration.
// A nil config loads from the environment; a nil logger gets the standard
// JSON logger.
func NewGroup(conn *storage.Connection, cfg *Config, logger *slog.Logger) (*Group, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("outbox config: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		}))
	}

	group := &Group{logger: logger}
	families := []Family{OrderEvents(cfg.OrderTopic), ExecutionEvents(cfg.ExecutionTopic)}

	for _, family := range families {
		writer := NewWriter(cfg.Brokers, family.Topic, cfg.AutoCreateTopics)
		group.writers = append(group.writers, writer)

		for slot := 0; slot < cfg.Publishers; slot++ {
			publisher, err := NewPublisher(conn, writer, family, slot, cfg, logger)
			if err != nil {
				_ = group.closeWriters()

				return nil, err
			}

			group.publishers = append(group.publishers, publisher)
		}
	}

	return group, nil
}

// Start launches every publisher in the fleet.
func (g *Group) Start() {
	for _, publisher := range g.publishers {
		publisher.Start()
	}

	g.logger.Info("Outbox publisher fleet started",
		slog.Int("publishers", len(g.publishers)),
	)
}

// Stop stops every publisher, then closes the shared writers. Safe to call
// multiple times.
func (g *Group) Stop() error {
	var err error

	g.stopOnce.Do(func() {
		for _, publisher := range g.publishers {
			publisher.Stop()
		}

		err = g.closeWriters()

		g.logger.Info("Outbox publisher fleet stopped")
	})

	return err
}

func (g *Group) closeWriters() error {
	var errs []error

	for _, writer := range g.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
