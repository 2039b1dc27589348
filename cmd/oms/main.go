// Package main provides the OrderCore order management service.
//
// The service assembles the full write path: the PostgreSQL write store, the
// command processors with their validation engines and state machines, the
// dispatcher worker pool, and the embedded outbox publishers that drain
// events to Kafka.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/ordercore-io/ordercore/internal/command"
	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/domain"
	"github.com/ordercore-io/ordercore/internal/outbox"
	"github.com/ordercore-io/ordercore/internal/storage"
	"github.com/ordercore-io/ordercore/internal/validation"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "oms"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting OrderCore service",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	orderStore, err := storage.NewOrderStore(dbConn)
	if err != nil {
		logger.Error("Failed to initialize order store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Order store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	rulebook, err := validation.LoadRulebookFromEnv()
	if err != nil {
		logger.Error("Failed to load rulebook", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	// The environment overrides the rulebook's equity round lot when set.
	if lot := config.GetEnvInt64("ORDERCORE_VALIDATION_EQUITY_ROUND_LOT", 0); lot > 0 {
		rulebook.Equity.RoundLot = lot
	}

	variant := config.GetEnvStr("ORDERCORE_STATE_MACHINE_VARIANT", domain.VariantStandard)
	maxOrderQty := decimal.NewFromInt(config.GetEnvInt64("ORDERCORE_VALIDATION_MAX_ORDER_QTY", command.DefaultMaxOrderQty))

	commandConfig := command.LoadConfig()
	if err := commandConfig.Validate(); err != nil {
		logger.Error("Invalid command configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	registry, err := command.NewRegistry(command.Dependencies{
		Store:            orderStore,
		Variant:          variant,
		Rulebook:         rulebook,
		MaxOrderQty:      maxOrderQty,
		ConflictRetryMax: commandConfig.ConflictRetryMax,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("Failed to build command registry", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	dispatcher := command.NewDispatcher(registry, commandConfig, logger)

	// A publisher count of zero turns the embedded fleet off for
	// deployments that run cmd/publisher separately.
	outboxConfig := outbox.LoadConfig()

	var publishers *outbox.Group

	if outboxConfig.Publishers > 0 {
		publishers, err = outbox.NewGroup(dbConn, outboxConfig, logger)
		if err != nil {
			logger.Error("Failed to build outbox publishers", slog.String("error", err.Error()))

			_ = dbConn.Close()
			os.Exit(1)
		}
	} else {
		logger.Info("Embedded outbox publishing disabled; run the publisher binary to drain the outbox")
	}

	dispatcher.Start()

	if publishers != nil {
		publishers.Start()
	}

	logger.Info("OrderCore service started",
		slog.String("state_machine_variant", variant),
		slog.Int("workers", commandConfig.Workers),
		slog.Duration("deadline_default", commandConfig.DeadlineDefault),
		slog.Int("outbox_publishers", outboxConfig.Publishers),
		slog.String("order_topic", outboxConfig.OrderTopic),
		slog.String("execution_topic", outboxConfig.ExecutionTopic),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sig := <-stop
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	// Stop intake first so no command is left half processed, then give the
	// publishers a chance to flush what those commands wrote.
	dispatcher.Stop()

	if publishers != nil {
		if err := publishers.Stop(); err != nil {
			logger.Error("Outbox publisher shutdown failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("OrderCore service stopped")
}
