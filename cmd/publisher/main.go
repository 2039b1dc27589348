// Package main provides the standalone outbox publisher.
//
// Deployments that scale the publishing tier separately from command intake
// run this binary with embedded publishing disabled in the oms service
// (ORDERCORE_OUTBOX_PUBLISHER_COUNT=0 there). Slots parallelize inside one
// process; run a single claimant per slot, since per-order delivery order is
// only guaranteed when one worker owns a slot.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/outbox"
	"github.com/ordercore-io/ordercore/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "publisher"
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

	logger.Info("Starting outbox publisher service",
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

	outboxConfig := outbox.LoadConfig()

	publishers, err := outbox.NewGroup(dbConn, outboxConfig, logger)
	if err != nil {
		logger.Error("Failed to build outbox publishers", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	publishers.Start()

	logger.Info("Outbox publisher service started",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("publishers", outboxConfig.Publishers),
		slog.Duration("poll_interval", outboxConfig.PollInterval),
		slog.Int("batch_size", outboxConfig.BatchSize),
		slog.String("order_topic", outboxConfig.OrderTopic),
		slog.String("execution_topic", outboxConfig.ExecutionTopic),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sig := <-stop
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	if err := publishers.Stop(); err != nil {
		logger.Error("Outbox publisher shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("Outbox publisher service stopped")
}
