package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ordercore-io/ordercore/migrations"
)

const (
	postgresImage   = "postgres:16-alpine"
	readyLogCount   = 2
	startupDeadline = 120 * time.Second
)

// TestDatabase bundles the container and connection an integration test
// works against. Cleanup is the caller's job, normally via t.Cleanup:
//
//	testDB := config.SetupTestDatabase(ctx, t)
//	t.Cleanup(func() {
//		_ = testDB.Connection.Close()
//		_ = testcontainers.TerminateContainer(testDB.Container)
//	})
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *sql.DB

	// URL is the container's connection string, for tests that open
	// additional connections or build their own configs.
	URL string
}

// SetupTestDatabase starts a throwaway PostgreSQL container, applies the
// embedded schema migrations, and returns an open connection to it. Every
// integration test in the repository goes through here so they all run
// against the same schema the binaries ship.
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	container, databaseURL := startPostgres(ctx, t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err, "open test database")

	if err := RunTestMigrations(db); err != nil {
		_ = db.Close()
		_ = testcontainers.TerminateContainer(container)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDatabase{
		Container:  container,
		Connection: db,
		URL:        databaseURL,
	}
}

// startPostgres runs a postgres container and waits until it accepts
// connections.
func startPostgres(ctx context.Context, t *testing.T) (*postgres.PostgresContainer, string) {
	t.Helper()

	container, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("ordercore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(readyLogCount).
				WithStartupTimeout(startupDeadline),
		),
	)
	require.NoError(t, err, "start postgres container")

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "read container connection string")

	return container, databaseURL
}

// RunTestMigrations applies the embedded schema migrations to db. Tests and
// production apply the exact same files, so the two can never disagree
// about the schema.
func RunTestMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}

	source, err := iofs.New(migrations.Embedded(), ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
