package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 10 * time.Second

type (
	// MigrationRunner is the operation set the migrator CLI drives.
	MigrationRunner interface {
		// Up applies every pending migration.
		Up() error

		// Down rolls back the most recent migration.
		Down() error

		// Status reports the database version against the embedded head.
		Status() error

		// Version prints the current database schema version.
		Version() error

		// Drop removes everything in the target schema.
		Drop() error

		// Close releases the database connection.
		Close() error
	}

	// Runner applies the embedded migration set with golang-migrate.
	Runner struct {
		config  *Config
		migrate *migrate.Migrate
		db      *sql.DB
	}

	// migrateLogger routes golang-migrate's own output through the standard
	// logger so it interleaves with the runner's lines.
	migrateLogger struct{}
)

var (
	_ MigrationRunner = (*Runner)(nil)
	_ migrate.Logger  = (*migrateLogger)(nil)
)

// NewMigrationRunner verifies the embedded migration set, connects to the
// database named by config, and returns a runner ready to execute commands.
// The embedded files cannot change while the process runs, so verification
// happens once here rather than before every operation.
func NewMigrationRunner(config *Config) (*Runner, error) {
	if config == nil {
		return nil, errors.New("nil migration config")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("migration config: %w", err)
	}

	if err := Verify(Embedded()); err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}

	checksum, err := Checksum(Embedded())
	if err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}

	log.Printf("Embedded migration set verified (checksum %.12s)", checksum)

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}

	source, err := iofs.New(Embedded(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	log.Printf("Migration runner ready: %s", config)

	return &Runner{config: config, migrate: m, db: db}, nil
}

// Up applies every pending migration.
func (r *Runner) Up() error {
	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Schema already up to date")

		return nil
	case err != nil:
		return fmt.Errorf("migrate up: %w", err)
	}

	log.Println("All pending migrations applied")

	return nil
}

// Down rolls back the most recent migration. One step at a time keeps an
// operator from undoing the whole schema with a single command.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No applied migrations to roll back")

		return nil
	case err != nil:
		return fmt.Errorf("migrate down: %w", err)
	}

	log.Println("Rolled back one migration")

	return nil
}

// Status reports the database schema version against the embedded head and
// says whether an up run is needed.
func (r *Runner) Status() error {
	head, err := Head(Embedded())
	if err != nil {
		return fmt.Errorf("embedded migrations: %w", err)
	}

	version, dirty, err := r.migrate.Version()

	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Printf("Database schema: none applied; embedded head: %03d", head)
		log.Printf("Run 'up' to apply %d pending migration(s)", head)

		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	state := "clean"
	if dirty {
		state = "dirty, manual intervention required"
	}

	log.Printf("Database schema: %03d (%s); embedded head: %03d", version, state, head)

	switch {
	case int(version) == head:
		log.Println("Schema is up to date")
	case int(version) < head:
		log.Printf("%d migration(s) pending; run 'up' to apply", head-int(version))
	default:
		log.Println("Database schema is newer than this migrator; update the tool")
	}

	return nil
}

// Version prints the current database schema version.
func (r *Runner) Version() error {
	version, dirty, err := r.migrate.Version()

	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("Current version: none")

		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}

	log.Printf("Current version: %d%s", version, suffix)

	return nil
}

// Drop removes every object in the target schema.
func (r *Runner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("migrate drop: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close releases the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("close migration source: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("close migrate database: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
