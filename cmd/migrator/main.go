// Package main provides the OrderCore schema migration tool.
//
// The binary carries the schema as embedded SQL files, so a container image
// can migrate any environment it can reach with nothing mounted beside it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ordercore-io/ordercore/migrations"
)

const (
	version = "1.0.0-dev"
	name    = "migrator"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	command := flag.Arg(0)
	if command == "" {
		usage()
		os.Exit(2)
	}

	config, err := migrations.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	runner, err := migrations.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Migration runner startup failed: %v", err)
	}

	err = run(command, runner, os.Stdin)

	if closeErr := runner.Close(); closeErr != nil {
		log.Printf("Close error: %v", closeErr)
	}

	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// run dispatches one migrator subcommand. The destructive drop command asks
// for confirmation on in before proceeding.
func run(command string, runner migrations.MigrationRunner, in io.Reader) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !confirm(in, "This drops every table in the database.") {
			fmt.Println("Aborted.")

			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// confirm prompts for a y/N answer and returns true only on an explicit yes.
func confirm(in io.Reader, warning string) bool {
	fmt.Printf("%s Continue? (y/N): ", warning)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))

	return answer == "y" || answer == "yes"
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s v%s - OrderCore schema migration tool

Usage:
    %s [flags] COMMAND

Commands:
    up       apply all pending migrations
    down     roll back the most recent migration
    status   show the database version against the embedded head
    version  show the database schema version
    drop     drop all tables (asks for confirmation)

Flags:
    -version  print version and exit

Environment:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  version tracking table (default %s)
`, name, version, name, "schema_migrations")
}
