package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/webmvc/internal/adapter/postgres"
	"github.com/Strob0t/webmvc/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, status) for the
// postgres flash store schema.
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Postgres.DSN
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
		return nil
	case "down":
		return runMigrateDown(ctx, dsn, args[1:])
	case "status":
		version, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "version: %d\n", version)
		return nil
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func runMigrateDown(ctx context.Context, dsn string, args []string) error {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be >= 1")
	}

	if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: webmvc migrate <command> [options]

Commands:
  up        Apply all pending migrations
  down      Roll back migrations (--steps N, default 1)
  status    Print the current schema version
  help      Show this help message

Examples:
  webmvc migrate up
  webmvc migrate down --steps 2
  webmvc migrate status
`)
}
