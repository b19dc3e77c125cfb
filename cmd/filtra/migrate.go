package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mailkite/filtra/config"
	"github.com/mailkite/filtra/db"
	"github.com/mailkite/filtra/logger"
)

// migrationLockID identifies the advisory lock guarding schema changes.
const migrationLockID = 712468

func handleMigrateCommand(ctx context.Context) {
	if len(os.Args) < 3 {
		printMigrateUsage()
		os.Exit(2)
	}

	subcommand := os.Args[2]
	switch subcommand {
	case "up":
		handleMigrateUp(ctx)
	case "down":
		handleMigrateDown(ctx)
	case "version":
		handleMigrateVersion(ctx)
	case "force":
		handleMigrateForce(ctx)
	case "help", "--help", "-h":
		printMigrateUsage()
	default:
		fmt.Printf("Unknown migrate subcommand: %s\n\n", subcommand)
		printMigrateUsage()
		os.Exit(2)
	}
}

func printMigrateUsage() {
	fmt.Printf(`PostgreSQL Index Schema Migration

Only needed with a [database] index; the sqlite local index manages its own
schema. Run while no 'filtra run' is active.

Usage:
  filtra migrate <subcommand> [options]

Subcommands:
  up        Apply all pending upwards migrations
  down      Revert migrations
  version   Show the current migration version and dirty state
  force     Force the database to a specific version (for fixing dirty states)

Examples:
  filtra migrate up
  filtra migrate down --limit 1
  filtra migrate version
  filtra migrate force 1
`)
}

func handleMigrateUp(ctx context.Context) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: filtra migrate up [--config config.toml]")
		fmt.Println("Applies all pending upwards migrations.")
	}
	fs.Parse(os.Args[3:])

	m, conn, err := getMigrateInstance(*configPath)
	if err != nil {
		logger.Fatal("Failed to initialize migration tool", "error", err)
	}
	defer conn.Close()

	if err := acquireMigrationLock(ctx, conn); err != nil {
		logger.Fatal("Failed to acquire migration lock", "error", err)
	}
	defer releaseMigrationLock(context.Background(), conn)

	logger.Info("Applying UP migrations")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to apply UP migrations", "error", err)
	}
	logger.Info("Migrations applied successfully")
	showMigrateVersion(m)
}

func handleMigrateDown(ctx context.Context) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	limit := fs.Int("limit", 1, "Number of migrations to revert")
	fs.Usage = func() {
		fmt.Println("Usage: filtra migrate down [--config config.toml] [--limit N]")
		fmt.Println("Reverts migrations. Defaults to reverting one migration.")
	}
	fs.Parse(os.Args[3:])

	m, conn, err := getMigrateInstance(*configPath)
	if err != nil {
		logger.Fatal("Failed to initialize migration tool", "error", err)
	}
	defer conn.Close()

	if err := acquireMigrationLock(ctx, conn); err != nil {
		logger.Fatal("Failed to acquire migration lock", "error", err)
	}
	defer releaseMigrationLock(context.Background(), conn)

	logger.Info("Reverting migrations", "count", *limit)
	if err := m.Steps(-(*limit)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to revert migrations", "error", err)
	}
	logger.Info("Migrations reverted successfully")
	showMigrateVersion(m)
}

func handleMigrateVersion(_ context.Context) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: filtra migrate version [--config config.toml]")
		fmt.Println("Shows the current migration version and dirty state.")
	}
	fs.Parse(os.Args[3:])

	m, conn, err := getMigrateInstance(*configPath)
	if err != nil {
		logger.Fatal("Failed to initialize migration tool", "error", err)
	}
	defer conn.Close()

	showMigrateVersion(m)
}

func handleMigrateForce(ctx context.Context) {
	fs := flag.NewFlagSet("migrate force", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: filtra migrate force [--config config.toml] <version>")
		fmt.Println("Forcibly sets the database migration version. USE WITH CAUTION.")
	}
	fs.Parse(os.Args[3:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	version, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		logger.Fatal("Invalid version number", "error", err)
	}

	m, conn, err := getMigrateInstance(*configPath)
	if err != nil {
		logger.Fatal("Failed to initialize migration tool", "error", err)
	}
	defer conn.Close()

	if err := acquireMigrationLock(ctx, conn); err != nil {
		logger.Fatal("Failed to acquire migration lock", "error", err)
	}
	defer releaseMigrationLock(context.Background(), conn)

	logger.Info("Forcing database version", "version", version)
	if err := m.Force(version); err != nil {
		logger.Fatal("Failed to force version", "error", err)
	}
	logger.Info("Version forced successfully")
	showMigrateVersion(m)
}

func getMigrateInstance(configPath string) (*migrate.Migrate, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database == nil {
		return nil, nil, errors.New("no [database] section configured; the local index needs no migrations")
	}

	sslMode := "disable"
	if cfg.Database.TLSMode {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Name, sslMode)

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	source, err := iofs.New(db.MigrationsFS, "migrations")
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := pgxv5.WithInstance(conn, &pgxv5.Config{})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, cfg.Database.Name, driver)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return m, conn, nil
}

func acquireMigrationLock(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID)
	return err
}

func releaseMigrationLock(ctx context.Context, conn *sql.DB) {
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
		logger.Warn("Failed to release migration lock", "error", err)
	}
}

func showMigrateVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Database has no migration version (schema not initialized)")
			return
		}
		logger.Fatal("Failed to read migration version", "error", err)
	}
	fmt.Printf("Current version: %d (dirty: %v)\n", version, dirty)
}
