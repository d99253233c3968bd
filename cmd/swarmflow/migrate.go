package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/swarmflow/archive"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/migration"
)

// =============================================================================
// migrate command
// =============================================================================

// runMigrate executes archive schema migration commands. Postgres and mysql
// use the embedded versioned migrations; sqlite schemas are gorm-managed and
// mongo is schemaless, so those drivers short-circuit.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	command := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Archive driver override (postgres, mysql, sqlite)")
	dsn := fs.String("dsn", "", "Archive connection string override")
	fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	archiveCfg := cfg.Archive
	if *driver != "" {
		archiveCfg.Driver = *driver
	}

	switch strings.ToLower(archiveCfg.Driver) {
	case archive.DriverSQLite:
		runSQLiteMigrate(command, archiveCfg)
		return
	case archive.DriverMongo:
		fmt.Println("The mongo archive is schemaless; there are no migrations to run.")
		return
	}

	cli, cleanup, err := newMigrateCLI(archiveCfg, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var runErr error
	switch command {
	case "up":
		runErr = cli.RunUp()
	case "down":
		runErr = cli.RunDown()
	case "status":
		runErr = cli.RunStatus()
	case "version":
		runErr = cli.RunVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate command: %s\n", command)
		printMigrateUsage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Migration command failed: %v\n", runErr)
		os.Exit(1)
	}
}

// newMigrateCLI connects to the archive database through the matching gorm
// dialector and wraps the underlying *sql.DB in a migration CLI. The cleanup
// function releases the migrator and the connection pool.
func newMigrateCLI(cfg config.ArchiveConfig, dsnOverride string) (*migration.CLI, func(), error) {
	dialect, err := migration.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	dsn := cfg.DSN()
	if dsnOverride != "" {
		dsn = dsnOverride
	}

	var dialector gorm.Dialector
	switch dialect {
	case migration.DialectPostgres:
		dialector = postgres.Open(dsn)
	case migration.DialectMySQL:
		dialector = mysql.Open(dsn)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("access archive connection pool: %w", err)
	}

	migrator, err := migration.New(sqlDB, dialect)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := migrator.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: migrator close error: %v\n", err)
		}
		sqlDB.Close()
	}
	return migration.NewCLI(migrator), cleanup, nil
}

// runSQLiteMigrate handles the sqlite driver: opening the archive brings the
// gorm-managed schema up to date, so "up" is just an open. The versioned
// commands have no ledger to inspect.
func runSQLiteMigrate(command string, cfg config.ArchiveConfig) {
	switch command {
	case "up":
		store, err := archive.New(cfg, zap.NewNop())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		fmt.Printf("sqlite archive schema up to date: %s\n", cfg.Name)
	case "down", "status", "version":
		fmt.Println("sqlite schemas are auto-migrated on open; versioned migration commands apply to postgres and mysql only.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate command: %s\n", command)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Usage: swarmflow migrate <command> [options]

Commands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version

Options:
  --config <path>   Path to configuration file (YAML)
  --driver <name>   Archive driver override (postgres, mysql, sqlite)
  --dsn <dsn>       Archive connection string override

The archive driver and connection settings come from the archive section of
the configuration; flags override them.`)
}
