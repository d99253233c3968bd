package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// =============================================================================
// Embedded migration files
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

// MigrationsTable is the version bookkeeping table golang-migrate maintains.
const MigrationsTable = "swarmflow_schema_migrations"

// =============================================================================
// Dialects
// =============================================================================

// Dialect selects the migration file set and the database driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a configured driver name onto a supported dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported migration dialect: %q", s)
	}
}

func migrationFS(dialect Dialect) (fs.FS, string, error) {
	switch dialect {
	case DialectPostgres:
		return postgresFS, "migrations/postgres", nil
	case DialectMySQL:
		return mysqlFS, "migrations/mysql", nil
	default:
		return nil, "", fmt.Errorf("unsupported migration dialect: %q", dialect)
	}
}

// =============================================================================
// Migrator
// =============================================================================

// Migrator applies the embedded archive schema migrations.
type Migrator struct {
	migrate *migrate.Migrate
	dialect Dialect
}

// New builds a migrator on top of an already-open connection. The connection
// stays owned by the caller: Close releases only what the migrator added.
func New(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}

	drv, err := databaseDriver(db, dialect)
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	src, err := sourceDriver(dialect)
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), drv)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &Migrator{migrate: m, dialect: dialect}, nil
}

func databaseDriver(db *sql.DB, dialect Dialect) (database.Driver, error) {
	switch dialect {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %q", dialect)
	}
}

func sourceDriver(dialect Dialect) (source.Driver, error) {
	fsys, dir, err := migrationFS(dialect)
	if err != nil {
		return nil, err
	}
	return iofs.New(fsys, dir)
}

// Up applies all pending migrations. An already-current schema is not an
// error.
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the current schema version. A database with no applied
// migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status describes every embedded migration relative to the database.
func (m *Migrator) Status() ([]Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	available, err := Available(m.dialect)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(available))
	for _, mig := range available {
		statuses = append(statuses, Status{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: mig.Version <= current,
			Dirty:   dirty && mig.Version == current,
		})
	}
	return statuses, nil
}

// Close releases the migration source and the driver's pinned connection.
// The *sql.DB passed to New stays open.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// =============================================================================
// Embedded migration inventory
// =============================================================================

// Migration is one embedded migration file.
type Migration struct {
	Version uint
	Name    string
}

// Status is one embedded migration's state relative to a database.
type Status struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Available lists the embedded migrations for a dialect, ordered by version.
func Available(dialect Dialect) ([]Migration, error) {
	fsys, dir, err := migrationFS(dialect)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	seen := make(map[uint]bool)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		// Filenames follow 000001_name.up.sql.
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		if seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true

		migrations = append(migrations, Migration{
			Version: uint(version),
			Name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
