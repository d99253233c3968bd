package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/migration"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
)

// SQLStore archives records in a relational database through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQL connects to the configured SQL backend, tunes the connection pool,
// and brings the schema up to date. Postgres and mysql apply the embedded
// versioned migrations; sqlite schemas are auto-migrated by gorm, which is
// what the development and test paths use.
func OpenSQL(cfg config.ArchiveConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := strings.ToLower(cfg.Driver)
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN())
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported archive driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access archive connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if driver == DriverSQLite && isMemorySQLite(cfg.DSN()) {
		// Every sqlite in-memory connection gets its own database, so the
		// pool must stay at one connection.
		sqlDB.SetMaxOpenConns(1)
	}

	switch driver {
	case DriverSQLite:
		if err := db.AutoMigrate(&TaskRecord{}, &ConsensusRecord{}); err != nil {
			return nil, fmt.Errorf("migrate archive schema: %w", err)
		}
	default:
		dialect, err := migration.ParseDialect(driver)
		if err != nil {
			return nil, err
		}
		migrator, err := migration.New(sqlDB, dialect)
		if err != nil {
			return nil, fmt.Errorf("prepare archive migrations: %w", err)
		}
		defer migrator.Close()
		if err := migrator.Up(); err != nil {
			return nil, fmt.Errorf("migrate archive schema: %w", err)
		}
	}

	logger.Info("archive connected",
		zap.String("driver", driver),
		zap.String("database", cfg.Name))
	return &SQLStore{db: db, logger: logger}, nil
}

// NewSQLStore wraps an existing gorm handle without touching the schema or
// the pool. Used by tests that drive the store against a mocked connection.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

func isMemorySQLite(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// SaveTask archives one terminal task, overwriting any earlier record with
// the same task id.
func (s *SQLStore) SaveTask(ctx context.Context, task *registry.Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidRecord
	}
	rec := newTaskRecord(task)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"agent_id", "type", "status", "details", "results",
				"assigned_at", "completed_at", "archived_at",
			}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("archive task %s: %w", task.TaskID, err)
	}
	return nil
}

// SaveConsensus appends one consensus tally snapshot.
func (s *SQLStore) SaveConsensus(ctx context.Context, result *orchestrator.ConsensusResult) error {
	if result == nil || result.VoteTopic == "" {
		return ErrInvalidRecord
	}
	rec := newConsensusRecord(result)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("archive consensus %s/%s: %w", result.VoteTopic, result.TaskID, err)
	}
	return nil
}

// RecentTasks returns archived tasks, newest first.
func (s *SQLStore) RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var recs []TaskRecord
	err := s.db.WithContext(ctx).
		Order("archived_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	return recs, nil
}

// TaskByID retrieves one archived task.
func (s *SQLStore) TaskByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if taskID == "" {
		return nil, ErrInvalidRecord
	}
	var rec TaskRecord
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load archived task %s: %w", taskID, err)
	}
	return &rec, nil
}

// RecentConsensus returns consensus snapshots, newest first.
func (s *SQLStore) RecentConsensus(ctx context.Context, limit int) ([]ConsensusRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var recs []ConsensusRecord
	err := s.db.WithContext(ctx).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list consensus records: %w", err)
	}
	return recs, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
