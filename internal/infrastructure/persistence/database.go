package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/claimflow/backend/internal/infrastructure/persistence/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database owns the claim store connection pool
type Database struct {
	DB *gorm.DB
}

// NewDatabase creates a new database connection with gorm's logging silenced
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	return NewDatabaseWithLogger(cfg, logger.Default.LogMode(logger.Silent))
}

// NewDatabaseWithLogger creates a new database connection that reports
// queries through the given gorm logger (usually the zap-backed one)
func NewDatabaseWithLogger(cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// PoolUsage reports connections in use against the pool limit. Bulk runs
// hold one connection per worker, so a saturated pool shows up here first.
// A limit of 0 means unlimited.
func (d *Database) PoolUsage() (inUse, limit int, err error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return stats.InUse, stats.MaxOpenConnections, nil
}

// AutoMigrate creates the claim, policy and audit tables.
// Production schemas come from the SQL migrations; this is for tests and local runs.
func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(
		&models.PolicyModel{},
		&models.ClaimModel{},
		&models.LineItemModel{},
		&models.AuditRecordModel{},
	)
}
