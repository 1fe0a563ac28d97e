// internal/database/connection.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := NewGormConfig(cfg.LogLevel)

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Database connection established")
	return db, nil
}

// NewGormConfig is shared by the server and the test harness so both
// translate constraint errors and stamp times in UTC.
func NewGormConfig(logLevel string) *gorm.Config {
	level := logger.Info
	if logLevel == "silent" || logLevel == "" {
		level = logger.Silent
	}

	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

// AutoMigrate creates or updates every settlement table. It is dialect neutral.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Vendor{},
		&models.Brand{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusHistory{},
		&models.Commission{},
		&models.Payout{},
		&models.PayoutItem{},
		&models.SalesReport{},
		&models.AuditLog{},
	)
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if IsPostgres(db) {
		if err := createIndexes(db); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Orders
		"CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_vendor_created ON order_items(vendor_id, created_at DESC)",

		// Commission selection for payouts
		"CREATE INDEX IF NOT EXISTS idx_commissions_payout_candidates ON commissions(vendor_id, status, created_at) WHERE active_payout_id IS NULL",

		// Payouts
		"CREATE INDEX IF NOT EXISTS idx_payouts_vendor_status ON payouts(vendor_id, status, created_at DESC)",

		// Platform-wide sales reports have a NULL vendor, which the composite unique index does not cover
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_reports_platform ON sales_reports(report_type, report_date) WHERE vendor_id IS NULL",

		// Audit
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// SerializableTx returns transaction options for selections that must not
// overlap with a concurrent writer. Dialects without isolation levels get nil.
func SerializableTx(db *gorm.DB) *sql.TxOptions {
	if !IsPostgres(db) {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

// ForUpdate adds a row lock where the dialect supports one.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithTransaction runs fn in a transaction bound to ctx.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error, opts ...*sql.TxOptions) error {
	return db.WithContext(ctx).Transaction(fn, opts...)
}
