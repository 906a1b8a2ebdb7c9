package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/rcm-ledger/internal/models"
	pkgLogger "github.com/sjperalta/rcm-ledger/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteScheme = "sqlite://"

// Options tunes the connection pool
type Options struct {
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// Open connects to postgres, or to a sqlite file when the URL starts with sqlite://
func Open(databaseURL string, opts Options) (*gorm.DB, error) {
	if strings.HasPrefix(databaseURL, sqliteScheme) {
		return OpenSQLite(strings.TrimPrefix(databaseURL, sqliteScheme), opts)
	}
	return Connect(databaseURL, opts)
}

// Connect establishes a connection to the PostgreSQL database
func Connect(databaseURL string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:                 pkgLogger.NewGormLogger(opts.LogLevel, 200*time.Millisecond),
		SkipDefaultTransaction: true, // ledger services manage their own transactions
		PrepareStmt:            true, // Cache prepared statements
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// OpenSQLite opens a sqlite database file. Writers are serialized through a
// single connection and BEGIN IMMEDIATE, so a second writer waits on the busy
// timeout instead of failing on a stale snapshot.
func OpenSQLite(path string, opts Options) (*gorm.DB, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 pkgLogger.NewGormLogger(opts.LogLevel, 200*time.Millisecond),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate creates or updates the ledger schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PatientAccount{},
		&models.Claim{},
		&models.Payment{},
		&models.AuditEntry{},
		&models.EraBatch{},
		&models.EraPaymentDetail{},
	); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
