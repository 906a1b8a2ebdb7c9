// Package app wires storage, the transaction manager and services from configuration.
// Both binaries build on it.
package app

import (
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sjperalta/rcm-ledger/internal/alerting"
	"github.com/sjperalta/rcm-ledger/internal/config"
	"github.com/sjperalta/rcm-ledger/internal/database"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/jobs"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App is the assembled ledger
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Worker    *jobs.Worker
	Txm       *txn.Manager
	Publisher events.Publisher
	Repos     *repository.Repositories
	Services  *services.Services
}

// TxConfig maps the environment settings onto transaction defaults
func TxConfig(cfg *config.Config) txn.Config {
	return txn.Config{
		DefaultTimeout: cfg.TxTimeout,
		BatchTimeout:   cfg.BatchTxTimeout,
		RetryAttempts:  cfg.TxRetryAttempts,
		RetryBaseDelay: cfg.TxRetryBaseDelay,
		LockTimeout:    cfg.LockTimeout,
	}
}

// NewLocker picks the lock backend named by LOCK_BACKEND
func NewLocker(cfg *config.Config) txn.Locker {
	if cfg.LockBackend == config.LockBackendPostgres {
		return txn.NewPostgresLocker()
	}
	return txn.NewMemoryLocker()
}

func gormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

// New connects to storage, migrates when asked to and builds every service.
// Hooks run on a worker pool; rollbacks that are not caller errors go to Sentry.
func New(cfg *config.Config, migrate bool) (*App, error) {
	db, err := database.Open(cfg.DatabaseURL, database.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		LogLevel:     gormLevel(cfg.LogLevel),
	})
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}

	worker := jobs.NewWorker(cfg.WorkerCount)
	txm := txn.NewManager(db, NewLocker(cfg), TxConfig(cfg),
		txn.WithDispatcher(worker),
		txn.WithObservers(alerting.NewRollbackReporter(sentry.CurrentHub(), services.IsExpected)),
	)

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	repos := repository.NewRepositories(db)

	logger.Info("Ledger initialized",
		"lock_backend", cfg.LockBackend, "workers", cfg.WorkerCount,
		"sqlite", cfg.IsSQLite(), "kafka", len(cfg.KafkaBrokers) > 0)

	return &App{
		Config:    cfg,
		DB:        db,
		Worker:    worker,
		Txm:       txm,
		Publisher: publisher,
		Repos:     repos,
		Services:  services.NewServices(repos, txm, publisher, cfg),
	}, nil
}

// Close drains hook jobs, then closes the publisher and the database
func (a *App) Close() error {
	a.Worker.Shutdown()

	var errs []error
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := database.Close(a.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
