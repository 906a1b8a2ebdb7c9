// Package testutil provides a migrated sqlite ledger and seed helpers for tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/database"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a fresh, migrated sqlite ledger under t.TempDir
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.OpenSQLite(path, database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewPooledDB opens a migrated sqlite ledger served by conns connections with
// deferred transactions, so two units of work really overlap: each reads its
// own snapshot and a stale writer fails with SQLITE_BUSY instead of waiting
// at BEGIN.
func NewPooledDB(t testing.TB, conns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=deferred"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// DelayReads sleeps after every SELECT against table, widening the window
// between a read and the write that depends on it.
func DelayReads(t testing.TB, db *gorm.DB, table string, delay time.Duration) {
	t.Helper()

	err := db.Callback().Query().After("gorm:query").Register("testutil:delay_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			time.Sleep(delay)
		}
	})
	require.NoError(t, err)
}

// Dec parses a decimal literal and panics on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedAccount creates a patient account with the given balance
func SeedAccount(t testing.TB, db *gorm.DB, patientID uint, balance string) *models.PatientAccount {
	t.Helper()

	account := &models.PatientAccount{PatientID: patientID, TotalBalance: Dec(balance)}
	require.NoError(t, db.Create(account).Error)
	return account
}

// SeedClaim creates a submitted claim with nothing paid
func SeedClaim(t testing.TB, db *gorm.DB, patientID uint, total string) *models.Claim {
	t.Helper()
	return SeedClaimWithStatus(t, db, patientID, total, models.ClaimStatusSubmitted)
}

var claimSeq atomic.Int64

// SeedClaimWithStatus creates an unpaid claim in the given status
func SeedClaimWithStatus(t testing.TB, db *gorm.DB, patientID uint, total, status string) *models.Claim {
	t.Helper()

	seq := claimSeq.Add(1)
	claim := &models.Claim{
		ClaimNumber:       fmt.Sprintf("CLM-%d-%06d", patientID, seq),
		PatientID:         patientID,
		TotalAmount:       Dec(total),
		PaidAmount:        decimal.Zero,
		OutstandingAmount: Dec(total),
		Status:            status,
	}
	require.NoError(t, db.Create(claim).Error)
	return claim
}

// ReloadClaim reads a claim back from storage
func ReloadClaim(t testing.TB, db *gorm.DB, id uint) *models.Claim {
	t.Helper()

	var claim models.Claim
	require.NoError(t, db.First(&claim, id).Error)
	return &claim
}

// ReloadAccount reads a patient account back from storage
func ReloadAccount(t testing.TB, db *gorm.DB, patientID uint) *models.PatientAccount {
	t.Helper()

	var account models.PatientAccount
	require.NoError(t, db.First(&account, "patient_id = ?", patientID).Error)
	return &account
}

// CountAudits counts audit entries for one entity and action
func CountAudits(t testing.TB, db *gorm.DB, table string, entityID uint, action string) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.AuditEntry{}).
		Where("table_name = ? AND entity_id = ? AND action = ?", table, entityID, action).
		Count(&n).Error)
	return n
}
