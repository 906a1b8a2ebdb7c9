package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
	"gorm.io/gorm"
)

// Audit table names
const (
	tableClaims          = "claims"
	tablePayments        = "payments"
	tablePatientAccounts = "patient_accounts"
	tableEraBatches      = "era_batches"
)

func claimLockKey(claimID uint) string {
	return fmt.Sprintf("claim_%d", claimID)
}

func accountLockKey(patientID uint) string {
	return fmt.Sprintf("patient_account_%d", patientID)
}

// lookupErr turns gorm's not-found into a NotFoundError for entity
func lookupErr(entity string, id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}

// lockClaimAndAccount takes the claim lock, then the owning account lock, and
// only then reads both rows so validation sees the latest committed state.
func lockClaimAndAccount(ctx context.Context, tx *txn.Tx, repos *repository.Repositories, op string, claimID uint) (*models.Claim, *models.PatientAccount, error) {
	if err := tx.MustLock(op, claimLockKey(claimID)); err != nil {
		return nil, nil, err
	}
	claim, err := repos.Claim.FindByIDForUpdate(ctx, claimID)
	if err != nil {
		return nil, nil, lookupErr("claim", claimID, err)
	}

	if err := tx.MustLock(op, accountLockKey(claim.PatientID)); err != nil {
		return nil, nil, err
	}
	account, err := repos.Account.FindForUpdate(ctx, claim.PatientID)
	if err != nil {
		return nil, nil, lookupErr("patient account", claim.PatientID, err)
	}
	return claim, account, nil
}

// publishAfterCommit ships ev once tx commits. Failures are logged, never returned.
func publishAfterCommit(tx *txn.Tx, publisher events.Publisher, ev events.Event) {
	tx.AfterCommit(func(ctx context.Context) {
		if err := publisher.Publish(ctx, ev); err != nil {
			logger.Error("[Events] Publish failed", "type", ev.Type, "event_id", ev.ID, "error", err)
		}
	})
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mergeValues(base map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
