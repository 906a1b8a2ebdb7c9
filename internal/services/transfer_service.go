package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// TransferRequest moves balance from one patient account to another
type TransferRequest struct {
	FromPatientID uint
	ToPatientID   uint
	Amount        decimal.Decimal
	ActorID       uint
	Reason        string
}

// TransferResult holds both balances after the transfer
type TransferResult struct {
	FromPatientID uint            `json:"from_patient_id"`
	ToPatientID   uint            `json:"to_patient_id"`
	Amount        decimal.Decimal `json:"amount"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
}

// TransferService moves balances between patient accounts
type TransferService struct {
	txm       *txn.Manager
	audit     *AuditService
	publisher events.Publisher
}

func NewTransferService(txm *txn.Manager, audit *AuditService, publisher events.Publisher) *TransferService {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &TransferService{txm: txm, audit: audit, publisher: publisher}
}

// Transfer locks both accounts in ascending patient id order, checks the
// source balance under the lock and writes a debit and a credit audit entry.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, invalid("amount", ReasonNonPositiveAmount)
	}
	if req.FromPatientID == req.ToPatientID {
		return nil, invalid("to_patient_id", ReasonSameAccount)
	}
	params := map[string]any{
		"from_patient_id": req.FromPatientID,
		"to_patient_id":   req.ToPatientID,
		"amount":          req.Amount.String(),
	}

	var result *TransferResult
	err := s.txm.Run(ctx, txn.Options{Name: "transfer_balance"}, func(tx *txn.Tx) error {
		txCtx := tx.Context()
		repos := repository.NewRepositories(tx.DB())

		first, second := req.FromPatientID, req.ToPatientID
		if first > second {
			first, second = second, first
		}
		if err := tx.MustLock("transfer_balance", accountLockKey(first)); err != nil {
			return err
		}
		if err := tx.MustLock("transfer_balance", accountLockKey(second)); err != nil {
			return err
		}

		from, err := repos.Account.FindForUpdate(txCtx, req.FromPatientID)
		if err != nil {
			return lookupErr("patient account", req.FromPatientID, err)
		}
		to, err := repos.Account.FindForUpdate(txCtx, req.ToPatientID)
		if err != nil {
			return lookupErr("patient account", req.ToPatientID, err)
		}

		if from.TotalBalance.LessThan(req.Amount) {
			return invalid("amount", ReasonInsufficientBalance)
		}

		fromBefore, toBefore := from.Snapshot(), to.Snapshot()
		from.TotalBalance = from.TotalBalance.Sub(req.Amount)
		to.TotalBalance = to.TotalBalance.Add(req.Amount)

		if err := repos.Account.UpdateBalance(txCtx, from); err != nil {
			return err
		}
		if err := repos.Account.UpdateBalance(txCtx, to); err != nil {
			return err
		}

		for _, rec := range []AuditRecord{
			{
				Table:     tablePatientAccounts,
				EntityID:  from.PatientID,
				OldValues: fromBefore,
				NewValues: mergeValues(from.Snapshot(), map[string]any{
					"direction":    "debit",
					"amount":       req.Amount.StringFixed(2),
					"counterparty": to.PatientID,
				}),
			},
			{
				Table:     tablePatientAccounts,
				EntityID:  to.PatientID,
				OldValues: toBefore,
				NewValues: mergeValues(to.Snapshot(), map[string]any{
					"direction":    "credit",
					"amount":       req.Amount.StringFixed(2),
					"counterparty": from.PatientID,
				}),
			},
		} {
			rec.Action = models.AuditActionTransfer
			rec.ActorID = req.ActorID
			rec.Reason = req.Reason
			if _, err := s.audit.Record(txCtx, repos.Audit, rec); err != nil {
				return err
			}
		}

		result = &TransferResult{
			FromPatientID: from.PatientID,
			ToPatientID:   to.PatientID,
			Amount:        req.Amount,
			FromBalance:   from.TotalBalance,
			ToBalance:     to.TotalBalance,
		}
		publishAfterCommit(tx, s.publisher, events.New(events.TypeBalanceTransferred, accountLockKey(first), events.BalanceTransferred{
			FromPatientID: from.PatientID,
			ToPatientID:   to.PatientID,
			Amount:        req.Amount,
			FromBalance:   from.TotalBalance,
			ToBalance:     to.TotalBalance,
		}))
		return nil
	})
	if err != nil {
		logger.Warn("[TransferService] Transfer failed", "from", req.FromPatientID, "to", req.ToPatientID, "error", err)
		return nil, dbError("transfer balance", params, err)
	}

	logger.Info("[TransferService] Balance transferred",
		"from", result.FromPatientID, "to", result.ToPatientID, "amount", result.Amount.String())
	return result, nil
}
