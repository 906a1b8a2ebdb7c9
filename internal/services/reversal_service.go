package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/statemachine"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// ReverseRequest identifies the payment to undo
type ReverseRequest struct {
	PaymentID uint
	ActorID   uint
	Reason    string
}

// ReversalResult reports the claim state after a reversal
type ReversalResult struct {
	OriginalPaymentID    uint            `json:"original_payment_id"`
	ReversalPaymentID    uint            `json:"reversal_payment_id"`
	ClaimID              uint            `json:"claim_id"`
	ReversedAmount       decimal.Decimal `json:"reversed_amount"`
	NewPaidAmount        decimal.Decimal `json:"new_paid_amount"`
	NewOutstandingAmount decimal.Decimal `json:"new_outstanding_amount"`
	NewStatus            string          `json:"new_status"`
}

// ReversalService undoes posted payments by appending reversal rows
type ReversalService struct {
	txm       *txn.Manager
	audit     *AuditService
	publisher events.Publisher
}

func NewReversalService(txm *txn.Manager, audit *AuditService, publisher events.Publisher) *ReversalService {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &ReversalService{txm: txm, audit: audit, publisher: publisher}
}

// Reverse marks the payment reversed, appends a negative payment row and puts
// the claim and account balances back where they were before the payment.
func (s *ReversalService) Reverse(ctx context.Context, req ReverseRequest) (*ReversalResult, error) {
	if req.PaymentID == 0 {
		return nil, invalid("payment_id", "is required")
	}
	if req.Reason == "" {
		return nil, invalid("reason", "is required")
	}
	params := map[string]any{"payment_id": req.PaymentID, "actor_id": req.ActorID}

	var result *ReversalResult
	err := s.txm.Run(ctx, txn.Options{Name: "reverse_payment"}, func(tx *txn.Tx) error {
		txCtx := tx.Context()
		repos := repository.NewRepositories(tx.DB())

		// the claim id is needed for the lock key; the row is read again once locked
		original, err := repos.Payment.FindByID(txCtx, req.PaymentID)
		if err != nil {
			return lookupErr("payment", req.PaymentID, err)
		}

		claim, account, err := lockClaimAndAccount(txCtx, tx, repos, "reverse_payment", original.ClaimID)
		if err != nil {
			return err
		}

		original, err = repos.Payment.FindByIDForUpdate(txCtx, req.PaymentID)
		if err != nil {
			return lookupErr("payment", req.PaymentID, err)
		}
		if !original.MayReverse() {
			return invalid("payment_id", ReasonAlreadyReversed)
		}

		opening, err := openingStatus(txCtx, repos, original)
		if err != nil {
			return err
		}

		claimBefore := claim.Snapshot()
		amount := original.Amount
		reason := req.Reason

		reversal := &models.Payment{
			ClaimID:           original.ClaimID,
			PatientID:         original.PatientID,
			Type:              models.PaymentTypeReversal,
			Amount:            amount.Neg(),
			PaymentDate:       dateOnly(time.Now()),
			Method:            original.Method,
			ReferenceNumber:   original.ReferenceNumber,
			PostedBy:          req.ActorID,
			PostedAt:          time.Now(),
			Status:            models.PaymentStatusPosted,
			ClaimStatusBefore: claim.Status,
			ReversalOfID:      &original.ID,
			ReversalReason:    &reason,
		}
		if err := repos.Payment.Create(txCtx, reversal); err != nil {
			return err
		}

		original.ReversedByID = &reversal.ID
		if err := repos.Payment.MarkReversed(txCtx, original); err != nil {
			return lookupErr("payment", original.ID, err)
		}

		claim.PaidAmount = claim.PaidAmount.Sub(amount)
		claim.OutstandingAmount = claim.TotalAmount.Sub(claim.PaidAmount)
		if err := statemachine.NewClaimFSM(claim).ApplyReversal(txCtx, opening); err != nil {
			return invalid("payment_id", err.Error())
		}
		if err := repos.Claim.UpdateBalances(txCtx, claim); err != nil {
			return err
		}

		account.TotalBalance = account.TotalBalance.Add(amount)
		if err := repos.Account.UpdateBalance(txCtx, account); err != nil {
			return err
		}

		if _, err := s.audit.Record(txCtx, repos.Audit, AuditRecord{
			Table:     tablePayments,
			EntityID:  original.ID,
			Action:    models.AuditActionReversal,
			OldValues: mergeValues(claimBefore, map[string]any{"payment_status": models.PaymentStatusPosted}),
			NewValues: mergeValues(claim.Snapshot(), map[string]any{
				"payment_status":      models.PaymentStatusReversed,
				"reversal_payment_id": reversal.ID,
				"reversed_amount":     amount.StringFixed(2),
			}),
			ActorID: req.ActorID,
			Reason:  reason,
		}); err != nil {
			return err
		}

		result = &ReversalResult{
			OriginalPaymentID:    original.ID,
			ReversalPaymentID:    reversal.ID,
			ClaimID:              claim.ID,
			ReversedAmount:       amount,
			NewPaidAmount:        claim.PaidAmount,
			NewOutstandingAmount: claim.OutstandingAmount,
			NewStatus:            claim.Status,
		}
		publishAfterCommit(tx, s.publisher, events.New(events.TypePaymentReversed, accountLockKey(claim.PatientID), events.PaymentReversed{
			PaymentID:         original.ID,
			ReversalPaymentID: reversal.ID,
			ClaimID:           claim.ID,
			PatientID:         claim.PatientID,
			Amount:            amount,
			Reason:            reason,
		}))
		return nil
	})
	if err != nil {
		logger.Warn("[ReversalService] Reverse failed", "payment_id", req.PaymentID, "error", err)
		return nil, dbError("reverse payment", params, err)
	}

	logger.Info("[ReversalService] Payment reversed",
		"payment_id", result.OriginalPaymentID, "reversal_id", result.ReversalPaymentID,
		"claim_id", result.ClaimID, "status", result.NewStatus)
	return result, nil
}

// openingStatus is the status the claim had when its current run of payments
// began: the ClaimStatusBefore of the latest payment posted while nothing was
// paid. Reversals done out of order still land on that status.
func openingStatus(ctx context.Context, repos *repository.Repositories, original *models.Payment) (string, error) {
	payments, err := repos.Payment.FindByClaim(ctx, original.ClaimID)
	if err != nil {
		return "", err
	}

	status := original.ClaimStatusBefore
	paid := decimal.Zero
	for _, p := range payments {
		if !p.IsReversal() && paid.Sign() <= 0 {
			status = p.ClaimStatusBefore
		}
		paid = paid.Add(p.Amount)
	}
	return status, nil
}
