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

// PostPaymentRequest is one payment to apply against a claim
type PostPaymentRequest struct {
	ClaimID          uint
	Amount           decimal.Decimal
	Date             time.Time
	Method           string
	ReferenceNumber  string
	AdjustmentAmount decimal.Decimal
	AdjustmentReason string
	ActorID          uint
}

func (r *PostPaymentRequest) params() map[string]any {
	return map[string]any{
		"claim_id":  r.ClaimID,
		"amount":    r.Amount.String(),
		"method":    r.Method,
		"reference": r.ReferenceNumber,
		"actor_id":  r.ActorID,
	}
}

func (r *PostPaymentRequest) validate() error {
	if !r.Amount.IsPositive() {
		return invalid("amount", ReasonNonPositiveAmount)
	}
	if r.ClaimID == 0 {
		return invalid("claim_id", "is required")
	}
	if !models.IsValidPaymentMethod(r.Method) {
		return invalid("method", "unknown payment method")
	}
	return validateAdjustment(r.AdjustmentAmount, r.AdjustmentReason)
}

func validateAdjustment(amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return invalid("adjustment_amount", "must not be negative")
	}
	if amount.IsPositive() && reason == "" {
		return invalid("adjustment_reason", "is required when an adjustment is given")
	}
	return nil
}

// PostPaymentResult reports the claim state after a successful post
type PostPaymentResult struct {
	PaymentID            uint            `json:"payment_id"`
	ClaimID              uint            `json:"claim_id"`
	PaymentAmount        decimal.Decimal `json:"payment_amount"`
	NewPaidAmount        decimal.Decimal `json:"new_paid_amount"`
	NewOutstandingAmount decimal.Decimal `json:"new_outstanding_amount"`
	NewStatus            string          `json:"new_status"`
}

// PaymentPoster applies a single payment to a claim and its patient account
type PaymentPoster struct {
	txm       *txn.Manager
	audit     *AuditService
	publisher events.Publisher
}

func NewPaymentPoster(txm *txn.Manager, audit *AuditService, publisher events.Publisher) *PaymentPoster {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &PaymentPoster{txm: txm, audit: audit, publisher: publisher}
}

// Post writes the payment, the claim and account balances and one audit
// entry in a single transaction. Nothing is written unless all of it is.
func (p *PaymentPoster) Post(ctx context.Context, req PostPaymentRequest) (*PostPaymentResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *PostPaymentResult
	err := p.txm.Run(ctx, txn.Options{Name: "post_payment"}, func(tx *txn.Tx) error {
		txCtx := tx.Context()
		repos := repository.NewRepositories(tx.DB())

		claim, account, err := lockClaimAndAccount(txCtx, tx, repos, "post_payment", req.ClaimID)
		if err != nil {
			return err
		}

		res, err := p.apply(txCtx, tx, repos, claim, account, postInput{
			Amount:           req.Amount,
			Date:             dateOnly(req.Date),
			Method:           req.Method,
			ReferenceNumber:  optionalString(req.ReferenceNumber),
			AdjustmentAmount: req.AdjustmentAmount,
			AdjustmentReason: optionalString(req.AdjustmentReason),
			ActorID:          req.ActorID,
		})
		if err != nil {
			return err
		}

		publishAfterCommit(tx, p.publisher, postedEvent(res, claim.PatientID, nil))
		result = res
		return nil
	})
	if err != nil {
		logger.Warn("[PaymentPoster] Post failed", "claim_id", req.ClaimID, "amount", req.Amount.String(), "error", err)
		return nil, dbError("post payment", req.params(), err)
	}

	logger.Info("[PaymentPoster] Payment posted",
		"payment_id", result.PaymentID, "claim_id", result.ClaimID,
		"amount", result.PaymentAmount.String(), "status", result.NewStatus)
	return result, nil
}

type postInput struct {
	Amount             decimal.Decimal
	Date               time.Time
	Method             string
	ReferenceNumber    *string
	AdjustmentAmount   decimal.Decimal
	AdjustmentReason   *string
	ActorID            uint
	EraPaymentDetailID *uint
}

// apply runs the posting steps, each behind its own savepoint. The caller
// holds the claim and account locks and has read both rows after locking.
func (p *PaymentPoster) apply(ctx context.Context, tx *txn.Tx, repos *repository.Repositories, claim *models.Claim, account *models.PatientAccount, in postInput) (*PostPaymentResult, error) {
	if claim.Status == models.ClaimStatusPaid {
		return nil, invalid("claim_id", ReasonClaimSettled)
	}
	if in.Amount.GreaterThan(claim.OutstandingAmount) {
		return nil, invalid("amount", ReasonExceedsBalance)
	}

	claimBefore := claim.Snapshot()
	statusBefore := claim.Status
	now := time.Now()

	payment := &models.Payment{
		ClaimID:            claim.ID,
		PatientID:          claim.PatientID,
		Type:               models.PaymentTypePayment,
		Amount:             in.Amount,
		PaymentDate:        in.Date,
		Method:             in.Method,
		ReferenceNumber:    in.ReferenceNumber,
		AdjustmentAmount:   in.AdjustmentAmount,
		AdjustmentReason:   in.AdjustmentReason,
		PostedBy:           in.ActorID,
		PostedAt:           now,
		Status:             models.PaymentStatusPosted,
		ClaimStatusBefore:  statusBefore,
		EraPaymentDetailID: in.EraPaymentDetailID,
	}
	if err := tx.WithSavepoint("payment_record", func() error {
		return repos.Payment.Create(ctx, payment)
	}); err != nil {
		return nil, err
	}

	if err := tx.WithSavepoint("claim_update", func() error {
		claim.PaidAmount = claim.PaidAmount.Add(in.Amount)
		claim.OutstandingAmount = claim.TotalAmount.Sub(claim.PaidAmount)
		if err := statemachine.NewClaimFSM(claim).ApplyPayment(ctx); err != nil {
			return invalid("claim_id", err.Error())
		}
		return repos.Claim.UpdateBalances(ctx, claim)
	}); err != nil {
		return nil, err
	}

	if err := tx.WithSavepoint("account_update", func() error {
		account.TotalBalance = account.TotalBalance.Sub(in.Amount)
		paidOn := in.Date
		account.LastPaymentAt = &paidOn
		if account.TotalBalance.IsNegative() {
			logger.Warn("[PaymentPoster] Account balance below zero", "patient_id", account.PatientID, "balance", account.TotalBalance.String())
		}
		return repos.Account.UpdateBalance(ctx, account)
	}); err != nil {
		return nil, err
	}

	if err := tx.WithSavepoint("audit", func() error {
		_, err := p.audit.Record(ctx, repos.Audit, AuditRecord{
			Table:     tableClaims,
			EntityID:  claim.ID,
			Action:    models.AuditActionPaymentPost,
			OldValues: claimBefore,
			NewValues: mergeValues(claim.Snapshot(), map[string]any{
				"payment_id":     payment.ID,
				"payment_amount": in.Amount.StringFixed(2),
			}),
			ActorID: in.ActorID,
		})
		return err
	}); err != nil {
		return nil, err
	}

	return &PostPaymentResult{
		PaymentID:            payment.ID,
		ClaimID:              claim.ID,
		PaymentAmount:        in.Amount,
		NewPaidAmount:        claim.PaidAmount,
		NewOutstandingAmount: claim.OutstandingAmount,
		NewStatus:            claim.Status,
	}, nil
}

func postedEvent(res *PostPaymentResult, patientID uint, batchID *uint) events.Event {
	return events.New(events.TypePaymentPosted, accountLockKey(patientID), events.PaymentPosted{
		PaymentID:      res.PaymentID,
		ClaimID:        res.ClaimID,
		PatientID:      patientID,
		Amount:         res.PaymentAmount,
		NewOutstanding: res.NewOutstandingAmount,
		NewStatus:      res.NewStatus,
		BatchID:        batchID,
	})
}
