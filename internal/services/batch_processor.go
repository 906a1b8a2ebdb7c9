package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// BatchItem is one already-parsed remittance line
type BatchItem struct {
	ClaimID          uint            `json:"claim_id"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	AdjustmentReason string          `json:"adjustment_reason"`
	ReferenceNumber  string          `json:"reference_number"`
	PaymentDate      time.Time       `json:"payment_date"`
	Method           string          `json:"method"`
}

// BatchOptions tunes one batch run. Zero values fall back to the processor defaults.
// ItemTimeout is checked between a line's steps; a statement already running
// is never interrupted.
type BatchOptions struct {
	AutoPost        bool
	BatchSize       int
	ItemTimeout     time.Duration
	InterBatchDelay time.Duration
}

// BatchRequest describes one ERA file to import
type BatchRequest struct {
	FileName    string
	PayerName   string
	CheckNumber string
	ActorID     uint
	Items       []BatchItem
	Options     BatchOptions
}

// Outcome summarizes a batch run
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomePartiallySucceeded Outcome = "partially_succeeded"
	OutcomeFailed             Outcome = "failed"
)

// ItemResult is the per-line ledger returned to the caller
type ItemResult struct {
	Index           int    `json:"index"`
	Success         bool   `json:"success"`
	PaymentDetailID uint   `json:"payment_detail_id,omitempty"`
	PaymentID       uint   `json:"payment_id,omitempty"`
	AutoPosted      bool   `json:"auto_posted"`
	Error           string `json:"error,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
}

// BatchResult reports what a batch run did
type BatchResult struct {
	BatchID         uint         `json:"batch_id"`
	ProcessedCount  int          `json:"processed_count"`
	AutoPostedCount int          `json:"auto_posted_count"`
	FailedCount     int          `json:"failed_count"`
	Results         []ItemResult `json:"results"`
	Outcome         Outcome      `json:"outcome"`
}

// BatchProcessor applies many remittance lines in one transaction, isolating
// each line behind its own savepoint.
type BatchProcessor struct {
	txm       *txn.Manager
	poster    *PaymentPoster
	audit     *AuditService
	publisher events.Publisher
	defaults  BatchOptions
}

func NewBatchProcessor(txm *txn.Manager, poster *PaymentPoster, audit *AuditService, publisher events.Publisher, defaults BatchOptions) *BatchProcessor {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	if defaults.BatchSize < 1 {
		defaults.BatchSize = 10
	}
	if defaults.ItemTimeout <= 0 {
		defaults.ItemTimeout = 10 * time.Second
	}
	return &BatchProcessor{txm: txm, poster: poster, audit: audit, publisher: publisher, defaults: defaults}
}

func (b *BatchProcessor) withDefaults(opts BatchOptions) BatchOptions {
	if opts.BatchSize < 1 {
		opts.BatchSize = b.defaults.BatchSize
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = b.defaults.ItemTimeout
	}
	if opts.InterBatchDelay <= 0 {
		opts.InterBatchDelay = b.defaults.InterBatchDelay
	}
	return opts
}

// ProcessBatch records every line and, with AutoPost, posts each paid line.
// A failing line is rolled back to its savepoint and reported; the rest commit.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Items) == 0 {
		return nil, invalid("items", "batch has no items")
	}
	opts := b.withDefaults(req.Options)

	var result *BatchResult
	err := b.txm.Run(ctx, b.txm.BatchOptions("process_batch"), func(tx *txn.Tx) error {
		txCtx := tx.Context()
		repos := repository.NewRepositories(tx.DB())

		batch := &models.EraBatch{
			FileName:    req.FileName,
			PayerName:   req.PayerName,
			CheckNumber: optionalString(req.CheckNumber),
			Status:      models.EraBatchStatusProcessing,
			TotalItems:  len(req.Items),
			CreatedBy:   req.ActorID,
		}
		if err := repos.Batch.CreateBatch(txCtx, batch); err != nil {
			return err
		}

		res := &BatchResult{BatchID: batch.ID, Results: make([]ItemResult, 0, len(req.Items))}
		var posted []events.Event

		for start := 0; start < len(req.Items); start += opts.BatchSize {
			end := min(start+opts.BatchSize, len(req.Items))
			for i := start; i < end; i++ {
				item, ev, err := b.processItem(tx, batch.ID, i, req.Items[i], req.ActorID, opts)
				if err != nil {
					return err
				}
				res.Results = append(res.Results, item)
				if ev != nil {
					posted = append(posted, *ev)
				}
			}

			if end < len(req.Items) && opts.InterBatchDelay > 0 {
				select {
				case <-txCtx.Done():
					return txCtx.Err()
				case <-time.After(opts.InterBatchDelay):
				}
			}
		}

		for _, item := range res.Results {
			switch {
			case !item.Success:
				res.FailedCount++
			case item.AutoPosted:
				res.ProcessedCount++
				res.AutoPostedCount++
			default:
				res.ProcessedCount++
			}
		}
		res.Outcome = outcomeOf(res)

		if err := b.finishBatch(txCtx, repos, batch, res, req.ActorID); err != nil {
			return err
		}

		for _, ev := range posted {
			publishAfterCommit(tx, b.publisher, ev)
		}
		publishAfterCommit(tx, b.publisher, events.New(events.TypeBatchProcessed, fmt.Sprintf("era_batch_%d", batch.ID), events.BatchProcessed{
			BatchID:         batch.ID,
			TotalItems:      batch.TotalItems,
			ProcessedCount:  res.ProcessedCount,
			AutoPostedCount: res.AutoPostedCount,
			FailedCount:     res.FailedCount,
			Outcome:         string(res.Outcome),
		}))

		result = res
		return nil
	})
	if err != nil {
		logger.Error("[BatchProcessor] Batch failed", "file", req.FileName, "items", len(req.Items), "error", err)
		return nil, dbError("process batch", map[string]any{"file_name": req.FileName, "items": len(req.Items)}, err)
	}

	logger.Info("[BatchProcessor] Batch processed",
		"batch_id", result.BatchID, "processed", result.ProcessedCount,
		"auto_posted", result.AutoPostedCount, "failed", result.FailedCount, "outcome", result.Outcome)
	return result, nil
}

// processItem runs one line behind savepoint payment_item_{index}. Statements
// run on the transaction context; the item deadline is checked between steps
// so an expired line is rolled back to its savepoint instead of interrupting
// a statement mid-flight. The returned event is published only if the batch
// commits. A non-nil error means the transaction can no longer be trusted.
func (b *BatchProcessor) processItem(tx *txn.Tx, batchID uint, index int, item BatchItem, actorID uint, opts BatchOptions) (ItemResult, *events.Event, error) {
	txCtx := tx.Context()
	itemCtx, cancel := context.WithTimeout(txCtx, opts.ItemTimeout)
	defer cancel()

	op := fmt.Sprintf("batch item %d", index)
	checkDeadline := func() error {
		if itemCtx.Err() != nil {
			return &txn.TimeoutError{Op: op, Timeout: opts.ItemTimeout, Err: itemCtx.Err()}
		}
		return nil
	}

	repos := repository.NewRepositories(tx.DB())
	res := ItemResult{Index: index}
	var ev *events.Event

	err := tx.WithSavepoint(fmt.Sprintf("payment_item_%d", index), func() error {
		if err := validateItem(item); err != nil {
			return err
		}
		if err := checkDeadline(); err != nil {
			return err
		}

		autoPost := opts.AutoPost && item.PaidAmount.IsPositive()

		var claim *models.Claim
		var account *models.PatientAccount
		var err error
		if autoPost {
			claim, account, err = lockClaimAndAccount(txCtx, tx, repos, "process_batch", item.ClaimID)
		} else {
			claim, err = repos.Claim.FindByID(txCtx, item.ClaimID)
			err = lookupErr("claim", item.ClaimID, err)
		}
		if err != nil {
			return err
		}
		if err := checkDeadline(); err != nil {
			return err
		}

		detail := &models.EraPaymentDetail{
			BatchID:          batchID,
			LineNumber:       index + 1,
			ClaimID:          claim.ID,
			PatientID:        claim.PatientID,
			PaidAmount:       item.PaidAmount,
			AdjustmentAmount: item.AdjustmentAmount,
			AdjustmentReason: optionalString(item.AdjustmentReason),
			ReferenceNumber:  optionalString(item.ReferenceNumber),
			Status:           models.PaymentDetailStatusPending,
		}
		if autoPost {
			detail.Status = models.PaymentDetailStatusPendingAutoPost
		}
		if err := repos.Batch.CreateDetail(txCtx, detail); err != nil {
			return err
		}
		res.PaymentDetailID = detail.ID
		if err := checkDeadline(); err != nil {
			return err
		}

		if !autoPost {
			return nil
		}

		method := item.Method
		if method == "" {
			method = models.PaymentMethodInsurance
		}
		posted, err := b.poster.apply(txCtx, tx, repos, claim, account, postInput{
			Amount:             item.PaidAmount,
			Date:               dateOnly(item.PaymentDate),
			Method:             method,
			ReferenceNumber:    optionalString(item.ReferenceNumber),
			AdjustmentAmount:   item.AdjustmentAmount,
			AdjustmentReason:   optionalString(item.AdjustmentReason),
			ActorID:            actorID,
			EraPaymentDetailID: &detail.ID,
		})
		if err != nil {
			return err
		}
		if err := repos.Batch.MarkDetailPosted(txCtx, detail, posted.PaymentID); err != nil {
			return err
		}
		if err := checkDeadline(); err != nil {
			return err
		}

		e := postedEvent(posted, claim.PatientID, &batchID)
		ev = &e
		res.PaymentID = posted.PaymentID
		res.AutoPosted = true
		return nil
	})

	if err != nil {
		if errors.Is(err, txn.ErrSavepointFailed) {
			logger.Error("[BatchProcessor] Savepoint lost, aborting batch", "batch_id", batchID, "index", index, "error", err)
			return ItemResult{}, nil, err
		}
		if txCtx.Err() != nil {
			return ItemResult{}, nil, err
		}
		logger.Warn("[BatchProcessor] Item failed", "batch_id", batchID, "index", index, "claim_id", item.ClaimID, "error", err)
		return ItemResult{Index: index, Success: false, Error: err.Error(), ErrorCode: errorCode(err)}, nil, nil
	}

	res.Success = true
	return res, ev, nil
}

func validateItem(item BatchItem) error {
	if item.ClaimID == 0 {
		return invalid("claim_id", "is required")
	}
	if item.PaidAmount.IsNegative() {
		return invalid("paid_amount", "must not be negative")
	}
	if item.Method != "" && !models.IsValidPaymentMethod(item.Method) {
		return invalid("method", "unknown payment method")
	}
	return validateAdjustment(item.AdjustmentAmount, item.AdjustmentReason)
}

func outcomeOf(res *BatchResult) Outcome {
	switch {
	case res.FailedCount == 0:
		return OutcomeSucceeded
	case res.ProcessedCount == 0:
		return OutcomeFailed
	default:
		return OutcomePartiallySucceeded
	}
}

func (b *BatchProcessor) finishBatch(ctx context.Context, repos *repository.Repositories, batch *models.EraBatch, res *BatchResult, actorID uint) error {
	before := map[string]any{
		"status":          batch.Status,
		"processed_count": batch.ProcessedCount,
		"failed_count":    batch.FailedCount,
	}

	now := time.Now()
	batch.ProcessedCount = res.ProcessedCount
	batch.AutoPostedCount = res.AutoPostedCount
	batch.FailedCount = res.FailedCount
	batch.CompletedAt = &now
	switch res.Outcome {
	case OutcomeSucceeded:
		batch.Status = models.EraBatchStatusCompleted
	case OutcomeFailed:
		batch.Status = models.EraBatchStatusFailed
	default:
		batch.Status = models.EraBatchStatusCompletedWithErrors
	}
	if err := repos.Batch.UpdateSummary(ctx, batch); err != nil {
		return err
	}

	_, err := b.audit.Record(ctx, repos.Audit, AuditRecord{
		Table:     tableEraBatches,
		EntityID:  batch.ID,
		Action:    models.AuditActionUpdate,
		OldValues: before,
		NewValues: map[string]any{
			"status":            batch.Status,
			"total_items":       batch.TotalItems,
			"processed_count":   batch.ProcessedCount,
			"auto_posted_count": batch.AutoPostedCount,
			"failed_count":      batch.FailedCount,
			"outcome":           string(res.Outcome),
		},
		ActorID: actorID,
	})
	return err
}

// errorCode classifies an error for API consumers
func errorCode(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsTimeout(err):
		return "timeout"
	default:
		return "database"
	}
}
