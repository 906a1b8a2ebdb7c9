package services

import (
	"github.com/sjperalta/rcm-ledger/internal/config"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/txn"
)

// Services holds all service instances
type Services struct {
	Poster         *PaymentPoster
	Batch          *BatchProcessor
	Reversal       *ReversalService
	Transfer       *TransferService
	Reconciliation *ReconciliationService
	Audit          *AuditService
	Query          *QueryService
}

// NewServices creates all service instances. repos is bound to the root
// handle and serves reads; writes go through txm.
func NewServices(repos *repository.Repositories, txm *txn.Manager, publisher events.Publisher, cfg *config.Config) *Services {
	auditSvc := NewAuditService(repos.Audit)
	poster := NewPaymentPoster(txm, auditSvc, publisher)

	batchDefaults := BatchOptions{}
	if cfg != nil {
		batchDefaults = BatchOptions{
			BatchSize:       cfg.BatchSize,
			ItemTimeout:     cfg.BatchItemTimeout,
			InterBatchDelay: cfg.BatchYield,
		}
	}

	return &Services{
		Poster:         poster,
		Batch:          NewBatchProcessor(txm, poster, auditSvc, publisher, batchDefaults),
		Reversal:       NewReversalService(txm, auditSvc, publisher),
		Transfer:       NewTransferService(txm, auditSvc, publisher),
		Reconciliation: NewReconciliationService(repos),
		Audit:          auditSvc,
		Query:          NewQueryService(repos),
	}
}
