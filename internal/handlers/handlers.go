package handlers

import (
	"github.com/sjperalta/rcm-ledger/internal/jobs"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"gorm.io/gorm"
)

// Handlers holds all handler instances
type Handlers struct {
	Health  *HealthHandler
	Claim   *ClaimHandler
	Payment *PaymentHandler
	Batch   *BatchHandler
	Account *AccountHandler
	Audit   *AuditHandler
	Job     *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, db *gorm.DB, worker *jobs.Worker) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(db),
		Claim:   NewClaimHandler(svcs.Query),
		Payment: NewPaymentHandler(svcs.Poster, svcs.Reversal, svcs.Query),
		Batch:   NewBatchHandler(svcs.Batch, svcs.Query),
		Account: NewAccountHandler(svcs.Transfer, svcs.Reconciliation, svcs.Query),
		Audit:   NewAuditHandler(svcs.Audit),
		Job:     NewJobHandler(worker),
	}
}
