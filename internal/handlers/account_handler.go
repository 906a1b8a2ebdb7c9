package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/middleware"
	"github.com/sjperalta/rcm-ledger/internal/services"
)

type AccountHandler struct {
	transfer       *services.TransferService
	reconciliation *services.ReconciliationService
	query          *services.QueryService
}

func NewAccountHandler(transfer *services.TransferService, reconciliation *services.ReconciliationService, query *services.QueryService) *AccountHandler {
	return &AccountHandler{transfer: transfer, reconciliation: reconciliation, query: query}
}

// TransferRequest is the body of POST /accounts/transfers
type TransferRequest struct {
	FromPatientID uint            `json:"from_patient_id" binding:"required"`
	ToPatientID   uint            `json:"to_patient_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

func (h *AccountHandler) Show(c *gin.Context) {
	patientID, ok := paramID(c, "patient_id")
	if !ok {
		return
	}

	account, err := h.query.Account(c.Request.Context(), patientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// Transfer moves balance between two patient accounts
func (h *AccountHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := BindNestedOrFlat(c, "transfer", &req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.transfer.Transfer(c.Request.Context(), services.TransferRequest{
		FromPatientID: req.FromPatientID,
		ToPatientID:   req.ToPatientID,
		Amount:        req.Amount,
		ActorID:       middleware.ActorID(c),
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": res})
}

// Reconcile compares one account's balance with its claims
func (h *AccountHandler) Reconcile(c *gin.Context) {
	patientID, ok := paramID(c, "patient_id")
	if !ok {
		return
	}

	rec, err := h.reconciliation.ReconcileAccount(c.Request.Context(), patientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ReconcileAll checks every account and claim
func (h *AccountHandler) ReconcileAll(c *gin.Context) {
	report, err := h.reconciliation.ReconcileAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
