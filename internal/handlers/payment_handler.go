package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/middleware"
	"github.com/sjperalta/rcm-ledger/internal/services"
)

type PaymentHandler struct {
	poster   *services.PaymentPoster
	reversal *services.ReversalService
	query    *services.QueryService
}

func NewPaymentHandler(poster *services.PaymentPoster, reversal *services.ReversalService, query *services.QueryService) *PaymentHandler {
	return &PaymentHandler{poster: poster, reversal: reversal, query: query}
}

// PostPaymentRequest is the body of POST /claims/:claim_id/payments.
// Amounts may be sent as JSON numbers or strings.
type PostPaymentRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentDate      string          `json:"payment_date"`
	Method           string          `json:"method" binding:"required"`
	ReferenceNumber  string          `json:"reference_number"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	AdjustmentReason string          `json:"adjustment_reason"`
}

// parseDate accepts YYYY-MM-DD; empty means today
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("payment_date must be YYYY-MM-DD")
	}
	return d, nil
}

// Create posts one payment against a claim
func (h *PaymentHandler) Create(c *gin.Context) {
	claimID, ok := paramID(c, "claim_id")
	if !ok {
		return
	}

	var req PostPaymentRequest
	if err := BindNestedOrFlat(c, "payment", &req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(req.PaymentDate)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.poster.Post(c.Request.Context(), services.PostPaymentRequest{
		ClaimID:          claimID,
		Amount:           req.Amount,
		Date:             date,
		Method:           req.Method,
		ReferenceNumber:  req.ReferenceNumber,
		AdjustmentAmount: req.AdjustmentAmount,
		AdjustmentReason: req.AdjustmentReason,
		ActorID:          middleware.ActorID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": res})
}

// Index lists the claim with every payment and reversal row applied to it
func (h *PaymentHandler) Index(c *gin.Context) {
	claimID, ok := paramID(c, "claim_id")
	if !ok {
		return
	}

	ledger, err := h.query.ClaimLedger(c.Request.Context(), claimID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

// ReversePaymentRequest is the body of POST /payments/:payment_id/reverse
type ReversePaymentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reverse undoes a posted payment
func (h *PaymentHandler) Reverse(c *gin.Context) {
	paymentID, ok := paramID(c, "payment_id")
	if !ok {
		return
	}

	var req ReversePaymentRequest
	if err := BindNestedOrFlat(c, "reversal", &req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.reversal.Reverse(c.Request.Context(), services.ReverseRequest{
		PaymentID: paymentID,
		ActorID:   middleware.ActorID(c),
		Reason:    req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reversal": res})
}
