package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/rcm-ledger/internal/middleware"
	"github.com/sjperalta/rcm-ledger/internal/services"
)

type BatchHandler struct {
	processor *services.BatchProcessor
	query     *services.QueryService
}

func NewBatchHandler(processor *services.BatchProcessor, query *services.QueryService) *BatchHandler {
	return &BatchHandler{processor: processor, query: query}
}

type BatchItemRequest struct {
	ClaimID          uint            `json:"claim_id"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	AdjustmentReason string          `json:"adjustment_reason"`
	ReferenceNumber  string          `json:"reference_number"`
	PaymentDate      string          `json:"payment_date"`
	Method           string          `json:"method"`
}

// CreateBatchRequest is the body of POST /era/batches
type CreateBatchRequest struct {
	FileName    string             `json:"file_name"`
	PayerName   string             `json:"payer_name"`
	CheckNumber string             `json:"check_number"`
	AutoPost    bool               `json:"auto_post"`
	BatchSize   int                `json:"batch_size" binding:"omitempty,min=1,max=500"`
	Items       []BatchItemRequest `json:"items" binding:"required,min=1"`
}

// ToBatchRequest converts the wire body, rejecting malformed dates
func (r *CreateBatchRequest) ToBatchRequest(actorID uint) (services.BatchRequest, error) {
	items := make([]services.BatchItem, 0, len(r.Items))
	for _, it := range r.Items {
		date, err := parseDate(it.PaymentDate)
		if err != nil {
			return services.BatchRequest{}, err
		}
		items = append(items, services.BatchItem{
			ClaimID:          it.ClaimID,
			PaidAmount:       it.PaidAmount,
			AdjustmentAmount: it.AdjustmentAmount,
			AdjustmentReason: it.AdjustmentReason,
			ReferenceNumber:  it.ReferenceNumber,
			PaymentDate:      date,
			Method:           it.Method,
		})
	}

	return services.BatchRequest{
		FileName:    r.FileName,
		PayerName:   r.PayerName,
		CheckNumber: r.CheckNumber,
		ActorID:     actorID,
		Items:       items,
		Options:     services.BatchOptions{AutoPost: r.AutoPost, BatchSize: r.BatchSize},
	}, nil
}

// Create processes an ERA batch. Line failures are reported in the body;
// the response is 200 even when some or all lines failed.
func (h *BatchHandler) Create(c *gin.Context) {
	var req CreateBatchRequest
	if err := BindNestedOrFlat(c, "batch", &req); err != nil {
		badRequest(c, err)
		return
	}
	batchReq, err := req.ToBatchRequest(middleware.ActorID(c))
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.processor.ProcessBatch(c.Request.Context(), batchReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Show returns a stored batch and its lines
func (h *BatchHandler) Show(c *gin.Context) {
	batchID, ok := paramID(c, "batch_id")
	if !ok {
		return
	}

	report, err := h.query.Batch(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
