package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/services"
)

type ClaimHandler struct {
	query *services.QueryService
}

func NewClaimHandler(query *services.QueryService) *ClaimHandler {
	return &ClaimHandler{query: query}
}

// Index lists claims, filtered by status and patient_id
func (h *ClaimHandler) Index(c *gin.Context) {
	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.SortDir = c.Query("sort_dir")
	query.Filters["status"] = c.Query("status")
	query.Filters["patient_id"] = c.Query("patient_id")

	claims, total, err := h.query.ListClaims(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"claims": claims,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}
