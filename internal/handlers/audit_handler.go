package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/services"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// Index lists audit entries. With table_name and entity_id it returns one
// entity's full history, oldest first.
func (h *AuditHandler) Index(c *gin.Context) {
	table := c.Query("table_name")
	if raw := c.Query("entity_id"); raw != "" && table != "" {
		entityID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity_id"})
			return
		}
		entries, err := h.auditService.History(c.Request.Context(), table, uint(entityID))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit_entries": entries})
		return
	}

	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	query.SortDir = c.DefaultQuery("sort_dir", "desc")
	query.Filters["table_name"] = table
	query.Filters["action"] = c.Query("action")

	entries, total, err := h.auditService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audit_entries": entries,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.PerPage,
			"total":       total,
			"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
		},
	})
}
