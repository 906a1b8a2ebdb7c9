package handlers

import "github.com/gin-gonic/gin"

// Register mounts the ledger API on api (normally /api/v1)
func (h *Handlers) Register(api *gin.RouterGroup) {
	api.GET("/health", h.Health.Index)

	claims := api.Group("/claims")
	{
		claims.GET("", h.Claim.Index)
		claims.GET("/:claim_id/payments", h.Payment.Index)
		claims.POST("/:claim_id/payments", h.Payment.Create)
	}

	api.POST("/payments/:payment_id/reverse", h.Payment.Reverse)

	era := api.Group("/era/batches")
	{
		era.POST("", h.Batch.Create)
		era.GET("/:batch_id", h.Batch.Show)
	}

	accounts := api.Group("/accounts")
	{
		accounts.POST("/transfers", h.Account.Transfer)
		accounts.GET("/:patient_id", h.Account.Show)
		accounts.GET("/:patient_id/reconciliation", h.Account.Reconcile)
	}

	api.GET("/reconciliation", h.Account.ReconcileAll)
	api.GET("/audit", h.Audit.Index)
	api.GET("/jobs/status", h.Job.Status)
}
