package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/rcm-ledger/internal/jobs"
)

type JobHandler struct {
	worker *jobs.Worker
}

func NewJobHandler(worker *jobs.Worker) *JobHandler {
	return &JobHandler{worker: worker}
}

// Status returns the hook worker's counters
func (h *JobHandler) Status(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusOK, jobs.WorkerStats{})
		return
	}
	c.JSON(http.StatusOK, h.worker.GetStats())
}
