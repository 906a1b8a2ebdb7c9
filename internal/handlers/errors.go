package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

// statusFor maps service error classes to HTTP status codes
func statusFor(err error) int {
	var timeout *txn.TimeoutError
	switch {
	case services.IsValidation(err):
		return http.StatusUnprocessableEntity
	case services.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		// a lock wait means another writer holds the row; the caller may retry
		if timeout.Resource != "" {
			return http.StatusConflict
		}
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}. Infrastructure failures are
// logged and their details kept out of the response.
func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	body := gin.H{"error": err.Error()}

	var vErr *services.ValidationError
	if errors.As(err, &vErr) && vErr.Field != "" {
		body["field"] = vErr.Field
	}
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Error("[Handlers] Request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(code, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// paramID parses a positive uint path parameter
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
