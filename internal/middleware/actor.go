package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set by the middleware in this package
const (
	ActorIDKey   = "userID"
	RequestIDKey = "requestID"
)

// Header names
const (
	ActorHeader     = "X-Actor-ID"
	RequestIDHeader = "X-Request-ID"
)

// Actor reads the acting user id from X-Actor-ID. Authentication happens
// upstream; the ledger only records who acted. Mutating requests without a
// usable id are rejected.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ActorHeader)
		if raw == "" {
			if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": ActorHeader + " header is required",
			})
			return
		}

		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid " + ActorHeader + " header",
			})
			return
		}

		c.Set(ActorIDKey, uint(id))
		c.Next()
	}
}

// RequestID propagates X-Request-ID, generating one when the caller sent none
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// ActorID returns the id stored by Actor, or 0
func ActorID(c *gin.Context) uint {
	if v, ok := c.Get(ActorIDKey); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}
