package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key and response header name carrying the
// per-request correlation id.
const RequestIDKey = "request_id"
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a request id — the inbound header's value if present,
// otherwise a fresh UUID — and attaches it to the context and response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}
