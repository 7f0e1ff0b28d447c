package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConcurrencyGate bounds how many upload/download requests are in flight at
// the HTTP layer, rejecting with 429 once full rather than queuing
// indefinitely. It sits in front of the coordinator/streamer's own finer
// grained per-chunk buffering (C6/C8) — this gate caps concurrent
// requests, theirs paces concurrent chunk decryption within a request.
func ConcurrencyGate(slots int) gin.HandlerFunc {
	permits := make(chan struct{}, slots)
	return func(c *gin.Context) {
		select {
		case permits <- struct{}{}:
			defer func() { <-permits }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent transfers, try again shortly"})
		}
	}
}
