package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cryptvault/api/src/session"
)

var csrfSafeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRF enforces a double-submit token on unsafe methods: the header value
// must match the cookie value, and the token must still be a live entry in
// the KV store (IssueCSRF/ValidateCSRF).
func CSRF(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if csrfSafeMethods[c.Request.Method] {
			c.Next()
			return
		}

		cookieToken, err := c.Cookie(session.CSRFCookieName)
		if err != nil || cookieToken == "" {
			abortCSRF(c)
			return
		}
		headerToken := c.GetHeader("X-CSRF-Token")
		if headerToken == "" || subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
			abortCSRF(c)
			return
		}

		ok, err := store.ValidateCSRF(c.Request.Context(), cookieToken)
		if err != nil || !ok {
			abortCSRF(c)
			return
		}

		c.Next()
	}
}

func abortCSRF(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or missing CSRF token"})
}
