package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/session"
)

// UserIDKey and DEKKey are the gin context keys SessionAuth populates for
// every downstream handler in a protected route group.
const UserIDKey = "user_id"
const DEKKey = "user_dek"

// SessionAuth resolves the signed session cookie into a user id and
// plaintext DEK, rejecting the request with 401 if the cookie is absent,
// malformed, or the session has expired/been destroyed.
func SessionAuth(store *session.Store, signingKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(session.CookieName)
		if err != nil || raw == "" {
			abortUnauthenticated(c)
			return
		}

		sessionID, subkey, err := session.DecodeCookie(signingKey, raw)
		if err != nil {
			abortUnauthenticated(c)
			return
		}

		userID, dekPlain, err := store.Resolve(c.Request.Context(), sessionID, subkey)
		if err != nil {
			abortUnauthenticated(c)
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(DEKKey, dekPlain)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context) {
	appErr := apperr.Authentication("authentication required")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": appErr.Message})
}
