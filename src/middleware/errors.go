package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:     http.StatusBadRequest,
	apperr.KindAuthentication: http.StatusUnauthorized,
	apperr.KindAuthorization:  http.StatusForbidden,
	apperr.KindNotFound:       http.StatusNotFound,
	apperr.KindConflict:       http.StatusConflict,
	apperr.KindRateLimit:      http.StatusTooManyRequests,
	apperr.KindMultipart:      http.StatusBadRequest,
	apperr.KindCrypto:         http.StatusInternalServerError,
	apperr.KindStorage:        http.StatusInternalServerError,
	apperr.KindInternal:       http.StatusInternalServerError,
}

// ErrorHandler is the single place an *apperr.Error becomes an HTTP
// response. Handlers call c.Error(err) and return; nothing downstream of a
// handler formats a response body directly.
func ErrorHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperr.As(err)
		if !ok {
			appErr = apperr.Internal("internal server error", err)
		}

		status, ok := statusByKind[appErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}

		if status >= http.StatusInternalServerError {
			logger.WithError(appErr).WithField("request_id", c.GetString(RequestIDKey)).Error("request failed")
		}

		c.JSON(status, gin.H{"error": appErr.Message})
	}
}
