// Package system exposes the health-check endpoint reporting dependency
// reachability, mirroring the teacher's health handler.
package system

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthChecker is implemented by dependencies that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health reports whether the database and Redis are reachable. Returns 503
// if either dependency fails its probe.
func Health(db HealthChecker, redis HealthChecker, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dependencies := gin.H{}
		healthy := true

		if err := db.HealthCheck(ctx); err != nil {
			logger.WithError(err).Error("database health check failed")
			dependencies["database"] = "unhealthy"
			healthy = false
		} else {
			dependencies["database"] = "ok"
		}

		if err := redis.HealthCheck(ctx); err != nil {
			logger.WithError(err).Error("redis health check failed")
			dependencies["redis"] = "unhealthy"
			healthy = false
		} else {
			dependencies["redis"] = "ok"
		}

		status := gin.H{
			"status":       "ok",
			"timestamp":    time.Now().Format(time.RFC3339),
			"service":      "cryptvault-api",
			"dependencies": dependencies,
		}

		if !healthy {
			status["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}

		c.JSON(http.StatusOK, status)
	}
}
