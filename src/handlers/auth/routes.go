package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/cryptvault/api/src/config"
	"github.com/cryptvault/api/src/middleware/logic"
)

// RegisterRoutes wires the account lifecycle endpoints onto rg. Register
// and Login sit behind their own stricter rate limiter, separate from the
// general per-IP limiter applied to the rest of the API, since credential
// endpoints are the highest-value brute-force target.
func RegisterRoutes(rg *gin.RouterGroup, h *Handler, sessionAuth gin.HandlerFunc, csrf gin.HandlerFunc) {
	authLimiter := logic.NewRateLimiter(&config.Config{RateLimitPerMin: 10})

	auth := rg.Group("/auth")
	auth.POST("/register", authLimiter.Middleware(), h.Register)
	auth.POST("/login", authLimiter.Middleware(), h.Login)

	protected := auth.Group("")
	protected.Use(sessionAuth, csrf)
	protected.POST("/logout", h.Logout)
	protected.POST("/change-password", h.ChangePassword)
}
