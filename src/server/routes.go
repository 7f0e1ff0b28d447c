package server

import (
	"github.com/gin-gonic/gin"

	"github.com/cryptvault/api/src/database"
	authh "github.com/cryptvault/api/src/handlers/auth"
	filesh "github.com/cryptvault/api/src/handlers/files"
	foldersh "github.com/cryptvault/api/src/handlers/folders"
	systemh "github.com/cryptvault/api/src/handlers/system"
	"github.com/cryptvault/api/src/middleware"
)

// registerRoutes wires every route group onto s.router. The protected
// /api group sits behind session auth and CSRF; the upload/download
// surface additionally sits behind a concurrency gate bounding in-flight
// transfer requests.
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", systemh.Health(s.db, database.RedisHealthChecker{Client: s.redis}, s.logger))
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	authh.RegisterRoutes(
		s.router.Group(""),
		s.authHandler,
		middleware.SessionAuth(s.sessions, s.cfg.CookieSigningKey),
		middleware.CSRF(s.sessions),
	)

	api := s.router.Group("/api")
	api.Use(middleware.SessionAuth(s.sessions, s.cfg.CookieSigningKey))
	api.Use(middleware.CSRF(s.sessions))

	vault := api.Group("")
	vault.Use(middleware.ConcurrencyGate(s.cfg.UploadBufferSlots + s.cfg.DownloadBufferSlots))
	filesh.RegisterRoutes(vault, s.filesHandler)

	foldersh.RegisterRoutes(api, s.foldersHandler)
}
