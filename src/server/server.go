// Package server assembles the vault's HTTP server: database and Redis
// connections, the KEK registry, the quota ledger, the upload/download
// coordinators, the background scheduler, and the full middleware chain.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/config"
	"github.com/cryptvault/api/src/database"
	"github.com/cryptvault/api/src/download"
	authh "github.com/cryptvault/api/src/handlers/auth"
	filesh "github.com/cryptvault/api/src/handlers/files"
	foldersh "github.com/cryptvault/api/src/handlers/folders"
	"github.com/cryptvault/api/src/kek"
	"github.com/cryptvault/api/src/metrics"
	"github.com/cryptvault/api/src/middleware"
	"github.com/cryptvault/api/src/quota"
	files_repo "github.com/cryptvault/api/src/repository/files"
	folders_repo "github.com/cryptvault/api/src/repository/folders"
	users_repo "github.com/cryptvault/api/src/repository/users"
	"github.com/cryptvault/api/src/scheduler"
	"github.com/cryptvault/api/src/session"
	"github.com/cryptvault/api/src/sweeper"
	"github.com/cryptvault/api/src/upload"
)

// Server holds every dependency the vault's HTTP surface and background
// workers need.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	router *gin.Engine

	db    *database.DB
	dbx   *sqlx.DB
	redis *redis.Client

	kekRegistry *kek.Registry
	ledger      *quota.Ledger
	sessions    *session.Store
	metrics     *metrics.Metrics

	users   *users_repo.UserRepository
	files   *files_repo.FileRepository
	folders *folders_repo.FolderRepository

	coordinator *upload.Coordinator
	streamer    *download.Streamer
	sweeperSvc  *sweeper.Sweeper

	authHandler    *authh.Handler
	filesHandler   *filesh.Handler
	foldersHandler *foldersh.Handler
}

// New wires every dependency and registers routes, failing fast on any
// connectivity or seeding error.
func New(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	if err := s.initDatabase(); err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	if err := s.initCrypto(); err != nil {
		return nil, fmt.Errorf("crypto init: %w", err)
	}
	s.initRepositories()
	s.initDomain()
	s.initHandlers()
	s.initRouter()
	s.registerRoutes()

	if err := s.startScheduler(); err != nil {
		return nil, fmt.Errorf("scheduler init: %w", err)
	}

	return s, nil
}

func (s *Server) initDatabase() error {
	var err error
	s.db, err = database.NewPostgresConnection(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.dbx = sqlx.NewDb(s.db.DB, "postgres")

	s.redis, err = database.NewRedisConnection(s.cfg, s.logger)
	return err
}

func (s *Server) initCrypto() error {
	s.kekRegistry = kek.New(s.dbx, s.cfg.MasterKey, s.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.kekRegistry.EnsureSeed(ctx)
}

func (s *Server) initRepositories() {
	s.users = users_repo.NewUserRepository(s.dbx, s.logger)
	s.files = files_repo.NewFileRepository(s.dbx, s.logger)
	s.folders = folders_repo.NewFolderRepository(s.dbx, s.logger)
	s.metrics = metrics.NewMetrics()
	s.ledger = quota.New(s.dbx, s.metrics, s.logger)
	s.sessions = session.New(s.redis, s.logger)
}

func (s *Server) initDomain() {
	s.coordinator = upload.New(
		s.redis, s.ledger, s.kekRegistry, s.files, s.folders,
		s.cfg.StagingDir, s.cfg.ChunkSizeBytes, s.cfg.MaxFileSizeBytes,
		s.cfg.UploadBufferSlots, s.metrics, s.logger,
	)
	s.streamer = download.New(s.redis, s.kekRegistry, s.files, s.cfg.StagingDir, s.cfg.DownloadBufferSlots, s.metrics, s.logger)
	s.sweeperSvc = sweeper.New(s.redis, s.cfg.StagingDir, s.metrics, s.logger)
}

func (s *Server) initHandlers() {
	s.authHandler = authh.NewHandler(s.cfg, s.users, s.sessions, s.logger)
	s.filesHandler = filesh.NewHandler(s.coordinator, s.streamer, s.files, s.ledger, s.logger)
	s.foldersHandler = foldersh.NewHandler(s.folders, s.logger)
}

func (s *Server) initRouter() {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(
		middleware.PanicRecovery(s.logger),
		middleware.RequestID(),
		middleware.SecurityHeaders(),
		middleware.CORS(s.cfg, s.logger),
		middleware.AuditLogger(s.logger),
	)
}

func (s *Server) startScheduler() error {
	return scheduler.Start(s.sweeperSvc, s.ledger, s.users, s.logger)
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then drains
// in-flight requests before returning.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         "0.0.0.0:" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.UploadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.UploadTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Close releases the database and crypto material held by the server.
func (s *Server) Close() {
	s.kekRegistry.Wipe()
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}
