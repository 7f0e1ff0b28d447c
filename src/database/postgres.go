package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/config"
)

// DB holds the database connection pool.
type DB struct {
	*sql.DB
	logger *logrus.Logger
}

// NewPostgresConnection opens the pool and fails fast if it cannot be
// reached within 10 seconds.
func NewPostgresConnection(cfg *config.Config, logger *logrus.Logger) (*DB, error) {
	logger.Info("connecting to PostgreSQL")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	if d, err := time.ParseDuration(cfg.DBConnMaxLifetime); err == nil {
		db.SetConnMaxLifetime(d)
	} else {
		logger.Warnf("invalid DBConnMaxLifetime %q, using default 5m", cfg.DBConnMaxLifetime)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTime); err == nil {
		db.SetConnMaxIdleTime(d)
	} else {
		logger.Warnf("invalid DBConnMaxIdleTime %q, using default 10m", cfg.DBConnMaxIdleTime)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database (fail-fast): %w", err)
	}

	logger.Info("PostgreSQL connection established")

	return &DB{DB: db, logger: logger}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	db.logger.Info("closing PostgreSQL connection")
	return db.DB.Close()
}

// HealthCheck pings the database; used by the /healthz handler.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		db.logger.WithError(err).Error("PostgreSQL health check failed")
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
