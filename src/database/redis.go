package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/config"
)

// NewRedisConnection parses cfg.RedisURL, opens a client, and fails fast if
// it cannot be reached within 5 seconds. Redis backs the session store
// (C5), upload/download KV state (C6/C8/C9), and CSRF tokens.
func NewRedisConnection(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	logger.Info("connecting to Redis")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis (fail-fast): %w", err)
	}

	logger.Info("Redis connection established")
	return client, nil
}

// RedisHealthCheck pings the client; used by the /healthz handler.
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// RedisHealthChecker adapts a *redis.Client to the handlers package's
// HealthChecker interface.
type RedisHealthChecker struct {
	Client *redis.Client
}

func (r RedisHealthChecker) HealthCheck(ctx context.Context) error {
	return RedisHealthCheck(ctx, r.Client)
}
