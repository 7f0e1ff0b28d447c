// Package sweeper implements the expiry sweep: a periodic scan of stale
// upload sessions that cleans up staged chunks and KV state without ever
// touching the quota ledger, since quota is never debited until finalize.
package sweeper

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/metrics"
)

const (
	sessionTTL       = 24 * time.Hour
	scanPageSize     = 100
	cleanupBatchSize = 50
)

// session mirrors the subset of upload.Session fields the sweeper needs to
// decode. It is declared independently rather than importing the upload
// package to avoid a dependency cycle (upload does not need to know about
// the sweeper that cleans up after it).
type session struct {
	UploadID       string
	UserID         string
	Filename       string
	TotalBytes     int64
	TotalChunks    int
	ChunksReceived int
	ChunkNonces    [][]byte
	BytesWritten   int64
	ExpectedHash   string
	CreatedAt      time.Time
}

// Sweeper holds the Redis client and staging directory the sweep operates
// against.
type Sweeper struct {
	redis      *redis.Client
	stagingDir string
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func New(redisClient *redis.Client, stagingDir string, m *metrics.Metrics, logger *logrus.Logger) *Sweeper {
	return &Sweeper{redis: redisClient, stagingDir: stagingDir, metrics: m, logger: logger}
}

// Run scans every upload:* key via cursor-based SCAN, removes sessions
// older than sessionTTL, and reports how many it swept.
func (s *Sweeper) Run(ctx context.Context) (swept int, err error) {
	var cursor uint64
	for {
		keys, nextCursor, err := s.redis.Scan(ctx, cursor, "upload:*", scanPageSize).Result()
		if err != nil {
			return swept, fmt.Errorf("sweeper: scan: %w", err)
		}

		for _, key := range keys {
			expired, sweepErr := s.sweepIfExpired(ctx, key)
			if sweepErr != nil {
				s.logger.WithError(sweepErr).WithField("key", key).Warn("sweeper: failed to process upload key")
				continue
			}
			if expired {
				swept++
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	if swept > 0 {
		s.logger.WithField("count", swept).Info("sweeper: expired uploads cleaned up")
		if s.metrics != nil {
			s.metrics.UploadsExpired(swept)
		}
	}
	return swept, nil
}

func (s *Sweeper) sweepIfExpired(ctx context.Context, key string) (bool, error) {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", key, err)
	}

	var sess session
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sess); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}

	if time.Since(sess.CreatedAt) <= sessionTTL {
		return false, nil
	}

	s.removeStagedChunks(sess)

	lockKey := "user_uploading:" + sess.UserID
	if err := s.redis.Del(ctx, key, lockKey).Err(); err != nil {
		return false, fmt.Errorf("delete kv state for %s: %w", key, err)
	}

	return true, nil
}

func (s *Sweeper) removeStagedChunks(sess session) {
	for start := 0; start < sess.TotalChunks; start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > sess.TotalChunks {
			end = sess.TotalChunks
		}
		for i := start; i < end; i++ {
			path := filepath.Join(s.stagingDir, fmt.Sprintf("%s_%d.enc", sess.UploadID, i))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("path", path).Warn("sweeper: failed to remove staged chunk")
			}
		}
	}
}
