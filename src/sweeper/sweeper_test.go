package sweeper

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/metrics"
)

func newTestSweeper(t *testing.T) (*Sweeper, *redis.Client, string) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	stagingDir := t.TempDir()
	return New(rdb, stagingDir, m, logger), rdb, stagingDir
}

func putSession(t *testing.T, rdb *redis.Client, uploadID, userID string, totalChunks int, createdAt time.Time) {
	t.Helper()
	sess := session{
		UploadID:    uploadID,
		UserID:      userID,
		TotalChunks: totalChunks,
		ChunkNonces: make([][]byte, totalChunks),
		CreatedAt:   createdAt,
	}
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(sess))
	require.NoError(t, rdb.Set(context.Background(), "upload:"+userID+":"+uploadID, buf.Bytes(), 0).Err())
}

func TestRunSkipsFreshSessions(t *testing.T) {
	sweeper, rdb, _ := newTestSweeper(t)
	putSession(t, rdb, "upload-1", "user-1", 2, time.Now())

	swept, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	exists, err := rdb.Exists(context.Background(), "upload:user-1:upload-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRunRemovesExpiredSessionsAndStagedChunks(t *testing.T) {
	sweeper, rdb, stagingDir := newTestSweeper(t)
	putSession(t, rdb, "upload-1", "user-1", 2, time.Now().Add(-25*time.Hour))
	require.NoError(t, rdb.Set(context.Background(), "user_uploading:user-1", "1", 0).Err())

	for i := 0; i < 2; i++ {
		path := filepath.Join(stagingDir, "upload-1_"+string(rune('0'+i))+".enc")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}

	swept, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	exists, err := rdb.Exists(context.Background(), "upload:user-1:upload-1", "user_uploading:user-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunIgnoresNonUploadKeys(t *testing.T) {
	sweeper, rdb, _ := newTestSweeper(t)
	require.NoError(t, rdb.Set(context.Background(), "session:abc", "unrelated", 0).Err())

	swept, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}
