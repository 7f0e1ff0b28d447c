// Package download implements the file download streamer: it loads a
// file's chunk table, unwraps its DEK, and decrypts+emits chunks in order
// while bounding concurrent chunk decryption.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/chunktable"
	"github.com/cryptvault/api/src/dek"
	"github.com/cryptvault/api/src/kek"
	"github.com/cryptvault/api/src/metrics"
	"github.com/cryptvault/api/src/models"
	"github.com/cryptvault/api/src/security"
)

const downloadLockTTL = 1 * time.Hour

// FileGetter loads a user-owned, non-deleted file row by id.
type FileGetter interface {
	GetForDownload(ctx context.Context, fileID, userID string) (*models.File, error)
}

// Streamer coordinates decrypting and emitting a file's chunks.
type Streamer struct {
	redis       *redis.Client
	kekRegistry *kek.Registry
	files       FileGetter
	stagingDir  string
	slots       int
	active      int32
	metrics     *metrics.Metrics
	logger      *logrus.Logger
}

func New(redisClient *redis.Client, kekRegistry *kek.Registry, files FileGetter, stagingDir string, bufferSlots int, m *metrics.Metrics, logger *logrus.Logger) *Streamer {
	return &Streamer{
		redis:       redisClient,
		kekRegistry: kekRegistry,
		files:       files,
		stagingDir:  stagingDir,
		slots:       bufferSlots,
		metrics:     m,
		logger:      logger,
	}
}

func downloadLockKey(userID string) string { return "user_downloading:" + userID }

type chunkResult struct {
	data []byte
	err  error
}

// Stream loads the file, decrypts it in bounded-concurrency order, and
// writes plaintext to w. It returns the sanitized filename for the
// Content-Disposition header. The per-user download lock is always
// released before Stream returns, success or failure.
func (s *Streamer) Stream(ctx context.Context, userID, fileID string, w io.Writer) (filename string, err error) {
	file, err := s.files.GetForDownload(ctx, fileID, userID)
	if err != nil {
		return "", err
	}

	ok, err := s.redis.SetNX(ctx, downloadLockKey(userID), "1", downloadLockTTL).Result()
	if err != nil {
		return "", apperr.Storage("download: acquire lock", err)
	}
	if !ok {
		return "", apperr.Validation("a download is already in progress for this account")
	}
	defer func() {
		if delErr := s.redis.Del(ctx, downloadLockKey(userID)).Err(); delErr != nil {
			s.logger.WithError(delErr).Warn("download: failed to release lock")
		}
	}()

	atomic.AddInt32(&s.active, 1)
	if s.metrics != nil {
		s.metrics.SetDownloadPermitsInUse(int(atomic.LoadInt32(&s.active)))
	}
	defer func() {
		atomic.AddInt32(&s.active, -1)
		if s.metrics != nil {
			s.metrics.SetDownloadPermitsInUse(int(atomic.LoadInt32(&s.active)))
		}
	}()

	entries, err := chunktable.Decode(file.ChunkTable)
	if err != nil {
		return "", apperr.Internal("download: decode chunk table", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	kekPlain, err := s.kekRegistry.ByVersion(ctx, file.DEKKEKVersion)
	if err != nil {
		return "", apperr.Crypto("download: load kek version", err)
	}
	fileDEK, err := dek.UnwrapFromKEK(kekPlain, file.WrappedDEK, file.DEKNonce)
	if err != nil {
		return "", apperr.Crypto("download: unwrap file dek", err)
	}

	if writeErr := s.emit(entries, fileDEK, w); writeErr != nil {
		return "", writeErr
	}

	return sanitizeFilename(file.Filename), nil
}

func (s *Streamer) emit(entries []chunktable.Entry, fileDEK []byte, w io.Writer) error {
	concurrent := atomic.LoadInt32(&s.active)
	bufferChunks := s.slots / (int(concurrent) + 1)
	if bufferChunks < 1 {
		bufferChunks = 1
	}

	results := make([]chan chunkResult, len(entries))
	for i := range results {
		results[i] = make(chan chunkResult, 1)
	}

	sem := make(chan struct{}, bufferChunks)
	var wg sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			data, err := s.decryptChunk(entry, fileDEK)
			results[entry.Index] <- chunkResult{data: data, err: err}
		}()
	}
	go func() { wg.Wait() }()

	for i := range results {
		res := <-results[i]
		if res.err != nil {
			return res.err
		}
		if _, err := w.Write(res.data); err != nil {
			return apperr.Storage("download: write response body", err)
		}
	}
	return nil
}

func (s *Streamer) decryptChunk(entry chunktable.Entry, fileDEK []byte) ([]byte, error) {
	path := filepath.Join(s.stagingDir, entry.Filename)
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Storage(fmt.Sprintf("download: read staged chunk %d", entry.Index), err)
	}
	decryptStart := time.Now()
	plaintext, err := security.Decrypt(fileDEK, ciphertext, entry.Nonce)
	if err != nil {
		return nil, apperr.Crypto(fmt.Sprintf("download: decrypt chunk %d", entry.Index), err)
	}
	if s.metrics != nil {
		s.metrics.ObserveChunkDecrypt(time.Since(decryptStart))
	}
	return plaintext, nil
}

// sanitizeFilename strips characters that would break a
// Content-Disposition header value: quotes, backslashes, and control
// characters (including CR/LF) are replaced with underscores.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
