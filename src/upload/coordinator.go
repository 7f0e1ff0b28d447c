// Package upload implements the three-phase chunked upload protocol:
// init, chunk, finalize/cancel. All per-upload state lives in Redis;
// ciphertext chunks are staged on local disk until finalize references
// them from a committed File row.
package upload

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/chunktable"
	"github.com/cryptvault/api/src/dek"
	"github.com/cryptvault/api/src/kek"
	"github.com/cryptvault/api/src/metrics"
	"github.com/cryptvault/api/src/models"
	"github.com/cryptvault/api/src/quota"
	"github.com/cryptvault/api/src/security"
)

const uploadTTL = 24 * time.Hour
const cleanupBatchSize = 50

// Session is the UploadSession KV record. It never carries the user's DEK —
// the plaintext DEK is resolved per request from the caller's session cookie
// and passed into Chunk/Finalize directly, so a KV compromise during an
// in-flight upload cannot leak it.
type Session struct {
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

// FileInserter persists a finalized File row inside the quota ledger's
// transaction.
type FileInserter interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, file *models.File) error
}

// FolderChecker validates folder ownership for finalize's optional
// folder_id.
type FolderChecker interface {
	BelongsToUser(ctx context.Context, folderID, userID string) (bool, error)
}

// Coordinator owns the KV store, staging directory, and bounded concurrency
// permit for chunk uploads.
type Coordinator struct {
	redis       *redis.Client
	ledger      *quota.Ledger
	kekRegistry *kek.Registry
	files       FileInserter
	folders     FolderChecker
	stagingDir  string
	chunkHint   int64
	maxFileSize int64
	permits     chan struct{}
	inFlight    int32
	metrics     *metrics.Metrics
	logger      *logrus.Logger
}

func New(
	redisClient *redis.Client,
	ledger *quota.Ledger,
	kekRegistry *kek.Registry,
	files FileInserter,
	folders FolderChecker,
	stagingDir string,
	chunkSizeHint int64,
	maxFileSize int64,
	bufferSlots int,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Coordinator {
	return &Coordinator{
		redis:       redisClient,
		ledger:      ledger,
		kekRegistry: kekRegistry,
		files:       files,
		folders:     folders,
		stagingDir:  stagingDir,
		chunkHint:   chunkSizeHint,
		maxFileSize: maxFileSize,
		permits:     make(chan struct{}, bufferSlots),
		metrics:     m,
		logger:      logger,
	}
}

func metaKey(userID, uploadID string) string { return fmt.Sprintf("upload:%s:%s", userID, uploadID) }
func lockKey(userID string) string           { return "user_uploading:" + userID }

// Init validates size/chunk-count, pre-checks quota for read consistency
// only (the transaction commits without mutating used_bytes — quota is
// debited only at finalize), and creates the upload session.
func (c *Coordinator) Init(ctx context.Context, userID, filename string, fileSize int64, totalChunks int, expectedHash string) (uploadID string, err error) {
	if fileSize <= 0 {
		return "", apperr.Validation("file_size must be positive")
	}
	if fileSize > c.maxFileSize {
		return "", apperr.Validation("file exceeds maximum allowed size")
	}
	if totalChunks <= 0 {
		return "", apperr.Validation("total_chunks must be positive")
	}

	exists, err := c.redis.Exists(ctx, lockKey(userID)).Result()
	if err != nil {
		return "", apperr.Storage("upload: check lock", err)
	}
	if exists > 0 {
		return "", apperr.Validation("an upload is already in progress for this account")
	}

	if err := c.ledger.CheckAvailable(ctx, userID, fileSize); err != nil {
		return "", err
	}

	uploadID = uuid.New().String()
	session := Session{
		UploadID:     uploadID,
		UserID:       userID,
		Filename:     filename,
		TotalBytes:   fileSize,
		TotalChunks:  totalChunks,
		ChunkNonces:  make([][]byte, totalChunks),
		ExpectedHash: expectedHash,
		CreatedAt:    time.Now(),
	}

	if err := c.save(ctx, session); err != nil {
		return "", err
	}
	if err := c.redis.Set(ctx, lockKey(userID), "1", uploadTTL).Err(); err != nil {
		return "", apperr.Storage("upload: set lock", err)
	}

	if c.metrics != nil {
		c.metrics.UploadInitiated()
	}
	return uploadID, nil
}

// Chunk encrypts and stages a single chunk, updating the session's nonce
// table. Only increments chunks_received when the slot's prior nonce was
// the zero value — a resend of an already-received index replaces the
// staged ciphertext and its nonce without double-counting (fixed per the
// duplicate-chunk decision).
func (c *Coordinator) Chunk(ctx context.Context, userID, uploadID string, chunkIndex int, data []byte, dekPlain []byte) (received, total int, err error) {
	select {
	case c.permits <- struct{}{}:
	case <-ctx.Done():
		return 0, 0, apperr.Validation("upload cancelled by client")
	}
	atomic.AddInt32(&c.inFlight, 1)
	if c.metrics != nil {
		c.metrics.SetUploadPermitsInUse(len(c.permits))
	}
	defer func() {
		<-c.permits
		atomic.AddInt32(&c.inFlight, -1)
		if c.metrics != nil {
			c.metrics.SetUploadPermitsInUse(len(c.permits))
		}
	}()

	session, err := c.load(ctx, userID, uploadID)
	if err != nil {
		return 0, 0, err
	}

	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return 0, 0, apperr.Validation("chunk_index out of range")
	}
	if len(dekPlain) != security.KeySize {
		return 0, 0, apperr.Crypto("upload: dek has wrong length", nil)
	}

	encryptStart := time.Now()
	ciphertext, nonce, err := security.Encrypt(dekPlain, data)
	if err != nil {
		return 0, 0, apperr.Crypto("upload: encrypt chunk", err)
	}
	if c.metrics != nil {
		c.metrics.ObserveChunkEncrypt(time.Since(encryptStart))
	}

	if err := c.writeChunk(uploadID, chunkIndex, ciphertext); err != nil {
		return 0, 0, apperr.Storage("upload: write chunk", err)
	}

	if isZeroNonce(session.ChunkNonces[chunkIndex]) {
		session.ChunksReceived++
	}
	session.ChunkNonces[chunkIndex] = nonce
	session.BytesWritten += int64(len(ciphertext))

	if err := c.save(ctx, session); err != nil {
		return 0, 0, err
	}

	return session.ChunksReceived, session.TotalChunks, nil
}

func (c *Coordinator) writeChunk(uploadID string, index int, ciphertext []byte) error {
	if err := os.MkdirAll(c.stagingDir, 0o755); err != nil {
		return fmt.Errorf("mkdir staging dir: %w", err)
	}
	path := filepath.Join(c.stagingDir, fmt.Sprintf("%s_%d.enc", uploadID, index))

	concurrent := atomic.LoadInt32(&c.inFlight)
	bufferMB := 2048 / (int(concurrent) + 1)
	if bufferMB < 2 {
		bufferMB = 2
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, bufferMB*1024*1024)
	if _, err := w.Write(ciphertext); err != nil {
		return err
	}
	return w.Flush()
}

// Finalize requires that all chunks have arrived, admits the upload against
// the quota ledger (the sole debit point), wraps the caller-supplied
// plaintext DEK under the active KEK, and inserts the File row atomically
// with the quota debit.
func (c *Coordinator) Finalize(ctx context.Context, userID, uploadID string, folderID *string, dekPlain []byte) (*models.File, error) {
	session, err := c.load(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	if session.ChunksReceived != session.TotalChunks {
		c.cleanup(ctx, userID, session)
		return nil, apperr.Validation("upload is incomplete")
	}

	if folderID != nil && *folderID != "" {
		ok, err := c.folders.BelongsToUser(ctx, *folderID, userID)
		if err != nil {
			return nil, apperr.Storage("upload: check folder ownership", err)
		}
		if !ok {
			c.cleanup(ctx, userID, session)
			return nil, apperr.NotFound("folder not found")
		}
	}

	entries := make([]chunktable.Entry, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		entries[i] = chunktable.Entry{
			Index:    i,
			Nonce:    session.ChunkNonces[i],
			Filename: fmt.Sprintf("%s_%d.enc", uploadID, i),
			Size:     c.chunkHint,
		}
	}

	kekVersion, kekPlain, err := c.kekRegistry.Active(ctx)
	if err != nil {
		c.cleanup(ctx, userID, session)
		return nil, apperr.Crypto("upload: load active kek", err)
	}

	wrappedDEK, dekNonce, err := dek.WrapUnderKEK(kekPlain, dekPlain)
	if err != nil {
		c.cleanup(ctx, userID, session)
		return nil, apperr.Crypto("upload: wrap dek under kek", err)
	}

	file := &models.File{
		ID:            uuid.New().String(),
		UserID:        userID,
		Filename:      session.Filename,
		TotalChunks:   session.TotalChunks,
		ChunkTable:    chunktable.Encode(entries),
		WrappedDEK:    wrappedDEK,
		DEKNonce:      dekNonce,
		DEKKEKVersion: kekVersion,
		SizeBytes:     session.TotalBytes,
		Mime:          "application/octet-stream",
		Status:        "completed",
	}
	if folderID != nil && *folderID != "" {
		file.FolderID.String = *folderID
		file.FolderID.Valid = true
	}
	if session.ExpectedHash != "" {
		file.Checksum.String = session.ExpectedHash
		file.Checksum.Valid = true
	}

	err = c.ledger.AdmitAndCommit(ctx, userID, session.TotalBytes, func(tx *sqlx.Tx) error {
		return c.files.InsertTx(ctx, tx, file)
	})
	if err != nil {
		c.cleanup(ctx, userID, session)
		return nil, err
	}

	if err := c.redis.Del(ctx, metaKey(userID, uploadID), lockKey(userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("upload: failed to clear kv keys after finalize")
	}

	if c.metrics != nil {
		c.metrics.UploadFinalized()
	}
	return file, nil
}

// Cancel is idempotent: it succeeds even if the session is already gone,
// tolerating a client retrying a cancel that already took effect.
func (c *Coordinator) Cancel(ctx context.Context, userID, uploadID string) error {
	session, err := c.load(ctx, userID, uploadID)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindValidation {
			return nil
		}
		return err
	}
	c.cleanup(ctx, userID, session)
	if c.metrics != nil {
		c.metrics.UploadCancelled()
	}
	return nil
}

// cleanup removes staged chunk files in batches of 50 and clears the KV
// session and per-user lock. It never touches the quota ledger — quota was
// never debited at init, so there is nothing to release.
func (c *Coordinator) cleanup(ctx context.Context, userID string, session Session) {
	for start := 0; start < session.TotalChunks; start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > session.TotalChunks {
			end = session.TotalChunks
		}
		for i := start; i < end; i++ {
			path := filepath.Join(c.stagingDir, fmt.Sprintf("%s_%d.enc", session.UploadID, i))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				c.logger.WithError(err).WithField("path", path).Warn("upload: cleanup failed to remove staged chunk")
			}
		}
	}

	if err := c.redis.Del(ctx, metaKey(userID, session.UploadID), lockKey(userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("upload: cleanup failed to clear kv keys")
	}
}

func (c *Coordinator) save(ctx context.Context, session Session) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(session); err != nil {
		return apperr.Internal("upload: encode session", err)
	}
	if err := c.redis.Set(ctx, metaKey(session.UserID, session.UploadID), buf.Bytes(), uploadTTL).Err(); err != nil {
		return apperr.Storage("upload: persist session", err)
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, userID, uploadID string) (Session, error) {
	raw, err := c.redis.Get(ctx, metaKey(userID, uploadID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Session{}, apperr.Validation("upload session not found or expired")
		}
		return Session{}, apperr.Storage("upload: load session", err)
	}
	var session Session
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&session); err != nil {
		return Session{}, apperr.Internal("upload: decode session", err)
	}
	return session, nil
}

func isZeroNonce(nonce []byte) bool {
	if len(nonce) == 0 {
		return true
	}
	for _, b := range nonce {
		if b != 0 {
			return false
		}
	}
	return true
}
