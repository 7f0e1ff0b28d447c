// Package files implements the chunked upload protocol endpoints and the
// file listing/download/delete/quota surface.
package files

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/download"
	files_repo "github.com/cryptvault/api/src/repository/files"
	"github.com/cryptvault/api/src/middleware"
	"github.com/cryptvault/api/src/quota"
	"github.com/cryptvault/api/src/upload"
)

// chunkFieldTimeout bounds how long a single chunk body read may block,
// mirroring the per-field multipart timeout of the original protocol.
const chunkFieldTimeout = 300 * time.Second

// readChunkField reads body to completion or fails with Multipart once
// chunkFieldTimeout elapses, so a stalled client can't hold an upload permit
// indefinitely.
func readChunkField(ctx context.Context, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, chunkFieldTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(body)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, apperr.Multipart("read chunk body", res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, apperr.Multipart("chunk upload timeout exceeded", ctx.Err())
	}
}

type Handler struct {
	coordinator *upload.Coordinator
	streamer    *download.Streamer
	files       *files_repo.FileRepository
	ledger      *quota.Ledger
	logger      *logrus.Logger
}

func NewHandler(coordinator *upload.Coordinator, streamer *download.Streamer, files *files_repo.FileRepository, ledger *quota.Ledger, logger *logrus.Logger) *Handler {
	return &Handler{coordinator: coordinator, streamer: streamer, files: files, ledger: ledger, logger: logger}
}

func dekFromContext(c *gin.Context) []byte {
	v, _ := c.Get(middleware.DEKKey)
	dekPlain, _ := v.([]byte)
	return dekPlain
}

type initRequest struct {
	Filename     string `json:"filename" binding:"required"`
	FileSize     int64  `json:"file_size" binding:"required,gt=0"`
	TotalChunks  int    `json:"total_chunks" binding:"required,gt=0"`
	ExpectedHash string `json:"expected_hash"`
}

// InitUpload starts a new chunked upload session. The session carries no
// DEK; each chunk and the finalize call separately resolve the plaintext
// DEK from the request's session cookie.
func (h *Handler) InitUpload(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Validation("invalid upload init payload"))
		return
	}

	uploadID, err := h.coordinator.Init(c.Request.Context(), userID, req.Filename, req.FileSize, req.TotalChunks, req.ExpectedHash)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"upload_id": uploadID})
}

// UploadChunk accepts one raw chunk body for an in-progress upload,
// encrypting it with the DEK resolved from the caller's session.
func (h *Handler) UploadChunk(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	dekPlain := dekFromContext(c)
	uploadID := c.Param("upload_id")

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.Error(apperr.Validation("invalid chunk index"))
		return
	}

	data, err := readChunkField(c.Request.Context(), c.Request.Body)
	if err != nil {
		c.Error(err)
		return
	}

	received, total, err := h.coordinator.Chunk(c.Request.Context(), userID, uploadID, index, data, dekPlain)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": received, "total": total})
}

type finalizeRequest struct {
	FolderID *string `json:"folder_id"`
}

// FinalizeUpload commits the completed upload as a file row, debiting
// quota and wrapping the caller's DEK under the active KEK.
func (h *Handler) FinalizeUpload(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	dekPlain := dekFromContext(c)
	uploadID := c.Param("upload_id")

	var req finalizeRequest
	_ = c.ShouldBindJSON(&req)

	file, err := h.coordinator.Finalize(c.Request.Context(), userID, uploadID, req.FolderID, dekPlain)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, file.ToResponse())
}

// CancelUpload discards an in-progress upload and its staged chunks.
func (h *Handler) CancelUpload(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	uploadID := c.Param("upload_id")

	if err := h.coordinator.Cancel(c.Request.Context(), userID, uploadID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List returns the user's non-deleted files, paginated.
func (h *Handler) List(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	files, err := h.files.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	responses := make([]interface{}, 0, len(files))
	for i := range files {
		responses = append(responses, files[i].ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"files": responses})
}

// Download streams the decrypted file contents back to the client.
func (h *Handler) Download(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	fileID := c.Param("id")

	c.Header("Content-Type", "application/octet-stream")
	filename, err := h.streamer.Stream(c.Request.Context(), userID, fileID, c.Writer)
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
}

// Delete soft-deletes a file and releases its quota in one transaction.
func (h *Handler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	fileID := c.Param("id")
	ctx := c.Request.Context()

	err := h.files.WithTx(ctx, func(tx *sqlx.Tx) error {
		file, err := h.files.DeleteSoftTx(ctx, tx, fileID, userID)
		if err != nil {
			return err
		}
		return h.ledger.Release(ctx, tx, userID, file.SizeBytes)
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StorageInfo reports the user's quota and current usage.
func (h *Handler) StorageInfo(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	quotaBytes, usedBytes, err := h.ledger.Info(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota_bytes": quotaBytes, "used_bytes": usedBytes})
}

// RecalculateQuota forces an authoritative recomputation of used_bytes from
// live file rows.
func (h *Handler) RecalculateQuota(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	usedBytes, err := h.ledger.Recompute(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"used_bytes": usedBytes})
}
