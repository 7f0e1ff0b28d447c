package files_repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/models"
)

type FileRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewFileRepository(db *sqlx.DB, logger *logrus.Logger) *FileRepository {
	return &FileRepository{db: db, logger: logger}
}

// InsertTx inserts a completed file row inside the caller's transaction —
// the quota ledger's AdmitAndCommit calls this so the used_bytes debit and
// the file row appear atomically.
func (r *FileRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, file *models.File) error {
	query := `
		INSERT INTO files (
			id, user_id, folder_id, filename, total_chunks, chunk_table,
			wrapped_dek, dek_nonce, dek_kek_version, size_bytes, mime,
			checksum, status, created_at, updated_at
		) VALUES (
			:id, :user_id, :folder_id, :filename, :total_chunks, :chunk_table,
			:wrapped_dek, :dek_nonce, :dek_kek_version, :size_bytes, :mime,
			:checksum, :status, NOW(), NOW()
		)
	`
	_, err := tx.NamedExecContext(ctx, query, file)
	if err != nil {
		r.logger.WithError(err).WithField("file_id", file.ID).Error("failed to insert file metadata")
		return apperr.Storage("files: insert", err)
	}
	return nil
}

// GetForDownload loads a user-owned, non-deleted file by id.
func (r *FileRepository) GetForDownload(ctx context.Context, fileID, userID string) (*models.File, error) {
	var file models.File
	err := r.db.GetContext(ctx, &file, `
		SELECT * FROM files WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, fileID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("file not found")
		}
		return nil, apperr.Storage("files: get for download", err)
	}
	return &file, nil
}

// List returns the user's non-deleted files, newest first, paginated.
func (r *FileRepository) List(ctx context.Context, userID string, limit, offset int) ([]models.File, error) {
	var files []models.File
	err := r.db.SelectContext(ctx, &files, `
		SELECT * FROM files
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("files: list", err)
	}
	return files, nil
}

// DeleteSoftTx sets deleted_at inside the caller's transaction, so the
// caller can compose it with the quota ledger's Release in one atomic
// update.
func (r *FileRepository) DeleteSoftTx(ctx context.Context, tx *sqlx.Tx, fileID, userID string) (*models.File, error) {
	var file models.File
	err := tx.GetContext(ctx, &file, `
		SELECT * FROM files WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL FOR UPDATE
	`, fileID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("file not found")
		}
		return nil, apperr.Storage("files: lock for delete", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, fileID); err != nil {
		return nil, apperr.Storage("files: soft delete", err)
	}
	return &file, nil
}

func (r *FileRepository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("files: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
