// Package folders_repo implements persistence for the folder hierarchy
// supplementing the distilled spec's file-only surface.
package folders_repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/models"
)

type FolderRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewFolderRepository(db *sqlx.DB, logger *logrus.Logger) *FolderRepository {
	return &FolderRepository{db: db, logger: logger}
}

func (r *FolderRepository) Create(ctx context.Context, userID, name string, parentID *string) (*models.Folder, error) {
	folder := models.Folder{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   name,
	}
	if parentID != nil && *parentID != "" {
		folder.ParentID.String = *parentID
		folder.ParentID.Valid = true
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO folders (id, user_id, parent_id, name, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, folder.ID, folder.UserID, folder.ParentID, folder.Name)
	if err != nil {
		return nil, apperr.Storage("folders: create", err)
	}
	return &folder, nil
}

// ListChildren returns the direct children of parentID, or the user's root
// folders when parentID is nil.
func (r *FolderRepository) ListChildren(ctx context.Context, userID string, parentID *string) ([]models.Folder, error) {
	var folders []models.Folder
	var err error
	if parentID == nil || *parentID == "" {
		err = r.db.SelectContext(ctx, &folders, `
			SELECT * FROM folders WHERE user_id = $1 AND parent_id IS NULL ORDER BY name
		`, userID)
	} else {
		err = r.db.SelectContext(ctx, &folders, `
			SELECT * FROM folders WHERE user_id = $1 AND parent_id = $2 ORDER BY name
		`, userID, *parentID)
	}
	if err != nil {
		return nil, apperr.Storage("folders: list children", err)
	}
	return folders, nil
}

func (r *FolderRepository) GetByID(ctx context.Context, folderID, userID string) (*models.Folder, error) {
	var folder models.Folder
	err := r.db.GetContext(ctx, &folder, `SELECT * FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("folder not found")
		}
		return nil, apperr.Storage("folders: get", err)
	}
	return &folder, nil
}

// BelongsToUser satisfies upload.FolderChecker.
func (r *FolderRepository) BelongsToUser(ctx context.Context, folderID, userID string) (bool, error) {
	_, err := r.GetByID(ctx, folderID, userID)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a folder. Fails with a conflict if the folder still has
// child folders or files.
func (r *FolderRepository) Delete(ctx context.Context, folderID, userID string) error {
	var childFolders, childFiles int
	if err := r.db.GetContext(ctx, &childFolders, `SELECT COUNT(*) FROM folders WHERE parent_id = $1`, folderID); err != nil {
		return apperr.Storage("folders: count children", err)
	}
	if err := r.db.GetContext(ctx, &childFiles, `
		SELECT COUNT(*) FROM files WHERE folder_id = $1 AND deleted_at IS NULL
	`, folderID); err != nil {
		return apperr.Storage("folders: count files", err)
	}
	if childFolders > 0 || childFiles > 0 {
		return apperr.Conflict("folder is not empty")
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID)
	if err != nil {
		return apperr.Storage("folders: delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("folder not found")
	}
	return nil
}
