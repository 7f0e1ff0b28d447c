// Package users_repo implements persistence for user accounts: the
// registration/login lookups, password and DEK envelope updates, and the
// id listing the scheduler's quota audit job iterates over.
package users_repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/models"
)

// DefaultQuotaBytes is assigned to every newly registered account (1 GiB).
const DefaultQuotaBytes = 1073741824

type UserRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewUserRepository(db *sqlx.DB, logger *logrus.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a new user with the default quota, active by default.
func (r *UserRepository) Create(ctx context.Context, name, username, passwordHash string, wrappedDEK []byte, dekSalt string) (*models.User, error) {
	user := models.User{
		ID:           uuid.New().String(),
		Name:         name,
		Username:     username,
		PasswordHash: passwordHash,
		WrappedDEK:   wrappedDEK,
		DEKSalt:      dekSalt,
		QuotaBytes:   DefaultQuotaBytes,
		Active:       true,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, username, password_hash, wrapped_dek, dek_salt, quota_bytes, used_bytes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, TRUE, NOW(), NOW())
	`, user.ID, user.Name, user.Username, user.PasswordHash, user.WrappedDEK, user.DEKSalt, user.QuotaBytes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("username already taken")
		}
		return nil, apperr.Storage("users: create", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE username = $1`, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Authentication("invalid username or password")
		}
		return nil, apperr.Storage("users: get by username", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Storage("users: get by id", err)
	}
	return &user, nil
}

// UpdateDEKEnvelope persists a rewrapped DEK envelope and new password hash
// after a change-password request.
func (r *UserRepository) UpdateDEKEnvelope(ctx context.Context, userID, passwordHash string, wrappedDEK []byte, dekSalt string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, wrapped_dek = $2, dek_salt = $3, updated_at = NOW()
		WHERE id = $4
	`, passwordHash, wrappedDEK, dekSalt, userID)
	if err != nil {
		return apperr.Storage("users: update dek envelope", err)
	}
	return nil
}

// ListUserIDs satisfies scheduler.UserLister for the daily quota audit job.
func (r *UserRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE active`); err != nil {
		return nil, apperr.Storage("users: list ids", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key")
}
