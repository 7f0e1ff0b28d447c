package users_repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/apperr"
)

func newTestRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dbx := sqlx.NewDb(db, "postgres")
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewUserRepository(dbx, logger), mock
}

func TestGetByUsernameReturnsAuthenticationErrorWhenMissing(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT \* FROM users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "alice")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindAuthentication, appErr.Kind)
}

func TestCreateAssignsDefaultQuota(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := repo.Create(context.Background(), "Alice", "alice", "hash", []byte("wrapped"), "salt")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultQuotaBytes), user.QuotaBytes)
	assert.True(t, user.Active)
}

func TestListUserIDs(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT id FROM users WHERE active`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1").AddRow("user-2"))

	ids, err := repo.ListUserIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, ids)
}
