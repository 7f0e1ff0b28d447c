package folders

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/middleware"
	folders_repo "github.com/cryptvault/api/src/repository/folders"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dbx := sqlx.NewDb(db, "postgres")
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewHandler(folders_repo.NewFolderRepository(dbx, logger), logger), mock
}

func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func TestCreateRejectsWhenParentMissing(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT \* FROM folders WHERE id = \$1 AND user_id = \$2`).
		WithArgs("missing-parent", "user-1").
		WillReturnError(sql.ErrNoRows)

	r := gin.New()
	r.Use(withUser("user-1"), middleware.ErrorHandler(logrus.New()))
	r.POST("/folders", h.Create)

	req := httptest.NewRequest(http.MethodPost, "/folders", strings.NewReader(`{"name":"docs","parent_id":"missing-parent"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRejectsNonEmptyFolderThroughHandler(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM folders WHERE parent_id = \$1`).
		WithArgs("folder-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM files WHERE folder_id = \$1 AND deleted_at IS NULL`).
		WithArgs("folder-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	r := gin.New()
	r.Use(withUser("user-1"), middleware.ErrorHandler(logrus.New()))
	r.DELETE("/folders/:id", h.Delete)

	req := httptest.NewRequest(http.MethodDelete, "/folders/folder-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
