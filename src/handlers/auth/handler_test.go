package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/config"
	"github.com/cryptvault/api/src/dek"
	"github.com/cryptvault/api/src/middleware"
	users_repo "github.com/cryptvault/api/src/repository/users"
	"github.com/cryptvault/api/src/session"
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

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.Config{
		CookieSigningKey:    []byte("0123456789abcdef0123456789abcdef"),
		SessionDurationDays: 7,
	}

	users := users_repo.NewUserRepository(dbx, logger)
	sessions := session.New(rdb, logger)
	return NewHandler(cfg, users, sessions, logger), mock
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newTestRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler(logger))
	return r
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r := newTestRouter(logger)
	r.POST("/register", h.Register)

	w := doRequest(t, r, http.MethodPost, "/register", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterCreatesUserAndSetsSessionCookie(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(1, 1))

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r := newTestRouter(logger)
	r.POST("/register", h.Register)

	w := doRequest(t, r, http.MethodPost, "/register", `{"name":"Alice","username":"alice","password":"correcthorsebattery"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	cookies := w.Result().Cookies()
	var sawSession, sawCSRF bool
	for _, c := range cookies {
		if c.Name == session.CookieName {
			sawSession = true
		}
		if c.Name == session.CSRFCookieName {
			sawCSRF = true
		}
	}
	assert.True(t, sawSession, "expected session cookie to be set")
	assert.True(t, sawCSRF, "expected csrf cookie to be set")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h, mock := newTestHandler(t)

	envelope, err := dek.New("correct-password")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "name", "username", "password_hash", "wrapped_dek", "dek_salt",
		"quota_bytes", "used_bytes", "active", "created_at", "updated_at",
	}).AddRow("user-1", "Alice", "alice", "$2a$10$invalidhashforthistest........................", envelope.Wrapped, envelope.Salt, int64(1<<30), int64(0), true, time.Now(), time.Now())
	mock.ExpectQuery(`SELECT \* FROM users WHERE username = \$1`).WithArgs("alice").WillReturnRows(rows)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r := newTestRouter(logger)
	r.POST("/login", h.Login)

	w := doRequest(t, r, http.MethodPost, "/login", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutClearsCookiesEvenWithoutSession(t *testing.T) {
	h, _ := newTestHandler(t)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	r := newTestRouter(logger)
	r.POST("/logout", h.Logout)

	w := doRequest(t, r, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	for _, c := range w.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
	}
}
