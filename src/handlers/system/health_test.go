package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

func TestHealthReturnsOKWhenDependenciesHealthy(t *testing.T) {
	r := gin.New()
	r.GET("/healthz", Health(fakeChecker{}, fakeChecker{}, logrus.New()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReturns503WhenDatabaseUnreachable(t *testing.T) {
	r := gin.New()
	r.GET("/healthz", Health(fakeChecker{err: errors.New("down")}, fakeChecker{}, logrus.New()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
