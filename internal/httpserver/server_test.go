package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppmina/xdata-go/internal/storage"
)

func openTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.db")
	pool, err := storage.Open(context.Background(), storage.DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestHandleHealthz_ReportsOKWhenPoolIsReachable(t *testing.T) {
	pool := openTestPool(t)
	s := &Server{pool: pool}
	s.router = newRouterFor(t, s)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleHealthz_ReportsDegradedWhenPoolIsClosed(t *testing.T) {
	pool := openTestPool(t)
	require.NoError(t, pool.Close())

	s := &Server{pool: pool}
	s.router = newRouterFor(t, s)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestMetricsEndpoint_ServesPrometheusExposition(t *testing.T) {
	s := &Server{}
	s.router = newRouterFor(t, s)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestNotFoundHandler_ReturnsJSONError(t *testing.T) {
	s := &Server{}
	s.router = newRouterFor(t, s)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func newRouterFor(t *testing.T, s *Server) *mux.Router {
	t.Helper()
	s.router = mux.NewRouter()
	s.setupRoutes()
	return s.router
}
