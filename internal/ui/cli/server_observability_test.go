package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"raafstore/internal/core/app"
	"raafstore/internal/core/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.ProjectRoot = root
	paths, err := config.ResolvePaths(cfg, root)
	require.NoError(t, err)
	a, err := app.New(cfg, paths)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestObservabilityServer_Handler(t *testing.T) {
	a := newTestApp(t)
	srv := NewObservabilityServer(":0", app.NewHealthService(a))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status app.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "files", status.Mode)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObservabilityServer_HealthUnavailable(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Store.Close())

	rec := httptest.NewRecorder()
	NewObservabilityServer(":0", app.NewHealthService(a)).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestObservabilityServer_StartStop(t *testing.T) {
	a := newTestApp(t)
	srv := NewObservabilityServer("127.0.0.1:0", app.NewHealthService(a))
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}
