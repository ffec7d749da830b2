package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dailypa/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "dailypa.db")
	cfg.TemplateDir = "../../web/templates"
	cfg.StaticDir = "../../web/static"
	cfg.JWTSecret = "server-test-secret"
	cfg.AdminUser = "admin@example.com"
	cfg.AdminPassword = "admin-pass"
	return cfg
}

func TestSetupRouter(t *testing.T) {
	if _, err := os.Stat("../../web/templates"); os.IsNotExist(err) {
		t.Skip("Template directory not found, skipping router test")
	}

	a, err := build(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err, "failed to build server")
	defer a.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantLoc    string
	}{
		{"Root redirects to the dashboard", "GET", "/", http.StatusFound, "/dashboard"},
		{"Static file access", "GET", "/static/style.css", http.StatusOK, ""},
		{"Dashboard requires auth", "GET", "/dashboard", http.StatusFound, "/login"},
		{"Expenses require auth", "GET", "/expenses", http.StatusFound, "/login"},
		{"Login page renders", "GET", "/login", http.StatusOK, ""},
		{"Health check", "GET", "/healthz", http.StatusOK, ""},
		{"OAuth disabled with local auth", "GET", "/auth/oauth/google", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			w := httptest.NewRecorder()

			a.handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, "%s %s returned unexpected status", tt.method, tt.path)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, w.Header().Get("Location"))
			}
			assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
		})
	}
}

func TestBuild_SeedsAdminOnce(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	a, err := build(context.Background(), cfg, logger)
	require.NoError(t, err)
	n, err := a.provider.UserCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a.Close()

	cfg.AdminUser = "other@example.com"
	a, err = build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()
	n, err = a.provider.UserCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuild_FileBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = config.BackendFile
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")

	a, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	a.Close()
}

func TestBuild_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageBackend = config.BackendRedis
	cfg.RedisURL = "redis://localhost:6379/not-a-db"

	_, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
