package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/handlers"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

// downStore is a key-value store whose Ping always fails.
type downStore struct {
	*redis.MemoryStore
}

func (downStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func healthConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Site.BuildID = "build42"
	cfg.Site.OriginURL = "http://renderer:3000"
	cfg.Mail.Provider = config.MailProviderSMTP
	cfg.Auth.SecureCookies = true
	cfg.Database.Driver = config.DriverMemory
	return cfg
}

func newHealthRouter(t *testing.T, cfg *config.Config, store redis.Store) (*mux.Router, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	router := mux.NewRouter()
	handlers.NewHealthHandler(cfg, store, nil, metrics.New(reg), quietLogger()).RegisterRoutes(router, reg)
	return router, reg
}

func TestHealthHandler_Health(t *testing.T) {
	t.Parallel()

	memory := redis.NewMemoryStore(quietLogger())
	t.Cleanup(func() { _ = memory.Close() })

	logOnly := healthConfig()
	logOnly.Mail.Provider = config.MailProviderLog

	tests := []struct {
		name           string
		cfg            *config.Config
		store          redis.Store
		expectedStatus int
		expectedHealth handlers.HealthStatus
	}{
		{"healthy", healthConfig(), memory, http.StatusOK, handlers.StatusHealthy},
		{"degraded_configuration", logOnly, memory, http.StatusOK, handlers.StatusDegraded},
		{"store_down", healthConfig(), downStore{memory}, http.StatusServiceUnavailable, handlers.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, _ := newHealthRouter(t, tt.cfg, tt.store)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)

			var resp handlers.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, "build42", resp.Version)
			assert.Contains(t, resp.Components, "kv_store")
			assert.Contains(t, resp.Components, "database")
		})
	}
}

func TestHealthHandler_ReadinessAndLiveness(t *testing.T) {
	t.Parallel()

	memory := redis.NewMemoryStore(quietLogger())
	t.Cleanup(func() { _ = memory.Close() })

	router, _ := newHealthRouter(t, healthConfig(), memory)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down, _ := newHealthRouter(t, healthConfig(), downStore{memory})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready handlers.ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.False(t, ready.Ready)

	// A failing store never makes the process look dead.
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_Metrics(t *testing.T) {
	t.Parallel()

	memory := redis.NewMemoryStore(quietLogger())
	t.Cleanup(func() { _ = memory.Close() })

	router, _ := newHealthRouter(t, healthConfig(), memory)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `edge_health_checks_total{endpoint="health",status="healthy"} 1`)
}
