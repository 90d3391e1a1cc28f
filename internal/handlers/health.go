package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

const (
	// HealthCheckTimeout is the default timeout for health check operations.
	HealthCheckTimeout = 5 * time.Second

	slowStoreThreshold    = time.Second
	slowDatabaseThreshold = 2 * time.Second
)

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config    *config.Config
	store     redis.Store
	dbMgr     *database.Manager
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	startTime time.Time
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Details    map[string]any             `json:"details,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(
	cfg *config.Config,
	store redis.Store,
	dbMgr *database.Manager,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		store:     store,
		dbMgr:     dbMgr,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check and monitoring endpoints. A nil gatherer
// leaves /metrics unregistered.
func (h *HealthHandler) RegisterRoutes(router *mux.Router, gatherer prometheus.Gatherer) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Health provides a comprehensive health check including all components.
// The key-value store is critical; the relational store and configuration only
// degrade the service.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	components := map[string]ComponentHealth{
		"kv_store":      h.checkStorage(ctx),
		"database":      h.checkDatabase(ctx),
		"configuration": h.checkConfiguration(),
	}

	overallStatus := StatusHealthy
	if components["kv_store"].Status == StatusUnhealthy {
		overallStatus = StatusUnhealthy
	} else {
		for _, component := range components {
			if component.Status != StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	h.metrics.HealthCheck("health", string(overallStatus), healthyFlags(components))

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.config.Site.BuildID,
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
		Details: map[string]any{
			"check_duration": time.Since(start).String(),
			"environment":    h.config.Environment.Environment,
		},
	}

	// Degraded still answers 200.
	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, response, statusCode)
}

// Liveness provides a simple liveness check that returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.metrics.HealthCheck("liveness", "healthy", nil)

	h.writeJSON(w, map[string]any{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	}, http.StatusOK)
}

// Readiness checks if the service is ready to receive traffic. Sessions live in
// the relational store, so both stores must answer.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := map[string]ComponentHealth{
		"kv_store": h.checkStorage(ctx),
		"database": h.checkDatabase(ctx),
	}

	ready := true
	for _, component := range components {
		if component.Status == StatusUnhealthy {
			ready = false
		}
	}

	statusLabel := "ready"
	statusCode := http.StatusOK
	if !ready {
		statusLabel = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	h.metrics.HealthCheck("readiness", statusLabel, healthyFlags(components))

	h.writeJSON(w, ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	}, statusCode)
}

// checkStorage checks key-value store connectivity and latency.
func (h *HealthHandler) checkStorage(ctx context.Context) ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.store.Ping(checkCtx)
	duration := time.Since(start)
	storageType := h.getStorageType()

	if err != nil {
		h.logger.WithError(err).Warn("Storage health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      storageType + " connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := storageType + " is healthy"
	if storageType == "Redis" && duration > slowStoreThreshold {
		status = StatusDegraded
		message = "Redis response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// checkDatabase checks relational store connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.dbMgr == nil || h.dbMgr.Driver() == config.DriverMemory {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     "In-memory repository",
			LastChecked: time.Now(),
		}
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.dbMgr.Ping(checkCtx)
	duration := time.Since(start)
	name := h.dbMgr.Driver()

	if err != nil {
		h.logger.WithError(err).Debug("Database health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      name + " connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	if !h.dbMgr.IsAvailable() {
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "Database marked as unavailable",
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := name + " is healthy"
	if duration > slowDatabaseThreshold {
		status = StatusDegraded
		message = name + " response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

func (h *HealthHandler) getStorageType() string {
	switch h.store.(type) {
	case *redis.Client:
		return "Redis"
	case *redis.MemoryStore:
		return "In-Memory"
	default:
		return "Unknown"
	}
}

// checkConfiguration flags settings that let the service run but not as intended.
func (h *HealthHandler) checkConfiguration() ComponentHealth {
	var issues []string

	if h.config.Site.OriginURL == "" {
		issues = append(issues, "origin URL is not set")
	}
	if h.config.Mail.Provider == config.MailProviderLog {
		issues = append(issues, "magic links are only logged")
	}
	if !h.config.Auth.SecureCookies {
		issues = append(issues, "session cookies are not Secure")
	}

	status := StatusHealthy
	message := "Configuration is valid"
	if len(issues) > 0 {
		status = StatusDegraded
		message = "Configuration issues: " + strings.Join(issues, ", ")
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}
}

func (h *HealthHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}
}

func healthyFlags(components map[string]ComponentHealth) map[string]bool {
	flags := make(map[string]bool, len(components))
	for name, component := range components {
		flags[name] = component.Status == StatusHealthy
	}
	return flags
}
