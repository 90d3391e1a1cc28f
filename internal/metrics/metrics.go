// Package metrics holds the Prometheus collectors of the edge service.
// Every method is safe to call on a nil *Metrics so components can run without them.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds Prometheus metrics for monitoring.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Edge metrics
	CacheLookups        *prometheus.CounterVec
	CacheStores         *prometheus.CounterVec
	CacheInvalidations  *prometheus.CounterVec
	RateLimitDecisions  *prometheus.CounterVec
	AuthEvents          *prometheus.CounterVec
	MailDeliveries      *prometheus.CounterVec
	JanitorDeletedTotal *prometheus.CounterVec

	// Health metrics
	HealthChecksTotal     *prometheus.CounterVec
	ComponentHealthStatus *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_page_cache_lookups_total",
				Help: "Page cache lookups by result",
			},
			[]string{"result"},
		),
		CacheStores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_page_cache_stores_total",
				Help: "Page cache writes by status",
			},
			[]string{"status"},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_page_cache_invalidations_total",
				Help: "Cache version bumps by status",
			},
			[]string{"status"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_rate_limit_decisions_total",
				Help: "Sliding-window decisions per route",
			},
			[]string{"route", "decision"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_auth_events_total",
				Help: "Magic-link and session events per context",
			},
			[]string{"context", "event"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_mail_deliveries_total",
				Help: "Outbound mail attempts by status",
			},
			[]string{"status"},
		),
		JanitorDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_janitor_deleted_rows_total",
				Help: "Expired rows removed by the background janitor",
			},
			[]string{"table"},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"endpoint", "status"},
		),
		ComponentHealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edge_component_health_status",
				Help: "Health status of service components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.CacheLookups,
			m.CacheStores,
			m.CacheInvalidations,
			m.RateLimitDecisions,
			m.AuthEvents,
			m.MailDeliveries,
			m.JanitorDeletedTotal,
			m.HealthChecksTotal,
			m.ComponentHealthStatus,
		)
	}

	return m
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route := RouteClass(path)
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// CacheLookup records a page cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheStore records a page cache write.
func (m *Metrics) CacheStore(err error) {
	if m == nil {
		return
	}
	m.CacheStores.WithLabelValues(statusLabel(err)).Inc()
}

// CacheInvalidation records a version bump.
func (m *Metrics) CacheInvalidation(err error) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(statusLabel(err)).Inc()
}

// RateLimitDecision records an admit or reject for a limited route.
func (m *Metrics) RateLimitDecision(route string, admitted bool) {
	if m == nil {
		return
	}
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	m.RateLimitDecisions.WithLabelValues(route, decision).Inc()
}

// AuthEvent records a login lifecycle event.
func (m *Metrics) AuthEvent(context, event string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(context, event).Inc()
}

// MailDelivery records an outbound mail attempt.
func (m *Metrics) MailDelivery(err error) {
	if m == nil {
		return
	}
	m.MailDeliveries.WithLabelValues(statusLabel(err)).Inc()
}

// JanitorDeleted records rows removed from a table.
func (m *Metrics) JanitorDeleted(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JanitorDeletedTotal.WithLabelValues(table).Add(float64(n))
}

// HealthCheck records a health check and the component statuses it saw.
func (m *Metrics) HealthCheck(endpoint, status string, components map[string]bool) {
	if m == nil {
		return
	}
	m.HealthChecksTotal.WithLabelValues(endpoint, status).Inc()
	for component, healthy := range components {
		value := float64(0)
		if healthy {
			value = 1
		}
		m.ComponentHealthStatus.WithLabelValues(component).Set(value)
	}
}

// RouteClass maps a path onto a small fixed label set.
func RouteClass(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/musician/auth/"):
		return "musician_auth"
	case strings.HasPrefix(path, "/api/auth/"):
		return "admin_auth"
	case strings.HasPrefix(path, "/api/admin/edge/"):
		return "edge_admin"
	case strings.HasPrefix(path, "/api/admin"):
		return "admin_api"
	case strings.HasPrefix(path, "/api/musician"):
		return "musician_api"
	case strings.HasPrefix(path, "/api"):
		return "public_api"
	case strings.HasPrefix(path, "/admin"):
		return "admin"
	case strings.HasPrefix(path, "/musician"):
		return "musician"
	case strings.HasPrefix(path, "/health"), path == "/metrics":
		return "ops"
	default:
		return "page"
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
