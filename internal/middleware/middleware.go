// Package middleware provides the HTTP middleware of the edge service: recovery,
// request logging, security headers, CORS, rate limiting, the page cache and
// the portal session guards.
package middleware

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/cache"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/ratelimit"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

const (
	// HTTPClientError minimum status code (4xx).
	HTTPClientError = 400
	// HTTPServerError minimum status code (5xx).
	HTTPServerError = 500

	globalRateLimitPrefix = "edge:global:"
)

// Stack holds all middleware dependencies and provides
// methods to create HTTP middleware handlers.
type Stack struct {
	config     *config.Config
	siteOrigin string
	global   *redis_rate.Limiter
	routes   *ratelimit.Limiter
	resolver *ratelimit.IPResolver
	pages    *cache.VersionController
	sessions *auth.SessionManager
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewStack creates a new middleware stack with the provided dependencies.
// The redisClient parameter is optional and only used for the global token
// bucket; when nil (MemoryStore fallback) that guard is disabled.
func NewStack(
	cfg *config.Config,
	redisClient *redis.Client,
	routes *ratelimit.Limiter,
	pages *cache.VersionController,
	sessions *auth.SessionManager,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Stack {
	var global *redis_rate.Limiter
	if redisClient != nil && cfg.RateLimit.GlobalRPS > 0 {
		global = redis_rate.NewLimiter(redisClient)
	}

	siteOrigin := ""
	if base, err := url.Parse(cfg.Site.BaseURL); err == nil && base.Host != "" {
		siteOrigin = base.Scheme + "://" + base.Host
	}

	return &Stack{
		config:     cfg,
		siteOrigin: siteOrigin,
		global:   global,
		routes:   routes,
		resolver: ratelimit.NewIPResolver(cfg.Security.TrustedProxies, cfg.RateLimit.FallbackToRemoteAddr),
		pages:    pages,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

// Chain applies multiple middleware functions to an HTTP handler.
// The first middleware is the outermost.
func (m *Stack) Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := range middleware {
		h = middleware[len(middleware)-1-i](h)
	}
	return h
}

// ClientIP resolves the rate-limit identity of r.
func (m *Stack) ClientIP(r *http.Request) string {
	return m.resolver.ClientIP(r)
}

// RequestLogger logs HTTP requests with structured logging including
// request details, response status, and processing duration.
func (m *Stack) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(constants.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set(constants.HeaderXRequestID, requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.metrics.ObserveHTTP(r.Method, r.URL.Path, wrapped.statusCode, duration)

		// Probes would drown the log.
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			return
		}

		fields := logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration":    duration.String(),
			"duration_ms": duration.Milliseconds(),
			"client_ip":   m.ClientIP(r),
			"user_agent":  r.UserAgent(),
		}

		if cacheStatus := wrapped.Header().Get(constants.HeaderXCache); cacheStatus != "" {
			fields["cache"] = cacheStatus
		}
		if referer := r.Header.Get(constants.HeaderReferer); referer != "" {
			fields["referer"] = referer
		}

		level := logrus.InfoLevel
		if wrapped.statusCode >= HTTPClientError {
			level = logrus.WarnLevel
		}
		if wrapped.statusCode >= HTTPServerError {
			level = logrus.ErrorLevel
		}

		logger.WithCorrelationID(r.Context(), m.logger).WithFields(fields).Log(level, "HTTP request processed")
	})
}

// GlobalRateLimit is a coarse per-client token bucket in Redis, applied to every
// request before the per-route windows. Trusted proxies are exempt. It is
// disabled without a Redis client and fails open on Redis errors.
func (m *Stack) GlobalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.global == nil {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := m.ClientIP(r)
		if m.resolver.IsTrustedProxy(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		limit := redis_rate.Limit{
			Rate:   m.config.RateLimit.GlobalRPS,
			Burst:  m.config.RateLimit.GlobalBurst,
			Period: time.Second,
		}

		result, err := m.global.Allow(r.Context(), globalRateLimitPrefix+clientIP, limit)
		if err != nil {
			m.logger.WithError(err).Error("Failed to check global rate limit")
			next.ServeHTTP(w, r)
			return
		}

		if result.Allowed == 0 {
			m.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("Global rate limit exceeded")

			rejection := &ratelimit.Decision{
				Limit:      result.Limit.Burst,
				Reset:      time.Now().Add(result.ResetAfter),
				RetryAfter: result.RetryAfter,
			}
			rejection.WriteRejection(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RouteRateLimit applies the per-route sliding windows. Paths outside the route
// table pass through untouched.
func (m *Stack) RouteRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.routes == nil || !m.config.RateLimit.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		decision := m.routes.Check(r.Context(), r.URL.Path, m.ClientIP(r))
		if decision == nil {
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			decision.WriteRejection(w)
			return
		}

		decision.SetHeaders(w)
		next.ServeHTTP(w, r)
	})
}

// CORS handles Cross-Origin Resource Sharing headers based on configuration.
func (m *Stack) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.setCORSHeaders(w, r)

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Stack) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get(constants.HeaderOrigin)
	if origin != "" {
		w.Header().Add("Vary", constants.HeaderOrigin)
	}

	switch {
	case origin != "" && m.isOriginAllowed(origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if m.config.Security.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
	case m.allowsAnyOrigin():
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	if len(m.config.Security.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.config.Security.AllowedMethods, ", "))
	}

	if len(m.config.Security.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.config.Security.AllowedHeaders, ", "))
	}

	// Scripts on other origins may read the edge observability headers.
	w.Header().Set("Access-Control-Expose-Headers", strings.Join([]string{
		constants.HeaderXCache,
		constants.HeaderXCacheVersion,
		constants.HeaderRateLimitLimit,
		constants.HeaderRateLimitRemaining,
		constants.HeaderRateLimitReset,
		constants.HeaderRetryAfter,
	}, ", "))

	if m.config.Security.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(m.config.Security.MaxAge))
	}
}

// SecurityHeaders adds security-related HTTP headers to responses.
// Pages carry their own Content-Security-Policy from the origin.
func (m *Stack) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// Recovery recovers from panics and logs them while returning a proper error response.
func (m *Stack) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.WithCorrelationID(r.Context(), m.logger).WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  err,
				}).Error("Panic recovered")

				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ContentType rejects POST bodies that are neither forms nor JSON.
func (m *Stack) ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength > 0 {
			contentType := r.Header.Get(constants.HeaderContentType)

			isForm := strings.Contains(contentType, constants.ContentTypeFormURLEncoded)
			isMultipart := strings.Contains(contentType, constants.ContentTypeMultipartForm)
			isJSON := strings.Contains(contentType, constants.ContentTypeJSON)
			if !isForm && !isMultipart && !isJSON {
				writeJSONError(w, http.StatusUnsupportedMediaType,
					"Content-Type must be a form or application/json")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush lets streamed origin responses through.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// isOriginAllowed reports whether origin is the site itself or explicitly listed.
// The wildcard never matches here, so an arbitrary origin is not echoed back.
func (m *Stack) isOriginAllowed(origin string) bool {
	if origin == m.siteOrigin {
		return true
	}
	return slices.Contains(m.config.Security.AllowedOrigins, origin)
}

// allowsAnyOrigin reports whether anonymous cross-origin reads are enabled.
func (m *Stack) allowsAnyOrigin() bool {
	return !m.config.Security.AllowCredentials && slices.Contains(m.config.Security.AllowedOrigins, "*")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIError{Error: message})
}
