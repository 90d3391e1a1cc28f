// Package ratelimit bounds request rates per client and route with a sliding
// window of request timestamps kept in the shared key-value store.
//
// The read-filter-append-write sequence is not atomic: concurrent requests from one
// client may each see the same list and undercount by a few. The limiter is an abuse
// deterrent, so it also fails open whenever the store is unavailable.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

// Rule is the quota of one route.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// Routes maps exact request paths to their quota. Paths not in the table are unlimited.
type Routes map[string]Rule

// DefaultRoutes returns the built-in quota table.
func DefaultRoutes() Routes {
	return RoutesFromConfig(config.DefaultRateLimitRoutes())
}

// RoutesFromConfig converts the configured route list into a table.
func RoutesFromConfig(limits []config.RouteLimit) Routes {
	routes := make(Routes, len(limits))
	for _, l := range limits {
		routes[l.Path] = Rule{MaxRequests: l.MaxRequests, Window: l.Window}
	}
	return routes
}

// Decision is the outcome of a check against a limited route.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// SetHeaders adds the X-RateLimit headers of an admitted request.
func (d *Decision) SetHeaders(w http.ResponseWriter) {
	w.Header().Set(constants.HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	w.Header().Set(constants.HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
}

// WriteRejection writes the 429 response of a rejected request.
func (d *Decision) WriteRejection(w http.ResponseWriter) {
	retryAfter := RetryAfterSeconds(d.RetryAfter)

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
	w.Header().Set(constants.HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	w.Header().Set(constants.HeaderRateLimitRemaining, "0")
	w.Header().Set(constants.HeaderRateLimitReset, strconv.FormatInt(d.Reset.Unix(), 10))
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(models.RateLimitResponse{
		Error:      "Too many requests",
		RetryAfter: retryAfter,
	})
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Limiter applies the route table to client requests.
type Limiter struct {
	store   redis.Store
	routes  Routes
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewLimiter creates a limiter over store with a fixed route table.
func NewLimiter(store redis.Store, routes Routes, m *metrics.Metrics, logger *logrus.Logger) *Limiter {
	return &Limiter{
		store:   store,
		routes:  routes,
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
}

// WithClock replaces the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Rule returns the quota configured for path.
func (l *Limiter) Rule(path string) (Rule, bool) {
	rule, ok := l.routes[path]
	return rule, ok
}

// Check records a request from clientIP against path. It returns nil when the
// path is unlimited or the store is unavailable, and otherwise a Decision.
// Rejected requests are not recorded.
func (l *Limiter) Check(ctx context.Context, path, clientIP string) *Decision {
	rule, ok := l.routes[path]
	if !ok {
		return nil
	}

	log := l.logger.WithFields(logrus.Fields{"path": path, "client_ip": clientIP})
	key := Key(path, clientIP)
	now := l.now()

	timestamps, err := l.load(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Rate limit store unavailable, allowing request")
		return nil
	}

	window := live(timestamps, now, rule.Window)

	if len(window) >= rule.MaxRequests {
		oldest := time.UnixMilli(window[0])
		reset := oldest.Add(rule.Window)

		l.metrics.RateLimitDecision(path, false)
		log.WithField("limit", rule.MaxRequests).Warn("Rate limit exceeded")

		return &Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	window = append(window, now.UnixMilli())
	if err := l.save(ctx, key, window, rule.Window); err != nil {
		log.WithError(err).Warn("Failed to record request in rate limit window")
	}

	l.metrics.RateLimitDecision(path, true)
	return &Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - len(window),
		Reset:     time.UnixMilli(window[0]).Add(rule.Window),
	}
}

func (l *Limiter) load(ctx context.Context, key string) ([]int64, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	var timestamps []int64
	if err := json.Unmarshal(raw, &timestamps); err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("Discarding malformed rate limit window")
		return nil, nil
	}
	return timestamps, nil
}

func (l *Limiter) save(ctx context.Context, key string, timestamps []int64, ttl time.Duration) error {
	raw, err := json.Marshal(timestamps)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, raw, ttl)
}

// live keeps the timestamps strictly newer than now-window, oldest first.
func live(timestamps []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixMilli()

	kept := make([]int64, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	// Writers on other nodes may interleave; keep the list ordered.
	slices.Sort(kept)
	return kept
}

// Key returns the store key of a client's window on a route.
func Key(path, clientIP string) string {
	return constants.KeyRateLimitPrefix + path + ":" + clientIP
}
