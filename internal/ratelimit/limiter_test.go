package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/ratelimit"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type brokenStore struct {
	redis.Store
}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLimiter(t *testing.T, routes ratelimit.Routes) (*ratelimit.Limiter, *redis.MemoryStore, *fakeClock) {
	t.Helper()

	store := redis.NewMemoryStore(testLogger())
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	limiter := ratelimit.NewLimiter(store, routes, nil, testLogger()).WithClock(clock.Now)
	return limiter, store, clock
}

var contactRoutes = ratelimit.Routes{
	"/api/contact": {MaxRequests: 3, Window: time.Minute},
}

func TestCheck_UnlimitedPath(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, contactRoutes)

	for range 10 {
		assert.Nil(t, limiter.Check(context.Background(), "/agenda", "1.2.3.4"))
	}
}

func TestCheck_AdmitsUpToLimitThenRejects(t *testing.T) {
	limiter, _, clock := newTestLimiter(t, contactRoutes)
	ctx := context.Background()

	for i := range 3 {
		d := limiter.Check(ctx, "/api/contact", "1.2.3.4")
		require.NotNil(t, d)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d := limiter.Check(ctx, "/api/contact", "1.2.3.4")
	require.NotNil(t, d)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
	assert.Equal(t, 57, ratelimit.RetryAfterSeconds(d.RetryAfter))
}

func TestCheck_ClientsAndRoutesAreIndependent(t *testing.T) {
	routes := ratelimit.Routes{
		"/api/contact":         {MaxRequests: 1, Window: time.Minute},
		"/api/auth/magic-link": {MaxRequests: 1, Window: time.Minute},
	}
	limiter, _, _ := newTestLimiter(t, routes)
	ctx := context.Background()

	assert.True(t, limiter.Check(ctx, "/api/contact", "1.1.1.1").Allowed)
	assert.False(t, limiter.Check(ctx, "/api/contact", "1.1.1.1").Allowed)

	assert.True(t, limiter.Check(ctx, "/api/contact", "2.2.2.2").Allowed)
	assert.True(t, limiter.Check(ctx, "/api/auth/magic-link", "1.1.1.1").Allowed)
}

func TestCheck_WindowSlides(t *testing.T) {
	limiter, _, clock := newTestLimiter(t, contactRoutes)
	ctx := context.Background()

	for range 3 {
		require.True(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)
		clock.Advance(10 * time.Second)
	}
	require.False(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)

	// First request was at t=0; at t=60s exactly it has left the window.
	clock.Advance(30 * time.Second)
	d := limiter.Check(ctx, "/api/contact", "1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	assert.False(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)
}

func TestCheck_RejectionIsNotRecorded(t *testing.T) {
	routes := ratelimit.Routes{"/api/contact": {MaxRequests: 1, Window: time.Minute}}
	limiter, store, clock := newTestLimiter(t, routes)
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)
	for range 5 {
		clock.Advance(5 * time.Second)
		require.False(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)
	}

	raw, err := store.Get(ctx, ratelimit.Key("/api/contact", "1.2.3.4"))
	require.NoError(t, err)

	var timestamps []int64
	require.NoError(t, json.Unmarshal(raw, &timestamps))
	assert.Len(t, timestamps, 1)

	clock.Advance(35 * time.Second)
	assert.True(t, limiter.Check(ctx, "/api/contact", "1.2.3.4").Allowed)
}

func TestCheck_NeverExceedsLimitInAnyWindow(t *testing.T) {
	limiter, _, clock := newTestLimiter(t, contactRoutes)
	ctx := context.Background()

	var admitted []time.Time
	for range 200 {
		if d := limiter.Check(ctx, "/api/contact", "9.9.9.9"); d.Allowed {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(1700 * time.Millisecond)
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < time.Minute; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, 3)
	}
	assert.NotEmpty(t, admitted)
}

func TestCheck_FailsOpenWhenStoreUnavailable(t *testing.T) {
	store := redis.NewMemoryStore(testLogger())
	t.Cleanup(func() { _ = store.Close() })

	limiter := ratelimit.NewLimiter(brokenStore{Store: store}, contactRoutes, nil, testLogger())

	for range 10 {
		assert.Nil(t, limiter.Check(context.Background(), "/api/contact", "1.2.3.4"))
	}
}

func TestCheck_MalformedWindowIsDiscarded(t *testing.T) {
	limiter, store, _ := newTestLimiter(t, contactRoutes)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, ratelimit.Key("/api/contact", "1.2.3.4"), []byte("not json"), time.Minute))

	d := limiter.Check(ctx, "/api/contact", "1.2.3.4")
	require.NotNil(t, d)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestCheck_InterleavedWritersAreOrdered(t *testing.T) {
	limiter, store, clock := newTestLimiter(t, contactRoutes)
	ctx := context.Background()
	now := clock.Now()

	seeded := []int64{
		now.Add(-10 * time.Second).UnixMilli(),
		now.Add(-50 * time.Second).UnixMilli(),
		now.Add(-30 * time.Second).UnixMilli(),
	}
	raw, err := json.Marshal(seeded)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, ratelimit.Key("/api/contact", "1.2.3.4"), raw, time.Minute))

	d := limiter.Check(ctx, "/api/contact", "1.2.3.4")
	require.NotNil(t, d)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10*time.Second, d.RetryAfter)
	assert.Equal(t, now.Add(10*time.Second), d.Reset)
}

func TestDecision_WriteRejection(t *testing.T) {
	reset := time.Unix(1_700_000_060, 0)
	d := &ratelimit.Decision{Allowed: false, Limit: 5, Reset: reset, RetryAfter: 1500 * time.Millisecond}

	rec := httptest.NewRecorder()
	d.WriteRejection(rec)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000060", rec.Header().Get("X-RateLimit-Reset"))

	var body models.RateLimitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests", body.Error)
	assert.Equal(t, 2, body.RetryAfter)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, ratelimit.RetryAfterSeconds(0))
	assert.Equal(t, 1, ratelimit.RetryAfterSeconds(-time.Second))
	assert.Equal(t, 1, ratelimit.RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 60, ratelimit.RetryAfterSeconds(time.Minute))
}

func TestRoutesFromConfig(t *testing.T) {
	routes := ratelimit.RoutesFromConfig([]config.RouteLimit{
		{Path: "/api/contact", MaxRequests: 5, Window: time.Minute},
	})

	assert.Equal(t, ratelimit.Rule{MaxRequests: 5, Window: time.Minute}, routes["/api/contact"])

	defaults := ratelimit.DefaultRoutes()
	assert.Contains(t, defaults, "/api/auth/magic-link")
	assert.Contains(t, defaults, "/api/musician/auth/magic-link")
}
