package cache_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/cache"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

// plainStore hides the Incrementer capability of the wrapped store.
type plainStore struct {
	redis.Store
}

// flakyStore fails reads and/or writes on demand.
type flakyStore struct {
	redis.Store

	mu      sync.Mutex
	failGet bool
	failSet bool
	sets    int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	f.sets++
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig() *config.Config {
	return &config.Config{
		Site: config.SiteConfig{BuildID: "b42", BlobPathPrefix: "/r2"},
		Cache: config.CacheConfig{
			Enabled:              true,
			TTL:                  24 * time.Hour,
			SharedMaxAge:         time.Hour,
			StaleWhileRevalidate: 24 * time.Hour,
		},
	}
}

func newMemoryStore(t *testing.T) *redis.MemoryStore {
	t.Helper()
	store := redis.NewMemoryStore(testLogger())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newController(t *testing.T, store redis.Store) *cache.VersionController {
	t.Helper()
	return cache.NewVersionController(store, testConfig(), nil, testLogger())
}

func htmlResponse(body string) *cache.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", "999")
	h.Set("Content-Encoding", "gzip")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Origin", "renderer")
	return &cache.Response{StatusCode: http.StatusOK, Header: h, Body: []byte(body)}
}

func TestShouldCachePath(t *testing.T) {
	vc := newController(t, newMemoryStore(t))

	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/agenda", true},
		{"/galerie/2024", true},
		{"/admin", false},
		{"/admin/events", false},
		{"/musician/", false},
		{"/musician/profile", false},
		{"/api/contact", false},
		{"/r2/photos/concert.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, vc.ShouldCachePath(tt.path))
		})
	}
}

func TestVersion_DefaultsToZero(t *testing.T) {
	vc := newController(t, newMemoryStore(t))
	assert.Equal(t, "b42-0", vc.Version(context.Background()))
}

func TestVersion_StoreFailureFallsBackToZero(t *testing.T) {
	store := &flakyStore{Store: newMemoryStore(t), failGet: true}
	vc := newController(t, store)
	assert.Equal(t, "b42-0", vc.Version(context.Background()))
}

func TestInvalidate(t *testing.T) {
	tests := []struct {
		name  string
		store func(t *testing.T) redis.Store
	}{
		{name: "atomic increment", store: func(t *testing.T) redis.Store { return newMemoryStore(t) }},
		{name: "read then write", store: func(t *testing.T) redis.Store { return plainStore{newMemoryStore(t)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			vc := newController(t, tt.store(t))

			tag, err := vc.Invalidate(ctx)
			require.NoError(t, err)
			assert.Equal(t, "b42-1", tag)

			tag, err = vc.Invalidate(ctx)
			require.NoError(t, err)
			assert.Equal(t, "b42-2", tag)
			assert.Equal(t, "b42-2", vc.Version(ctx))
		})
	}
}

func TestInvalidate_ReadFailureNeverWrites(t *testing.T) {
	store := &flakyStore{Store: plainStore{newMemoryStore(t)}}
	vc := newController(t, store)
	ctx := context.Background()

	_, err := vc.Invalidate(ctx)
	require.NoError(t, err)

	store.failGet = true
	setsBefore := store.sets
	_, err = vc.Invalidate(ctx)
	require.Error(t, err)
	assert.Equal(t, setsBefore, store.sets)

	store.failGet = false
	assert.Equal(t, "b42-1", vc.Version(ctx))
}

func TestInvalidate_ConcurrentNeverDecreasesNorOvercounts(t *testing.T) {
	const n = 25

	tests := []struct {
		name  string
		store func(t *testing.T) redis.Store
		exact bool
	}{
		{name: "atomic increment", store: func(t *testing.T) redis.Store { return newMemoryStore(t) }, exact: true},
		{name: "read then write", store: func(t *testing.T) redis.Store { return plainStore{newMemoryStore(t)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := tt.store(t)
			vc := newController(t, store)

			for range 3 {
				_, err := vc.Invalidate(ctx)
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = vc.Invalidate(ctx)
				}()
			}
			wg.Wait()

			raw, err := store.Get(ctx, "cache_version")
			require.NoError(t, err)

			got, err := strconv.Atoi(string(raw))
			require.NoError(t, err)

			assert.GreaterOrEqual(t, got, 4)
			assert.LessOrEqual(t, got, 3+n)
			if tt.exact {
				assert.Equal(t, 3+n, got)
			}
		})
	}
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	vc := newController(t, newMemoryStore(t))
	req := httptest.NewRequest(http.MethodGet, "/agenda", nil)

	assert.Nil(t, vc.GetCachedResponse(ctx, req))

	original := htmlResponse("<h1>Concert de printemps</h1>")
	miss := vc.CacheResponse(ctx, req, original)

	assert.Equal(t, "MISS", miss.Header.Get("X-Cache"))
	assert.Equal(t, "b42-0", miss.Header.Get("X-Cache-Version"))
	assert.Equal(t, "public, max-age=0, s-maxage=3600, stale-while-revalidate=86400", miss.Header.Get("Cache-Control"))
	assert.Empty(t, original.Header.Get("X-Cache"), "caller's response must not be mutated")

	hit := vc.GetCachedResponse(ctx, req)
	require.NotNil(t, hit)
	assert.Equal(t, http.StatusOK, hit.StatusCode)
	assert.Equal(t, original.Body, hit.Body)
	assert.Equal(t, "HIT", hit.Header.Get("X-Cache"))
	assert.Equal(t, "b42-0", hit.Header.Get("X-Cache-Version"))
	assert.Equal(t, "text/html; charset=utf-8", hit.Header.Get("Content-Type"))
	assert.Equal(t, "renderer", hit.Header.Get("X-Origin"))
	assert.Empty(t, hit.Header.Get("Content-Length"))
	assert.Empty(t, hit.Header.Get("Content-Encoding"))
	assert.Empty(t, hit.Header.Get("Transfer-Encoding"))

	otherQuery := httptest.NewRequest(http.MethodGet, "/agenda?page=2", nil)
	assert.NotNil(t, vc.GetCachedResponse(ctx, otherQuery), "entries are keyed by pathname")
}

func TestInvalidateMakesEntriesUnreachable(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	vc := newController(t, store)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	vc.CacheResponse(ctx, req, htmlResponse("v0"))
	require.NotNil(t, vc.GetCachedResponse(ctx, req))

	_, err := vc.Invalidate(ctx)
	require.NoError(t, err)

	assert.Nil(t, vc.GetCachedResponse(ctx, req))

	_, err = store.Get(ctx, cache.PageKey("/", "b42-0"))
	assert.NoError(t, err, "old entries are left to expire, not deleted")
}

func TestCacheResponse_NotCacheable(t *testing.T) {
	ctx := context.Background()

	withHeader := func(name, value string) *cache.Response {
		resp := htmlResponse("x")
		resp.Header.Set(name, value)
		return resp
	}

	tests := []struct {
		name   string
		method string
		path   string
		resp   *cache.Response
	}{
		{"post", http.MethodPost, "/", htmlResponse("x")},
		{"head", http.MethodHead, "/", htmlResponse("x")},
		{"not found", http.MethodGet, "/", &cache.Response{StatusCode: 404, Header: htmlResponse("").Header}},
		{"json", http.MethodGet, "/", withHeader("Content-Type", "application/json")},
		{"admin path", http.MethodGet, "/admin/events", htmlResponse("x")},
		{"api path", http.MethodGet, "/api/contact", htmlResponse("x")},
		{"blob path", http.MethodGet, "/r2/a.jpg", htmlResponse("x")},
		{"sets cookie", http.MethodGet, "/", withHeader("Set-Cookie", "a=b")},
		{"no-store", http.MethodGet, "/", withHeader("Cache-Control", "no-store")},
		{"private", http.MethodGet, "/", withHeader("Cache-Control", "private, max-age=60")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore(t)
			vc := newController(t, store)
			req := httptest.NewRequest(tt.method, tt.path, nil)

			out := vc.CacheResponse(ctx, req, tt.resp)
			assert.Same(t, tt.resp, out)
			assert.Empty(t, out.Header.Get("X-Cache"))

			keys, err := store.ScanKeys(ctx, "page:*")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestGetCachedResponse_NonGet(t *testing.T) {
	ctx := context.Background()
	vc := newController(t, newMemoryStore(t))

	vc.CacheResponse(ctx, httptest.NewRequest(http.MethodGet, "/", nil), htmlResponse("x"))
	assert.Nil(t, vc.GetCachedResponse(ctx, httptest.NewRequest(http.MethodPost, "/", nil)))
}

func TestStoreFailuresDegradeGracefully(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newMemoryStore(t), failSet: true}
	vc := newController(t, store)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	out := vc.CacheResponse(ctx, req, htmlResponse("fresh"))
	assert.Equal(t, "MISS", out.Header.Get("X-Cache"))
	assert.Equal(t, []byte("fresh"), out.Body)

	store.failSet = false
	vc.CacheResponse(ctx, req, htmlResponse("fresh"))
	store.failGet = true
	assert.Nil(t, vc.GetCachedResponse(ctx, req))

	out = vc.CacheResponse(ctx, req, htmlResponse("fresh"))
	assert.Equal(t, "MISS", out.Header.Get("X-Cache"))
	assert.Equal(t, "b42-0", out.Header.Get("X-Cache-Version"))
}

func TestResponseWriteTo(t *testing.T) {
	resp := htmlResponse("<p>hi</p>")
	resp.Header.Del("Content-Length")
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Del("Content-Encoding")

	rec := httptest.NewRecorder()
	require.NoError(t, resp.WriteTo(rec))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>hi</p>", rec.Body.String())
	assert.Equal(t, "renderer", rec.Header().Get("X-Origin"))
}
