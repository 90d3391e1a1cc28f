// Package cache serves rendered HTML pages from the shared key-value store and
// invalidates them by advancing a global version counter.
//
// A page entry is keyed by path and version tag, so bumping the counter makes every
// prior entry unreachable at once. Old entries are never deleted; they expire via TTL.
// Store failures never break a request: a failed read is a miss, a failed write is dropped.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
)

// Prefixes that are never cached. The blob passthrough prefix is added from config.
var uncachedPrefixes = []string{"/admin", "/musician", "/api"}

// Headers that describe the original transfer and are meaningless once replayed,
// plus headers that must never be shared between visitors.
var droppedHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Set-Cookie":        true,
	"X-Cache":           true,
	"X-Cache-Version":   true,
	"X-Request-Id":      true,
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{StatusCode: r.StatusCode, Header: r.Header.Clone(), Body: body}
}

// WriteTo writes the response to w, merging its headers into w's.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	for key, values := range r.Header {
		w.Header()[key] = values
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

// VersionController owns the cache_version counter and the page entries keyed by it.
type VersionController struct {
	store        redis.Store
	buildID      string
	ttl          time.Duration
	cacheControl string
	blobPrefix   string
	metrics      *metrics.Metrics
	logger       *logrus.Logger
}

// NewVersionController creates a controller over store using the site build id
// and cache lifetimes from cfg.
func NewVersionController(store redis.Store, cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) *VersionController {
	return &VersionController{
		store:   store,
		buildID: cfg.Site.BuildID,
		ttl:     cfg.Cache.TTL,
		cacheControl: fmt.Sprintf("public, max-age=0, s-maxage=%d, stale-while-revalidate=%d",
			int(cfg.Cache.SharedMaxAge.Seconds()), int(cfg.Cache.StaleWhileRevalidate.Seconds())),
		blobPrefix: cfg.Site.BlobPathPrefix,
		metrics:    m,
		logger:     logger,
	}
}

// ShouldCachePath reports whether responses for path may be cached. It must be
// consulted before any lookup or store.
func (c *VersionController) ShouldCachePath(path string) bool {
	for _, prefix := range uncachedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if c.blobPrefix != "" && strings.HasPrefix(path, c.blobPrefix) {
		return false
	}
	return true
}

// Version returns the current version tag. A store failure yields the tag of
// generation 0 so callers always get a usable value.
func (c *VersionController) Version(ctx context.Context) string {
	tag, err := c.version(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read cache version")
		return c.tag(0)
	}
	return tag
}

// Invalidate advances the version counter by one and returns the new tag.
//
// Stores offering an atomic increment use it. Otherwise the counter is read,
// incremented and written back; concurrent invalidations may then collapse into
// one bump, but the counter never decreases because nothing is written when the
// read fails.
func (c *VersionController) Invalidate(ctx context.Context) (string, error) {
	next, err := c.increment(ctx)
	c.metrics.CacheInvalidation(err)
	if err != nil {
		return "", fmt.Errorf("failed to invalidate page cache: %w", err)
	}

	tag := c.tag(next)
	c.logger.WithField("cache_version", tag).Info("Page cache invalidated")
	return tag, nil
}

func (c *VersionController) increment(ctx context.Context) (int64, error) {
	if inc, ok := c.store.(redis.Incrementer); ok {
		return inc.Incr(ctx, constants.KeyCacheVersion)
	}

	current, err := c.counter(ctx)
	if err != nil {
		return 0, err
	}

	next := current + 1
	if err := c.store.Set(ctx, constants.KeyCacheVersion, []byte(strconv.FormatInt(next, 10)), 0); err != nil {
		return 0, err
	}
	return next, nil
}

// GetCachedResponse returns the cached page for a GET request under the current
// version, tagged X-Cache: HIT, or nil on a miss or store failure.
func (c *VersionController) GetCachedResponse(ctx context.Context, r *http.Request) *Response {
	if r.Method != http.MethodGet {
		return nil
	}

	tag, err := c.version(ctx)
	if err != nil {
		c.metrics.CacheLookup(metrics.CacheError)
		c.logger.WithError(err).Debug("Cache version unavailable, treating as miss")
		return nil
	}

	key := PageKey(r.URL.Path, tag)
	body, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			c.metrics.CacheLookup(metrics.CacheMiss)
		} else {
			c.metrics.CacheLookup(metrics.CacheError)
			c.logger.WithError(err).WithField("key", key).Debug("Cache read failed, treating as miss")
		}
		return nil
	}

	header := http.Header{}
	raw, err := c.store.Get(ctx, key+constants.KeyPageHeadersSuffix)
	if err == nil {
		var stored map[string]string
		if jsonErr := json.Unmarshal(raw, &stored); jsonErr == nil {
			for name, value := range stored {
				header.Set(name, value)
			}
		}
	}
	if header.Get(constants.HeaderContentType) == "" {
		header.Set(constants.HeaderContentType, constants.ContentTypeHTMLUTF8)
	}

	header.Set(constants.HeaderXCache, constants.CacheHit)
	header.Set(constants.HeaderXCacheVersion, tag)
	header.Set(constants.HeaderCacheControl, c.cacheControl)

	c.metrics.CacheLookup(metrics.CacheHit)
	return &Response{StatusCode: http.StatusOK, Header: header, Body: body}
}

// CacheResponse persists resp when it is a cacheable page and returns a copy
// tagged X-Cache: MISS with edge-oriented Cache-Control. Other responses are
// returned unchanged. Persistence failures are logged and dropped.
func (c *VersionController) CacheResponse(ctx context.Context, r *http.Request, resp *Response) *Response {
	if !c.isCacheable(r, resp) {
		return resp
	}

	out := resp.Clone()

	tag, err := c.version(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Cache version unavailable, not storing page")
		tag = c.tag(0)
	} else {
		storeErr := c.persist(ctx, PageKey(r.URL.Path, tag), resp)
		c.metrics.CacheStore(storeErr)
		if storeErr != nil {
			c.logger.WithError(storeErr).WithField("path", r.URL.Path).Warn("Failed to store page in cache")
		}
	}

	out.Header.Set(constants.HeaderXCache, constants.CacheMiss)
	out.Header.Set(constants.HeaderXCacheVersion, tag)
	out.Header.Set(constants.HeaderCacheControl, c.cacheControl)
	return out
}

func (c *VersionController) isCacheable(r *http.Request, resp *Response) bool {
	if r.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return false
	}
	if !c.ShouldCachePath(r.URL.Path) {
		return false
	}
	if !IsHTML(resp.Header) {
		return false
	}
	if resp.Header.Get("Set-Cookie") != "" {
		return false
	}
	cc := strings.ToLower(resp.Header.Get(constants.HeaderCacheControl))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

func (c *VersionController) persist(ctx context.Context, key string, resp *Response) error {
	stored := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		canonical := http.CanonicalHeaderKey(name)
		if droppedHeaders[canonical] || len(values) == 0 {
			continue
		}
		stored[canonical] = strings.Join(values, ", ")
	}

	headers, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	// Headers first: a body is only ever visible together with its headers.
	if err := c.store.Set(ctx, key+constants.KeyPageHeadersSuffix, headers, c.ttl); err != nil {
		return err
	}
	return c.store.Set(ctx, key, resp.Body, c.ttl)
}

func (c *VersionController) version(ctx context.Context) (string, error) {
	n, err := c.counter(ctx)
	if err != nil {
		return "", err
	}
	return c.tag(n), nil
}

func (c *VersionController) counter(ctx context.Context) (int64, error) {
	raw, err := c.store.Get(ctx, constants.KeyCacheVersion)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return 0, nil
		}
		return 0, err
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed cache version %q: %w", raw, err)
	}
	return n, nil
}

func (c *VersionController) tag(n int64) string {
	return c.buildID + "-" + strconv.FormatInt(n, 10)
}

// PageKey returns the store key of a page body: page:<path>:v<tag>.
func PageKey(path, tag string) string {
	return constants.KeyPagePrefix + path + ":v" + tag
}

// IsHTML reports whether the header declares an HTML body.
func IsHTML(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get(constants.HeaderContentType)), constants.ContentTypeHTML)
}
