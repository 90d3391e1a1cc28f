// Package redis provides the key-value store shared by the page cache and the
// rate limiter. The Redis client is used in every deployed environment; the
// in-memory store implements the same interface for local development and tests.
//
// Keys used by the service:
//   - cache_version - page cache generation counter
//   - page:{path}:v{tag} - cached page body, with a sibling :headers key
//   - ratelimit:{path}:{ip} - sliding window timestamps
//
// Values are opaque bytes. Absence is reported as ErrCacheMiss so callers can tell
// an expected miss from a store failure.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

// ErrCacheMiss is returned when a key does not exist in the store.
var ErrCacheMiss = errors.New("cache miss")

// ScanBatchSize is the number of keys to scan per Redis SCAN iteration.
const ScanBatchSize = 100

// Store is the key-value store contract. It makes no atomicity promise across
// calls: a Get followed by a Set may interleave with other writers.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Close releases the underlying connections.
	Close() error

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Get returns the value stored at key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A zero ttl means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// ScanKeys lists keys matching a glob pattern where '*' matches any run of characters.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// MemoryUsage returns a human-readable memory figure, or "unavailable".
	MemoryUsage(ctx context.Context) string
}

// Incrementer is implemented by stores offering an atomic counter increment.
type Incrementer interface {
	// Incr atomically adds one to the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
}

// Client is a Redis-backed Store with connection pooling.
//
// Thread Safety: All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewClient creates a Redis client from configuration and verifies connectivity.
//
// Parameters:
//   - cfg: Redis connection settings (URL, pool sizes, timeouts)
//   - logger: Logger for connection events
//
// Returns:
//   - *Client: Connected client
//   - error: URL parse or connection error
func NewClient(cfg *config.RedisConfig, logger *logrus.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	client := NewClientFromRedis(redis.NewClient(opts), logger)

	if pingErr := client.Ping(context.Background()); pingErr != nil {
		_ = client.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis successfully")

	return client, nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb *redis.Client, logger *logrus.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Close gracefully shuts down the Redis client and closes all pooled connections.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	c.logger.Info("Redis connection closed")
	return nil
}

// Ping tests connectivity to the Redis server by sending a PING command.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetRedisClient returns the underlying go-redis client for libraries that
// need direct access, such as redis_rate.
func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}

// Get returns the raw value at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value at key with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys in ScanBatchSize chunks.
func (c *Client) Delete(ctx context.Context, keys ...string) (int, error) {
	deleted := 0
	for i := 0; i < len(keys); i += ScanBatchSize {
		end := min(i+ScanBatchSize, len(keys))

		n, err := c.rdb.Del(ctx, keys[i:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Incr atomically increments the counter at key.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return n, nil
}

// ScanKeys uses SCAN to list keys matching pattern without blocking the server.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var found []string
	var cursor uint64

	for {
		keys, nextCursor, err := c.rdb.Scan(ctx, cursor, escapeGlob(pattern), ScanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}

		found = append(found, keys...)
		cursor = nextCursor

		if cursor == 0 {
			break
		}
	}

	return found, nil
}

// MemoryUsage retrieves used_memory_human from the Redis INFO command.
func (c *Client) MemoryUsage(ctx context.Context) string {
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err != nil {
		c.logger.WithError(err).Warn("Failed to get Redis memory info")
		return "unavailable"
	}

	return parseMemoryUsage(info)
}

// parseMemoryUsage extracts used_memory_human from Redis INFO memory output.
func parseMemoryUsage(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if value, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			return value
		}
	}
	return "unavailable"
}

// escapeGlob keeps '*' as a wildcard and escapes the other Redis glob
// metacharacters, which may legitimately appear in page paths.
func escapeGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
