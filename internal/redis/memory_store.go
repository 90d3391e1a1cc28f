package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// CleanupInterval is the interval between expired item cleanup runs.
	CleanupInterval = 5 * time.Minute
)

// MemoryStore is an in-memory implementation of the Store interface.
// It stores everything in one map with TTL support via a background sweep
// and expiry checks on read.
type MemoryStore struct {
	items         map[string]*expiringItem[[]byte]
	logger        *logrus.Logger
	mu            sync.RWMutex
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// expiringItem wraps data with expiration time for TTL support.
// A zero ExpiresAt never expires.
type expiringItem[T any] struct {
	Data      T
	ExpiresAt time.Time
}

func (e *expiringItem[T]) isExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// NewMemoryStore creates a new in-memory store with TTL cleanup.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	store := &MemoryStore{
		items:         make(map[string]*expiringItem[[]byte]),
		logger:        logger,
		cleanupTicker: time.NewTicker(CleanupInterval),
		stopCleanup:   make(chan struct{}),
	}

	go store.cleanupExpiredItems()

	logger.Info("In-memory store initialized with TTL cleanup")
	return store
}

func (m *MemoryStore) cleanupExpiredItems() {
	defer m.cleanupTicker.Stop()

	for {
		select {
		case <-m.cleanupTicker.C:
			m.performCleanup(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup removes expired items and returns how many were dropped.
func (m *MemoryStore) performCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for key, item := range m.items {
		if item.isExpired(now) {
			delete(m.items, key)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithField("expired_items", expired).Debug("Cleaned up expired items from memory store")
	}
	return expired
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
		m.logger.Info("Memory store closed")
	})
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Get returns a copy of the value at key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[key]
	if !ok || item.isExpired(time.Now()) {
		return nil, ErrCacheMiss
	}

	out := make([]byte, len(item.Data))
	copy(out, item.Data)
	return out, nil
}

// Set stores a copy of value at key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)

	item := &expiringItem[[]byte]{Data: data}
	if ttl > 0 {
		item.ExpiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes keys and returns how many were present and unexpired.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	deleted := 0
	for _, key := range keys {
		if item, ok := m.items[key]; ok {
			if !item.isExpired(now) {
				deleted++
			}
			delete(m.items, key)
		}
	}
	return deleted, nil
}

// Incr increments the integer at key under the store lock, keeping its TTL.
func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	item, ok := m.items[key]
	if ok && !item.isExpired(time.Now()) {
		n, err := strconv.ParseInt(string(item.Data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
		}
		current = n
	} else {
		item = &expiringItem[[]byte]{}
		m.items[key] = item
	}

	current++
	item.Data = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

// ScanKeys lists unexpired keys matching pattern.
func (m *MemoryStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, item := range m.items {
		if !item.isExpired(now) && matchGlob(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// MemoryUsage reports the number of keys held.
func (m *MemoryStore) MemoryUsage(_ context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("%d keys (in-memory)", len(m.items))
}

// matchGlob reports whether s matches pattern, where '*' matches any run of
// characters (including '/') and every other byte matches itself.
func matchGlob(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0

	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, i
			p++
		case p < len(pattern) && pattern[p] == s[i]:
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
