// Package cache provides a bounded, TTL-aware cache shared by every
// component that needs read-through caching with eviction under pressure:
// the auth resolver's verified-credential cache and the documentation
// proxy's response cache.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry wraps a cached value with its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded LRU cache where every entry additionally expires
// after a fixed time-to-live. Expired entries are evicted lazily on access
// and proactively by a background sweep.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	cache *lru.Cache[K, entry[V]]
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a TTLCache.
type Option[K comparable, V any] func(*TTLCache[K, V])

// WithClock overrides the time source; used by tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTLCache[K, V]) { c.now = now }
}

// New creates a TTLCache bounded to capacity entries, each living for ttl
// after insertion. capacity <= 0 defaults to 1000; ttl <= 0 defaults to 60s.
func New[K comparable, V any](capacity int, ttl time.Duration, opts ...Option[K, V]) *TTLCache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	l, _ := lru.New[K, entry[V]](capacity)
	c := &TTLCache[K, V]{
		cache: l,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, or ok=false if absent or expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.cache.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set inserts or refreshes value for key with the cache's configured TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, entry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// SetTTL inserts value for key with an explicit TTL overriding the cache
// default; used by the documentation proxy, which keys TTL off query class.
func (c *TTLCache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
}

// Len reports the number of entries currently held, including any not yet
// lazily evicted.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge removes every entry.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
