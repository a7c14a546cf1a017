package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry represents a cached value with expiration
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Cache provides a simple in-memory cache with TTL
type Cache[V any] struct {
	mu            sync.RWMutex
	items         map[string]Entry[V]
	defaultTTL    time.Duration
	now           func() time.Time
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// New creates a new cache with the given default TTL. The TTL must be
// positive; it is also the cleanup interval.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]Entry[V]),
		defaultTTL:  defaultTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	c.cleanupTicker = time.NewTicker(defaultTTL)
	go c.cleanup()

	return c
}

// cleanup removes expired entries periodically
func (c *Cache[V]) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.Sweep()
		case <-c.stopCleanup:
			c.cleanupTicker.Stop()
			return
		}
	}
}

// Sweep drops every expired entry
func (c *Cache[V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.items {
		if now.After(entry.ExpiresAt) {
			delete(c.items, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Get retrieves a value from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, exists := c.items[key]
	if !exists || c.now().After(entry.ExpiresAt) {
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value in the cache with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value in the cache with a custom TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

// Delete removes a value from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// DeletePrefix removes all values with keys starting with the given prefix
func (c *Cache[V]) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

// Clear removes all values from the cache
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Entry[V])
}

// Len returns the number of stored entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
