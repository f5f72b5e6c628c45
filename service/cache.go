package service

import (
	"sync"
	"time"
)

// cacheEntry is a wrapper around a cached value with an expiration time.
type cacheEntry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// isExpired checks if the cache entry has expired based on the current time.
func (e *cacheEntry[T]) isExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTLCache is a keyed store whose entries expire ttl after their last write or
// touch. Expired entries are invisible to Get and removed by Sweep.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTLCache creates a TTLCache with the specified TTL.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{
		entries: make(map[string]cacheEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key and its expiry. ok is false if the key is
// missing or expired.
func (c *TTLCache[T]) Get(key string) (value T, expiresAt time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[key]
	if !found || entry.isExpired(c.now()) {
		// expired entries are left for Sweep to avoid taking the write lock here
		return value, time.Time{}, false
	}
	return entry.Value, entry.ExpiresAt, true
}

// Set stores value under key and returns its expiry.
func (c *TTLCache[T]) Set(key string, value T) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	c.entries[key] = cacheEntry[T]{Value: value, ExpiresAt: expires}
	return expires
}

// Touch extends the expiry of a live entry.
func (c *TTLCache[T]) Touch(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.isExpired(c.now()) {
		return time.Time{}, false
	}
	entry.ExpiresAt = c.now().Add(c.ttl)
	c.entries[key] = entry
	return entry.ExpiresAt, true
}

// Delete removes key and returns the value it held, if it was live.
func (c *TTLCache[T]) Delete(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	delete(c.entries, key)
	if !ok || entry.isExpired(c.now()) {
		var zero T
		return zero, false
	}
	return entry.Value, true
}

// Sweep removes expired entries and returns their values.
func (c *TTLCache[T]) Sweep() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed []T
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			removed = append(removed, entry.Value)
			delete(c.entries, key)
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[T])
}
