// Package policycache is a bounded, time-expiring key/value store.
//
// Expiry is lazy: entries past their TTL are reported as absent on read and
// preferred for eviction on write, but nothing sweeps in the background.
package policycache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry wraps a cached value with its insertion time and lifetime.
type Entry[V any] struct {
	Value      V
	InsertedAt time.Time
	TTL        time.Duration
}

// ExpiresAt is the first instant the entry is no longer visible.
func (e Entry[V]) ExpiresAt() time.Time {
	return e.InsertedAt.Add(e.TTL)
}

// Expired reports whether the entry is invisible at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// Cache is an LRU cache whose entries expire individually.
// Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	items    *simplelru.LRU[string, Entry[V]]
	capacity int
	now      func() time.Time
}

// New creates a Cache holding at most capacity entries.
func New[V any](capacity int, opts ...Option) (*Cache[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("policy cache capacity must be > 0, got %d", capacity)
	}
	items, err := simplelru.NewLRU[string, Entry[V]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{items: items, capacity: capacity, now: o.now}, nil
}

// Get returns the value for key if present and not expired.
// A hit refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	entry, ok := c.GetEntry(key)
	return entry.Value, ok
}

// GetEntry is Get returning the full entry.
func (c *Cache[V]) GetEntry(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items.Peek(key)
	if !ok {
		return Entry[V]{}, false
	}
	if entry.Expired(c.now()) {
		c.items.Remove(key)
		return Entry[V]{}, false
	}
	c.items.Get(key)
	return entry, true
}

// Put inserts or replaces key. When the cache is full, the oldest-inserted
// expired entry is evicted if there is one, otherwise the least recently used.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.items.Contains(key) && c.items.Len() >= c.capacity {
		c.evictExpiredLocked(now)
	}
	c.items.Add(key, Entry[V]{Value: value, InsertedAt: now, TTL: ttl})
}

// evictExpiredLocked removes the expired entry with the earliest insertion
// time. It reports whether anything was removed.
func (c *Cache[V]) evictExpiredLocked(now time.Time) bool {
	var (
		victim   string
		oldest   time.Time
		haveDead bool
	)
	for _, key := range c.items.Keys() {
		entry, ok := c.items.Peek(key)
		if !ok || !entry.Expired(now) {
			continue
		}
		if !haveDead || entry.InsertedAt.Before(oldest) {
			victim, oldest, haveDead = key, entry.InsertedAt, true
		}
	}
	if haveDead {
		c.items.Remove(victim)
	}
	return haveDead
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
}

// Len returns the number of stored entries, including expired ones that
// have not been collected yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}
