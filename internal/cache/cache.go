// Package cache provides TTL-based memoization for read-only Ollama API
// responses, keyed by a deterministic hash of the request. Concurrent
// misses for the same key are collapsed into a single backend call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuba6112/ollama-mcp/internal/singleflight"
)

// entry is a stored response with its expiry.
type entry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
}

// Stats holds cache performance counters.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Cache is a concurrency-safe in-memory TTL cache. Expired entries are
// purged lazily on access; an optional background sweep bounds memory
// between accesses. An entry past its TTL is never returned.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	// maxEntries bounds the cache size; 0 means unbounded. When full,
	// the oldest entry is evicted to make room.
	maxEntries int

	group  *singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the number of stored entries.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		group:   singleflight.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key derives a deterministic cache key from the request shape. Bodies
// are JSON-marshaled, which emits struct fields in declaration order and
// map keys sorted, so structurally equal requests hash identically
// regardless of how they were built.
func Key(method, path string, body any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", method, path)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			// Not reachable for the request types we cache, but keep the
			// key deterministic anyway.
			fmt.Fprintf(h, "%v", body)
		} else {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// lookup is Get without the hit/miss accounting, for call paths that
// probe the map more than once per logical lookup. Expired entries are
// purged on access.
func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictOneLocked(now)
		}
	}
	c.entries[key] = entry{value: value, storedAt: now, expiresAt: now.Add(ttl)}
}

// evictOneLocked removes one entry to relieve capacity pressure:
// an expired entry if any exists, otherwise the oldest.
func (c *Cache) evictOneLocked(now time.Time) {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			return
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// GetOrCompute returns the cached value for key, or invokes fn to
// produce it. Concurrent callers for the same key while a computation is
// in flight share the single in-flight result rather than issuing
// duplicate backend calls. The hit return reports whether the value was
// served without running fn in this call chain, and each call counts
// exactly one hit or one miss regardless of how many internal probes it
// took.
//
// fn errors are returned to every waiting caller and nothing is stored.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() ([]byte, error)) (value []byte, hit bool, err error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, true, nil
	}

	var recheckHit bool
	v, err, shared := c.group.Do(key, func() ([]byte, error) {
		// A caller that queued behind an owner may arrive here after the
		// owner already stored the result; re-check before computing.
		if v, ok := c.lookup(key); ok {
			recheckHit = true
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		c.misses.Add(1)
		return nil, false, err
	}
	if shared || recheckHit {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)
	return v, false, nil
}

// Invalidate removes key. Mutating operations call this so stale model
// listings are not served after a pull, copy, or delete.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// StartSweep launches a background goroutine that periodically removes
// expired entries. Stop terminates it.
func (c *Cache) StartSweep(interval time.Duration) {
	if c.sweepStop != nil || interval <= 0 {
		return
	}
	c.sweepStop = make(chan struct{})
	c.sweepDone = make(chan struct{})

	go func() {
		defer close(c.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.sweepStop:
				return
			case <-ticker.C:
				c.sweepExpired()
			}
		}
	}()
}

// Stop terminates the background sweep, if running.
func (c *Cache) Stop() {
	if c.sweepStop == nil {
		return
	}
	close(c.sweepStop)
	<-c.sweepDone
	c.sweepStop = nil
	c.sweepDone = nil
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
