// Package storecache provides the advisory byte caches used in front of the
// store. Correctness never depends on a hit; every consumer treats the cache
// as read-through and falls back to the repository on a miss.
package storecache

import (
	"context"
	"os"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// Cache is the advisory key/value surface shared by the in-memory and
// Redis backends.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Memory is a bounded in-process cache with TTL expiry, LRU eviction and a
// background sweep for expired entries.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memEntry
	maxEntries int
	stats      Stats

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memEntry struct {
	val      []byte
	expires  time.Time
	accessed time.Time
}

// NewMemory creates a bounded in-memory cache. maxEntries <= 0 means
// unbounded.
func NewMemory(maxEntries int) *Memory {
	c := &Memory{
		entries:    make(map[string]*memEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get retrieves a value if present and not expired.
func (c *Memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		c.stats.Misses++
		return nil, false
	}
	e.accessed = time.Now()
	c.stats.Hits++
	return append([]byte(nil), e.val...), true
}

// Set stores a value. ttl <= 0 stores without expiry.
func (c *Memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictOldest()
		}
	}

	e := &memEntry{val: append([]byte(nil), val...), accessed: time.Now()}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.entries[key] = e
}

// Stats returns a snapshot of the effectiveness counters.
func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Close stops the background sweep goroutine.
func (c *Memory) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictOldest removes the least recently accessed entry. Caller holds the
// write lock.
func (c *Memory) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.accessed.Before(oldest) {
			oldestKey = k
			oldest = e.accessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if !e.expires.IsZero() && now.After(e.expires) {
					delete(c.entries, k)
					c.stats.Evictions++
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Redis adapts a Redis client to the Cache surface. Errors degrade to
// misses; a Redis outage only costs hit rate.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, timeout: 500 * time.Millisecond}
}

func (r *Redis) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.client.Set(ctx, key, val, ttl).Err()
}

// NewAuto returns a Redis-backed cache when REDIS_ADDR is set, otherwise an
// in-memory cache.
func NewAuto(maxEntries int) Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
	}
	return NewMemory(maxEntries)
}
