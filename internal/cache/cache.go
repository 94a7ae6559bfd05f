// Package cache provides the bounded LRU+TTL result cache that fronts the
// semantic analyzer. It is the one memoization point in the pipeline: the
// analyzer client stores validated responses here, and anything else that
// needs short-lived memoization reuses the same abstraction.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxShards is the upper bound on shard count. The cache is sharded so a hit
// on one key is never serialized behind an unrelated write; actual shard
// count shrinks for small capacities so every shard can hold at least one
// entry.
const maxShards = 16

// Key hashes the normalized parts into a cache key. Parts are trimmed and
// joined so that leading/trailing whitespace differences do not fragment the
// cache.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(strings.TrimSpace(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Metrics is a point-in-time snapshot of cache behavior.
type Metrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	key       string
	value     any
	createdAt time.Time
	expiresAt time.Time
}

type shard struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

// Cache is a sharded LRU with per-entry TTL, safe for concurrent use.
type Cache struct {
	shards []*shard
	mask   uint64
	ttl    time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New builds a cache holding at most maxSize entries, each valid for ttl.
// Non-positive maxSize falls back to 1024 entries; non-positive ttl falls
// back to 15 minutes.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	n := maxShards
	for n > 1 && maxSize < n {
		n >>= 1
	}
	c := &Cache{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		ttl:    ttl,
	}
	base, extra := maxSize/n, maxSize%n
	for i := range c.shards {
		capacity := base
		if i < extra {
			capacity++
		}
		c.shards[i] = &shard{
			capacity: capacity,
			items:    make(map[string]*list.Element, capacity),
			order:    list.New(),
		}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum64()&c.mask]
}

// Get returns the value stored under key. A stale entry is removed and
// reported as a miss plus an eviction, so callers never observe values older
// than the TTL.
func (c *Cache) Get(key string) (any, bool) {
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expiresAt) {
		s.order.Remove(el)
		delete(s.items, key)
		s.mu.Unlock()
		c.misses.Add(1)
		c.evictions.Add(1)
		return nil, false
	}
	s.order.MoveToFront(el)
	s.mu.Unlock()

	c.hits.Add(1)
	return e.value, true
}

// Put stores value under key with the cache's default TTL.
func (c *Cache) Put(key string, value any) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores value under key with an explicit TTL, evicting the least
// recently used entry of the key's shard when the shard is full.
func (c *Cache) PutTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		s.order.MoveToFront(el)
		return
	}
	if s.capacity <= 0 {
		return
	}
	if s.order.Len() >= s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*entry).key)
			c.evictions.Add(1)
		}
	}
	el := s.order.PushFront(&entry{key: key, value: value, createdAt: now, expiresAt: now.Add(ttl)})
	s.items[key] = el
}

// Invalidate removes key if present. Explicit invalidation is not counted as
// an eviction.
func (c *Cache) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
}

// Warm bulk-inserts entries, typically at startup before the consumer begins
// polling. Counters are unaffected.
func (c *Cache) Warm(entries map[string]any) {
	for k, v := range entries {
		c.Put(k, v)
	}
}

// Len reports the number of live entries across all shards. Entries past
// their TTL but not yet touched still count; they are reaped on next access.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

// Metrics snapshots the hit/miss/eviction counters. HitRate is zero until
// the first lookup.
func (c *Cache) Metrics() Metrics {
	m := Metrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}
