// Package cache provides the bounded in-memory caches used by the image
// pipeline: insertion-ordered LRU maps with per-entry TTL.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// LRU is an insertion-ordered cache with TTL eviction. Oldest entries are
// dropped first when the size bound is hit. Safe for concurrent use.
type LRU struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest insertion

	maxSize int
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

type lruEntry struct {
	key        string
	value      string
	insertedAt time.Time
}

// NewLRU creates a cache bounded to maxSize entries, each living for ttl.
func NewLRU(maxSize int, ttl time.Duration) *LRU {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LRU{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached value, or "" and false on a miss or an expired
// entry. Expired entries are removed lazily.
func (c *LRU) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	entry := elem.Value.(*lruEntry)
	if time.Since(entry.insertedAt) > c.ttl {
		c.removeLocked(elem)
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Set inserts or refreshes an entry. A refreshed entry moves to the newest
// position and its TTL restarts.
func (c *LRU) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.insertedAt = time.Now()
		c.order.MoveToBack(elem)
		c.sets.Add(1)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	elem := c.order.PushBack(&lruEntry{key: key, value: value, insertedAt: time.Now()})
	c.entries[key] = elem
	c.sets.Add(1)
}

// Delete removes a key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *LRU) removeLocked(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}

// EvictExpired drops every entry past its TTL and returns how many were
// removed. Called by the housekeeping monitor.
func (c *LRU) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if time.Since(elem.Value.(*lruEntry).insertedAt) > c.ttl {
			c.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// TrimToNewest keeps only the n most recently inserted entries. Used under
// memory pressure.
func (c *LRU) TrimToNewest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for len(c.entries) > n {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		removed++
	}
	return removed
}

// Len returns the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush removes all entries.
func (c *LRU) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats describes cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot of the counters.
func (c *LRU) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Size:    c.Len(),
		HitRate: hitRate,
	}
}
