// Copyright 2025 James Ross
// Package cache implements the Response Cache (C4): an in-memory LRU with
// strong/weak ETags, per-entry TTL and stale-while-revalidate windows,
// and write-through prefix invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/obs"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Entry is the in-memory representation of a cached response.
type Entry struct {
	Key      string
	ETag     string
	Body     []byte
	StoredAt time.Time
	TTL      time.Duration
	SWR      time.Duration
	Path     string
}

// Freshness describes where a Get landed relative to TTL/SWR.
type Freshness int

const (
	Miss Freshness = iota
	Fresh
	Stale
)

// Result is returned by Get.
type Result struct {
	Entry     Entry
	Freshness Freshness
}

// Cache is the Response Cache. Reads never block other reads; writes and
// invalidation hold an internal mutex, matching the teacher's documented
// "guarded by an internal mutex; readers do not block readers" model
// (implemented here with an RWMutex over the LRU, since golang-lru is not
// itself safe for lock-free concurrent prefix scans).
type Cache struct {
	mu         sync.RWMutex
	lru        *lru.Cache[string, Entry]
	emitEvents bool
	log        *zap.Logger
}

// New builds a Cache admitting up to maxItems entries.
func New(maxItems int, emitEvents bool, log *zap.Logger) (*Cache, error) {
	l, err := lru.New[string, Entry](maxItems)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, emitEvents: emitEvents, log: log}, nil
}

// Key builds the cache key from method, normalized path, and a hash of
// the vary headers.
func Key(method, normalizedPath, varyHeadersHash string) string {
	return method + "|" + normalizedPath + "|" + varyHeadersHash
}

// StrongETag returns the hex digest of body bytes.
func StrongETag(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// WeakETag prepends W/ to a strong ETag.
func WeakETag(body []byte) string {
	return "W/" + StrongETag(body)
}

// Get returns the cached entry for key, fail-open: any internal
// inconsistency is treated as a miss rather than surfaced as an error.
func (c *Cache) Get(key string) Result {
	c.mu.RLock()
	entry, ok := c.lru.Get(key)
	c.mu.RUnlock()
	if !ok {
		obs.CacheMisses.Inc()
		return Result{Freshness: Miss}
	}

	age := time.Since(entry.StoredAt)
	switch {
	case age <= entry.TTL:
		obs.CacheHits.Inc()
		return Result{Entry: entry, Freshness: Fresh}
	case age <= entry.TTL+entry.SWR:
		obs.CacheHits.Inc()
		return Result{Entry: entry, Freshness: Stale}
	default:
		obs.CacheMisses.Inc()
		return Result{Freshness: Miss}
	}
}

// Put admits or replaces an entry, keyed by path for prefix invalidation.
func (c *Cache) Put(key, path string, body []byte, ttl, swr time.Duration) {
	entry := Entry{
		Key:      key,
		ETag:     StrongETag(body),
		Body:     body,
		StoredAt: time.Now(),
		TTL:      ttl,
		SWR:      swr,
		Path:     path,
	}
	c.mu.Lock()
	c.lru.Add(key, entry)
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose Path starts with prefix and
// returns only once they are gone: the caller's subsequent Get is
// guaranteed a miss.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && strings.HasPrefix(entry.Path, prefix) {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c.lru.Remove(key)
	}
	if c.emitEvents && len(toRemove) > 0 {
		obs.CacheEvictions.Add(float64(len(toRemove)))
		c.log.Info("cache.evict", obs.String("prefix", prefix), obs.Int("count", len(toRemove)))
	}
	return len(toRemove)
}

// Stats reports current occupancy.
type Stats struct {
	Items int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Items: c.lru.Len()}
}
