package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/itswale/api-utils/internal/pagecheck"
)

type lruEntry struct {
	rs      pagecheck.ResultSet
	expires time.Time
}

// LRU is a bounded in-process Store. Entries older than the TTL are dropped
// on read; a zero TTL keeps entries until they are evicted.
type LRU struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewLRU creates a Store holding at most size entries.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{
		cache: lru.New(size),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *LRU) Get(_ context.Context, key string) (pagecheck.ResultSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.cache.Get(key)
	if !ok {
		return pagecheck.ResultSet{}, false
	}
	e := v.(lruEntry)
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.cache.Remove(key)
		return pagecheck.ResultSet{}, false
	}
	return e.rs, true
}

func (c *LRU) Set(_ context.Context, key string, rs pagecheck.ResultSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := lruEntry{rs: rs}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.cache.Add(key, e)
}
