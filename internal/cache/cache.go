package cache

import (
	"context"
	"sync"
	"time"
)

// Store caches encoded search results. Invalidate drops every entry and
// moves the store to a new generation. Get reports the generation it ran
// under; Set with an older generation is discarded, so a result read before
// a write can never be cached after it.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, gen int64, ok bool)
	Set(ctx context.Context, key string, gen int64, val []byte)
	Invalidate(ctx context.Context)
}

// DefaultMaxEntries bounds the in-process cache; search keys are client driven.
const DefaultMaxEntries = 10_000

// Cache is the in-process Store, used when no redis is configured.
type Cache struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	gen        int64
	m          map[string]entry
	now        func() time.Time
}

type entry struct {
	val []byte
	exp time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		m:          make(map[string]entry),
		now:        time.Now,
	}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, int64, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.m[key]
	gen := c.gen
	c.mu.RUnlock()

	if !ok {
		return nil, gen, false
	}
	if now.After(e.exp) {
		c.mu.Lock()
		// a concurrent Set may have refreshed it
		if cur, ok := c.m[key]; ok && now.After(cur.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, gen, false
	}

	return e.val, gen, true
}

func (c *Cache) Set(_ context.Context, key string, gen int64, val []byte) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	if _, exists := c.m[key]; !exists && len(c.m) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.m[key] = entry{val: val, exp: now.Add(c.ttl)}
}

// evictLocked drops expired entries, or everything when none had expired.
func (c *Cache) evictLocked(now time.Time) {
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) >= c.maxEntries {
		c.m = make(map[string]entry)
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *Cache) Invalidate(_ context.Context) {
	c.mu.Lock()
	c.gen++
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, int64, bool) { return nil, 0, false }
func (Noop) Set(context.Context, string, int64, []byte)        {}
func (Noop) Invalidate(context.Context)                        {}
