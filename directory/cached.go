package directory

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheSize and DefaultCacheTTL size the lookup cache.
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

var (
	_ Students = (*CachedStudents)(nil)
	_ Classes  = (*CachedClasses)(nil)
)

// CacheStats reports hit and miss counts.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func cached[V any](c *lru.LRU[string, V], n *counters, k string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(k); ok {
		n.hits.Add(1)
		return v, nil
	}
	n.misses.Add(1)
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Add(k, v)
	return v, nil
}

// CachedStudents caches single-student and name lookups. ListActive always
// reaches the underlying directory because generation must see the current
// roll.
type CachedStudents struct {
	next   Students
	byID   *lru.LRU[string, *Student]
	byName *lru.LRU[string, []Student]
	n      counters
}

// NewCachedStudents wraps next with an expiring LRU.
func NewCachedStudents(next Students, size int, ttl time.Duration) *CachedStudents {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStudents{
		next:   next,
		byID:   lru.NewLRU[string, *Student](size, nil, ttl),
		byName: lru.NewLRU[string, []Student](size, nil, ttl),
	}
}

func (c *CachedStudents) ListActive(ctx context.Context, schoolID, classID string) ([]Student, error) {
	return c.next.ListActive(ctx, schoolID, classID)
}

func (c *CachedStudents) Get(ctx context.Context, schoolID, studentID string) (*Student, error) {
	return cached(c.byID, &c.n, key(schoolID, studentID), func() (*Student, error) {
		return c.next.Get(ctx, schoolID, studentID)
	})
}

func (c *CachedStudents) FindByName(ctx context.Context, schoolID, name string) ([]Student, error) {
	k := key(schoolID, strings.ToLower(strings.TrimSpace(name)))
	return cached(c.byName, &c.n, k, func() ([]Student, error) {
		return c.next.FindByName(ctx, schoolID, name)
	})
}

// Purge drops every cached entry.
func (c *CachedStudents) Purge() {
	c.byID.Purge()
	c.byName.Purge()
}

// Stats returns cache counters.
func (c *CachedStudents) Stats() CacheStats { return c.n.stats() }

// CachedClasses caches class lookups.
type CachedClasses struct {
	next   Classes
	byID   *lru.LRU[string, *Class]
	byName *lru.LRU[string, *Class]
	n      counters
}

// NewCachedClasses wraps next with an expiring LRU.
func NewCachedClasses(next Classes, size int, ttl time.Duration) *CachedClasses {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClasses{
		next:   next,
		byID:   lru.NewLRU[string, *Class](size, nil, ttl),
		byName: lru.NewLRU[string, *Class](size, nil, ttl),
	}
}

func (c *CachedClasses) Get(ctx context.Context, schoolID, classID string) (*Class, error) {
	return cached(c.byID, &c.n, key(schoolID, classID), func() (*Class, error) {
		return c.next.Get(ctx, schoolID, classID)
	})
}

func (c *CachedClasses) FindByName(ctx context.Context, schoolID, name string) (*Class, error) {
	return cached(c.byName, &c.n, key(schoolID, normalizeClassName(name)), func() (*Class, error) {
		return c.next.FindByName(ctx, schoolID, name)
	})
}

// Stats returns cache counters.
func (c *CachedClasses) Stats() CacheStats { return c.n.stats() }
