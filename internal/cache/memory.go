package cache

import (
	"context"
	"sync"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
)

// MemoryCache is a process-local cache guarded by one mutex.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
	counters
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) Get(ctx context.Context, query string) (*Entry, bool, error) {
	key := Key(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && !e.Live(c.now()) {
		delete(c.entries, key)
		ok = false
	}
	c.record(ok)
	if !ok {
		return nil, false, nil
	}

	e.HitCount++
	out := *e
	return &out, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, query string, answer models.SynthesizedAnswer, ttl time.Duration) error {
	key := Key(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && e.Live(now) {
		e.Answer = answer
		e.ExpiresAt = now.Add(ttl)
		return nil
	}
	c.entries[key] = &Entry{
		Key:       key,
		QueryText: normalize.QueryKey(query),
		Answer:    answer,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, p Predicate) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	for key, e := range c.entries {
		if p.Match(e) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Sweep drops expired entries.
func (c *MemoryCache) Sweep(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int64
	for key, e := range c.entries {
		if !e.Live(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (c *MemoryCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	n := int64(len(c.entries))
	c.mu.Unlock()
	return c.counters.stats(BackendMemory, n), nil
}
