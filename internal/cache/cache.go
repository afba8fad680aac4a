// Package cache stores synthesized answers keyed by the normalized query text.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
)

// ErrCacheUnavailable wraps every backend failure. Callers continue without caching.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Entry is one cached answer.
type Entry struct {
	Key       string                   `json:"key"`
	QueryText string                   `json:"query_text"`
	Answer    models.SynthesizedAnswer `json:"result"`
	HitCount  int64                    `json:"hit_count"`
	CreatedAt time.Time                `json:"created_at"`
	ExpiresAt time.Time                `json:"expires_at"`
}

// Live reports whether the entry is still fresh at now.
func (e *Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Predicate selects entries for bulk invalidation. Set fields are ANDed; All
// matches everything.
type Predicate struct {
	AnswerContains string
	QueryContains  string
	CreatedBefore  time.Time
	All            bool
}

// Empty reports whether the predicate would select nothing.
func (p Predicate) Empty() bool {
	return !p.All && p.AnswerContains == "" && p.QueryContains == "" && p.CreatedBefore.IsZero()
}

// Match evaluates the predicate against one entry. Text matching ignores case.
func (p Predicate) Match(e *Entry) bool {
	if p.All {
		return true
	}
	if p.Empty() {
		return false
	}
	if p.AnswerContains != "" && !strings.Contains(strings.ToLower(e.Answer.Text), strings.ToLower(p.AnswerContains)) {
		return false
	}
	if p.QueryContains != "" && !strings.Contains(e.QueryText, normalize.QueryKey(p.QueryContains)) {
		return false
	}
	if !p.CreatedBefore.IsZero() && !e.CreatedAt.Before(p.CreatedBefore) {
		return false
	}
	return true
}

// Stats summarizes a cache for the admin endpoint.
type Stats struct {
	Backend string `json:"backend"`
	Entries int64  `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// Cache is the contract the orchestrator depends on. Get counts a hit on the
// returned entry. Put is an upsert: repeating it never duplicates an entry or
// changes its hit count while the entry is live.
type Cache interface {
	Get(ctx context.Context, query string) (*Entry, bool, error)
	Put(ctx context.Context, query string, answer models.SynthesizedAnswer, ttl time.Duration) error
	Invalidate(ctx context.Context, p Predicate) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// Sweeper is implemented by backends that need expired entries reclaimed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Key returns the storage key of a query: a hash of its normalized form.
func Key(query string) string {
	return normalize.HashKey(normalize.QueryKey(query))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCacheUnavailable, op, err)
}

func encodeAnswer(a models.SynthesizedAnswer) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal answer: %w", err)
	}
	return string(b), nil
}

// errCorruptEntry marks a stored answer that no longer decodes.
var errCorruptEntry = errors.New("corrupt cache entry")

func decodeAnswer(s string) (models.SynthesizedAnswer, error) {
	var a models.SynthesizedAnswer
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return a, fmt.Errorf("%w: failed to unmarshal answer: %v", errCorruptEntry, err)
	}
	return a, nil
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) stats(backend string, entries int64) Stats {
	return Stats{
		Backend: backend,
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
