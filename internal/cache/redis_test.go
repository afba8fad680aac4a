package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, ok, err := c.Get(ctx, "altura petrópolis")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "Altura Petrópolis", answer("52 m"), time.Hour))
	assert.True(t, mr.Exists(fmt.Sprintf(QueryCacheKey, Key("altura petropolis"))))

	e, ok, err := c.Get(ctx, "ALTURA  petrópolis")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "52 m", e.Answer.Text)
	assert.Equal(t, models.ModeStructuredOnly, e.Answer.Mode)
	assert.Equal(t, int64(1), e.HitCount)
	assert.Equal(t, "altura petropolis", e.QueryText)
	assert.False(t, e.CreatedAt.IsZero())

	e, _, _ = c.Get(ctx, "altura petrópolis")
	assert.Equal(t, int64(2), e.HitCount)
}

func TestRedisCachePutKeepsHitCount(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	require.NoError(t, c.Put(ctx, "q", answer("a"), time.Hour))
	_, _, _ = c.Get(ctx, "q")
	require.NoError(t, c.Put(ctx, "q", answer("a"), time.Hour))
	require.NoError(t, c.Put(ctx, "Q", answer("a"), time.Hour))

	e, ok, _ := c.Get(ctx, "q")
	require.True(t, ok)
	assert.Equal(t, int64(2), e.HitCount)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Put(ctx, "q", answer("a"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Put(ctx, "altura petrópolis", answer("Petrópolis: 42 m"), time.Hour))
	require.NoError(t, c.Put(ctx, "altura moinhos", answer("Moinhos de Vento: 42 m"), time.Hour))
	require.NoError(t, c.Put(ctx, "recuo centro", answer("Centro: 4 m"), time.Hour))
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := c.Invalidate(ctx, Predicate{AnswerContains: "42 M"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, _ := c.Get(ctx, "recuo centro")
	assert.True(t, ok)

	n, err = c.Invalidate(ctx, Predicate{All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCacheInvalidateDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Put(ctx, "altura petrópolis", answer("Petrópolis: 42 m"), time.Hour))
	require.NoError(t, c.Put(ctx, "recuo centro", answer("Centro: 4 m"), time.Hour))
	corrupt := fmt.Sprintf(QueryCacheKey, Key("altura moinhos"))
	mr.HSet(corrupt, "query", "altura moinhos", "result", "{not json", "hit_count", "0")

	n, err := c.Invalidate(ctx, Predicate{AnswerContains: "42 m"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, mr.Exists(corrupt))

	_, ok, _ := c.Get(ctx, "recuo centro")
	assert.True(t, ok)
}

func TestRedisCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	mr.Close()

	_, _, err := c.Get(ctx, "q")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.Put(ctx, "q", answer("a"), time.Hour), ErrCacheUnavailable)
}
