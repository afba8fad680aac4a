package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
	"github.com/go-redis/redis/v8"
)

// Cache key constants
const (
	QueryCacheKey    = "query:cache:%s"
	QueryCachePrefix = "query:cache:"
)

const scanBatch = 100

// getScript counts the hit and returns the stored fields in one round trip.
var getScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local hits = redis.call('HINCRBY', KEYS[1], 'hit_count', 1)
local f = redis.call('HMGET', KEYS[1], 'query', 'result', 'created_at', 'expires_at')
return {f[1], f[2], tostring(hits), f[3], f[4]}
`)

// putScript keeps hit_count and created_at while the key is live.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'query', ARGV[1], 'result', ARGV[2], 'hit_count', 0, 'created_at', ARGV[3], 'expires_at', ARGV[4])
else
	redis.call('HSET', KEYS[1], 'query', ARGV[1], 'result', ARGV[2], 'expires_at', ARGV[4])
end
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// RedisCache stores each entry as a hash that Redis expires on its own.
type RedisCache struct {
	client redis.UniversalClient
	now    func() time.Time
	counters
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, query string) (*Entry, bool, error) {
	key := Key(query)
	res, err := getScript.Run(ctx, c.client, []string{fmt.Sprintf(QueryCacheKey, key)}).Result()
	if errors.Is(err, redis.Nil) {
		c.record(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 5 {
		return nil, false, unavailable("get", fmt.Errorf("unexpected script reply %T", res))
	}
	str := func(i int) string {
		s, _ := fields[i].(string)
		return s
	}

	answer, err := decodeAnswer(str(1))
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	hits, _ := strconv.ParseInt(str(2), 10, 64)
	c.record(true)
	return &Entry{
		Key:       key,
		QueryText: str(0),
		Answer:    answer,
		HitCount:  hits,
		CreatedAt: fromMillis(str(3)),
		ExpiresAt: fromMillis(str(4)),
	}, true, nil
}

func (c *RedisCache) Put(ctx context.Context, query string, answer models.SynthesizedAnswer, ttl time.Duration) error {
	result, err := encodeAnswer(answer)
	if err != nil {
		return err
	}
	now := c.now()
	err = putScript.Run(ctx, c.client,
		[]string{fmt.Sprintf(QueryCacheKey, Key(query))},
		normalize.QueryKey(query), result, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Err()
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, p Predicate) (int64, error) {
	if p.Empty() {
		return 0, nil
	}

	var removed int64
	err := c.scan(ctx, func(key string) error {
		if !p.All {
			e, err := c.load(ctx, key)
			switch {
			case errors.Is(err, errCorruptEntry):
				// Undecodable entries can never be served; drop them.
			case err != nil:
				return err
			case e == nil || !p.Match(e):
				return nil
			}
		}
		n, err := c.client.Del(ctx, key).Result()
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	if err != nil {
		return removed, unavailable("invalidate", err)
	}
	return removed, nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var n int64
	err := c.scan(ctx, func(string) error {
		n++
		return nil
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return c.counters.stats(BackendRedis, n), nil
}

func (c *RedisCache) scan(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, QueryCachePrefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// load reads an entry without counting a hit. A key that vanished returns nil.
func (c *RedisCache) load(ctx context.Context, key string) (*Entry, error) {
	values, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	answer, err := decodeAnswer(values["result"])
	if err != nil {
		return nil, err
	}
	hits, _ := strconv.ParseInt(values["hit_count"], 10, 64)
	return &Entry{
		Key:       key[len(QueryCachePrefix):],
		QueryText: values["query"],
		Answer:    answer,
		HitCount:  hits,
		CreatedAt: fromMillis(values["created_at"]),
		ExpiresAt: fromMillis(values["expires_at"]),
	}, nil
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
