package cache

import (
	"context"
	"strings"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
	"gorm.io/gorm"
)

const getSQL = `UPDATE query_cache SET hit_count = hit_count + 1
WHERE key = ? AND expires_at > ?
RETURNING id, key, query_text, result, hit_count, created_at, expires_at`

// putSQL keeps hit_count and created_at of a live entry and resets an expired one.
const putSQL = `INSERT INTO query_cache (key, query_text, result, hit_count, created_at, expires_at)
VALUES (?, ?, ?::jsonb, 0, ?, ?)
ON CONFLICT (key) DO UPDATE SET
	query_text = EXCLUDED.query_text,
	result = EXCLUDED.result,
	hit_count = CASE WHEN query_cache.expires_at > ? THEN query_cache.hit_count ELSE 0 END,
	created_at = CASE WHEN query_cache.expires_at > ? THEN query_cache.created_at ELSE EXCLUDED.created_at END,
	expires_at = EXCLUDED.expires_at`

// PostgresCache persists entries in the query_cache table. The unique index on
// key makes every write an atomic upsert.
type PostgresCache struct {
	db  *gorm.DB
	now func() time.Time
	counters
}

func NewPostgresCache(db *gorm.DB) *PostgresCache {
	return &PostgresCache{db: db, now: time.Now}
}

func (c *PostgresCache) Get(ctx context.Context, query string) (*Entry, bool, error) {
	var rows []models.QueryCacheEntry
	if err := c.db.WithContext(ctx).Raw(getSQL, Key(query), c.now()).Scan(&rows).Error; err != nil {
		return nil, false, unavailable("get", err)
	}
	if len(rows) == 0 {
		c.record(false)
		return nil, false, nil
	}

	row := rows[0]
	answer, err := decodeAnswer(row.Result)
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	c.record(true)
	return &Entry{
		Key:       row.Key,
		QueryText: row.QueryText,
		Answer:    answer,
		HitCount:  int64(row.HitCount),
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, true, nil
}

func (c *PostgresCache) Put(ctx context.Context, query string, answer models.SynthesizedAnswer, ttl time.Duration) error {
	result, err := encodeAnswer(answer)
	if err != nil {
		return err
	}
	now := c.now()
	err = c.db.WithContext(ctx).Exec(putSQL,
		Key(query), normalize.QueryKey(query), result, now, now.Add(ttl),
		now, now,
	).Error
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (c *PostgresCache) Invalidate(ctx context.Context, p Predicate) (int64, error) {
	if p.Empty() {
		return 0, nil
	}

	tx := c.db.WithContext(ctx).Model(&models.QueryCacheEntry{})
	if p.All {
		tx = tx.Where("1 = 1")
	} else {
		if p.AnswerContains != "" {
			tx = tx.Where("result->>'text' ILIKE ?", likePattern(p.AnswerContains))
		}
		if p.QueryContains != "" {
			tx = tx.Where("query_text LIKE ?", likePattern(normalize.QueryKey(p.QueryContains)))
		}
		if !p.CreatedBefore.IsZero() {
			tx = tx.Where("created_at < ?", p.CreatedBefore)
		}
	}

	res := tx.Delete(&models.QueryCacheEntry{})
	if res.Error != nil {
		return 0, unavailable("invalidate", res.Error)
	}
	return res.RowsAffected, nil
}

// Sweep deletes expired rows.
func (c *PostgresCache) Sweep(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).Exec("DELETE FROM query_cache WHERE expires_at <= ?", c.now())
	if res.Error != nil {
		return 0, unavailable("sweep", res.Error)
	}
	return res.RowsAffected, nil
}

func (c *PostgresCache) Stats(ctx context.Context) (Stats, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&models.QueryCacheEntry{}).
		Where("expires_at > ?", c.now()).
		Count(&n).Error
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return c.counters.stats(BackendPostgres, n), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
