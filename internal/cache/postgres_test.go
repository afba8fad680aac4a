package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

var cacheColumns = []string{"id", "key", "query_text", "result", "hit_count", "created_at", "expires_at"}

func TestPostgresCacheGetHit(t *testing.T) {
	db, mock := newMockDB(t)
	clock := newClock()
	c := NewPostgresCache(db)
	c.now = clock.Now

	key := Key("Altura Petrópolis")
	mock.ExpectQuery(`UPDATE query_cache SET hit_count = hit_count \+ 1\s+WHERE key = \$1 AND expires_at > \$2\s+RETURNING`).
		WithArgs(key, clock.Now()).
		WillReturnRows(sqlmock.NewRows(cacheColumns).AddRow(
			1, key, "altura petropolis", `{"text":"52 m","confidence":0.88,"source_breakdown":{"structured_rows":1,"semantic_passages":0,"fallback_articles":0},"mode":"structured_only"}`,
			3, clock.Now().Add(-time.Hour), clock.Now().Add(time.Hour),
		))

	e, ok, err := c.Get(context.Background(), "altura petrópolis")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "52 m", e.Answer.Text)
	assert.Equal(t, int64(3), e.HitCount)
	assert.Equal(t, 1, e.Answer.Sources.StructuredRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheGetMiss(t *testing.T) {
	db, mock := newMockDB(t)
	c := NewPostgresCache(db)

	mock.ExpectQuery(`UPDATE query_cache`).WillReturnRows(sqlmock.NewRows(cacheColumns))

	_, ok, err := c.Get(context.Background(), "q")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := c.counters.stats(BackendPostgres, 0)
	assert.Equal(t, int64(1), stats.Misses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	c := NewPostgresCache(db)

	mock.ExpectQuery(`UPDATE query_cache`).WillReturnError(errors.New("connection refused"))
	_, _, err := c.Get(context.Background(), "q")
	assert.ErrorIs(t, err, ErrCacheUnavailable)

	mock.ExpectExec(`INSERT INTO query_cache`).WillReturnError(errors.New("connection refused"))
	err = c.Put(context.Background(), "q", answer("a"), time.Hour)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCachePutUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	clock := newClock()
	c := NewPostgresCache(db)
	c.now = clock.Now

	now := clock.Now()
	mock.ExpectExec(`INSERT INTO query_cache .*ON CONFLICT \(key\) DO UPDATE SET`).
		WithArgs(Key("q"), "q", sqlmock.AnyArg(), now, now.Add(time.Hour), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.Put(context.Background(), "Q", answer("a"), time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheInvalidate(t *testing.T) {
	db, mock := newMockDB(t)
	c := NewPostgresCache(db)

	mock.ExpectExec(`DELETE FROM "query_cache" WHERE result->>'text' ILIKE \$1 AND query_text LIKE \$2`).
		WithArgs(`%42\% m%`, "%petropolis%").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := c.Invalidate(context.Background(), Predicate{AnswerContains: "42% m", QueryContains: "Petrópolis"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectExec(`DELETE FROM "query_cache" WHERE 1 = 1`).
		WillReturnResult(sqlmock.NewResult(0, 5))
	n, err = c.Invalidate(context.Background(), Predicate{All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.Invalidate(context.Background(), Predicate{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheSweepAndStats(t *testing.T) {
	db, mock := newMockDB(t)
	c := NewPostgresCache(db)

	mock.ExpectExec(`DELETE FROM query_cache WHERE expires_at <= \$1`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "query_cache" WHERE expires_at > \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, stats.Backend)
	assert.Equal(t, int64(9), stats.Entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
