package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chatpd/orchestrator/internal/models"
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

var regulatoryColumns = []string{
	"id", "neighborhood", "neighborhood_key", "zone_code", "max_height", "basic_coefficient",
	"max_coefficient", "permeability_rate", "setback_front", "setback_lateral", "setback_rear",
}

func TestFindRegulatoryFiltersByKeyAndZone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegulatoryRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "regulatory_records" WHERE neighborhood_key = \$1 AND zone_code = \$2 ORDER BY neighborhood, zone_code LIMIT`).
		WillReturnRows(sqlmock.NewRows(regulatoryColumns).
			AddRow(1, "Petrópolis", "PETROPOLIS", "ZOT 07", 52.0, 1.9, 3.0, nil, 4.0, nil, nil))

	rows, err := repo.FindRegulatory(context.Background(), models.RegulatoryFilter{
		NeighborhoodKey: "PETROPOLIS",
		ZoneCode:        "ZOT 07",
		Limit:           60,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ZOT 07", rows[0].ZoneCode)
	require.NotNil(t, rows[0].MaxHeight)
	assert.Equal(t, 52.0, *rows[0].MaxHeight)
	assert.Nil(t, rows[0].PermeabilityRate, "NULL stays not applicable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRegulatoryZoneOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegulatoryRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "regulatory_records" WHERE zone_code = \$1 ORDER BY neighborhood, zone_code$`).
		WithArgs("ZOT 08.3-A").
		WillReturnRows(sqlmock.NewRows(regulatoryColumns))

	rows, err := repo.FindRegulatory(context.Background(), models.RegulatoryFilter{ZoneCode: "ZOT 08.3-A"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindArticleSkipsHierarchyNodes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegulatoryRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "legal_articles" WHERE .*document_type = \$1 AND article_number = \$2.* AND article_number < \$3 ORDER BY hierarchy_path`).
		WithArgs("LUOS", 81, models.HierarchyNumberBase).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_type", "article_number", "hierarchy_path", "full_content"}).
			AddRow(7, "LUOS", 81, "TÍTULO V", "Art. 81 Das certificações..."))

	arts, err := repo.FindArticle(context.Background(), models.ArticleRef{Document: "LUOS", Number: 81})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "TÍTULO V", arts[0].HierarchyPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNeighborhoodsAndZoneCodes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegulatoryRepository(db)

	mock.ExpectQuery(`SELECT DISTINCT .*neighborhood.* FROM "regulatory_records" ORDER BY neighborhood`).
		WillReturnRows(sqlmock.NewRows([]string{"neighborhood"}).AddRow("Bom Fim").AddRow("Petrópolis"))
	mock.ExpectQuery(`SELECT DISTINCT .*zone_code.* FROM "regulatory_records" ORDER BY zone_code`).
		WillReturnRows(sqlmock.NewRows([]string{"zone_code"}).AddRow("ZOT 07"))

	names, err := repo.Neighborhoods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bom Fim", "Petrópolis"}, names)

	codes, err := repo.ZoneCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ZOT 07"}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLogCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueryLogRepository(db)

	mock.ExpectQuery(`INSERT INTO "query_logs" .* RETURNING .*"id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	log := &models.QueryLog{
		QueryText:      "Qual a altura máxima no bairro Petrópolis?",
		Intent:         "lookup_parameter",
		Strategy:       "structured_only",
		Mode:           "structured_only",
		Confidence:     0.88,
		StructuredRows: 1,
		ResponseTimeMs: 35,
	}
	require.NoError(t, repo.Create(log))
	assert.Equal(t, uint(42), log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLogGetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueryLogRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "query_logs" WHERE "query_logs"."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "query_text", "mode"}).AddRow(7, "O que é outorga onerosa?", "semantic_only"))
	mock.ExpectQuery(`SELECT \* FROM "query_logs" WHERE "query_logs"."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	log, err := repo.GetByID(7)
	require.NoError(t, err)
	assert.Equal(t, "semantic_only", log.Mode)

	_, err = repo.GetByID(8)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLogCreateValidates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueryLogRepository(db)

	err := repo.Create(&models.QueryLog{ResponseTimeMs: 10})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFeedbackCreateRejectsUnknownType(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserFeedbackRepository(db)

	err := repo.Create(&models.UserFeedback{QueryID: 1, FeedbackType: "great"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopularQueryIncrementAndStats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPopularQueryRepository(db)

	mock.ExpectExec(`INSERT INTO popular_queries .* ON CONFLICT \(query_text\)\s+DO UPDATE SET\s+search_count = popular_queries.search_count \+ 1`).
		WithArgs("altura petrópolis").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE popular_queries\s+SET\s+avg_confidence = .*WHERE query_text = \$3`).
		WithArgs(0.88, 35, "altura petrópolis").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementCount("altura petrópolis"))
	require.NoError(t, repo.UpdateStats("altura petrópolis", 0.88, 35))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPopularQuerySearchEscapesPattern(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPopularQueryRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM "popular_queries" WHERE query_text ILIKE \$1 ORDER BY search_count DESC LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "query_text", "search_count", "avg_confidence", "avg_response_time_ms", "last_searched"}).
			AddRow(1, "taxa de permeabilidade 20%", 5, 0.8, 40, now))

	queries, err := repo.Search("20%", 5)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, 5, queries[0].SearchCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `20\%`, escapeLike("20%"))
	assert.Equal(t, `zot\_07`, escapeLike("zot_07"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestSystemHealthUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSystemHealthRepository(db)

	mock.ExpectExec(`INSERT INTO system_health \(service_name, status, response_time_ms, error_message, checked_at\)`).
		WithArgs("redis", "unhealthy", 5001, "dial tcp: i/o timeout").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.UpdateServiceHealth("redis", "unhealthy", 5001, "dial tcp: i/o timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
