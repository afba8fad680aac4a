package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chatpd/orchestrator/internal/models"
	"gorm.io/gorm"
)

// QueryLogRepositoryImpl implements QueryLogRepository
type QueryLogRepositoryImpl struct {
	db *gorm.DB
}

func NewQueryLogRepository(db *gorm.DB) models.QueryLogRepository {
	return &QueryLogRepositoryImpl{db: db}
}

func (r *QueryLogRepositoryImpl) Create(log *models.QueryLog) error {
	return r.db.Create(log).Error
}

// GetByID returns models.ErrNotFound when no query has the id.
func (r *QueryLogRepositoryImpl) GetByID(id uint) (*models.QueryLog, error) {
	var log models.QueryLog
	err := r.db.First(&log, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query log %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UserFeedbackRepositoryImpl implements UserFeedbackRepository
type UserFeedbackRepositoryImpl struct {
	db *gorm.DB
}

func NewUserFeedbackRepository(db *gorm.DB) models.UserFeedbackRepository {
	return &UserFeedbackRepositoryImpl{db: db}
}

func (r *UserFeedbackRepositoryImpl) Create(feedback *models.UserFeedback) error {
	return r.db.Create(feedback).Error
}

// PopularQueryRepositoryImpl implements PopularQueryRepository
type PopularQueryRepositoryImpl struct {
	db *gorm.DB
}

func NewPopularQueryRepository(db *gorm.DB) models.PopularQueryRepository {
	return &PopularQueryRepositoryImpl{db: db}
}

const incrementPopularSQL = `INSERT INTO popular_queries (query_text, search_count, last_searched, created_at, updated_at)
VALUES (?, 1, NOW(), NOW(), NOW())
ON CONFLICT (query_text)
DO UPDATE SET
	search_count = popular_queries.search_count + 1,
	last_searched = NOW(),
	updated_at = NOW()`

func (r *PopularQueryRepositoryImpl) IncrementCount(queryText string) error {
	return r.db.Exec(incrementPopularSQL, queryText).Error
}

func (r *PopularQueryRepositoryImpl) GetTop(limit int) ([]models.PopularQuery, error) {
	var queries []models.PopularQuery
	err := r.db.Order("search_count DESC").
		Limit(limit).
		Find(&queries).Error
	return queries, err
}

// Search returns the most asked queries containing text, ignoring case.
func (r *PopularQueryRepositoryImpl) Search(text string, limit int) ([]models.PopularQuery, error) {
	var queries []models.PopularQuery
	err := r.db.Where("query_text ILIKE ?", "%"+escapeLike(text)+"%").
		Order("search_count DESC").
		Limit(limit).
		Find(&queries).Error
	return queries, err
}

const updatePopularStatsSQL = `UPDATE popular_queries
SET
	avg_confidence = (avg_confidence * (search_count - 1) + ?) / search_count,
	avg_response_time_ms = (avg_response_time_ms * (search_count - 1) + ?) / search_count,
	updated_at = NOW()
WHERE query_text = ?`

// UpdateStats folds one more observation into the running averages. Call it
// after IncrementCount.
func (r *PopularQueryRepositoryImpl) UpdateStats(queryText string, confidence float64, responseTime int) error {
	return r.db.Exec(updatePopularStatsSQL, confidence, responseTime, queryText).Error
}

// SystemHealthRepositoryImpl implements SystemHealthRepository
type SystemHealthRepositoryImpl struct {
	db *gorm.DB
}

func NewSystemHealthRepository(db *gorm.DB) models.SystemHealthRepository {
	return &SystemHealthRepositoryImpl{db: db}
}

const insertHealthSQL = `INSERT INTO system_health (service_name, status, response_time_ms, error_message, checked_at)
VALUES (?, ?, ?, ?, NOW())`

func (r *SystemHealthRepositoryImpl) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	return r.db.Exec(insertHealthSQL, serviceName, status, responseTime, errorMsg).Error
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Regulatory   *RegulatoryRepository
	QueryLog     models.QueryLogRepository
	UserFeedback models.UserFeedbackRepository
	PopularQuery models.PopularQueryRepository
	SystemHealth models.SystemHealthRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Regulatory:   NewRegulatoryRepository(db),
		QueryLog:     NewQueryLogRepository(db),
		UserFeedback: NewUserFeedbackRepository(db),
		PopularQuery: NewPopularQueryRepository(db),
		SystemHealth: NewSystemHealthRepository(db),
	}
}
