package repository

import (
	"context"

	"github.com/chatpd/orchestrator/internal/models"
	"gorm.io/gorm"
)

// RegulatoryRepository reads the regulatory and legal-text relations. It serves
// as both the RegulatoryStore and the ArticleStore of the structured synthesizer.
type RegulatoryRepository struct {
	db *gorm.DB
}

func NewRegulatoryRepository(db *gorm.DB) *RegulatoryRepository {
	return &RegulatoryRepository{db: db}
}

// FindRegulatory returns the rows matching the filter in (neighborhood, zone) order.
func (r *RegulatoryRepository) FindRegulatory(ctx context.Context, filter models.RegulatoryFilter) ([]models.RegulatoryRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.RegulatoryRecord{})
	if filter.NeighborhoodKey != "" {
		query = query.Where("neighborhood_key = ?", filter.NeighborhoodKey)
	}
	if filter.ZoneCode != "" {
		query = query.Where("zone_code = ?", filter.ZoneCode)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []models.RegulatoryRecord
	err := query.Order("neighborhood, zone_code").Find(&records).Error
	return records, err
}

// FindArticle returns the article rows of ref, hierarchy nodes excluded.
func (r *RegulatoryRepository) FindArticle(ctx context.Context, ref models.ArticleRef) ([]models.LegalArticle, error) {
	var articles []models.LegalArticle
	err := r.db.WithContext(ctx).
		Where("document_type = ? AND article_number = ?", ref.Document, ref.Number).
		Where("article_number < ?", models.HierarchyNumberBase).
		Order("hierarchy_path").
		Find(&articles).Error
	return articles, err
}

// Neighborhoods lists the distinct neighborhood names present in the relation.
func (r *RegulatoryRepository) Neighborhoods(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&models.RegulatoryRecord{}).
		Distinct("neighborhood").
		Order("neighborhood").
		Pluck("neighborhood", &names).Error
	return names, err
}

// ZoneCodes lists the distinct zone codes present in the relation.
func (r *RegulatoryRepository) ZoneCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).Model(&models.RegulatoryRecord{}).
		Distinct("zone_code").
		Order("zone_code").
		Pluck("zone_code", &codes).Error
	return codes, err
}
