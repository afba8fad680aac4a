package models

// GORM models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatpd/orchestrator/internal/normalize"
	"gorm.io/gorm"
)

// ErrNotFound is returned by repository lookups that match no row.
var ErrNotFound = errors.New("record not found")

// HierarchyNumberBase offsets part/title/chapter/section nodes away from article numbers.
const HierarchyNumberBase = 9000

// Vector maps a pgvector column.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return v.String(), nil
}

// String renders the pgvector literal form "[v1,v2,...]".
func (v Vector) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}

	var s string
	switch t := value.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("cannot scan %T into Vector", value)
	}

	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// JSONMap for jsonb columns
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// String returns a metadata value as text, or "" when absent.
func (m JSONMap) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegulatoryRecord holds the construction limits for one (neighborhood, zone) pair.
// A nil attribute means "not applicable", which is different from an absent row.
type RegulatoryRecord struct {
	BaseModel
	Neighborhood     string   `json:"neighborhood" gorm:"not null;uniqueIndex:idx_regulatory_pair"`
	NeighborhoodKey  string   `json:"-" gorm:"not null;index"`
	ZoneCode         string   `json:"zone_code" gorm:"not null;uniqueIndex:idx_regulatory_pair;index"`
	MaxHeight        *float64 `json:"max_height"`
	BasicCoefficient *float64 `json:"basic_coefficient"`
	MaxCoefficient   *float64 `json:"max_coefficient"`
	PermeabilityRate *float64 `json:"permeability_rate"`
	SetbackFront     *float64 `json:"setback_front"`
	SetbackLateral   *float64 `json:"setback_lateral"`
	SetbackRear      *float64 `json:"setback_rear"`
}

// Construction parameters of a regulatory record.
const (
	ParamMaxHeight        = "max_height"
	ParamBasicCoefficient = "basic_coefficient"
	ParamMaxCoefficient   = "max_coefficient"
	ParamPermeabilityRate = "permeability_rate"
	ParamSetbackFront     = "setback_front"
	ParamSetbackLateral   = "setback_lateral"
	ParamSetbackRear      = "setback_rear"
)

// AllParameters is the display order of regulatory attributes.
var AllParameters = []string{
	ParamMaxHeight,
	ParamBasicCoefficient,
	ParamMaxCoefficient,
	ParamPermeabilityRate,
	ParamSetbackFront,
	ParamSetbackLateral,
	ParamSetbackRear,
}

// Attribute returns the value of a construction parameter and whether the name is known.
func (r RegulatoryRecord) Attribute(param string) (*float64, bool) {
	switch param {
	case ParamMaxHeight:
		return r.MaxHeight, true
	case ParamBasicCoefficient:
		return r.BasicCoefficient, true
	case ParamMaxCoefficient:
		return r.MaxCoefficient, true
	case ParamPermeabilityRate:
		return r.PermeabilityRate, true
	case ParamSetbackFront:
		return r.SetbackFront, true
	case ParamSetbackLateral:
		return r.SetbackLateral, true
	case ParamSetbackRear:
		return r.SetbackRear, true
	}
	return nil, false
}

// LegalArticle is a top-level article or a hierarchy node of LUOS/PDUS.
type LegalArticle struct {
	BaseModel
	DocumentType  string `json:"document_type" gorm:"not null;uniqueIndex:idx_legal_article"`
	ArticleNumber int    `json:"article_number" gorm:"not null;uniqueIndex:idx_legal_article"`
	HierarchyPath string `json:"hierarchy_path" gorm:"uniqueIndex:idx_legal_article"`
	FullContent   string `json:"full_content" gorm:"type:text;not null"`
}

// IsHierarchyNode reports whether the row is a part/title/chapter node rather than an article.
func (a LegalArticle) IsHierarchyNode() bool {
	return a.ArticleNumber >= HierarchyNumberBase
}

// DocumentPassage is an embedded chunk of unstructured text.
type DocumentPassage struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	Embedding  Vector    `json:"-" gorm:"type:vector"`
	Metadata   JSONMap   `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	ChunkIndex int       `json:"chunk_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// Source is the identifier of the document the passage came from.
func (p DocumentPassage) Source() string {
	for _, key := range []string{"source", "source_file", "title"} {
		if s := p.Metadata.String(key); s != "" {
			return s
		}
	}
	return ""
}

// QueryCacheEntry is the persisted form of a cached answer.
type QueryCacheEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex;not null"`
	QueryText string    `json:"query_text" gorm:"not null"`
	Result    string    `json:"result" gorm:"type:jsonb;not null"`
	HitCount  int       `json:"hit_count" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
}

// QueryLog represents query analytics
type QueryLog struct {
	BaseModel
	QueryText        string  `json:"query_text" gorm:"not null"`
	UserSession      string  `json:"user_session"`
	Intent           string  `json:"intent"`
	Strategy         string  `json:"strategy"`
	Mode             string  `json:"mode"`
	Confidence       float64 `json:"confidence"`
	StructuredRows   int     `json:"structured_rows" gorm:"default:0"`
	SemanticPassages int     `json:"semantic_passages" gorm:"default:0"`
	FallbackArticles int     `json:"fallback_articles" gorm:"default:0"`
	CacheHit         bool    `json:"cache_hit"`
	ResponseTimeMs   int     `json:"response_time_ms"`
	UserAgent        string  `json:"user_agent"`
	IPAddress        string  `json:"ip_address"`

	// Associations
	Feedback []UserFeedback `json:"feedback" gorm:"foreignKey:QueryID"`
}

// UserFeedback represents user feedback on an answer
type UserFeedback struct {
	BaseModel
	QueryID      uint   `json:"query_id" gorm:"not null"`
	FeedbackType string `json:"feedback_type" gorm:"not null;check:feedback_type IN ('helpful','not_helpful','partially_helpful')"`
	FeedbackText string `json:"feedback_text"`
	UserSession  string `json:"user_session"`
}

// PopularQuery represents frequently asked questions
type PopularQuery struct {
	BaseModel
	QueryText         string    `json:"query_text" gorm:"unique;not null"`
	SearchCount       int       `json:"search_count" gorm:"default:1"`
	AvgConfidence     float64   `json:"avg_confidence" gorm:"type:decimal(5,4);default:0"`
	AvgResponseTimeMs int       `json:"avg_response_time_ms" gorm:"default:0"`
	LastSearched      time.Time `json:"last_searched" gorm:"default:NOW()"`
}

// SystemHealth represents service health monitoring
type SystemHealth struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ServiceName    string    `json:"service_name" gorm:"not null"`
	Status         string    `json:"status" gorm:"not null;check:status IN ('healthy','degraded','unhealthy')"`
	ResponseTimeMs int       `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message"`
	CheckedAt      time.Time `json:"checked_at" gorm:"default:NOW()"`
}

// RegulatoryFilter selects regulatory rows; empty fields are unconstrained.
type RegulatoryFilter struct {
	NeighborhoodKey string
	ZoneCode        string
	Limit           int
}

// Database interfaces for repository pattern
type QueryLogRepository interface {
	Create(log *QueryLog) error
	GetByID(id uint) (*QueryLog, error)
}

type UserFeedbackRepository interface {
	Create(feedback *UserFeedback) error
}

type PopularQueryRepository interface {
	IncrementCount(queryText string) error
	GetTop(limit int) ([]PopularQuery, error)
	Search(prefix string, limit int) ([]PopularQuery, error)
	UpdateStats(queryText string, confidence float64, responseTime int) error
}

type SystemHealthRepository interface {
	UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error
}

// TableName methods for custom table names
func (RegulatoryRecord) TableName() string { return "regulatory_records" }
func (LegalArticle) TableName() string     { return "legal_articles" }
func (DocumentPassage) TableName() string  { return "document_passages" }
func (QueryCacheEntry) TableName() string  { return "query_cache" }
func (QueryLog) TableName() string         { return "query_logs" }
func (UserFeedback) TableName() string     { return "user_feedback" }
func (PopularQuery) TableName() string     { return "popular_queries" }
func (SystemHealth) TableName() string     { return "system_health" }

// Model validation methods
func (q *QueryLog) Validate() error {
	if q.QueryText == "" {
		return fmt.Errorf("query text is required")
	}
	if q.ResponseTimeMs < 0 {
		return fmt.Errorf("response time cannot be negative")
	}
	return nil
}

// ValidFeedbackTypes are the accepted feedback labels.
var ValidFeedbackTypes = map[string]bool{
	"helpful":           true,
	"not_helpful":       true,
	"partially_helpful": true,
}

func (uf *UserFeedback) Validate() error {
	if uf.QueryID == 0 {
		return fmt.Errorf("query ID is required")
	}
	if !ValidFeedbackTypes[uf.FeedbackType] {
		return fmt.Errorf("invalid feedback type: %s", uf.FeedbackType)
	}
	return nil
}

func (r *RegulatoryRecord) Validate() error {
	if r.Neighborhood == "" {
		return fmt.Errorf("neighborhood is required")
	}
	if r.ZoneCode == "" {
		return fmt.Errorf("zone code is required")
	}
	return nil
}

// GORM hooks
func (q *QueryLog) BeforeCreate(tx *gorm.DB) error {
	return q.Validate()
}

func (uf *UserFeedback) BeforeCreate(tx *gorm.DB) error {
	return uf.Validate()
}

func (r *RegulatoryRecord) BeforeSave(tx *gorm.DB) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.NeighborhoodKey = normalize.NeighborhoodKey(r.Neighborhood)
	if code, ok := normalize.ZoneCode(r.ZoneCode); ok {
		r.ZoneCode = code
	}
	return nil
}
