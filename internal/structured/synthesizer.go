// Package structured builds and runs per-entity lookups against the regulatory and
// legal-text relations.
package structured

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
	"github.com/sirupsen/logrus"
)

// ErrStructuredExecutionFailed marks a lookup that could not run. It is never used
// for a lookup that ran and matched nothing.
var ErrStructuredExecutionFailed = errors.New("structured execution failed")

// DefaultMaxRows bounds each regulatory lookup.
const DefaultMaxRows = 60

// RegulatoryStore reads the regulatory relation.
type RegulatoryStore interface {
	FindRegulatory(ctx context.Context, filter models.RegulatoryFilter) ([]models.RegulatoryRecord, error)
}

// ArticleStore reads the legal-text relation.
type ArticleStore interface {
	FindArticle(ctx context.Context, ref models.ArticleRef) ([]models.LegalArticle, error)
}

// Kind tells which relation a query targets.
type Kind string

const (
	KindRegulatory Kind = "regulatory"
	KindArticle    Kind = "article"
)

// Query is one parameterized lookup, attributable to the entities that produced it.
type Query struct {
	Kind         Kind
	Neighborhood string
	ZoneCode     string
	Article      models.ArticleRef
	// CrossSet is set when the lookup returns every row for one side of the
	// (neighborhood, zone) pair because the other side was absent or unmatched.
	CrossSet bool
}

func (q Query) String() string {
	switch q.Kind {
	case KindArticle:
		return q.Article.String()
	default:
		switch {
		case q.Neighborhood != "" && q.ZoneCode != "":
			return fmt.Sprintf("bairro=%s zona=%s", q.Neighborhood, q.ZoneCode)
		case q.Neighborhood != "":
			return fmt.Sprintf("bairro=%s", q.Neighborhood)
		default:
			return fmt.Sprintf("zona=%s", q.ZoneCode)
		}
	}
}

// QueryResult holds the rows of one query. NoRows is the explicit zero-match marker.
type QueryResult struct {
	Query    Query
	Records  []models.RegulatoryRecord
	Articles []models.LegalArticle
	NoRows   bool
}

// Result is the ordered list of executed queries.
type Result struct {
	Queries  []QueryResult
	Duration time.Duration
}

// TotalRows counts rows across every query.
func (r *Result) TotalRows() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, q := range r.Queries {
		n += len(q.Records) + len(q.Articles)
	}
	return n
}

// Records returns every regulatory row, de-duplicated by (neighborhood, zone).
func (r *Result) Records() []models.RegulatoryRecord {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []models.RegulatoryRecord
	for _, q := range r.Queries {
		for _, rec := range q.Records {
			key := rec.NeighborhoodKey + "|" + rec.ZoneCode
			if rec.NeighborhoodKey == "" {
				key = normalize.NeighborhoodKey(rec.Neighborhood) + "|" + rec.ZoneCode
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rec)
		}
	}
	return out
}

// Articles returns every legal-text row in query order.
func (r *Result) Articles() []models.LegalArticle {
	if r == nil {
		return nil
	}
	var out []models.LegalArticle
	for _, q := range r.Queries {
		out = append(out, q.Articles...)
	}
	return out
}

// MissingNeighborhoods lists requested neighborhoods for which no query returned rows.
func (r *Result) MissingNeighborhoods() []string {
	return r.missing(func(q Query) string { return q.Neighborhood })
}

// MissingZones lists requested zone codes for which no query returned rows.
func (r *Result) MissingZones() []string {
	return r.missing(func(q Query) string {
		if q.Neighborhood != "" {
			return ""
		}
		return q.ZoneCode
	})
}

func (r *Result) missing(key func(Query) string) []string {
	if r == nil {
		return nil
	}
	found := make(map[string]bool)
	var asked []string
	for _, q := range r.Queries {
		if q.Query.Kind != KindRegulatory {
			continue
		}
		k := key(q.Query)
		if k == "" {
			continue
		}
		asked = append(asked, k)
		if !q.NoRows {
			found[k] = true
		}
	}
	var out []string
	for _, k := range models.SortedUnique(asked) {
		if !found[k] {
			out = append(out, k)
		}
	}
	return out
}

// UnmatchedArticles lists article refs that returned no rows.
func (r *Result) UnmatchedArticles() []models.ArticleRef {
	if r == nil {
		return nil
	}
	var out []models.ArticleRef
	for _, q := range r.Queries {
		if q.Query.Kind == KindArticle && q.NoRows {
			out = append(out, q.Query.Article)
		}
	}
	return out
}

// UnmatchedPairs lists (neighborhood, zone) lookups that matched nothing.
func (r *Result) UnmatchedPairs() []Query {
	if r == nil {
		return nil
	}
	var out []Query
	for _, q := range r.Queries {
		if q.Query.Kind == KindRegulatory && q.Query.Neighborhood != "" && q.Query.ZoneCode != "" && q.NoRows {
			out = append(out, q.Query)
		}
	}
	return out
}

// UsedCrossSet reports whether any query fell back to the full cross set.
func (r *Result) UsedCrossSet() bool {
	if r == nil {
		return false
	}
	for _, q := range r.Queries {
		if q.Query.CrossSet && !q.NoRows {
			return true
		}
	}
	return false
}

// Synthesizer plans and executes structured lookups.
type Synthesizer struct {
	regulatory RegulatoryStore
	articles   ArticleStore
	maxRows    int
	logger     *logrus.Logger
}

// NewSynthesizer creates a synthesizer. maxRows <= 0 uses DefaultMaxRows.
func NewSynthesizer(regulatory RegulatoryStore, articles ArticleStore, maxRows int, logger *logrus.Logger) *Synthesizer {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Synthesizer{
		regulatory: regulatory,
		articles:   articles,
		maxRows:    maxRows,
		logger:     logger,
	}
}

// Plan returns the queries Execute would run for an analysis, one per entity combination.
func Plan(analysis *models.QueryAnalysis) []Query {
	e := analysis.Entities
	var plan []Query

	switch {
	case len(e.Neighborhoods) > 0 && len(e.ZoneCodes) > 0:
		for _, n := range e.Neighborhoods {
			for _, z := range e.ZoneCodes {
				plan = append(plan, Query{Kind: KindRegulatory, Neighborhood: n, ZoneCode: z})
			}
		}
	case len(e.Neighborhoods) > 0:
		for _, n := range e.Neighborhoods {
			plan = append(plan, Query{Kind: KindRegulatory, Neighborhood: n, CrossSet: true})
		}
	case len(e.ZoneCodes) > 0:
		for _, z := range e.ZoneCodes {
			plan = append(plan, Query{Kind: KindRegulatory, ZoneCode: z, CrossSet: true})
		}
	}

	for _, ref := range e.ArticleRefs {
		plan = append(plan, Query{Kind: KindArticle, Article: ref})
	}
	return plan
}

// Execute runs every planned query. On failure it returns the results gathered so
// far together with an error wrapping ErrStructuredExecutionFailed.
func (s *Synthesizer) Execute(ctx context.Context, analysis *models.QueryAnalysis) (*Result, error) {
	start := time.Now()
	result := &Result{}
	defer func() { result.Duration = time.Since(start) }()

	for _, q := range Plan(analysis) {
		qr, err := s.run(ctx, q)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"query": q.String(),
				"error": err.Error(),
			}).Warn("Structured lookup failed")
			return result, fmt.Errorf("%w: %s: %v", ErrStructuredExecutionFailed, q.String(), err)
		}

		// A pair that matched nothing widens to the neighborhood's full set.
		if qr.NoRows && q.Kind == KindRegulatory && q.Neighborhood != "" && q.ZoneCode != "" {
			result.Queries = append(result.Queries, qr)
			widened := Query{Kind: KindRegulatory, Neighborhood: q.Neighborhood, CrossSet: true}
			if result.has(widened) {
				continue
			}
			qr, err = s.run(ctx, widened)
			if err != nil {
				return result, fmt.Errorf("%w: %s: %v", ErrStructuredExecutionFailed, widened.String(), err)
			}
		}
		result.Queries = append(result.Queries, qr)
	}

	s.logger.WithFields(logrus.Fields{
		"queries": len(result.Queries),
		"rows":    result.TotalRows(),
	}).Debug("Structured lookups completed")
	return result, nil
}

func (r *Result) has(q Query) bool {
	for _, existing := range r.Queries {
		if existing.Query == q {
			return true
		}
	}
	return false
}

func (s *Synthesizer) run(ctx context.Context, q Query) (QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return QueryResult{Query: q}, err
	}

	qr := QueryResult{Query: q}
	switch q.Kind {
	case KindArticle:
		if s.articles == nil {
			return qr, errors.New("no article store configured")
		}
		if q.Article.Number >= models.HierarchyNumberBase {
			qr.NoRows = true
			return qr, nil
		}
		rows, err := s.articles.FindArticle(ctx, q.Article)
		if err != nil {
			return qr, err
		}
		qr.Articles = rows
		qr.NoRows = len(rows) == 0
	default:
		if s.regulatory == nil {
			return qr, errors.New("no regulatory store configured")
		}
		filter := models.RegulatoryFilter{ZoneCode: q.ZoneCode, Limit: s.maxRows}
		if q.Neighborhood != "" {
			filter.NeighborhoodKey = normalize.NeighborhoodKey(q.Neighborhood)
		}
		rows, err := s.regulatory.FindRegulatory(ctx, filter)
		if err != nil {
			return qr, err
		}
		qr.Records = rows
		qr.NoRows = len(rows) == 0
	}
	return qr, nil
}
