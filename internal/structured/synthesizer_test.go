package structured

import (
	"context"
	"errors"
	"testing"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegulatory struct {
	rows    []models.RegulatoryRecord
	err     error
	filters []models.RegulatoryFilter
}

func (f *fakeRegulatory) FindRegulatory(ctx context.Context, filter models.RegulatoryFilter) ([]models.RegulatoryRecord, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.RegulatoryRecord
	for _, r := range f.rows {
		if filter.NeighborhoodKey != "" && normalize.NeighborhoodKey(r.Neighborhood) != filter.NeighborhoodKey {
			continue
		}
		if filter.ZoneCode != "" && r.ZoneCode != filter.ZoneCode {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeArticles struct {
	rows map[models.ArticleRef]models.LegalArticle
	err  error
}

func (f *fakeArticles) FindArticle(ctx context.Context, ref models.ArticleRef) ([]models.LegalArticle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if a, ok := f.rows[ref]; ok {
		return []models.LegalArticle{a}, nil
	}
	return nil, nil
}

func ptr(v float64) *float64 { return &v }

func testRows() []models.RegulatoryRecord {
	return []models.RegulatoryRecord{
		{Neighborhood: "Petrópolis", ZoneCode: "ZOT 07", MaxHeight: ptr(52)},
		{Neighborhood: "Petrópolis", ZoneCode: "ZOT 08.3-A", MaxHeight: ptr(90)},
		{Neighborhood: "Auxiliadora", ZoneCode: "ZOT 07", MaxHeight: ptr(42)},
	}
}

func newTestSynthesizer(reg RegulatoryStore, art ArticleStore) *Synthesizer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewSynthesizer(reg, art, 0, logger)
}

func TestPlanOnePerEntityCombination(t *testing.T) {
	a := &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"AUXILIADORA", "PETRÓPOLIS"},
		ZoneCodes:     []string{"ZOT 07"},
		ArticleRefs:   []models.ArticleRef{{Document: "LUOS", Number: 81}},
	}}

	plan := Plan(a)
	require.Len(t, plan, 3)
	assert.Equal(t, Query{Kind: KindRegulatory, Neighborhood: "AUXILIADORA", ZoneCode: "ZOT 07"}, plan[0])
	assert.Equal(t, Query{Kind: KindRegulatory, Neighborhood: "PETRÓPOLIS", ZoneCode: "ZOT 07"}, plan[1])
	assert.Equal(t, KindArticle, plan[2].Kind)
}

func TestPlanCrossSet(t *testing.T) {
	plan := Plan(&models.QueryAnalysis{Entities: models.Entities{ZoneCodes: []string{"ZOT 07"}}})
	require.Len(t, plan, 1)
	assert.True(t, plan[0].CrossSet)
	assert.Empty(t, plan[0].Neighborhood)

	plan = Plan(&models.QueryAnalysis{Entities: models.Entities{Neighborhoods: []string{"PETRÓPOLIS"}}})
	require.Len(t, plan, 1)
	assert.True(t, plan[0].CrossSet)
	assert.Empty(t, plan[0].ZoneCode)
}

func TestExecuteAccentInsensitiveMatch(t *testing.T) {
	reg := &fakeRegulatory{rows: testRows()}
	s := newTestSynthesizer(reg, nil)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"PETROPOLIS"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalRows())
	assert.Equal(t, "PETROPOLIS", reg.filters[0].NeighborhoodKey)
	assert.Equal(t, DefaultMaxRows, reg.filters[0].Limit)
	assert.Empty(t, res.MissingNeighborhoods())
	assert.True(t, res.UsedCrossSet())
}

func TestExecuteZeroRowsIsNotAnError(t *testing.T) {
	s := newTestSynthesizer(&fakeRegulatory{rows: testRows()}, nil)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"LAMI"},
	}})
	require.NoError(t, err)

	require.Len(t, res.Queries, 1)
	assert.True(t, res.Queries[0].NoRows)
	assert.Equal(t, 0, res.TotalRows())
	assert.Equal(t, []string{"LAMI"}, res.MissingNeighborhoods())
}

func TestExecutePartialMiss(t *testing.T) {
	s := newTestSynthesizer(&fakeRegulatory{rows: testRows()}, nil)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"LAMI", "PETRÓPOLIS"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalRows())
	assert.Equal(t, []string{"LAMI"}, res.MissingNeighborhoods())
}

func TestExecuteUnmatchedPairWidensToNeighborhood(t *testing.T) {
	reg := &fakeRegulatory{rows: testRows()}
	s := newTestSynthesizer(reg, nil)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"AUXILIADORA"},
		ZoneCodes:     []string{"ZOT 08.3-A"},
	}})
	require.NoError(t, err)

	require.Len(t, res.Queries, 2)
	assert.True(t, res.Queries[0].NoRows)
	assert.True(t, res.Queries[1].Query.CrossSet)
	assert.Equal(t, 1, res.TotalRows())
	assert.Len(t, res.UnmatchedPairs(), 1)
	assert.Empty(t, res.MissingNeighborhoods())
	assert.True(t, res.UsedCrossSet())
}

func TestExecuteArticles(t *testing.T) {
	art := &fakeArticles{rows: map[models.ArticleRef]models.LegalArticle{
		{Document: "LUOS", Number: 81}: {DocumentType: "LUOS", ArticleNumber: 81, FullContent: "Art. 81 ..."},
	}}
	s := newTestSynthesizer(nil, art)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		ArticleRefs: []models.ArticleRef{{Document: "LUOS", Number: 81}, {Document: "LUOS", Number: 82}},
	}})
	require.NoError(t, err)

	assert.Len(t, res.Articles(), 1)
	assert.Equal(t, []models.ArticleRef{{Document: "LUOS", Number: 82}}, res.UnmatchedArticles())
}

func TestExecuteFailureIsDistinctFromNoRows(t *testing.T) {
	s := newTestSynthesizer(&fakeRegulatory{err: errors.New("connection refused")}, nil)

	res, err := s.Execute(context.Background(), &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"PETRÓPOLIS"},
	}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStructuredExecutionFailed))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, res.TotalRows())
}

func TestExecuteCancelledContext(t *testing.T) {
	s := newTestSynthesizer(&fakeRegulatory{rows: testRows()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, &models.QueryAnalysis{Entities: models.Entities{
		Neighborhoods: []string{"PETRÓPOLIS"},
	}})
	assert.True(t, errors.Is(err, ErrStructuredExecutionFailed))
}

func TestRecordsDeduplicated(t *testing.T) {
	r := &Result{Queries: []QueryResult{
		{Records: testRows()[:1]},
		{Records: testRows()[:2]},
	}}
	assert.Len(t, r.Records(), 2)
}
