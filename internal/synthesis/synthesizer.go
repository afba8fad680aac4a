// Package synthesis merges structured rows, semantic passages and fallback articles
// into one answer with a confidence score.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chatpd/orchestrator/internal/fallback"
	"github.com/chatpd/orchestrator/internal/llm"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/semantic"
	"github.com/chatpd/orchestrator/internal/structured"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxCited    = 3
	defaultExcerptSize = 600
	maxComposed        = 5
)

// Composer writes contextual prose over retrieved passages.
type Composer interface {
	Compose(ctx context.Context, question string, passages []llm.Passage) (string, error)
}

// Input gathers everything retrieval produced for one query. Either side may be
// empty or carry an error.
type Input struct {
	Analysis      *models.QueryAnalysis
	Structured    *structured.Result
	StructuredErr error
	Passages      []semantic.Match
	SemanticErr   error
	Fallback      []fallback.Article
	Threshold     float64
}

type Synthesizer struct {
	composer    Composer
	cleaner     *Cleaner
	maxCited    int
	excerptSize int
	logger      *logrus.Logger
}

// NewSynthesizer creates a synthesizer. A nil composer cites passages extractively.
func NewSynthesizer(composer Composer, logger *logrus.Logger) *Synthesizer {
	return &Synthesizer{
		composer:    composer,
		cleaner:     NewCleaner(),
		maxCited:    defaultMaxCited,
		excerptSize: defaultExcerptSize,
		logger:      logger,
	}
}

// SelectMode picks the synthesis mode from which sources returned data.
func SelectMode(rows, passages, fallbackArticles bool) models.Mode {
	switch {
	case rows && passages:
		return models.ModeHybrid
	case rows:
		return models.ModeStructuredOnly
	case passages:
		return models.ModeSemanticOnly
	case fallbackArticles:
		return models.ModeFallback
	default:
		return models.ModeNone
	}
}

// Synthesize builds the answer. It never invents values: every number comes
// from a regulatory row and an empty retrieval yields an explicit "not found".
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) models.SynthesizedAnswer {
	a := in.Analysis
	if a.Ambiguous() {
		return s.Clarify(a)
	}

	records := in.Structured.Records()
	articles := in.Structured.Articles()
	rows := len(records) + len(articles)
	semanticDown := errors.Is(in.SemanticErr, semantic.ErrEmbeddingDimensionMismatch)

	mode := SelectMode(rows > 0, len(in.Passages) > 0, len(in.Fallback) > 0)
	obs := s.observe(in, rows)

	sources := models.SourceBreakdown{
		StructuredRows:   rows,
		SemanticPassages: len(in.Passages),
		FallbackArticles: len(in.Fallback),
	}

	if mode == models.ModeNone {
		switch {
		case semanticDown:
			return s.degraded(obs.notes)
		case !a.Unrecognized.Empty() && len(obs.missing) == 0:
			return s.clarifyUnrecognized(a)
		}
		return s.notFound(obs.notes)
	}

	var parts []string
	if len(records) > 0 {
		parts = append(parts, formatRecords(records, a.Entities.Parameters))
	}
	if len(articles) > 0 {
		parts = append(parts, s.formatArticles(articles))
	}
	if len(in.Passages) > 0 {
		prose := s.prose(ctx, a.RawQuery, in.Passages)
		if mode == models.ModeHybrid {
			prose = "Contexto:\n" + prose
		}
		parts = append(parts, prose)
	}
	if len(in.Fallback) > 0 {
		parts = append(parts, s.formatFallback(in.Fallback))
	}
	if len(obs.notes) > 0 {
		parts = append(parts, "Observações:\n- "+strings.Join(obs.notes, "\n- "))
	}

	confidence := Score(Signals{
		Mode:             mode,
		MatchedEntities:  obs.matched,
		TopSimilarity:    semantic.TopSimilarity(in.Passages),
		Threshold:        in.Threshold,
		FullyResolved:    a.FullyResolved(),
		PartialMiss:      obs.partialMiss,
		NothingMatched:   a.Entities.HasStructured() && rows == 0,
		StructuredFailed: in.StructuredErr != nil,
	})

	s.logger.WithFields(logrus.Fields{
		"mode":              mode,
		"confidence":        confidence,
		"structured_rows":   sources.StructuredRows,
		"semantic_passages": sources.SemanticPassages,
		"fallback_articles": sources.FallbackArticles,
	}).Debug("Answer synthesized")

	return models.SynthesizedAnswer{
		Text:       strings.Join(parts, "\n\n"),
		Confidence: confidence,
		Sources:    sources,
		Mode:       mode,
		Notes:      obs.notes,
	}
}

// Clarify asks the caller to pick between the candidates of an ambiguous term.
func (s *Synthesizer) Clarify(a *models.QueryAnalysis) models.SynthesizedAnswer {
	var notes []string
	for _, amb := range a.Ambiguities {
		notes = append(notes, fmt.Sprintf("O termo \"%s\" corresponde a mais de um bairro: %s.",
			amb.Term, strings.Join(amb.Candidates, ", ")))
	}
	text := strings.Join(notes, "\n") + "\nQual deles você quer consultar?"
	return models.SynthesizedAnswer{
		Text:       text,
		Confidence: Score(Signals{Mode: models.ModeClarification}),
		Mode:       models.ModeClarification,
		Notes:      notes,
	}
}

func (s *Synthesizer) clarifyUnrecognized(a *models.QueryAnalysis) models.SynthesizedAnswer {
	var notes []string
	if len(a.Unrecognized.Neighborhoods) > 0 {
		notes = append(notes, fmt.Sprintf("Não reconheci o bairro %s na lista de bairros de Porto Alegre.",
			quoteList(a.Unrecognized.Neighborhoods)))
	}
	if len(a.Unrecognized.ZoneCodes) > 0 {
		notes = append(notes, fmt.Sprintf("Não reconheci a zona %s.", quoteList(a.Unrecognized.ZoneCodes)))
	}
	text := strings.Join(notes, "\n") + "\nVerifique a grafia ou informe o bairro e a zona (ZOT) desejados."
	return models.SynthesizedAnswer{
		Text:       text,
		Confidence: Score(Signals{Mode: models.ModeClarification}),
		Mode:       models.ModeClarification,
		Notes:      notes,
	}
}

func (s *Synthesizer) notFound(notes []string) models.SynthesizedAnswer {
	parts := append([]string{}, notes...)
	parts = append(parts, "Não encontrei informações sobre essa pergunta no Plano Diretor (PDUS) nem na LUOS.")
	return models.SynthesizedAnswer{
		Text:       strings.Join(parts, "\n"),
		Confidence: Score(Signals{Mode: models.ModeNone}),
		Mode:       models.ModeNone,
		Notes:      notes,
	}
}

func (s *Synthesizer) degraded(notes []string) models.SynthesizedAnswer {
	return models.SynthesizedAnswer{
		Text:       "A busca nos documentos está temporariamente indisponível e não encontrei dados estruturados para esta pergunta. Tente novamente mais tarde.",
		Confidence: Score(Signals{Mode: models.ModeDegraded}),
		Mode:       models.ModeDegraded,
		Notes:      notes,
	}
}

// prose composes or extracts the passage section.
func (s *Synthesizer) prose(ctx context.Context, question string, matches []semantic.Match) string {
	if s.composer != nil {
		n := len(matches)
		if n > maxComposed {
			n = maxComposed
		}
		passages := make([]llm.Passage, 0, n)
		var sources []string
		for _, m := range matches[:n] {
			src := m.Passage.Source()
			passages = append(passages, llm.Passage{Source: src, Content: m.Passage.Content})
			if src != "" {
				sources = append(sources, src)
			}
		}

		text, err := s.composer.Compose(ctx, question, passages)
		if err == nil && text != "" {
			if sources = models.SortedUnique(sources); len(sources) > 0 {
				text += "\n\nFontes: " + strings.Join(sources, ", ")
			}
			return text
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Warn("Composer failed, citing passages")
		}
	}
	return s.extractive(matches)
}

type observations struct {
	notes       []string
	missing     []string
	matched     int
	partialMiss bool
}

// observe collects the notes a partial or failed retrieval must surface.
func (s *Synthesizer) observe(in Input, rows int) observations {
	a := in.Analysis
	var obs observations

	obs.missing = in.Structured.MissingNeighborhoods()
	missingZones := in.Structured.MissingZones()
	missingSet := make(map[string]bool, len(obs.missing))
	for _, n := range obs.missing {
		missingSet[n] = true
		obs.notes = append(obs.notes, fmt.Sprintf("Não encontrei dados do regime urbanístico para o bairro %s.", n))
	}
	for _, z := range missingZones {
		obs.notes = append(obs.notes, fmt.Sprintf("Não encontrei registros do regime urbanístico para a %s.", z))
	}
	for _, q := range in.Structured.UnmatchedPairs() {
		if missingSet[q.Neighborhood] {
			continue
		}
		obs.notes = append(obs.notes, fmt.Sprintf("O bairro %s não possui registro na %s; exibindo as zonas em que ele aparece.", q.Neighborhood, q.ZoneCode))
	}

	covered := make(map[models.ArticleRef]bool, len(in.Fallback))
	for _, art := range in.Fallback {
		covered[art.Ref()] = true
	}
	unmatchedArticles := 0
	for _, ref := range in.Structured.UnmatchedArticles() {
		if covered[ref] {
			continue
		}
		unmatchedArticles++
		obs.notes = append(obs.notes, fmt.Sprintf("Não encontrei o %s.", ref))
	}

	if len(a.Unrecognized.Neighborhoods) > 0 {
		obs.notes = append(obs.notes, fmt.Sprintf("Não reconheci o bairro %s.", quoteList(a.Unrecognized.Neighborhoods)))
	}
	if len(a.Unrecognized.ZoneCodes) > 0 {
		note := fmt.Sprintf("Não reconheci a zona %s.", quoteList(a.Unrecognized.ZoneCodes))
		if in.Structured.UsedCrossSet() {
			note = fmt.Sprintf("Não reconheci a zona %s; exibindo todos os registros do bairro.", quoteList(a.Unrecognized.ZoneCodes))
		}
		obs.notes = append(obs.notes, note)
	}

	if in.StructuredErr != nil {
		obs.notes = append(obs.notes, "A consulta à base do regime urbanístico não pôde ser concluída; a resposta usa apenas os documentos.")
	}
	switch {
	case errors.Is(in.SemanticErr, semantic.ErrEmbeddingDimensionMismatch):
		obs.notes = append(obs.notes, "A busca nos documentos está temporariamente indisponível.")
	case in.SemanticErr != nil:
		obs.notes = append(obs.notes, "A busca nos documentos não pôde ser concluída.")
	}

	misses := len(obs.missing) + len(missingZones) + unmatchedArticles
	obs.matched = a.Entities.Count() - misses
	if obs.matched < 0 {
		obs.matched = 0
	}
	obs.partialMiss = misses > 0 && rows > 0
	return obs
}
