package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatpd/orchestrator/internal/cache"
	"github.com/chatpd/orchestrator/internal/extractor"
	"github.com/chatpd/orchestrator/internal/fallback"
	"github.com/chatpd/orchestrator/internal/metrics"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/semantic"
	"github.com/chatpd/orchestrator/internal/structured"
	"github.com/chatpd/orchestrator/internal/synthesis"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyQuery = errors.New("query is empty")
	// ErrExtractionAmbiguous marks a query answered with a clarification request.
	ErrExtractionAmbiguous = errors.New("extraction ambiguous")
)

// StructuredExecutor runs the structured lookups of an analysis.
type StructuredExecutor interface {
	Execute(ctx context.Context, analysis *models.QueryAnalysis) (*structured.Result, error)
}

// SemanticRetriever searches the passage corpus.
type SemanticRetriever interface {
	Retrieve(ctx context.Context, text string, topK int, threshold float64) ([]semantic.Match, error)
}

// Config holds orchestration defaults.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	StructuredTimeout   time.Duration
	SemanticTimeout     time.Duration
	CacheTTL            time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopK:                semantic.DefaultTopK,
		SimilarityThreshold: semantic.DefaultThreshold,
		StructuredTimeout:   5 * time.Second,
		SemanticTimeout:     10 * time.Second,
		CacheTTL:            24 * time.Hour,
	}
}

// Dependencies are the components the orchestrator sequences. Semantic, Fallback
// and Cache are optional.
type Dependencies struct {
	Extractor   *extractor.Extractor
	Structured  StructuredExecutor
	Semantic    SemanticRetriever
	Synthesizer *synthesis.Synthesizer
	Fallback    *fallback.Table
	Cache       cache.Cache
}

// Options are per-request overrides.
type Options struct {
	BypassCache         bool
	TopK                int
	SimilarityThreshold *float64
}

// Result is an answer plus what happened while producing it. Issues holds the
// recovered errors; test them with errors.Is.
type Result struct {
	Answer        models.SynthesizedAnswer
	Analysis      *models.QueryAnalysis
	CacheHit      bool
	HitCount      int64
	ExecutionTime time.Duration
	Issues        []error
}

type Orchestrator struct {
	deps   Dependencies
	config Config
	group  singleflight.Group
	logger *logrus.Logger
}

func NewOrchestrator(deps Dependencies, config Config, logger *logrus.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.TopK <= 0 {
		config.TopK = defaults.TopK
	}
	if config.StructuredTimeout <= 0 {
		config.StructuredTimeout = defaults.StructuredTimeout
	}
	if config.SemanticTimeout <= 0 {
		config.SemanticTimeout = defaults.SemanticTimeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	return &Orchestrator{
		deps:   deps,
		config: config,
		logger: logger,
	}
}

// Cache exposes the configured cache, nil when caching is disabled.
func (o *Orchestrator) Cache() cache.Cache {
	return o.deps.Cache
}

// Answer runs the pipeline: cache lookup, extraction, retrieval, synthesis, cache write.
func (o *Orchestrator) Answer(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = o.config.TopK
	}
	threshold := o.config.SimilarityThreshold
	if opts.SimilarityThreshold != nil {
		threshold = *opts.SimilarityThreshold
	}

	var issues []error
	// Cached answers are keyed on the question alone, so only default retrieval
	// settings read or write them.
	defaultRetrieval := topK == o.config.TopK && threshold == o.config.SimilarityThreshold
	useCache := o.deps.Cache != nil && !opts.BypassCache && defaultRetrieval

	if useCache {
		entry, ok, err := o.deps.Cache.Get(ctx, query)
		switch {
		case err != nil:
			issues = append(issues, err)
			metrics.CacheOperations.WithLabelValues("get", "error").Inc()
			o.logger.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Warn("Cache lookup failed, continuing without cache")
		case ok:
			metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
			result := &Result{
				Answer:        entry.Answer,
				Analysis:      o.deps.Extractor.Extract(query),
				CacheHit:      true,
				HitCount:      entry.HitCount,
				ExecutionTime: time.Since(start),
			}
			o.observe(result, "hit")
			return result, nil
		default:
			metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		}
	}

	var result *Result
	if opts.BypassCache {
		result = o.compute(ctx, query, topK, threshold, false)
	} else {
		// Concurrent misses on the same query share one computation.
		key := fmt.Sprintf("%s|%d|%g", cache.Key(query), topK, threshold)
		v, _, _ := o.group.Do(key, func() (interface{}, error) {
			return o.compute(ctx, query, topK, threshold, useCache), nil
		})
		shared := *v.(*Result)
		result = &shared
	}

	result.Issues = append(issues, result.Issues...)
	result.ExecutionTime = time.Since(start)
	cacheLabel := "miss"
	if !useCache {
		cacheLabel = "bypass"
	}
	o.observe(result, cacheLabel)
	return result, nil
}

func (o *Orchestrator) compute(ctx context.Context, query string, topK int, threshold float64, writeCache bool) *Result {
	analysis := o.deps.Extractor.Extract(query)
	result := &Result{Analysis: analysis}

	if analysis.Ambiguous() {
		for _, amb := range analysis.Ambiguities {
			result.Issues = append(result.Issues, fmt.Errorf("%w: %s matches %s",
				ErrExtractionAmbiguous, amb.Term, strings.Join(amb.Candidates, ", ")))
		}
		result.Answer = o.deps.Synthesizer.Clarify(analysis)
		return result
	}

	in := o.retrieve(ctx, analysis, topK, threshold)
	if in.StructuredErr != nil {
		result.Issues = append(result.Issues, in.StructuredErr)
	}
	if in.SemanticErr != nil {
		result.Issues = append(result.Issues, in.SemanticErr)
	}

	result.Answer = o.deps.Synthesizer.Synthesize(ctx, in)

	recovered := in.StructuredErr != nil || in.SemanticErr != nil
	if writeCache && result.Answer.Mode.Cacheable() && !recovered {
		if err := o.deps.Cache.Put(ctx, query, result.Answer, o.config.CacheTTL); err != nil {
			result.Issues = append(result.Issues, err)
			metrics.CacheOperations.WithLabelValues("put", "error").Inc()
			o.logger.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Warn("Cache write failed")
		} else {
			metrics.CacheOperations.WithLabelValues("put", "ok").Inc()
		}
	}
	return result
}

// retrieve runs structured and semantic retrieval concurrently, each under its
// own timeout, and falls back between them.
func (o *Orchestrator) retrieve(ctx context.Context, analysis *models.QueryAnalysis, topK int, threshold float64) synthesis.Input {
	in := synthesis.Input{Analysis: analysis, Threshold: threshold}

	runStructured := o.deps.Structured != nil && analysis.Entities.HasStructured() &&
		analysis.Strategy != models.StrategySemanticOnly
	runSemantic := o.deps.Semantic != nil && analysis.Strategy != models.StrategyStructuredOnly

	var g errgroup.Group
	if runStructured {
		g.Go(func() error {
			in.Structured, in.StructuredErr = o.runStructured(ctx, analysis)
			return nil
		})
	}
	if runSemantic {
		g.Go(func() error {
			in.Passages, in.SemanticErr = o.runSemantic(ctx, analysis.RawQuery, topK, threshold)
			return nil
		})
	}
	_ = g.Wait()

	// A failed or empty structured-only lookup falls back to the corpus.
	if runStructured && !runSemantic && o.deps.Semantic != nil &&
		(in.StructuredErr != nil || in.Structured.TotalRows() == 0) {
		o.logger.WithFields(logrus.Fields{
			"query":  analysis.RawQuery,
			"failed": in.StructuredErr != nil,
		}).Info("Falling back to semantic retrieval")
		in.Passages, in.SemanticErr = o.runSemantic(ctx, analysis.RawQuery, topK, threshold)
	}

	if o.deps.Fallback != nil && len(analysis.Entities.ArticleRefs) > 0 {
		refs := in.Structured.UnmatchedArticles()
		if in.StructuredErr != nil || in.Structured == nil {
			refs = unresolvedRefs(analysis.Entities.ArticleRefs, in.Structured)
		}
		in.Fallback = o.deps.Fallback.LookupAll(refs)
	}
	return in
}

func (o *Orchestrator) runStructured(ctx context.Context, analysis *models.QueryAnalysis) (*structured.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.StructuredTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.deps.Structured.Execute(ctx, analysis)
	metrics.RetrievalDuration.WithLabelValues("structured").Observe(time.Since(start).Seconds())
	if err != nil {
		kind := "execution_failed"
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			kind = "timeout"
		}
		metrics.RetrievalErrors.WithLabelValues("structured", kind).Inc()
		if !errors.Is(err, structured.ErrStructuredExecutionFailed) {
			err = fmt.Errorf("%w: %v", structured.ErrStructuredExecutionFailed, err)
		}
	}
	return res, err
}

func (o *Orchestrator) runSemantic(ctx context.Context, text string, topK int, threshold float64) ([]semantic.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.SemanticTimeout)
	defer cancel()

	start := time.Now()
	matches, err := o.deps.Semantic.Retrieve(ctx, text, topK, threshold)
	metrics.RetrievalDuration.WithLabelValues("semantic").Observe(time.Since(start).Seconds())
	if err != nil {
		kind := "search_failed"
		switch {
		case errors.Is(err, semantic.ErrEmbeddingDimensionMismatch):
			kind = "dimension_mismatch"
		case errors.Is(err, context.DeadlineExceeded):
			kind = "timeout"
		}
		metrics.RetrievalErrors.WithLabelValues("semantic", kind).Inc()
		o.logger.WithFields(logrus.Fields{
			"kind":  kind,
			"error": err.Error(),
		}).Warn("Semantic retrieval failed")
		return nil, err
	}
	return matches, nil
}

// unresolvedRefs lists refs with no article rows in a partial result.
func unresolvedRefs(refs []models.ArticleRef, partial *structured.Result) []models.ArticleRef {
	found := make(map[models.ArticleRef]bool)
	for _, a := range partial.Articles() {
		found[models.ArticleRef{Document: a.DocumentType, Number: a.ArticleNumber}] = true
	}
	var out []models.ArticleRef
	for _, ref := range refs {
		if !found[ref] {
			out = append(out, ref)
		}
	}
	return out
}

func (o *Orchestrator) observe(result *Result, cacheLabel string) {
	mode := string(result.Answer.Mode)
	metrics.QueriesTotal.WithLabelValues(mode, cacheLabel).Inc()
	metrics.QueryDuration.WithLabelValues(cacheLabel).Observe(result.ExecutionTime.Seconds())
	metrics.AnswerConfidence.WithLabelValues(mode).Observe(result.Answer.Confidence)

	fields := logrus.Fields{
		"mode":              mode,
		"confidence":        result.Answer.Confidence,
		"cache":             cacheLabel,
		"structured_rows":   result.Answer.Sources.StructuredRows,
		"semantic_passages": result.Answer.Sources.SemanticPassages,
		"fallback_articles": result.Answer.Sources.FallbackArticles,
		"duration":          result.ExecutionTime.String(),
	}
	if result.Analysis != nil {
		fields["intent"] = result.Analysis.Intent
		fields["strategy"] = result.Analysis.Strategy
	}
	if len(result.Issues) > 0 {
		fields["issues"] = len(result.Issues)
	}
	o.logger.WithFields(fields).Info("Query answered")
}
