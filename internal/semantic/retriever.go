// Package semantic embeds questions and ranks document passages by cosine similarity.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrEmbeddingDimensionMismatch means the query embedding and the corpus disagree on
// vector size. It is a configuration fault, never a zero-result condition.
var ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")

// Defaults used when the caller does not specify retrieval parameters.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
	MaxTopK          = 50
)

// Match is a passage with its similarity to the query.
type Match struct {
	Passage    models.DocumentPassage `json:"passage"`
	Similarity float64                `json:"similarity"`
}

// PassageStore performs nearest-neighbour search over embedded passages.
type PassageStore interface {
	// Search returns up to limit passages with similarity >= threshold.
	Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error)
	// Dimensions reports the corpus vector size, or 0 when the corpus is empty.
	Dimensions(ctx context.Context) (int, error)
}

// Retriever validates dimensions and ranks store results.
type Retriever struct {
	embedder   Embedder
	store      PassageStore
	dimensions int
	logger     *logrus.Logger
}

// NewRetriever creates a retriever. dimensions is the configured vector size; 0 uses
// the embedder's. Query vectors are always checked against the corpus as well.
func NewRetriever(embedder Embedder, store PassageStore, dimensions int, logger *logrus.Logger) *Retriever {
	return &Retriever{
		embedder:   embedder,
		store:      store,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Retrieve returns passages with similarity >= threshold, most similar first. An empty
// slice means no passage cleared the threshold.
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int, threshold float64) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}

	start := time.Now()
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	configured := r.dimensions
	if configured == 0 {
		configured = r.embedder.Dimensions()
	}
	if configured > 0 && len(vec) != configured {
		return nil, r.mismatch(len(vec), configured, "configured")
	}

	corpus, err := r.store.Dimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus dimensions: %w", err)
	}
	if corpus > 0 && len(vec) != corpus {
		return nil, r.mismatch(len(vec), corpus, "corpus")
	}

	matches, err := r.store.Search(ctx, vec, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("passage search failed: %w", err)
	}

	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			kept = append(kept, m)
		}
	}
	Rank(kept)
	if len(kept) > topK {
		kept = kept[:topK]
	}

	r.logger.WithFields(logrus.Fields{
		"results":   len(kept),
		"top_k":     topK,
		"threshold": threshold,
		"duration":  time.Since(start).String(),
	}).Debug("Semantic retrieval completed")
	return kept, nil
}

func (r *Retriever) mismatch(query, expected int, against string) error {
	r.logger.WithFields(logrus.Fields{
		"embedder":  r.embedder.Name(),
		"query_dim": query,
		against:     expected,
	}).Error("Embedding dimension mismatch")
	return fmt.Errorf("%w: query embedding has %d dimensions, %s size is %d",
		ErrEmbeddingDimensionMismatch, query, against, expected)
}

// Rank orders matches by similarity, then by newer ingestion, then by id.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Passage.CreatedAt.Equal(b.Passage.CreatedAt) {
			return a.Passage.CreatedAt.After(b.Passage.CreatedAt)
		}
		return a.Passage.ID < b.Passage.ID
	})
}

// TopSimilarity returns the best similarity, or 0 for no matches.
func TopSimilarity(matches []Match) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
