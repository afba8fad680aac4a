package semantic

import (
	"context"
	"sync"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/sirupsen/logrus"
)

// MemoryStore is a brute-force passage store for tests and small corpora.
type MemoryStore struct {
	mu         sync.RWMutex
	passages   []models.DocumentPassage
	dimensions int
	logger     *logrus.Logger
}

// NewMemoryStore creates a store. dimensions fixes the corpus size; 0 uses the most
// common vector length among stored passages.
func NewMemoryStore(dimensions int, logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{dimensions: dimensions, logger: logger}
}

// Add appends passages; ids are assigned when zero.
func (s *MemoryStore) Add(passages ...models.DocumentPassage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range passages {
		if p.ID == 0 {
			p.ID = uint(len(s.passages) + 1)
		}
		s.passages = append(s.passages, p)
	}
}

func (s *MemoryStore) Dimensions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corpusDimensions(), nil
}

func (s *MemoryStore) corpusDimensions() int {
	if s.dimensions > 0 {
		return s.dimensions
	}
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for _, p := range s.passages {
		n := len(p.Embedding)
		counts[n]++
		if counts[n] > bestCount || counts[n] == bestCount && n > best {
			best, bestCount = n, counts[n]
		}
	}
	return best
}

// Search skips passages whose vector size differs from the query.
func (s *MemoryStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		matches []Match
		corrupt int
	)
	for _, p := range s.passages {
		if len(p.Embedding) != len(embedding) {
			corrupt++
			continue
		}
		sim := Cosine(embedding, p.Embedding)
		if sim >= threshold {
			matches = append(matches, Match{Passage: p, Similarity: sim})
		}
	}

	if corrupt > 0 && s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"excluded":  corrupt,
			"query_dim": len(embedding),
		}).Warn("Passages with mismatched embedding dimension excluded from search")
	}

	Rank(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
