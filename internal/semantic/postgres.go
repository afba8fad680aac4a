package semantic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"gorm.io/gorm"
)

// Search modes for PostgresStore.
const (
	ModeDirect         = "direct"
	ModeMatchDocuments = "match_documents"
)

// PostgresStore searches the document_passages table through pgvector. Rows whose
// vector_dims differ from the query are filtered out in SQL.
type PostgresStore struct {
	db   *gorm.DB
	mode string

	mu         sync.Mutex
	dimensions int
	checkedAt  time.Time
}

// dimensionsTTL bounds how long the probed corpus size is reused.
const dimensionsTTL = 10 * time.Minute

type passageRow struct {
	ID         uint
	Content    string
	Metadata   models.JSONMap
	ChunkIndex int
	CreatedAt  time.Time
	Similarity float64
}

// NewPostgresStore creates a store. mode is ModeDirect or ModeMatchDocuments.
func NewPostgresStore(db *gorm.DB, mode string) *PostgresStore {
	if mode != ModeMatchDocuments {
		mode = ModeDirect
	}
	return &PostgresStore{db: db, mode: mode}
}

const directSearchSQL = `SELECT id, content, metadata, chunk_index, created_at,
	1 - (embedding <=> ?::vector) AS similarity
FROM document_passages
WHERE embedding IS NOT NULL
	AND vector_dims(embedding) = ?
	AND 1 - (embedding <=> ?::vector) >= ?
ORDER BY similarity DESC, created_at DESC, id ASC
LIMIT ?`

const matchDocumentsSQL = `SELECT id, content, metadata, chunk_index, created_at, similarity
FROM match_documents(?::vector, ?, ?)`

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error) {
	vec := models.Vector(embedding).String()

	var rows []passageRow
	var err error
	switch s.mode {
	case ModeMatchDocuments:
		err = s.db.WithContext(ctx).Raw(matchDocumentsSQL, vec, threshold, limit).Scan(&rows).Error
	default:
		err = s.db.WithContext(ctx).Raw(directSearchSQL, vec, len(embedding), vec, threshold, limit).Scan(&rows).Error
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, Match{
			Passage: models.DocumentPassage{
				ID:         r.ID,
				Content:    r.Content,
				Metadata:   r.Metadata,
				ChunkIndex: r.ChunkIndex,
				CreatedAt:  r.CreatedAt,
			},
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

const dimensionsSQL = `SELECT vector_dims(embedding) AS dims
FROM document_passages
WHERE embedding IS NOT NULL
GROUP BY 1
ORDER BY COUNT(*) DESC, 1 DESC
LIMIT 1`

// Dimensions probes the dominant vector size of the corpus.
func (s *PostgresStore) Dimensions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimensions > 0 && time.Since(s.checkedAt) < dimensionsTTL {
		return s.dimensions, nil
	}

	var rows []struct{ Dims int }
	if err := s.db.WithContext(ctx).Raw(dimensionsSQL).Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to probe corpus dimensions: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	s.dimensions = rows[0].Dims
	s.checkedAt = time.Now()
	return s.dimensions, nil
}

// CountMismatched reports how many passages do not have the given vector size.
func (s *PostgresStore) CountMismatched(ctx context.Context, dimensions int) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.DocumentPassage{}).
		Where("embedding IS NOT NULL AND vector_dims(embedding) <> ?", dimensions).
		Count(&n).Error
	return n, err
}
