package synthesis

import (
	"math"

	"github.com/chatpd/orchestrator/internal/models"
)

// Base confidence per mode. Ordered structured >= hybrid >= semantic >= fallback >= none.
const (
	baseStructured = 0.85
	baseHybrid     = 0.75
	baseSemantic   = 0.60
	baseFallback   = 0.45
	baseNone       = 0.05

	entityBonus        = 0.03
	maxEntityBonus     = 0.09
	maxSimilarityBonus = 0.08

	unresolvedPenalty = 0.10
	partialPenalty    = 0.15
	failurePenalty    = 0.15

	// missingCeiling caps answers where a requested place had no rows at all.
	missingCeiling = 0.45
)

var modeBase = map[models.Mode]float64{
	models.ModeStructuredOnly: baseStructured,
	models.ModeHybrid:         baseHybrid,
	models.ModeSemanticOnly:   baseSemantic,
	models.ModeFallback:       baseFallback,
	models.ModeNone:           baseNone,
	models.ModeClarification:  baseNone,
	models.ModeDegraded:       baseNone,
}

var modeCeiling = map[models.Mode]float64{
	models.ModeStructuredOnly: 0.98,
	models.ModeHybrid:         0.90,
	models.ModeSemanticOnly:   0.75,
	models.ModeFallback:       0.50,
	models.ModeNone:           0.10,
	models.ModeClarification:  0.10,
	models.ModeDegraded:       0.10,
}

// Signals are the facts confidence is derived from.
type Signals struct {
	Mode             models.Mode
	MatchedEntities  int
	TopSimilarity    float64
	Threshold        float64
	FullyResolved    bool
	PartialMiss      bool
	NothingMatched   bool
	StructuredFailed bool
}

// Score maps signals to a confidence in [0,1] rounded to two decimals.
func Score(s Signals) float64 {
	score := modeBase[s.Mode]

	switch s.Mode {
	case models.ModeStructuredOnly, models.ModeHybrid:
		score += math.Min(float64(s.MatchedEntities)*entityBonus, maxEntityBonus)
	}

	switch s.Mode {
	case models.ModeHybrid, models.ModeSemanticOnly:
		score += similarityBonus(s.TopSimilarity, s.Threshold)
	}

	if s.Mode != models.ModeNone && s.Mode != models.ModeClarification && s.Mode != models.ModeDegraded {
		if !s.FullyResolved {
			score -= unresolvedPenalty
		}
		if s.PartialMiss {
			score -= partialPenalty
		}
		if s.StructuredFailed {
			score -= failurePenalty
		}
	}

	score = math.Min(score, modeCeiling[s.Mode])
	if s.NothingMatched {
		score = math.Min(score, missingCeiling)
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// similarityBonus scales linearly from 0 at the threshold to the maximum at 1.
func similarityBonus(top, threshold float64) float64 {
	if top <= threshold || threshold >= 1 {
		return 0
	}
	return maxSimilarityBonus * (top - threshold) / (1 - threshold)
}
