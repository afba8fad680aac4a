package models

import (
	"fmt"
	"sort"
)

// Intent is the normalized label the extractor assigns to a question.
type Intent string

const (
	IntentLookupParameter Intent = "lookup_parameter"
	IntentLookupArticle   Intent = "lookup_article"
	IntentListEntities    Intent = "list_entities"
	IntentCompare         Intent = "compare"
	IntentAggregate       Intent = "aggregate"
	IntentConceptual      Intent = "conceptual"
	IntentUnknown         Intent = "unknown"
)

// Strategy selects which retrieval backends serve a query.
type Strategy string

const (
	StrategyStructuredOnly Strategy = "structured_only"
	StrategySemanticOnly   Strategy = "semantic_only"
	StrategyHybrid         Strategy = "hybrid"
)

// Legal document identifiers.
const (
	DocumentLUOS = "LUOS"
	DocumentPDUS = "PDUS"
)

// ArticleRef points at one article of a legal document.
type ArticleRef struct {
	Document string `json:"document"`
	Number   int    `json:"number"`
}

func (r ArticleRef) String() string {
	return fmt.Sprintf("%s art. %d", r.Document, r.Number)
}

// Entities holds the de-duplicated, sorted entity sets of a query.
type Entities struct {
	Neighborhoods []string     `json:"neighborhoods"`
	ZoneCodes     []string     `json:"zone_codes"`
	ArticleRefs   []ArticleRef `json:"article_refs"`
	Parameters    []string     `json:"parameters"`
}

// HasStructured reports whether any entity can drive a structured lookup.
func (e Entities) HasStructured() bool {
	return len(e.Neighborhoods) > 0 || len(e.ZoneCodes) > 0 || len(e.ArticleRefs) > 0
}

// Count is the number of structured entities matched.
func (e Entities) Count() int {
	return len(e.Neighborhoods) + len(e.ZoneCodes) + len(e.ArticleRefs)
}

// Ambiguity is a term that matched more than one gazetteer entry.
type Ambiguity struct {
	Term       string   `json:"term"`
	Candidates []string `json:"candidates"`
}

// Unrecognized lists terms the query marked as entities but the gazetteer does not know.
type Unrecognized struct {
	Neighborhoods []string `json:"neighborhoods,omitempty"`
	ZoneCodes     []string `json:"zone_codes,omitempty"`
}

func (u Unrecognized) Empty() bool {
	return len(u.Neighborhoods) == 0 && len(u.ZoneCodes) == 0
}

// QueryAnalysis is the output of the extractor.
type QueryAnalysis struct {
	RawQuery     string       `json:"raw_query"`
	Intent       Intent       `json:"normalized_intent"`
	Strategy     Strategy     `json:"strategy"`
	Entities     Entities     `json:"entities"`
	Unrecognized Unrecognized `json:"unrecognized"`
	Ambiguities  []Ambiguity  `json:"ambiguities,omitempty"`
	Conceptual   bool         `json:"conceptual"`
}

// Ambiguous reports whether the query needs clarification before retrieval.
func (a *QueryAnalysis) Ambiguous() bool {
	return len(a.Ambiguities) > 0
}

// FullyResolved is true when every entity-like term in the query was recognized.
func (a *QueryAnalysis) FullyResolved() bool {
	return a.Unrecognized.Empty() && !a.Ambiguous()
}

// SortedUnique returns a sorted copy of values without duplicates or empty strings.
func SortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SortedRefs de-duplicates article refs ordered by document then number.
func SortedRefs(refs []ArticleRef) []ArticleRef {
	seen := make(map[ArticleRef]struct{}, len(refs))
	out := make([]ArticleRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Document != out[j].Document {
			return out[i].Document < out[j].Document
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// Mode is the synthesis mode that produced an answer.
type Mode string

const (
	ModeStructuredOnly Mode = "structured_only"
	ModeSemanticOnly   Mode = "semantic_only"
	ModeHybrid         Mode = "hybrid"
	ModeFallback       Mode = "fallback"
	ModeNone           Mode = "none"
	ModeClarification  Mode = "clarification"
	ModeDegraded       Mode = "degraded"
)

// Cacheable reports whether answers in this mode may be written to the cache.
func (m Mode) Cacheable() bool {
	switch m {
	case ModeNone, ModeClarification, ModeDegraded, "":
		return false
	}
	return true
}

// SourceBreakdown counts what each knowledge source contributed.
type SourceBreakdown struct {
	StructuredRows   int `json:"structured_rows"`
	SemanticPassages int `json:"semantic_passages"`
	FallbackArticles int `json:"fallback_articles"`
}

// SynthesizedAnswer is the single grounded answer returned to callers.
type SynthesizedAnswer struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Sources    SourceBreakdown `json:"source_breakdown"`
	Mode       Mode            `json:"mode"`
	Notes      []string        `json:"notes,omitempty"`
}
