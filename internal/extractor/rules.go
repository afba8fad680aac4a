package extractor

import "github.com/chatpd/orchestrator/internal/models"

// features are the signals the rule table inspects.
type features struct {
	analysis   *models.QueryAnalysis
	conceptual bool
	compare    bool
	aggregate  bool
	list       bool
}

func (f *features) places() int {
	e := f.analysis.Entities
	return len(e.Neighborhoods) + len(e.ZoneCodes)
}

func (f *features) mentionsPlace() bool {
	return f.places() > 0 || !f.analysis.Unrecognized.Empty() || len(f.analysis.Ambiguities) > 0
}

// singleSource reports whether the structured entities target exactly one relation
// (regulatory records or legal articles).
func (f *features) singleSource() bool {
	regulatory := f.places() > 0
	legal := len(f.analysis.Entities.ArticleRefs) > 0
	return regulatory != legal
}

// rule is one row of the classification table. strategy is the widest strategy the
// intent allows; reconcile narrows it according to what actually resolved.
type rule struct {
	name     string
	match    func(f *features) bool
	intent   models.Intent
	strategy models.Strategy
}

// rules are evaluated top-down and the first match wins. Specific structured cues
// come before vague conceptual ones.
var rules = []rule{
	{
		name:     "article_reference",
		match:    func(f *features) bool { return len(f.analysis.Entities.ArticleRefs) > 0 },
		intent:   models.IntentLookupArticle,
		strategy: models.StrategyStructuredOnly,
	},
	{
		name:     "comparison",
		match:    func(f *features) bool { return f.compare && f.mentionsPlace() || f.places() >= 2 && len(f.analysis.Entities.Parameters) > 0 },
		intent:   models.IntentCompare,
		strategy: models.StrategyStructuredOnly,
	},
	{
		name:     "aggregation",
		match:    func(f *features) bool { return f.aggregate && len(f.analysis.Entities.Parameters) > 0 },
		intent:   models.IntentAggregate,
		strategy: models.StrategyHybrid,
	},
	{
		name:     "parameter_keyword",
		match:    func(f *features) bool { return len(f.analysis.Entities.Parameters) > 0 },
		intent:   models.IntentLookupParameter,
		strategy: models.StrategyStructuredOnly,
	},
	{
		name:     "listing",
		match:    func(f *features) bool { return f.list },
		intent:   models.IntentListEntities,
		strategy: models.StrategyStructuredOnly,
	},
	{
		name:     "place_mention",
		match:    func(f *features) bool { return f.mentionsPlace() },
		intent:   models.IntentLookupParameter,
		strategy: models.StrategyStructuredOnly,
	},
	{
		name:     "conceptual_keyword",
		match:    func(f *features) bool { return f.conceptual },
		intent:   models.IntentConceptual,
		strategy: models.StrategyHybrid,
	},
	{
		name:     "fallthrough",
		match:    func(f *features) bool { return true },
		intent:   models.IntentUnknown,
		strategy: models.StrategyHybrid,
	},
}

func classify(f *features) rule {
	for _, r := range rules {
		if r.match(f) {
			return r
		}
	}
	return rules[len(rules)-1]
}

// reconcile enforces that structured_only is only chosen when exactly one
// structured source resolved and nothing conceptual was asked.
func reconcile(widest models.Strategy, f *features) models.Strategy {
	if !f.analysis.Entities.HasStructured() {
		return models.StrategySemanticOnly
	}
	if widest == models.StrategyStructuredOnly && f.singleSource() && !f.conceptual {
		return models.StrategyStructuredOnly
	}
	return models.StrategyHybrid
}
