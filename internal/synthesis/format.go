package synthesis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chatpd/orchestrator/internal/fallback"
	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/semantic"
)

const notApplicable = "não se aplica"

type parameterLabel struct {
	label string
	unit  string
}

var parameterLabels = map[string]parameterLabel{
	models.ParamMaxHeight:        {"Altura máxima", "m"},
	models.ParamBasicCoefficient: {"Coeficiente de aproveitamento básico", ""},
	models.ParamMaxCoefficient:   {"Coeficiente de aproveitamento máximo", ""},
	models.ParamPermeabilityRate: {"Taxa de permeabilidade", ""},
	models.ParamSetbackFront:     {"Recuo frontal", "m"},
	models.ParamSetbackLateral:   {"Recuo lateral", "m"},
	models.ParamSetbackRear:      {"Recuo de fundos", "m"},
}

// FormatValue renders a stored attribute exactly as persisted.
func FormatValue(v *float64, unit string) string {
	if v == nil {
		return notApplicable
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	if unit != "" {
		s += " " + unit
	}
	return s
}

// formatRecords renders regulatory rows grouped by neighborhood, zones in order.
func formatRecords(records []models.RegulatoryRecord, params []string) string {
	if len(params) == 0 {
		params = models.AllParameters
	}

	groups := make(map[string][]models.RegulatoryRecord)
	var order []string
	for _, rec := range records {
		if _, ok := groups[rec.Neighborhood]; !ok {
			order = append(order, rec.Neighborhood)
		}
		groups[rec.Neighborhood] = append(groups[rec.Neighborhood], rec)
	}
	sort.Strings(order)

	var b strings.Builder
	for i, neighborhood := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Regime urbanístico – %s:\n", neighborhood)

		rows := groups[neighborhood]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].ZoneCode < rows[j].ZoneCode })
		for _, rec := range rows {
			fmt.Fprintf(&b, "• %s:", rec.ZoneCode)
			for j, p := range params {
				v, ok := rec.Attribute(p)
				if !ok {
					continue
				}
				label := parameterLabels[p]
				sep := " "
				if j > 0 {
					sep = "; "
				}
				fmt.Fprintf(&b, "%s%s: %s", sep, label.label, FormatValue(v, label.unit))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Synthesizer) formatArticles(articles []models.LegalArticle) string {
	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		ref := models.ArticleRef{Document: a.DocumentType, Number: a.ArticleNumber}
		if a.HierarchyPath != "" {
			fmt.Fprintf(&b, "%s (%s):\n", ref, a.HierarchyPath)
		} else {
			fmt.Fprintf(&b, "%s:\n", ref)
		}
		b.WriteString(s.cleaner.CleanContent(a.FullContent))
	}
	return b.String()
}

func (s *Synthesizer) formatFallback(articles []fallback.Article) string {
	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s (texto de referência):\n%s", a.Ref(), s.cleaner.CleanContent(a.Content))
	}
	return b.String()
}

// extractive cites the top passages verbatim when no composer is available.
func (s *Synthesizer) extractive(matches []semantic.Match) string {
	n := len(matches)
	if n > s.maxCited {
		n = s.maxCited
	}
	var b strings.Builder
	b.WriteString("Trechos relevantes dos documentos:")
	for i, m := range matches[:n] {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, s.cleaner.Excerpt(m.Passage.Content, s.excerptSize))
		if src := m.Passage.Source(); src != "" {
			fmt.Fprintf(&b, " (fonte: %s)", src)
		}
	}
	return b.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "\"" + it + "\""
	}
	return strings.Join(quoted, ", ")
}
