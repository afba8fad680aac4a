// Package extractor turns a raw question into a QueryAnalysis: intent, retrieval
// strategy and the entities the retrieval layers key on. It is a pure function of
// its input and the gazetteer; nothing here touches I/O.
package extractor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/chatpd/orchestrator/internal/normalize"
	"github.com/sirupsen/logrus"
)

// MaxArticleRange caps the expansion of "artigos 75 a 79" style ranges.
const MaxArticleRange = 20

var (
	zoneRe     = regexp.MustCompile(`\b(?:ZOT|ZONA)\s*-?\s*\d{1,2}(?:\.\d)?(?:\s*-\s*[A-Z]\b|[A-Z]\b)?`)
	articleRe  = regexp.MustCompile(`\bART(?:IGO|IGOS|S)?\.?\s*(\d{1,4})((?:\s+(?:E\s+|A\s+|AO\s+|ATE\s+)?\d{1,4}\b)*)`)
	articleTok = regexp.MustCompile(`(E|A|AO|ATE)?\s*(\d{1,4})`)
	luosRe     = regexp.MustCompile(`\bLUOS\b|\bLEI DE USO\b`)
	pdusRe     = regexp.MustCompile(`\bPDUS\b|\bPLANO DIRETOR\b`)
	bairroRe   = regexp.MustCompile(`\bBAIRRO\s+`)
	wordRe     = regexp.MustCompile(`^[A-Z][A-Z']*$`)
)

// parameterKeywords maps folded phrases to the regulatory attributes they ask for.
// More specific phrases are listed before generic ones and consume their span.
var parameterKeywords = []struct {
	phrase string
	params []string
}{
	{"COEFICIENTE DE APROVEITAMENTO BASICO", []string{models.ParamBasicCoefficient}},
	{"COEFICIENTE DE APROVEITAMENTO MAXIMO", []string{models.ParamMaxCoefficient}},
	{"COEFICIENTE BASICO", []string{models.ParamBasicCoefficient}},
	{"COEFICIENTE MAXIMO", []string{models.ParamMaxCoefficient}},
	{"CA BASICO", []string{models.ParamBasicCoefficient}},
	{"CA MAXIMO", []string{models.ParamMaxCoefficient}},
	{"INDICE DE APROVEITAMENTO", []string{models.ParamBasicCoefficient, models.ParamMaxCoefficient}},
	{"COEFICIENTE", []string{models.ParamBasicCoefficient, models.ParamMaxCoefficient}},
	{"TAXA DE PERMEABILIDADE", []string{models.ParamPermeabilityRate}},
	{"PERMEABILIDADE", []string{models.ParamPermeabilityRate}},
	{"AREA PERMEAVEL", []string{models.ParamPermeabilityRate}},
	{"RECUO DE JARDIM", []string{models.ParamSetbackFront}},
	{"RECUO FRONTAL", []string{models.ParamSetbackFront}},
	{"RECUO LATERAL", []string{models.ParamSetbackLateral}},
	{"AFASTAMENTO LATERAL", []string{models.ParamSetbackLateral}},
	{"RECUO DE FUNDOS", []string{models.ParamSetbackRear}},
	{"RECUO DE FUNDO", []string{models.ParamSetbackRear}},
	{"RECUOS", []string{models.ParamSetbackFront, models.ParamSetbackLateral, models.ParamSetbackRear}},
	{"RECUO", []string{models.ParamSetbackFront, models.ParamSetbackLateral, models.ParamSetbackRear}},
	{"ALTURA", []string{models.ParamMaxHeight}},
	{"GABARITO", []string{models.ParamMaxHeight}},
	{"REGIME URBANISTICO", models.AllParameters},
	{"PARAMETROS CONSTRUTIVOS", models.AllParameters},
	{"INDICES URBANISTICOS", models.AllParameters},
	{"O QUE POSSO CONSTRUIR", models.AllParameters},
}

var (
	conceptualKeywords = []string{
		"O QUE E", "O QUE SAO", "O QUE SIGNIFICA", "SIGNIFICADO", "DEFINICAO", "DEFINE", "CONCEITO",
		"EXPLIQUE", "EXPLICA", "COMO FUNCIONA", "POR QUE", "PORQUE", "PARA QUE SERVE",
		"OBJETIVO", "PRINCIPIO", "DIRETRIZ", "FINALIDADE",
	}
	compareKeywords   = []string{"COMPARE", "COMPARAR", "COMPARACAO", "DIFERENCA ENTRE", "VERSUS", "VS"}
	aggregateKeywords = []string{"MAIOR", "MENOR", "MEDIA", "QUANTOS", "QUANTAS", "RANKING", "MAIS ALTO", "MAIS ALTA"}
	listKeywords      = []string{"QUAIS BAIRROS", "QUAIS ZONAS", "QUAIS SAO OS BAIRROS", "QUAIS SAO AS ZONAS", "LISTE", "LISTAR", "LISTA DE", "TODOS OS BAIRROS", "TODAS AS ZONAS"}
)

// stopWords end the capture of an unrecognized name after "bairro".
var stopWords = map[string]bool{
	"E": true, "OU": true, "NA": true, "NO": true, "NOS": true, "NAS": true, "DA": true, "DO": true,
	"EM": true, "QUAL": true, "QUAIS": true, "QUE": true, "COM": true, "PARA": true, "ZOT": true,
	"ZONA": true, "A": true, "O": true, "OS": true, "AS": true, "POR": true, "SOBRE": true,
	"ALTURA": true, "TAXA": true, "COEFICIENTE": true, "RECUO": true, "RECUOS": true, "PERMITIDA": true,
	"PERMITIDO": true, "MAXIMA": true, "MAXIMO": true, "REGIME": true, "SEGUNDO": true, "CONFORME": true,
	"PELA": true, "PELO": true, "LUOS": true, "PDUS": true, "ART": true, "ARTIGO": true, "ONDE": true,
	"TEM": true, "PODE": true, "POSSO": true, "MAIS": true, "ESTA": true, "FICA": true,
}

// connectors may open a name ("bairro de X") or join its words ("Vila Nova do Sul").
var connectors = map[string]bool{
	"DE": true, "DO": true, "DA": true, "DOS": true, "DAS": true,
}

const maxUnknownNameWords = 4

// Extractor classifies questions against a gazetteer.
type Extractor struct {
	gazetteer       *Gazetteer
	defaultDocument string
	logger          *logrus.Logger
}

// NewExtractor creates an extractor. defaultDocument binds article references that
// have no LUOS/PDUS keyword nearby.
func NewExtractor(gazetteer *Gazetteer, defaultDocument string, logger *logrus.Logger) *Extractor {
	doc := strings.ToUpper(strings.TrimSpace(defaultDocument))
	if doc != models.DocumentPDUS {
		doc = models.DocumentLUOS
	}
	return &Extractor{
		gazetteer:       gazetteer,
		defaultDocument: doc,
		logger:          logger,
	}
}

// Gazetteer returns the gazetteer the extractor matches against.
func (e *Extractor) Gazetteer() *Gazetteer {
	return e.gazetteer
}

// Extract analyses a raw query.
func (e *Extractor) Extract(query string) *models.QueryAnalysis {
	folded := normalize.Fold(query)
	f := &features{
		analysis: &models.QueryAnalysis{RawQuery: query},
	}

	e.extractZones(folded, f)
	e.extractArticles(folded, f)

	nameText := " " + strings.Join(strings.Fields(strings.NewReplacer(".", " ", "-", " ").Replace(folded)), " ") + " "
	nameText = e.extractNeighborhoods(nameText, properNouns(query), f)
	f.analysis.Entities.Parameters = extractParameters(nameText)

	f.conceptual = containsAny(nameText, conceptualKeywords)
	f.compare = containsAny(nameText, compareKeywords)
	f.aggregate = containsAny(nameText, aggregateKeywords)
	f.list = containsAny(nameText, listKeywords)
	f.analysis.Conceptual = f.conceptual

	r := classify(f)
	f.analysis.Intent = r.intent
	f.analysis.Strategy = reconcile(r.strategy, f)

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"intent":        f.analysis.Intent,
			"strategy":      f.analysis.Strategy,
			"rule":          r.name,
			"neighborhoods": f.analysis.Entities.Neighborhoods,
			"zones":         f.analysis.Entities.ZoneCodes,
			"articles":      len(f.analysis.Entities.ArticleRefs),
			"unrecognized":  !f.analysis.Unrecognized.Empty(),
		}).Debug("Query analysed")
	}
	return f.analysis
}

func (e *Extractor) extractZones(folded string, f *features) {
	var known, unknown []string
	for _, m := range zoneRe.FindAllString(folded, -1) {
		code, ok := normalize.ZoneCode(m)
		if !ok {
			continue
		}
		if e.gazetteer.KnownZone(code) {
			known = append(known, code)
		} else {
			unknown = append(unknown, code)
		}
	}
	f.analysis.Entities.ZoneCodes = models.SortedUnique(known)
	f.analysis.Unrecognized.ZoneCodes = models.SortedUnique(unknown)
}

func (e *Extractor) extractArticles(folded string, f *features) {
	luos := luosRe.FindAllStringIndex(folded, -1)
	pdus := pdusRe.FindAllStringIndex(folded, -1)

	var refs []models.ArticleRef
	for _, loc := range articleRe.FindAllStringSubmatchIndex(folded, -1) {
		doc := nearestDocument(loc[0], loc[1], luos, pdus, e.defaultDocument)
		for _, n := range expandArticleNumbers(folded[loc[2]:loc[3]], folded[loc[4]:loc[5]]) {
			refs = append(refs, models.ArticleRef{Document: doc, Number: n})
		}
	}
	f.analysis.Entities.ArticleRefs = models.SortedRefs(refs)
}

// expandArticleNumbers handles "75", "75 76 E 77" and "75 A 79".
func expandArticleNumbers(first, tail string) []int {
	start, err := strconv.Atoi(first)
	if err != nil || start <= 0 {
		return nil
	}
	nums := []int{start}
	prev := start
	for _, m := range articleTok.FindAllStringSubmatch(tail, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			continue
		}
		switch m[1] {
		case "A", "AO", "ATE":
			if n > prev && n-prev < MaxArticleRange {
				for i := prev + 1; i <= n; i++ {
					nums = append(nums, i)
				}
			} else {
				nums = append(nums, n)
			}
		default:
			nums = append(nums, n)
		}
		prev = n
	}
	return nums
}

// nearestDocument binds an article mention to the closest document keyword.
func nearestDocument(start, end int, luos, pdus [][]int, fallback string) string {
	best, bestDist := fallback, -1
	consider := func(locs [][]int, doc string) {
		for _, l := range locs {
			d := 0
			switch {
			case l[0] >= end:
				d = l[0] - end
			case l[1] <= start:
				d = start - l[1]
			}
			if bestDist < 0 || d < bestDist {
				best, bestDist = doc, d
			}
		}
	}
	consider(luos, models.DocumentLUOS)
	consider(pdus, models.DocumentPDUS)
	return best
}

// extractNeighborhoods matches gazetteer terms longest first and masks every match,
// returning the masked text. Unknown names after "bairro" are reported separately
// when written as proper nouns.
func (e *Extractor) extractNeighborhoods(text string, proper map[string]bool, f *features) string {
	var found []string
	for _, t := range e.gazetteer.terms {
		needle := " " + t.key + " "
		matched := false
		for {
			idx := strings.Index(text, needle)
			if idx < 0 {
				break
			}
			matched = true
			text = text[:idx+1] + strings.Repeat("#", len(t.key)) + text[idx+1+len(t.key):]
		}
		if !matched {
			continue
		}
		if len(t.candidates) == 1 {
			found = append(found, t.candidates[0])
			continue
		}
		f.analysis.Ambiguities = append(f.analysis.Ambiguities, models.Ambiguity{
			Term:       t.key,
			Candidates: models.SortedUnique(t.candidates),
		})
	}
	f.analysis.Entities.Neighborhoods = models.SortedUnique(found)
	sort.Slice(f.analysis.Ambiguities, func(i, j int) bool {
		return f.analysis.Ambiguities[i].Term < f.analysis.Ambiguities[j].Term
	})

	var unknown []string
	for _, loc := range bairroRe.FindAllStringIndex(text, -1) {
		if name := unknownName(strings.Fields(text[loc[1]:]), proper); name != "" {
			unknown = append(unknown, name)
		}
	}
	f.analysis.Unrecognized.Neighborhoods = models.SortedUnique(unknown)
	return text
}

// unknownName reads the name following "bairro". Leading connectors are skipped;
// inner connectors are kept only when another name word follows them.
func unknownName(fields []string, proper map[string]bool) string {
	isName := func(w string) bool {
		return wordRe.MatchString(w) && !stopWords[w] && !connectors[w] && proper[w]
	}

	i := 0
	for i < len(fields) && connectors[fields[i]] {
		i++
	}

	var words []string
	for ; i < len(fields); i++ {
		w := fields[i]
		if connectors[w] && len(words) > 0 && i+1 < len(fields) && isName(fields[i+1]) {
			words = append(words, w)
			continue
		}
		if !isName(w) {
			break
		}
		words = append(words, w)
		if len(words) >= maxUnknownNameWords {
			break
		}
	}
	return strings.Join(words, " ")
}

// properNouns returns the folded form of every capitalised word in the raw query.
func properNouns(query string) map[string]bool {
	proper := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		if r, _ := utf8.DecodeRuneInString(tok); unicode.IsUpper(r) {
			proper[normalize.Fold(tok)] = true
		}
	}
	return proper
}

func extractParameters(text string) []string {
	var params []string
	for _, kw := range parameterKeywords {
		needle := " " + kw.phrase + " "
		if !strings.Contains(text, needle) {
			continue
		}
		params = append(params, kw.params...)
		text = strings.ReplaceAll(text, needle, " "+strings.Repeat("#", len(kw.phrase))+" ")
	}
	return models.SortedUnique(params)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, " "+p+" ") {
			return true
		}
	}
	return false
}
