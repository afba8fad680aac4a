// Package normalize holds the text folding rules shared by ingestion and query time.
// Regulatory rows store NeighborhoodKey(name) in the neighborhood_key column.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiSpace      = regexp.MustCompile(`\s+`)
	neighborhoodCue = regexp.MustCompile(`^(?:(?:NO|DO|DA|DE|EM|O|A)\s+)?BAIRROS?\s+`)
	zonePattern     = regexp.MustCompile(`^(?:ZOT|ZONA)\s*-?\s*(\d{1,2})(?:[.,](\d))?(?:\s*-\s*([A-Z])|([A-Z]))?$`)
)

// StripAccents removes combining marks (NFD decomposition) and keeps everything else.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold upper-cases, strips accents, turns punctuation other than apostrophes, dots
// and hyphens into spaces and collapses whitespace.
func Fold(s string) string {
	s = strings.ToUpper(StripAccents(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '.', r == '-':
			return r
		default:
			return ' '
		}
	}, s)
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

// NeighborhoodKey is the lookup key stored next to every regulatory row.
// "bairro Petrópolis", "PETROPOLIS" and "petrópolis " map to the same key.
func NeighborhoodKey(name string) string {
	key := Fold(name)
	key = neighborhoodCue.ReplaceAllString(key, "")
	key = strings.ReplaceAll(key, ".", "")
	return strings.TrimSpace(key)
}

// ZoneCode canonicalises a zone reference to "ZOT NN[.d][-L]".
// The second return value is false when raw is not a zone code.
func ZoneCode(raw string) (string, bool) {
	folded := Fold(raw)
	m := zonePattern.FindStringSubmatch(folded)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	code := fmt.Sprintf("ZOT %02d", n)
	if m[2] != "" {
		code += "." + m[2]
	}
	suffix := m[3]
	if suffix == "" {
		suffix = m[4]
	}
	if suffix != "" {
		code += "-" + suffix
	}
	return code, true
}

// QueryKey folds case, accents and whitespace so equivalent questions share a cache entry.
func QueryKey(query string) string {
	q := strings.ToLower(StripAccents(query))
	return strings.TrimSpace(multiSpace.ReplaceAllString(q, " "))
}

// HashKey returns the stable content address of an already normalized query.
func HashKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
