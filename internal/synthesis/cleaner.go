package synthesis

import (
	"regexp"
	"strings"
)

// Cleaner tidies passage and article text before it is shown to the user
type Cleaner struct {
	// Regex patterns for cleaning content
	inlineWhitespace *regexp.Regexp
	htmlTags         *regexp.Regexp
	emphasis         *regexp.Regexp
	headings         *regexp.Regexp
	sentenceEnd      *regexp.Regexp
}

func NewCleaner() *Cleaner {
	return &Cleaner{
		inlineWhitespace: regexp.MustCompile(`[ \t\r\f\v]+`),
		htmlTags:         regexp.MustCompile(`<[^>]*>`),
		emphasis:         regexp.MustCompile(`\*\*|__`),
		headings:         regexp.MustCompile(`(?m)^#{1,6}\s*`),
		sentenceEnd:      regexp.MustCompile(`[.;:!?]\s+`),
	}
}

// CleanContent removes markup and normalizes whitespace
func (c *Cleaner) CleanContent(content string) string {
	content = c.htmlTags.ReplaceAllString(content, "")
	content = c.emphasis.ReplaceAllString(content, "")
	content = c.headings.ReplaceAllString(content, "")
	content = c.inlineWhitespace.ReplaceAllString(content, " ")

	// Collapse runs of blank lines
	lines := strings.Split(content, "\n")
	var cleaned []string
	emptyLines := 0

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			emptyLines++
			if emptyLines <= 1 {
				cleaned = append(cleaned, "")
			}
		} else {
			emptyLines = 0
			cleaned = append(cleaned, line)
		}
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// Excerpt returns the leading sentences of content that fit in maxSize bytes.
// A first sentence longer than maxSize is cut and marked with an ellipsis.
func (c *Cleaner) Excerpt(content string, maxSize int) string {
	content = c.CleanContent(content)
	if len(content) <= maxSize {
		return content
	}

	var excerpt strings.Builder
	rest := content
	for rest != "" {
		loc := c.sentenceEnd.FindStringIndex(rest)
		var sentence string
		if loc == nil {
			sentence, rest = rest, ""
		} else {
			sentence, rest = rest[:loc[0]+1], rest[loc[1]:]
		}
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if excerpt.Len() > 0 && excerpt.Len()+len(sentence)+1 > maxSize {
			break
		}
		if excerpt.Len() > 0 {
			excerpt.WriteString(" ")
		}
		excerpt.WriteString(sentence)
		if excerpt.Len() > maxSize {
			break
		}
	}

	out := excerpt.String()
	if len(out) > maxSize {
		cut := maxSize
		for cut > 0 && out[cut]&0xC0 == 0x80 {
			cut--
		}
		out = strings.TrimSpace(out[:cut])
	}
	if len(out) < len(content) {
		out += " …"
	}
	return out
}
