// Package fallback holds the last-resort article table. It is a separate source from
// structured and semantic retrieval and every use is counted as such.
package fallback

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/chatpd/orchestrator/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed articles.yaml
var defaultArticles []byte

// Article is one canned article text.
type Article struct {
	Document string `yaml:"document"`
	Number   int    `yaml:"number"`
	Content  string `yaml:"content"`
}

// Ref returns the article reference.
func (a Article) Ref() models.ArticleRef {
	return models.ArticleRef{Document: a.Document, Number: a.Number}
}

type tableFile struct {
	Articles []Article `yaml:"articles"`
}

// Table is an immutable lookup of article texts by reference.
type Table struct {
	articles map[models.ArticleRef]Article
}

// Load parses a YAML table.
func Load(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fallback articles: %w", err)
	}

	t := &Table{articles: make(map[models.ArticleRef]Article, len(f.Articles))}
	for i, a := range f.Articles {
		a.Document = strings.ToUpper(strings.TrimSpace(a.Document))
		if a.Document != models.DocumentLUOS && a.Document != models.DocumentPDUS {
			return nil, fmt.Errorf("fallback article %d: unknown document %q", i, a.Document)
		}
		if a.Number <= 0 || strings.TrimSpace(a.Content) == "" {
			return nil, fmt.Errorf("fallback article %d: number and content are required", i)
		}
		if _, dup := t.articles[a.Ref()]; dup {
			return nil, fmt.Errorf("fallback article %s defined twice", a.Ref())
		}
		t.articles[a.Ref()] = a
	}
	return t, nil
}

// LoadFile reads a table from disk, or the built-in one when path is empty.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback articles %s: %w", path, err)
	}
	return Load(data)
}

// Default returns the built-in table.
func Default() (*Table, error) {
	return Load(defaultArticles)
}

// Lookup returns the canned text for a reference.
func (t *Table) Lookup(ref models.ArticleRef) (Article, bool) {
	if t == nil {
		return Article{}, false
	}
	a, ok := t.articles[ref]
	return a, ok
}

// LookupAll resolves every reference it can, in the order given.
func (t *Table) LookupAll(refs []models.ArticleRef) []Article {
	var out []Article
	for _, r := range refs {
		if a, ok := t.Lookup(r); ok {
			out = append(out, a)
		}
	}
	return out
}

// Refs lists the references in the table, sorted.
func (t *Table) Refs() []models.ArticleRef {
	if t == nil {
		return nil
	}
	refs := make([]models.ArticleRef, 0, len(t.articles))
	for r := range t.articles {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Document != refs[j].Document {
			return refs[i].Document < refs[j].Document
		}
		return refs[i].Number < refs[j].Number
	})
	return refs
}

// Len is the number of articles.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.articles)
}
