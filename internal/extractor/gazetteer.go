package extractor

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/chatpd/orchestrator/internal/normalize"
	"gopkg.in/yaml.v3"
)

//go:embed gazetteer.yaml
var defaultGazetteer []byte

type gazetteerFile struct {
	Neighborhoods []string            `yaml:"neighborhoods"`
	Aliases       map[string][]string `yaml:"aliases"`
	Zones         []string            `yaml:"zones"`
}

// term is one matchable surface form and the canonical names it stands for.
type term struct {
	key        string
	candidates []string
}

// Gazetteer is the static set of known neighborhoods, aliases and zone codes.
// It is immutable after construction and safe for concurrent use.
type Gazetteer struct {
	names   map[string]string
	aliases map[string][]string
	zones   map[string]struct{}
	terms   []term
}

// NewGazetteer builds a gazetteer. Neighborhood names keep their display form;
// matching uses normalize.NeighborhoodKey.
func NewGazetteer(neighborhoods []string, aliases map[string][]string, zones []string) *Gazetteer {
	g := &Gazetteer{
		names:   make(map[string]string, len(neighborhoods)),
		aliases: make(map[string][]string, len(aliases)),
		zones:   make(map[string]struct{}, len(zones)),
	}

	for _, n := range neighborhoods {
		name := strings.TrimSpace(n)
		if name == "" {
			continue
		}
		g.names[normalize.NeighborhoodKey(name)] = name
	}

	for alias, targets := range aliases {
		key := normalize.NeighborhoodKey(alias)
		if _, isName := g.names[key]; isName || key == "" {
			continue
		}
		var resolved []string
		for _, t := range targets {
			if name, ok := g.names[normalize.NeighborhoodKey(t)]; ok {
				resolved = append(resolved, name)
			}
		}
		if len(resolved) > 0 {
			g.aliases[key] = resolved
		}
	}

	for _, z := range zones {
		if code, ok := normalize.ZoneCode(z); ok {
			g.zones[code] = struct{}{}
		}
	}

	g.buildTerms()
	return g
}

func (g *Gazetteer) buildTerms() {
	g.terms = g.terms[:0]
	for key, name := range g.names {
		g.terms = append(g.terms, term{key: key, candidates: []string{name}})
	}
	for key, names := range g.aliases {
		g.terms = append(g.terms, term{key: key, candidates: names})
	}
	// Longest first so "BOA VISTA DO SUL" wins over "BOA VISTA".
	sort.Slice(g.terms, func(i, j int) bool {
		if len(g.terms[i].key) != len(g.terms[j].key) {
			return len(g.terms[i].key) > len(g.terms[j].key)
		}
		return g.terms[i].key < g.terms[j].key
	})
}

// LoadGazetteer parses a YAML gazetteer document.
func LoadGazetteer(data []byte) (*Gazetteer, error) {
	var f gazetteerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse gazetteer: %w", err)
	}
	if len(f.Neighborhoods) == 0 {
		return nil, fmt.Errorf("gazetteer has no neighborhoods")
	}
	return NewGazetteer(f.Neighborhoods, f.Aliases, f.Zones), nil
}

// LoadGazetteerFile reads a gazetteer from disk, or the built-in one when path is empty.
func LoadGazetteerFile(path string) (*Gazetteer, error) {
	if path == "" {
		return DefaultGazetteer()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gazetteer %s: %w", path, err)
	}
	return LoadGazetteer(data)
}

// DefaultGazetteer returns the built-in Porto Alegre gazetteer.
func DefaultGazetteer() (*Gazetteer, error) {
	return LoadGazetteer(defaultGazetteer)
}

// With returns a copy extended with extra neighborhoods and zone codes,
// typically the distinct values present in the regulatory relation.
func (g *Gazetteer) With(neighborhoods, zones []string) *Gazetteer {
	names := make([]string, 0, len(g.names)+len(neighborhoods))
	for _, n := range g.names {
		names = append(names, n)
	}
	for _, n := range neighborhoods {
		if _, ok := g.names[normalize.NeighborhoodKey(n)]; !ok {
			names = append(names, n)
		}
	}

	aliases := make(map[string][]string, len(g.aliases))
	for k, v := range g.aliases {
		aliases[k] = v
	}

	codes := make([]string, 0, len(g.zones)+len(zones))
	for z := range g.zones {
		codes = append(codes, z)
	}
	codes = append(codes, zones...)

	return NewGazetteer(names, aliases, codes)
}

// Lookup resolves a neighborhood name, in any case or accent form, to its display name.
func (g *Gazetteer) Lookup(name string) (string, bool) {
	n, ok := g.names[normalize.NeighborhoodKey(name)]
	return n, ok
}

// KnownZone reports whether a canonical zone code is known. An empty zone list accepts every code.
func (g *Gazetteer) KnownZone(code string) bool {
	if len(g.zones) == 0 {
		return true
	}
	_, ok := g.zones[code]
	return ok
}

// Neighborhoods returns the sorted display names.
func (g *Gazetteer) Neighborhoods() []string {
	out := make([]string, 0, len(g.names))
	for _, n := range g.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Size is the number of canonical neighborhoods.
func (g *Gazetteer) Size() int {
	return len(g.names)
}
