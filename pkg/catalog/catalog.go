// Package catalog holds the process-wide static tables: phase order, budget
// categories, grant kinds and document platform signatures.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// PhaseEntry declares one application phase.
type PhaseEntry struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// Platform maps a document source type to the hosts that identify it.
type Platform struct {
	SourceType string   `yaml:"source_type"`
	Label      string   `yaml:"label"`
	Hosts      []string `yaml:"hosts"`
}

type document struct {
	Version            int                 `yaml:"version"`
	Phases             []PhaseEntry        `yaml:"phases"`
	BudgetCategories   []string            `yaml:"budget_categories"`
	GrantSources       map[string][]string `yaml:"grant_sources"`
	Platforms          []Platform          `yaml:"platforms"`
	FallbackSourceType string              `yaml:"fallback_source_type"`
}

// Catalog is immutable after Parse; accessors return copies.
type Catalog struct {
	phases      []PhaseEntry
	phaseIndex  map[string]int
	categories  []string
	categorySet map[string]struct{}
	grantKinds  map[string]map[string]struct{}
	sources     []string
	platforms   []Platform
	fallback    string
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded document is invalid.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalogYAML)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded document invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads the catalog at path, or returns the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Phases) == 0 {
		return nil, errors.New("catalog: at least one phase is required")
	}
	if len(doc.BudgetCategories) == 0 {
		return nil, errors.New("catalog: at least one budget category is required")
	}

	c := &Catalog{
		phaseIndex:  make(map[string]int, len(doc.Phases)),
		categorySet: make(map[string]struct{}, len(doc.BudgetCategories)),
		grantKinds:  make(map[string]map[string]struct{}, len(doc.GrantSources)),
		fallback:    strings.TrimSpace(doc.FallbackSourceType),
	}
	if c.fallback == "" {
		c.fallback = "other_url"
	}

	for i, p := range doc.Phases {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: phase %d has no id", i)
		}
		if _, dup := c.phaseIndex[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate phase %q", id)
		}
		c.phaseIndex[id] = i
		c.phases = append(c.phases, PhaseEntry{ID: id, Label: p.Label})
	}

	for _, name := range doc.BudgetCategories {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("catalog: empty budget category")
		}
		if _, dup := c.categorySet[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate budget category %q", name)
		}
		c.categorySet[name] = struct{}{}
		c.categories = append(c.categories, name)
	}

	for source, kinds := range doc.GrantSources {
		set := make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			set[strings.TrimSpace(k)] = struct{}{}
		}
		c.grantKinds[source] = set
		c.sources = append(c.sources, source)
	}
	sort.Strings(c.sources)

	for _, p := range doc.Platforms {
		if p.SourceType == "" || len(p.Hosts) == 0 {
			return nil, fmt.Errorf("catalog: platform %q needs a source type and hosts", p.Label)
		}
		hosts := make([]string, 0, len(p.Hosts))
		for _, h := range p.Hosts {
			hosts = append(hosts, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "*.")))
		}
		c.platforms = append(c.platforms, Platform{SourceType: p.SourceType, Label: p.Label, Hosts: hosts})
	}

	return c, nil
}

// Phases returns phase ids in order.
func (c *Catalog) Phases() []string {
	out := make([]string, len(c.phases))
	for i, p := range c.phases {
		out[i] = p.ID
	}
	return out
}

// PhaseLabel returns the display label of a phase.
func (c *Catalog) PhaseLabel(id string) string {
	if idx, ok := c.phaseIndex[id]; ok && c.phases[idx].Label != "" {
		return c.phases[idx].Label
	}
	return id
}

// PhaseIndex returns the position of a phase in the fixed order.
func (c *Catalog) PhaseIndex(id string) (int, bool) {
	idx, ok := c.phaseIndex[id]
	return idx, ok
}

// IsPhase reports whether id names a known phase.
func (c *Catalog) IsPhase(id string) bool {
	_, ok := c.phaseIndex[id]
	return ok
}

// Predecessor returns the phase that logically precedes id, if any.
func (c *Catalog) Predecessor(id string) (string, bool) {
	idx, ok := c.phaseIndex[id]
	if !ok || idx == 0 {
		return "", false
	}
	return c.phases[idx-1].ID, true
}

// Categories returns the closed budget category set in declaration order.
func (c *Catalog) Categories() []string {
	return append([]string(nil), c.categories...)
}

// IsCategory reports whether name is a budget category.
func (c *Catalog) IsCategory(name string) bool {
	_, ok := c.categorySet[name]
	return ok
}

// GrantSources returns the known grant sources sorted by name.
func (c *Catalog) GrantSources() []string {
	return append([]string(nil), c.sources...)
}

// IsGrantSource reports whether source is known.
func (c *Catalog) IsGrantSource(source string) bool {
	_, ok := c.grantKinds[source]
	return ok
}

// IsGrantKind reports whether kind is accepted for source. Sources with no
// declared kinds accept any non-empty kind.
func (c *Catalog) IsGrantKind(source, kind string) bool {
	kinds, ok := c.grantKinds[source]
	if !ok || strings.TrimSpace(kind) == "" {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	_, ok = kinds[kind]
	return ok
}

// GrantKinds returns the declared kinds of source sorted by name. It is empty for
// sources that accept any kind.
func (c *Catalog) GrantKinds(source string) []string {
	kinds := make([]string, 0, len(c.grantKinds[source]))
	for kind := range c.grantKinds[source] {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Platforms returns the platform signature table.
func (c *Catalog) Platforms() []Platform {
	out := make([]Platform, len(c.platforms))
	for i, p := range c.platforms {
		out[i] = Platform{SourceType: p.SourceType, Label: p.Label, Hosts: append([]string(nil), p.Hosts...)}
	}
	return out
}

// FallbackSourceType is the source type for URLs that match no platform.
func (c *Catalog) FallbackSourceType() string {
	return c.fallback
}

// SourceTypes lists every classifiable source type including the fallback.
func (c *Catalog) SourceTypes() []string {
	out := make([]string, 0, len(c.platforms)+1)
	for _, p := range c.platforms {
		out = append(out, p.SourceType)
	}
	return append(out, c.fallback)
}

// MatchHost returns the source type whose signature matches host exactly or as a parent domain.
func (c *Catalog) MatchHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return c.fallback
	}
	for _, p := range c.platforms {
		for _, h := range p.Hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return p.SourceType
			}
		}
	}
	return c.fallback
}
