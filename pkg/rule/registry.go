package rule

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Registry holds the active rule set for a scan. Rules are registered once
// at startup through a manifest (either the built-in manifest or a YAML
// file); there is no runtime name lookup, replacing the original's
// reflection-based `__import__` discovery (design note: "Dynamic rule
// loading → static rule trait").
type Registry struct {
	byID map[string]Rule
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Rule)}
}

// Register adds a rule to the registry. A duplicate ID overwrites the
// previous entry, matching manifest-reload semantics.
func (reg *Registry) Register(r Rule) {
	reg.byID[r.ID] = r
}

// RegisterManifest registers every rule in a manifest slice, typically
// BuiltinManifest() or the result of LoadManifestYAML.
func (reg *Registry) RegisterManifest(rules []Rule) {
	for _, r := range rules {
		reg.Register(r)
	}
}

// Rules returns the enabled rules for language, optionally narrowed to the
// ids in filter, in ascending rule-id order (§4.6: "ascending rule id").
// A disabled rule never appears here (§3 invariant).
func (reg *Registry) Rules(language Language, filter []string) []Rule {
	var allow map[string]bool
	if len(filter) > 0 {
		allow = make(map[string]bool, len(filter))
		for _, id := range filter {
			allow[id] = true
		}
	}

	out := make([]Rule, 0, len(reg.byID))
	for _, r := range reg.byID {
		if !r.Enabled {
			continue
		}
		if language != "" && r.Language != language {
			continue
		}
		if allow != nil && !allow[r.ID] {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks up a single rule by id.
func (reg *Registry) Get(id string) (Rule, bool) {
	r, ok := reg.byID[id]
	return r, ok
}

// Len reports how many rules (enabled or not) are registered.
func (reg *Registry) Len() int { return len(reg.byID) }

// manifestDoc is the on-disk shape of a YAML rule manifest, the Go-native
// replacement for the original per-file Python rule modules.
type manifestDoc struct {
	Rules []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Language    string   `yaml:"language"`
		Author      string   `yaml:"author"`
		Severity    int      `yaml:"severity"`
		Enabled     bool     `yaml:"enabled"`
		MatchMode   string   `yaml:"match_mode"`
		Match       []string `yaml:"match"`
		Unmatch     []string `yaml:"unmatch"`
		MatchName   string   `yaml:"match_name"`
		BlackList   []string `yaml:"black_list"`
		Keyword     string   `yaml:"keyword"`
		VulFunction string   `yaml:"vul_function"`
	} `yaml:"rules"`
}

// LoadManifestYAML reads a rule manifest from path. Rule packaging proper
// (how an installation discovers and versions manifests) is out of scope
// per spec §1; this is the minimal reader the Registry needs to consume one.
func LoadManifestYAML(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule manifest %s: %w", path, err)
	}
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule manifest %s: %w", path, err)
	}
	out := make([]Rule, 0, len(doc.Rules))
	for _, rd := range doc.Rules {
		out = append(out, Rule{
			ID:          rd.ID,
			Name:        rd.Name,
			Language:    Language(rd.Language),
			Author:      rd.Author,
			Severity:    rd.Severity,
			Enabled:     rd.Enabled,
			MatchMode:   MatchMode(rd.MatchMode),
			Match:       rd.Match,
			Unmatch:     rd.Unmatch,
			MatchName:   rd.MatchName,
			BlackList:   rd.BlackList,
			Keyword:     rd.Keyword,
			VulFunction: rd.VulFunction,
		})
	}
	return out, nil
}
