// Package repair implements the Repair Catalog (§4.5): the sanitizer
// ("repair") function map and the controlled-input ("source") function
// list the Taint Core consults when it walks an assignment chain.
package repair

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is immutable once loaded (§5 "the shared Repair Catalog is
// immutable after load"), so it is safe to share across concurrently
// running rules.
type Catalog struct {
	// Sanitizers maps a sanitizer function name to the set of rule ids it
	// sanitizes for.
	Sanitizers map[string]map[string]bool
	// Sources is the global list of controlled-input function names.
	Sources []string
}

// SanitizesRule reports whether calling fn sanitizes data for ruleID.
func (c *Catalog) SanitizesRule(fn, ruleID string) bool {
	if c == nil {
		return false
	}
	rules, ok := c.Sanitizers[fn]
	if !ok {
		return false
	}
	return rules[ruleID]
}

// IsSource reports whether fn is a controlled-input (source) function.
// Per design notes §9 open question, sanitizer precedence is the local
// policy: a name that is both a sanitizer for ruleID and a source is
// treated as a sanitizer for that rule (SanitizesRule should be checked
// first by callers, as the PHP taint algorithm does).
func (c *Catalog) IsSource(fn string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Sources {
		if s == fn {
			return true
		}
	}
	return false
}

// baseSanitizers is the always-loaded default repair map, the Go
// equivalent of `rules.secret.demo.IS_REPAIR_DEFAULT`.
func baseSanitizers() map[string]map[string]bool {
	return map[string]map[string]bool{
		"htmlspecialchars": {"2001": true},
		"htmlentities":     {"2001": true},
		"strip_tags":       {"2001": true},
		"escapeshellarg":   {"2002": true},
		"escapeshellcmd":   {"2002": true},
		"mysqli_real_escape_string": {"2003": true},
		"intval":           {"2001": true, "2002": true, "2003": true},
		"(int)":            {"2001": true, "2002": true, "2003": true},
	}
}

// baseSources is the always-loaded default controlled-input list, the Go
// equivalent of `rules.secret.demo.IS_CONTROLLED_DEFAULT`.
func baseSources() []string {
	return []string{
		"$_GET", "$_POST", "$_REQUEST", "$_COOKIE", "$_SERVER", "$_FILES",
		"$_ENV", "$_SESSION",
		// Function-based sources, after the InputFunctions list.
		"file_get_contents", "fgets", "fread", "fgetc", "fgetss", "fgetcsv",
		"file", "readfile", "stream_get_contents", "getenv", "getallheaders",
		"apache_request_headers", "readline", "fscanf", "fpassthru",
	}
}

// Load builds the base catalog and, when secretProfile is non-empty,
// overlays it with the named profile read from secretsDir/<profile>.yaml.
// A missing overlay file is a warning, not an error (§4.5: "Missing
// overlay → warn, continue with base"); the caller's logger records it.
func Load(secretsDir, secretProfile string) (*Catalog, []error) {
	var warnings []error
	c := &Catalog{
		Sanitizers: baseSanitizers(),
		Sources:    append([]string(nil), baseSources()...),
	}
	if secretProfile == "" {
		return c, warnings
	}

	path := fmt.Sprintf("%s/%s.yaml", secretsDir, secretProfile)
	data, err := os.ReadFile(path)
	if err != nil {
		warnings = append(warnings, fmt.Errorf("secret profile %q not found, using base catalog: %w", secretProfile, err))
		return c, warnings
	}

	var overlay struct {
		Sanitizers map[string][]string `yaml:"sanitizers"`
		Sources    []string            `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		warnings = append(warnings, fmt.Errorf("secret profile %q malformed, using base catalog: %w", secretProfile, err))
		return c, warnings
	}

	// Secret overlay wins on key collision (§4.5).
	merged := make(map[string]map[string]bool, len(c.Sanitizers)+len(overlay.Sanitizers))
	for fn, rules := range c.Sanitizers {
		merged[fn] = rules
	}
	for fn, ruleIDs := range overlay.Sanitizers {
		set := make(map[string]bool, len(ruleIDs))
		for _, id := range ruleIDs {
			set[id] = true
		}
		merged[fn] = set
	}
	c.Sanitizers = merged

	// Source list is concatenated, not overwritten.
	c.Sources = append(c.Sources, overlay.Sources...)

	return c, warnings
}
