package rule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRulesFiltersByLanguageAndEnabled(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterManifest(BuiltinManifest())
	reg.Register(Rule{ID: "9999", Language: PHP, Enabled: false})

	php := reg.Rules(PHP, nil)
	require.NotEmpty(t, php)
	for _, r := range php {
		assert.Equal(t, PHP, r.Language)
		assert.True(t, r.Enabled)
	}

	sol := reg.Rules(Solidity, nil)
	require.Len(t, sol, 1)
	assert.Equal(t, "3001", sol[0].ID)
}

func TestRegistryRulesAscendingByID(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterManifest(BuiltinManifest())

	rules := reg.Rules(PHP, nil)
	for i := 1; i < len(rules); i++ {
		assert.Less(t, rules[i-1].ID, rules[i].ID)
	}
}

func TestRegistryRulesFilterList(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterManifest(BuiltinManifest())

	rules := reg.Rules(PHP, []string{"2003"})
	require.Len(t, rules, 1)
	assert.Equal(t, "2003", rules[0].ID)
}

func TestRegistryGetAndLen(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterManifest(BuiltinManifest())

	r, ok := reg.Get("2001")
	require.True(t, ok)
	assert.Equal(t, "direct-output-xss", r.Name)

	_, ok = reg.Get("not-a-rule")
	assert.False(t, ok)

	assert.Equal(t, len(BuiltinManifest()), reg.Len())
}

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
rules:
  - id: "9001"
    name: custom-sink
    language: php
    author: reviewer
    severity: 8
    enabled: true
    match_mode: FUNCTION_PARAM_CONTROLLABLE
    match: ["custom_sink"]
    vul_function: custom_sink
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rules, err := LoadManifestYAML(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "9001", rules[0].ID)
	assert.Equal(t, FunctionParamControllable, rules[0].MatchMode)
	assert.Equal(t, []string{"custom_sink"}, rules[0].Match)
}

func TestLoadManifestYAMLMissingFile(t *testing.T) {
	_, err := LoadManifestYAML("/no/such/manifest.yaml")
	assert.Error(t, err)
}
