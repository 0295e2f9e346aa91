package taint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/matcher"
	"github.com/cvitracer/cvitracer/pkg/repair"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorpus(t *testing.T, rel, content string) (*corpus.Corpus, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	c, err := corpus.New(dir, nil)
	require.NoError(t, err)
	return c, path
}

func TestEvaluateWhitelistShortCircuits(t *testing.T) {
	c, _ := newTestCorpus(t, "a.php", "<?php\necho $_GET['x'];\n")
	cfg := Config{Corpus: c, Whitelist: map[string]bool{"a.php": true}}
	r := rule.Rule{Language: rule.PHP, MatchMode: rule.RegexOnly}
	cand := matcher.Candidate{FilePath: c.AllFiles()[0].AbsPath, LineNumber: 2, CodeSnippet: "echo $_GET['x'];"}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Uncontrolled, v.Kind)
	assert.Equal(t, "Whitelist", v.Reason)
}

func TestEvaluateSpecialFileShortCircuits(t *testing.T) {
	c, path := newTestCorpus(t, "node_modules/pkg/a.php", "<?php\necho $_GET['x'];\n")
	cfg := Config{Corpus: c}
	r := rule.Rule{Language: rule.PHP, MatchMode: rule.RegexOnly}
	cand := matcher.Candidate{FilePath: path, LineNumber: 2}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Uncontrolled, v.Kind)
	assert.Equal(t, "Special File", v.Reason)
}

func TestEvaluateAnnotationSkippedForRegexOnly(t *testing.T) {
	c, path := newTestCorpus(t, "a.php", "<?php\nmysqli_query($c, $s); // reviewed\n")
	cfg := Config{Corpus: c}
	r := rule.Rule{Language: rule.PHP, MatchMode: rule.RegexOnly}
	cand := matcher.Candidate{FilePath: path, LineNumber: 2, CodeSnippet: "mysqli_query($c, $s); // reviewed"}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Vulnerable, v.Kind, "REGEX_ONLY must bypass the annotation pre-filter")
}

func TestEvaluateAnnotationFiltersOtherModes(t *testing.T) {
	c, path := newTestCorpus(t, "a.php", "<?php\necho $_GET['x']; // reviewed\n")
	cfg := Config{Corpus: c}
	r := rule.Rule{Language: rule.PHP, MatchMode: rule.FunctionParamControllable, Match: []string{"echo"}}
	cand := matcher.Candidate{FilePath: path, LineNumber: 2, CodeSnippet: "echo $_GET['x']; // reviewed"}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Uncontrolled, v.Kind)
	assert.Equal(t, "Annotation", v.Reason)
}

func TestEvaluateUnsupportedExtension(t *testing.T) {
	c, path := newTestCorpus(t, "a.txt", "echo $_GET['x'];\n")
	cfg := Config{Corpus: c}
	r := rule.Rule{Language: rule.PHP, MatchMode: rule.RegexOnly}
	cand := matcher.Candidate{FilePath: path, LineNumber: 1}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Unsupported, v.Kind)
}

func TestEvaluatePHPFunctionParamControllableEndToEnd(t *testing.T) {
	c, path := newTestCorpus(t, "a.php", "<?php\necho $_GET['x'];\n")
	catalog, warnings := repair.Load(t.TempDir(), "")
	require.Empty(t, warnings)

	cfg := Config{Corpus: c, Catalog: catalog, Provider: astprovider.NewPHPProvider()}
	r := rule.Rule{ID: "2001", Language: rule.PHP, MatchMode: rule.FunctionParamControllable, Match: []string{"echo"}}
	cand := matcher.Candidate{FilePath: path, LineNumber: 2, CodeSnippet: "echo $_GET['x'];"}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Vulnerable, v.Kind)
	assert.Equal(t, "Function-param-controllable", v.Reason)
}

func TestEvaluateRegexLanguageOnlyHonorsTwoModes(t *testing.T) {
	c, path := newTestCorpus(t, "a.sol", "tx.origin == owner;\n")
	cfg := Config{Corpus: c}

	r := rule.Rule{Language: rule.Solidity, MatchMode: rule.RegexOnly}
	cand := matcher.Candidate{FilePath: path, LineNumber: 1, CodeSnippet: "tx.origin == owner;"}
	assert.Equal(t, Vulnerable, Evaluate(cfg, cand, r).Kind)

	r2 := rule.Rule{Language: rule.Solidity, MatchMode: rule.RegexParamControllable}
	assert.Equal(t, Unsupported, Evaluate(cfg, cand, r2).Kind)
}

func TestEvaluateBrowserExtensionKeywordMatch(t *testing.T) {
	c, path := newTestCorpus(t, "manifest.json", `{"permissions": ["<all_urls>"]}`)
	cfg := Config{Corpus: c}
	r := rule.Rule{Language: rule.BrowserExtension, MatchMode: rule.ExtKeywordMatch}
	cand := matcher.Candidate{FilePath: path, LineNumber: 1, CodeSnippet: `{"permissions": ["<all_urls>"]}`}

	v := Evaluate(cfg, cand, r)
	assert.Equal(t, Vulnerable, v.Kind)
	assert.Equal(t, "Special-crx-keyword-match", v.Reason)
}
