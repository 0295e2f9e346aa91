package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/repair"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/cvitracer/cvitracer/pkg/taint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorpus(t *testing.T, files map[string]string) *corpus.Corpus {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	c, err := corpus.New(dir, nil)
	require.NoError(t, err)
	return c
}

func TestScanNoEnabledRulesIsRuleSetEmpty(t *testing.T) {
	orch := &Orchestrator{Corpus: newTestCorpus(t, nil), Registry: rule.NewRegistry()}
	_, err := orch.Scan(context.Background(), rule.PHP, nil)
	assert.ErrorIs(t, err, taint.ErrRuleSetEmpty)
}

func TestScanEndToEndDirectVulnerability(t *testing.T) {
	c := newTestCorpus(t, map[string]string{"a.php": "<?php\necho $_GET['x'];\n"})
	reg := rule.NewRegistry()
	reg.Register(rule.Rule{ID: "2001", Name: "xss", Language: rule.PHP, Author: "cvitracer", Severity: 7, Enabled: true, MatchMode: rule.FunctionParamControllable, Match: []string{"echo"}})
	catalog, _ := repair.Load(t.TempDir(), "")

	orch := &Orchestrator{Corpus: c, Registry: reg, Catalog: catalog, Provider: astprovider.NewPHPProvider()}
	summary, err := orch.Scan(context.Background(), rule.PHP, nil)
	require.NoError(t, err)

	require.Len(t, summary.Findings, 1)
	assert.Equal(t, "2001", summary.Findings[0].RuleID)
	assert.Equal(t, []string{"2001"}, summary.TriggeredRules)
	assert.Empty(t, summary.UntriggeredRules)
}

func TestScanUntriggeredRulesAreReported(t *testing.T) {
	c := newTestCorpus(t, map[string]string{"a.php": "<?php\n$x = 'clean';\necho $x;\n"})
	reg := rule.NewRegistry()
	reg.Register(rule.Rule{ID: "2001", Language: rule.PHP, Enabled: true, MatchMode: rule.FunctionParamControllable, Match: []string{"echo"}})
	catalog, _ := repair.Load(t.TempDir(), "")

	orch := &Orchestrator{Corpus: c, Registry: reg, Catalog: catalog, Provider: astprovider.NewPHPProvider()}
	summary, err := orch.Scan(context.Background(), rule.PHP, nil)
	require.NoError(t, err)

	assert.Empty(t, summary.Findings)
	assert.Equal(t, []string{"2001"}, summary.UntriggeredRules)
}

// fakeNewRuleProvider always reports CodeNewRule, letting the depth cap test
// drive the worklist deterministically without a real recursive PHP call chain.
type fakeNewRuleProvider struct{ calls int }

func (f *fakeNewRuleProvider) Parse(file string) error { return nil }

func (f *fakeNewRuleProvider) ScanParser(sinks []string, line int, file string, sanitizers map[string]map[string]bool, ruleID string, sources []string) ([]astprovider.Report, error) {
	f.calls++
	return []astprovider.Report{{Code: astprovider.CodeNewRule, NewSink: "wrap"}}, nil
}

func (f *fakeNewRuleProvider) IsControllableParameter(line int, file string, sanitizers map[string]map[string]bool, ruleID string, sources []string) ([]astprovider.Report, error) {
	return f.ScanParser(nil, line, file, sanitizers, ruleID, sources)
}

func (f *fakeNewRuleProvider) InitMatchRule(hint string) (string, string, string, int) {
	return `wrap\s*\(`, "", hint, 0
}

func TestScanStopsAtDepthCap(t *testing.T) {
	c := newTestCorpus(t, map[string]string{"a.php": "<?php\nwrap($_GET['x']);\n"})
	reg := rule.NewRegistry()
	reg.Register(rule.Rule{ID: "2001", Language: rule.PHP, Enabled: true, MatchMode: rule.FunctionParamControllable, Match: []string{"wrap"}})

	provider := &fakeNewRuleProvider{}
	orch := &Orchestrator{Corpus: c, Registry: reg, Provider: provider}

	summary, err := orch.Scan(context.Background(), rule.PHP, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Findings, "every candidate here is CodeNewRule, never a terminal verdict")

	// depth 0 (base rule) plus depths 1..MaxDepth all run once each;
	// MaxDepth+1 is rejected before another ScanParser call, so calls == MaxDepth+1.
	assert.Equal(t, MaxDepth+1, provider.calls)
}
