package result

import (
	"strings"
	"testing"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTruncatesSnippetAtEmission(t *testing.T) {
	r := rule.Rule{ID: "2001", Name: "xss", Language: rule.PHP, Severity: 7, Author: "reviewer"}
	long := strings.Repeat("a", maxSnippetLen+50)

	f := New(r, "a.php", 10, long, "Function-param-controllable", nil)

	assert.Len(t, f.CodeSnippet, maxSnippetLen)
	assert.Equal(t, rule.LevelHigh, f.Level)
	assert.NotEmpty(t, f.ID)
}

func TestNewIDIsDeterministicAcrossRuns(t *testing.T) {
	r := rule.Rule{ID: "2001", Severity: 7}

	a := New(r, "a.php", 10, "echo $x;", "reason", nil)
	b := New(r, "a.php", 10, "echo $x;", "reason", nil)
	assert.Equal(t, a.ID, b.ID, "the same (rule_id, file_path, line_number) must mint the same id every run")

	c := New(r, "a.php", 11, "echo $x;", "reason", nil)
	assert.NotEqual(t, a.ID, c.ID, "a different dedup key must mint a different id")
}

func TestNewKeepsShortSnippetUntouched(t *testing.T) {
	r := rule.Rule{ID: "2001", Severity: 7}
	f := New(r, "a.php", 1, "echo $x;", "reason", nil)
	assert.Equal(t, "echo $x;", f.CodeSnippet)
}

func TestNewConvertsChain(t *testing.T) {
	r := rule.Rule{ID: "2001", Severity: 7}
	chain := []astprovider.ChainStep{
		{Kind: astprovider.StepSource, Code: "$_GET['x']", File: "a.php", Line: 2},
		{Kind: astprovider.StepSinkCall, Code: "echo $x;", File: "a.php", Line: 3},
	}
	f := New(r, "a.php", 3, "echo $x;", "reason", chain)
	require.Len(t, f.Chain, 2)
	assert.Equal(t, ChainStepKind(astprovider.StepSource), f.Chain[0].Kind)
}

func TestClearChainOnlyAffectsReceiver(t *testing.T) {
	r := rule.Rule{ID: "2001", Severity: 7}
	chain := []astprovider.ChainStep{{Kind: astprovider.StepSinkCall, Code: "x", File: "a.php", Line: 1}}
	f := New(r, "a.php", 1, "x", "reason", chain)
	require.NotEmpty(t, f.Chain)

	f.ClearChain()
	assert.Nil(t, f.Chain)
}

func TestDedupByRuleFileLine(t *testing.T) {
	r1 := rule.Rule{ID: "2001", Severity: 7}
	r2 := rule.Rule{ID: "2002", Severity: 9}

	findings := []Finding{
		New(r1, "a.php", 10, "x", "reason", nil),
		New(r1, "a.php", 10, "x", "reason", nil), // exact duplicate
		New(r1, "a.php", 11, "y", "reason", nil), // different line
		New(r2, "a.php", 10, "x", "reason", nil), // different rule
	}

	deduped := Dedup(findings)
	assert.Len(t, deduped, 3)
}

func TestDedupPreservesOrder(t *testing.T) {
	r1 := rule.Rule{ID: "2001", Severity: 7}
	findings := []Finding{
		New(r1, "a.php", 20, "x", "reason", nil),
		New(r1, "a.php", 10, "x", "reason", nil),
	}
	deduped := Dedup(findings)
	require.Len(t, deduped, 2)
	assert.Equal(t, 20, deduped[0].LineNumber)
	assert.Equal(t, 10, deduped[1].LineNumber)
}
