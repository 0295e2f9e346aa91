// Package result implements the Result Model (§4.7, §3): structured
// findings with provenance chain, severity level, and the de-duplication
// the engine performs at emission time only.
package result

import (
	"strconv"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/google/uuid"
)

// maxSnippetLen is the emission-time truncation bound (§3 invariant,
// testable property 3). Analysis keeps the full snippet; only the
// serialized Finding is cut (§9 open question: "truncate at emission only").
const maxSnippetLen = 500

// ChainStepKind is an alias of astprovider.ChainStepKind: the Result
// Model's chain steps use the AST Provider's closed set of kinds (§3)
// unchanged, so the wire format carries the same kind strings.
type ChainStepKind = astprovider.ChainStepKind

// ChainStep is one provenance entry in a Finding's chain (§3).
type ChainStep struct {
	Kind ChainStepKind `json:"kind" yaml:"kind"`
	Code string        `json:"code" yaml:"code"`
	File string        `json:"file" yaml:"file"`
	Line int           `json:"line" yaml:"line"`
}

// Finding is a Vulnerability Result (§3).
type Finding struct {
	ID           string      `json:"id"`
	RuleID       string      `json:"rule_id"`
	RuleName     string      `json:"rule_name"`
	Language     rule.Language `json:"language"`
	Severity     int         `json:"severity"`
	Level        rule.Level  `json:"level"`
	FilePath     string      `json:"file_path"`
	LineNumber   int         `json:"line_number"`
	CodeSnippet  string      `json:"code_snippet"`
	Analysis     string      `json:"analysis"`
	Chain        []ChainStep `json:"chain"`
	CommitAuthor string      `json:"commit_author"`
}

// New builds a Finding, truncating the snippet at emission (§9 open
// question) and converting the AST Provider's chain into the Result
// Model's own type. ID is derived from the same (rule_id, file_path,
// line_number) key Dedup uses (§9 open question: a Finding's identity is
// its dedup key, not a fresh random value), so re-running an unchanged
// scan reproduces byte-identical JSON (§8 testable property 9) instead of
// a new UUID every time.
func New(r rule.Rule, filePath string, line int, fullSnippet, analysis string, chain []astprovider.ChainStep) Finding {
	return Finding{
		ID:           findingID(r.ID, filePath, line),
		RuleID:       r.ID,
		RuleName:     r.Name,
		Language:     r.Language,
		Severity:     r.Severity,
		Level:        rule.ScoreToLevel(r.Severity),
		FilePath:     filePath,
		LineNumber:   line,
		CodeSnippet:  truncate(fullSnippet, maxSnippetLen),
		Analysis:     analysis,
		Chain:        convertChain(chain),
		CommitAuthor: r.Author,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func convertChain(chain []astprovider.ChainStep) []ChainStep {
	out := make([]ChainStep, 0, len(chain))
	for _, c := range chain {
		out = append(out, ChainStep{Kind: c.Kind, Code: c.Code, File: c.File, Line: c.Line})
	}
	return out
}

// ClearChain empties a Finding's chain for display, matching the
// original's post-table-print `x.chain = ""` (§4 Supplemented features).
// It never runs inside the Orchestrator; only a report renderer calls it,
// and only on the copy it is about to print.
func (f *Finding) ClearChain() {
	f.Chain = nil
}

// dedupKey builds the (rule_id, file_path, line_number) identity string
// (§4.7) shared by Dedup and findingID.
func dedupKey(ruleID, filePath string, line int) string {
	var sb strings.Builder
	sb.WriteString(ruleID)
	sb.WriteByte('\x00')
	sb.WriteString(filePath)
	sb.WriteByte('\x00')
	sb.WriteString(strconv.Itoa(line))
	return sb.String()
}

// key is the (rule_id, file_path, line_number) dedup key (§4.7).
func key(f Finding) string {
	return dedupKey(f.RuleID, f.FilePath, f.LineNumber)
}

// findingID derives a Finding's id deterministically from its dedup key,
// using uuid.NewSHA1 (a UUIDv5) so the value still looks like the IDs the
// teacher mints with uuid.NewString, but is stable across runs.
func findingID(ruleID, filePath string, line int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(dedupKey(ruleID, filePath, line))).String()
}

// Dedup removes duplicate findings by (rule_id, file_path, line_number)
// at emission time only (§4.7): every candidate is still verified during
// analysis, this only collapses the emitted list. Order is preserved.
func Dedup(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		k := key(f)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}
