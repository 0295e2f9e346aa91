// Package report renders a ScanSummary as the fixed-width console table
// the original engine prints at the end of a scan (§4 Supplemented
// features), independent of the JSON envelope the Result Model emits.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/result"
	"github.com/jedib0t/go-pretty/v6/table"
)

const snippetColumnMax = 50

// Summary is the subset of orchestrator.ScanSummary the renderer needs;
// kept narrow so pkg/report does not import pkg/orchestrator.
type Summary struct {
	Findings         []result.Finding
	PushedRules      int
	TriggeredRules   []string
	UntriggeredRules []string
}

// WriteTable renders the findings table to w, then clears each Finding's
// chain on its own copy, matching the original's post-print `x.chain =
// ""` (§4 Supplemented features) without mutating the caller's slice.
func WriteTable(w io.Writer, s Summary) {
	if len(s.Findings) == 0 {
		fmt.Fprintln(w, "Not found vulnerability!")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "CVI", "Rule(ID/Name)", "Lang", "File:Line", "Author", "Snippet", "Analysis"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Snippet", WidthMax: snippetColumnMax},
	})

	for i, f := range s.Findings {
		row := f
		row.ClearChain()
		trigger := fmt.Sprintf("%s:%d", row.FilePath, row.LineNumber)
		author := fmt.Sprintf("@%s", row.CommitAuthor)
		t.AppendRow(table.Row{i + 1, row.RuleID, row.RuleName, row.Language, trigger, author, snippet(row.CodeSnippet), row.Analysis})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	fmt.Fprintf(w, "\nTrigger Rules: %d Vulnerabilities (%d)\n", len(s.TriggeredRules), len(s.Findings))
	if len(s.UntriggeredRules) > 0 {
		fmt.Fprintf(w, "Not Trigger Rules (%d): %s\n", len(s.UntriggeredRules), strings.Join(s.UntriggeredRules, ","))
	}
}

// WriteChains renders each finding's provenance chain, mirroring the
// original's separate "Vulnerabilities Chain list" log block.
func WriteChains(w io.Writer, s Summary) {
	fmt.Fprintln(w, "Vulnerabilities Chain list:")
	for i, f := range s.Findings {
		fmt.Fprintf(w, "Vul %d\n", i+1)
		for _, c := range f.Chain {
			fmt.Fprintf(w, "  [%s] %s (%s:%d)\n", c.Kind, c.Code, c.File, c.Line)
		}
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > snippetColumnMax {
		return s[:snippetColumnMax]
	}
	return s
}
