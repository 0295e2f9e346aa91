// Package orchestrator implements the Scan Orchestrator (§4.6): for each
// rule, invoke the Matcher, then the Taint Core for every candidate,
// collecting Findings and driving the new-rule feedback loop with an
// explicit worklist (design note: "Recursive self-calls across
// synthesized rules -> worklist").
package orchestrator

import (
	"context"
	"sort"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/matcher"
	"github.com/cvitracer/cvitracer/pkg/repair"
	"github.com/cvitracer/cvitracer/pkg/result"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/cvitracer/cvitracer/pkg/taint"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxDepth is the new-rule recursion depth cap (§3 invariant, §4.6).
const MaxDepth = 20

// Orchestrator wires the Corpus, Rule Registry, Repair Catalog, and AST
// Provider together to run a scan.
type Orchestrator struct {
	Corpus      *corpus.Corpus
	Registry    *rule.Registry
	Catalog     *repair.Catalog
	Provider    astprovider.Provider
	Whitelist   map[string]bool
	Logger      *zap.Logger
	Concurrency int // rule-granularity concurrency (§5); 0 = sequential
}

// ScanSummary is the Orchestrator's result: the findings plus the
// trigger-rule diff the original scan.py logs (§4 Supplemented features).
type ScanSummary struct {
	Findings         []result.Finding
	PushedRules      int
	TriggeredRules   []string
	UntriggeredRules []string
}

type workItem struct {
	rule  rule.Rule
	depth int
}

// Scan runs every enabled rule for language (optionally narrowed by
// filter), draining the new-rule worklist to a fixed point (§4.6 flow).
func (o *Orchestrator) Scan(ctx context.Context, language rule.Language, filter []string) (*ScanSummary, error) {
	rules := o.Registry.Rules(language, filter)
	if len(rules) == 0 {
		o.logger().Error("no enabled rules for language", zap.String("language", string(language)))
		return nil, taint.ErrRuleSetEmpty
	}
	o.logger().Info("pushing rules", zap.Int("count", len(rules)))

	queue := make([]workItem, 0, len(rules))
	for _, r := range rules {
		queue = append(queue, workItem{rule: r, depth: 0})
	}

	var allFindings []result.Finding
	triggered := map[string]bool{}
	warnedDepth := map[string]bool{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return &ScanSummary{Findings: allFindings}, nil
		}

		level := queue
		queue = nil

		levelFindings := make([][]result.Finding, len(level))
		levelNext := make([][]workItem, len(level))

		g, gctx := errgroup.WithContext(ctx)
		if o.Concurrency > 0 {
			g.SetLimit(o.Concurrency)
		} else {
			g.SetLimit(1)
		}

		for i, item := range level {
			i, item := i, item
			g.Go(func() error {
				findings, next := o.runRule(gctx, item, warnedDepth)
				levelFindings[i] = findings
				levelNext[i] = next
				return nil
			})
		}
		_ = g.Wait() // per-candidate/per-rule errors are contained (§7); runRule never returns one

		for i, item := range level {
			if len(levelFindings[i]) > 0 {
				triggered[item.rule.ID] = true
			}
			allFindings = append(allFindings, levelFindings[i]...)
			queue = append(queue, levelNext[i]...)
		}
	}

	sortFindings(allFindings)
	allFindings = result.Dedup(allFindings)

	return &ScanSummary{
		Findings:         allFindings,
		PushedRules:      len(rules),
		TriggeredRules:   sortedKeys(triggered),
		UntriggeredRules: untriggered(rules, triggered),
	}, nil
}

// runRule matches r over the corpus, verifies every candidate with the
// Taint Core, and returns both the findings and any new rules the
// new-rule feedback loop spawned (§4.6).
func (o *Orchestrator) runRule(ctx context.Context, item workItem, warnedDepth map[string]bool) ([]result.Finding, []workItem) {
	r := item.rule
	candidates, err := matcher.Match(r, o.Corpus)
	if err != nil {
		o.logger().Warn("matcher error, rule produces no candidates", zap.String("rule_id", r.ID), zap.Error(err))
		return nil, nil
	}

	cfg := taint.Config{Corpus: o.Corpus, Catalog: o.Catalog, Provider: o.Provider, Whitelist: o.Whitelist}

	var findings []result.Finding
	var next []workItem

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			break
		}

		verdict := taint.Evaluate(cfg, cand, r)
		relPath := cand.FilePath
		if o.Corpus != nil {
			relPath = o.Corpus.RelPath(cand.FilePath)
		}

		switch verdict.Kind {
		case taint.Vulnerable, taint.Unconfirmed:
			findings = append(findings, result.New(r, relPath, cand.LineNumber, cand.CodeSnippet, verdict.Reason, verdict.Chain))
			o.logger().Debug("finding recorded", zap.String("rule_id", r.ID), zap.String("file_path", relPath), zap.Int("line", cand.LineNumber))

		case taint.NewRule:
			childDepth := item.depth + 1
			if childDepth > MaxDepth {
				if !warnedDepth[r.ID] {
					warnedDepth[r.ID] = true
					o.logger().Warn("new-rule recursion depth exceeded, dropping", zap.String("rule_id", r.ID), zap.Int("depth", childDepth))
				}
				continue
			}
			matchRegex, _, sinkName, paramIndex := o.Provider.InitMatchRule(verdict.NewSink)
			sink := verdict.NewSink
			if matchRegex != "" {
				sink = sinkName
			}
			_ = paramIndex
			child := rule.Synthesize(r, sink, childDepth)
			next = append(next, workItem{rule: child, depth: childDepth})

		case taint.Fixed, taint.Uncontrolled, taint.Unsupported, taint.ErrorKind:
			if verdict.Err != nil {
				o.logger().Debug("candidate dropped", zap.String("rule_id", r.ID), zap.String("reason", verdict.Reason), zap.Error(verdict.Err))
			}
		}
	}

	return findings, next
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// sortFindings enforces the deterministic ordering testable property:
// rule id ascending, then file path ascending, then line ascending (§8
// property 4). Findings from the same rule already arrive in candidate
// order (sorted path, ascending line) from the Matcher; this just
// restores rule-id ordering lost by level-parallel execution.
func sortFindings(findings []result.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.LineNumber < b.LineNumber
	})
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func untriggered(rules []rule.Rule, triggered map[string]bool) []string {
	var out []string
	for _, r := range rules {
		if !triggered[r.ID] {
			out = append(out, r.ID)
		}
	}
	sort.Strings(out)
	return out
}
