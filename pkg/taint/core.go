package taint

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/matcher"
	"github.com/cvitracer/cvitracer/pkg/repair"
	"github.com/cvitracer/cvitracer/pkg/rule"
)

// Kind is the Taint Core's sum-typed verdict (§4.4, design note
// "Exception-driven control flow -> sum-typed verdicts").
type Kind string

const (
	Vulnerable   Kind = "VULNERABLE"
	Fixed        Kind = "FIXED"
	Uncontrolled Kind = "UNCONTROLLED"
	Unconfirmed  Kind = "UNCONFIRMED"
	NewRule      Kind = "NEW_RULE"
	Unsupported  Kind = "UNSUPPORTED"
	ErrorKind    Kind = "ERROR"
)

// Verdict is the Taint Core's full decision for one Candidate.
type Verdict struct {
	Kind       Kind
	Reason     string
	Chain      []astprovider.ChainStep
	NewSink    string // set only when Kind == NewRule
	ParamIndex int
	Err        error
}

// Config bundles the collaborators the Taint Core consults: the Corpus
// for relative-path resolution, the Repair Catalog, the PHP-like AST
// Provider, and the scan's whitelist (§4.4 pre-filter 1).
type Config struct {
	Corpus    *corpus.Corpus
	Catalog   *repair.Catalog
	Provider  astprovider.Provider
	Whitelist map[string]bool
}

var annotationPattern = regexp.MustCompile(`#|\\\*|//`)

// Evaluate runs the pre-filter chain and, if the candidate survives,
// dispatches to the language-specific verification path (§4.4).
func Evaluate(cfg Config, cand matcher.Candidate, r rule.Rule) Verdict {
	relPath := cand.FilePath
	if cfg.Corpus != nil {
		relPath = cfg.Corpus.RelPath(cand.FilePath)
	}

	// 1. Whitelist.
	if cfg.Whitelist[relPath] {
		return Verdict{Kind: Uncontrolled, Reason: "Whitelist"}
	}
	// 2. Special file.
	if corpus.IsSpecialFile(cand.FilePath) {
		return Verdict{Kind: Uncontrolled, Reason: "Special File"}
	}
	// 3. Test file: not filtered; scanning continues. The check's result is
	// not carried in the Verdict and is not logged.
	_ = isTestFile(relPath)

	// 4. Annotation, skipped for REGEX_ONLY rules.
	if r.MatchMode != rule.RegexOnly && annotationPattern.MatchString(cand.CodeSnippet) {
		return Verdict{Kind: Uncontrolled, Reason: "Annotation"}
	}

	// 5. Extension check.
	ext := strings.ToLower(filepath.Ext(cand.FilePath))
	if !rule.HasExtension(r.Language, ext) {
		return Verdict{Kind: Unsupported, Reason: "Unsupport File"}
	}

	switch r.Language {
	case rule.PHP:
		return evaluatePHP(cfg, cand, r)
	case rule.Solidity, rule.JavaScript:
		return evaluateRegexLanguage(cand, r)
	case rule.BrowserExtension:
		return evaluateBrowserExtension(cand, r)
	default:
		return Verdict{Kind: Unsupported, Reason: "Unsupport Language"}
	}
}

func isTestFile(relPath string) bool {
	p := "/" + strings.Trim(filepath.ToSlash(relPath), "/")
	return strings.Contains(p, "/test/") || strings.Contains(p, "/tests/") || strings.Contains(p, "/unitTests/")
}

func evaluatePHP(cfg Config, cand matcher.Candidate, r rule.Rule) Verdict {
	if r.MatchMode == rule.RegexOnly {
		return Verdict{
			Kind:   Vulnerable,
			Reason: "Regex-only-match",
			Chain:  []astprovider.ChainStep{{Kind: astprovider.StepSinkCall, Code: cand.CodeSnippet, File: cand.FilePath, Line: cand.LineNumber}},
		}
	}

	if cfg.Provider == nil {
		return Verdict{Kind: ErrorKind, Reason: "Exception", Err: fmt.Errorf("taint: no AST provider configured for PHP")}
	}
	if err := cfg.Provider.Parse(cand.FilePath); err != nil {
		return Verdict{Kind: ErrorKind, Reason: "Exception", Err: fmt.Errorf("%w: %v", ErrParseFailure, err)}
	}

	sanitizers := map[string]map[string]bool{}
	var sources []string
	if cfg.Catalog != nil {
		sanitizers = cfg.Catalog.Sanitizers
		sources = cfg.Catalog.Sources
	}

	if r.MatchMode == rule.FunctionParamControllable {
		reports, err := cfg.Provider.ScanParser(r.Match, cand.LineNumber, cand.FilePath, sanitizers, r.ID, sources)
		if err != nil {
			return Verdict{Kind: ErrorKind, Reason: "Exception", Err: fmt.Errorf("%w: %v", ErrParseFailure, err)}
		}
		if len(reports) == 0 {
			return Verdict{Kind: Uncontrolled, Reason: "Can't parser"}
		}
		return fromReport(reports[0], fpcReasons)
	}

	reports, err := cfg.Provider.IsControllableParameter(cand.LineNumber, cand.FilePath, sanitizers, r.ID, sources)
	if err != nil {
		return Verdict{Kind: ErrorKind, Reason: "Exception", Err: fmt.Errorf("%w: %v", ErrParseFailure, err)}
	}
	if len(reports) == 0 {
		return Verdict{Kind: Uncontrolled, Reason: "Param-Not-Controllable"}
	}
	return fromReport(reports[0], genericReasons)
}

type reasonSet struct {
	vulnerable  string
	fixed       string
	unconfirmed string
	uncontrolled string
}

var fpcReasons = reasonSet{
	vulnerable:   "Function-param-controllable",
	fixed:        "Function-param-controllable but fixed",
	unconfirmed:  "Unconfirmed Function-param-controllable",
	uncontrolled: "Function-param-uncon",
}

var genericReasons = reasonSet{
	vulnerable:   "Vustomize-Match",
	fixed:        "Vustomize-Match but fixed",
	unconfirmed:  "Unconfirmed Vustomize-Match",
	uncontrolled: "Param-Not-Controllable",
}

// fromReport maps an AST Provider report's code (§4.3) to a Taint Core
// verdict using the reason strings conventional to the calling match mode.
func fromReport(rep astprovider.Report, reasons reasonSet) Verdict {
	switch rep.Code {
	case astprovider.CodeVulnerable:
		return Verdict{Kind: Vulnerable, Reason: reasons.vulnerable, Chain: rep.Chain}
	case astprovider.CodeFixed:
		return Verdict{Kind: Fixed, Reason: reasons.fixed, Chain: rep.Chain}
	case astprovider.CodeUnconfirmed:
		return Verdict{Kind: Unconfirmed, Reason: reasons.unconfirmed, Chain: rep.Chain}
	case astprovider.CodeSafe:
		return Verdict{Kind: Uncontrolled, Reason: reasons.uncontrolled, Chain: rep.Chain}
	case astprovider.CodeNewRule:
		return Verdict{Kind: NewRule, Reason: "New Core", NewSink: rep.NewSink, ParamIndex: rep.ParamIndex, Chain: rep.Chain}
	default:
		return Verdict{Kind: ErrorKind, Reason: fmt.Sprintf("unknown AST provider code %d", rep.Code)}
	}
}

// evaluateRegexLanguage implements the Solidity-like/JavaScript-like
// dispatch (§4.4): only REGEX_ONLY and REGEX_RETURN_REGEX are honored.
func evaluateRegexLanguage(cand matcher.Candidate, r rule.Rule) Verdict {
	switch r.MatchMode {
	case rule.RegexOnly:
		return Verdict{
			Kind:   Vulnerable,
			Reason: "Regex-only-match",
			Chain:  []astprovider.ChainStep{{Kind: astprovider.StepSinkCall, Code: cand.CodeSnippet, File: cand.FilePath, Line: cand.LineNumber}},
		}
	case rule.RegexReturnRegex:
		return Verdict{
			Kind:   Vulnerable,
			Reason: "Regex-return-regex",
			Chain:  []astprovider.ChainStep{{Kind: astprovider.StepSinkCall, Code: cand.CodeSnippet, File: cand.FilePath, Line: cand.LineNumber}},
		}
	default:
		return Verdict{Kind: Unsupported, Reason: "Unsupport Match"}
	}
}

// evaluateBrowserExtension additionally honors EXT_KEYWORD_MATCH (§4.4).
func evaluateBrowserExtension(cand matcher.Candidate, r rule.Rule) Verdict {
	if r.MatchMode == rule.ExtKeywordMatch {
		return Verdict{
			Kind:   Vulnerable,
			Reason: "Special-crx-keyword-match",
			Chain:  []astprovider.ChainStep{{Kind: astprovider.StepSinkCall, Code: cand.CodeSnippet, File: cand.FilePath, Line: cand.LineNumber}},
		}
	}
	return evaluateRegexLanguage(cand, r)
}
