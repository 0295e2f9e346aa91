// Package taint implements the Taint Core (§4.4): the pre-filter chain,
// the per-language dispatch table, and the sum-typed verdict the Scan
// Orchestrator pattern-matches on. It is the verification half of the
// engine; the Matcher only ever hands it Candidates.
package taint

import "errors"

// Sentinel errors implementing the §7 error taxonomy. Per-candidate and
// per-rule errors are contained by the caller; only ErrRuleSetEmpty
// aborts a scan.
var (
	ErrRuleSetEmpty          = errors.New("taint: no enabled rules for requested language")
	ErrParseFailure          = errors.New("taint: AST provider failed to parse file")
	ErrUnsupportedFile       = errors.New("taint: file extension not in rule language's set")
	ErrUnsupportedMatchMode  = errors.New("taint: match mode not implemented for language")
)
