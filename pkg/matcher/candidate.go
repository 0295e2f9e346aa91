// Package matcher implements the Matcher (§4.2): running a rule's
// pattern(s) over the corpus under one of five match modes to produce an
// ordered list of Candidates.
package matcher

// Candidate is a matched location awaiting verification by the Taint Core
// (§3 Data Model).
type Candidate struct {
	FilePath    string // absolute path, as enumerated by the Corpus
	LineNumber  int    // 1-indexed
	CodeSnippet string // full line content; truncation happens at emission only
}
