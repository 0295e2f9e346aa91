package matcher

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/rule"
)

// fpcSingle/fpcMulti are the call-site templates FUNCTION_PARAM_CONTROLLABLE
// expands into, mirroring the original const.py fpc_single/fpc_multi. A
// listed name matches when followed by "(" or by whitespace, so language
// constructs such as `echo $x;` are call sites too; the match starts at the
// name itself so the hit is reported on the name's own line.
const (
	fpcSingle = `\b(%s)(?:\s*\(|\s)`
	fpcMulti  = `\b(%s)(?:\s*\(|\s)`
)

// hit is one line-addressed regex match inside a single file.
type hit struct {
	line    int
	snippet string
}

// Match runs r over corpus and returns its candidates in deterministic
// order: files in sorted path order, candidates in ascending line order
// within a file (§4.2 guarantee). A regex-compile failure or an
// unsupported mode is a MatcherError (§7): it is returned with no
// candidates, and the caller treats a non-nil error as "this rule's
// candidate list is empty" per the error taxonomy. A file that cannot be
// read is skipped without an error.
func Match(r rule.Rule, c *corpus.Corpus) ([]Candidate, error) {
	files := c.Files(r.Language)

	switch r.MatchMode {
	case rule.RegexOnly:
		return matchRegexOnly(r, c, files)
	case rule.RegexParamControllable:
		return matchSingleRegex(r, c, files, r.Match)
	case rule.FunctionParamControllable:
		return matchFunctionParam(r, c, files)
	case rule.RegexReturnRegex:
		return matchReturnRegex(r, c, files)
	case rule.ExtKeywordMatch:
		return matchKeyword(r, c, files)
	default:
		return nil, fmt.Errorf("unsupported match mode %q for rule %s", r.MatchMode, r.ID)
	}
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// grepFile returns every line-addressed match of re within content,
// ascending by line.
func grepFile(content []byte, re *regexp.Regexp) []hit {
	locs := re.FindAllIndex(content, -1)
	if locs == nil {
		return nil
	}
	lineStarts := lineStartOffsets(content)
	out := make([]hit, 0, len(locs))
	for _, loc := range locs {
		line := offsetToLine(lineStarts, loc[0])
		snippet := lineAt(content, lineStarts, line)
		out = append(out, hit{line: line, snippet: snippet})
	}
	return out
}

func lineStartOffsets(content []byte) []int {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetToLine converts a byte offset to a 1-indexed line number given the
// offsets where each line starts.
func offsetToLine(lineStarts []int, offset int) int {
	// Binary search for the last start <= offset.
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

func lineAt(content []byte, lineStarts []int, line int) string {
	if line < 1 || line > len(lineStarts) {
		return ""
	}
	start := lineStarts[line-1]
	end := len(content)
	if line < len(lineStarts) {
		end = lineStarts[line] - 1
		if end < start {
			end = start
		}
	}
	return strings.TrimRight(string(content[start:end]), "\r")
}

func dedupSortHits(hits []hit) []hit {
	sort.Slice(hits, func(i, j int) bool { return hits[i].line < hits[j].line })
	out := hits[:0:0]
	seen := map[int]bool{}
	for _, h := range hits {
		if seen[h.line] {
			continue
		}
		seen[h.line] = true
		out = append(out, h)
	}
	return out
}

// matchRegexOnly implements REGEX_ONLY: the candidate set is the
// intersection of all `match` hits minus any location matching any
// `unmatch` (§4.2). Empty match list yields no candidates.
func matchRegexOnly(r rule.Rule, c *corpus.Corpus, files []corpus.File) ([]Candidate, error) {
	if len(r.Match) == 0 {
		return nil, nil
	}
	matches, err := compileAll(r.Match)
	if err != nil {
		return nil, err
	}
	unmatches, err := compileAll(r.Unmatch)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, f := range files {
		content, err := c.Read(f.AbsPath)
		if err != nil {
			continue
		}

		var intersection map[int]hit
		for i, re := range matches {
			hits := dedupSortHits(grepFile(content, re))
			if i == 0 {
				intersection = make(map[int]hit, len(hits))
				for _, h := range hits {
					intersection[h.line] = h
				}
				continue
			}
			present := make(map[int]bool, len(hits))
			for _, h := range hits {
				present[h.line] = true
			}
			for line := range intersection {
				if !present[line] {
					delete(intersection, line)
				}
			}
		}

		for _, re := range unmatches {
			for _, h := range dedupSortHits(grepFile(content, re)) {
				delete(intersection, h.line)
			}
		}

		lines := make([]int, 0, len(intersection))
		for line := range intersection {
			lines = append(lines, line)
		}
		sort.Ints(lines)
		for _, line := range lines {
			out = append(out, Candidate{FilePath: f.AbsPath, LineNumber: line, CodeSnippet: intersection[line].snippet})
		}
	}
	return out, nil
}

// matchSingleRegex implements REGEX_PARAM_CONTROLLABLE: a single regex,
// each hit handed to the Taint Core for controllability analysis.
func matchSingleRegex(r rule.Rule, c *corpus.Corpus, files []corpus.File, patterns []string) ([]Candidate, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	res, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, f := range files {
		content, err := c.Read(f.AbsPath)
		if err != nil {
			continue
		}
		var hits []hit
		for _, re := range res {
			hits = append(hits, grepFile(content, re)...)
		}
		for _, h := range dedupSortHits(hits) {
			out = append(out, Candidate{FilePath: f.AbsPath, LineNumber: h.line, CodeSnippet: h.snippet})
		}
	}
	return out, nil
}

// matchFunctionParam implements FUNCTION_PARAM_CONTROLLABLE: match is
// `f1|f2|...`, expanded into a regex locating calls to any listed function
// (§4.2). Each call site is a candidate.
func matchFunctionParam(r rule.Rule, c *corpus.Corpus, files []corpus.File) ([]Candidate, error) {
	if len(r.Match) == 0 {
		return nil, nil
	}
	alternation := strings.Join(r.Match, "|")
	template := fpcSingle
	if strings.Contains(alternation, "|") {
		template = fpcMulti
	}
	pattern := fmt.Sprintf(template, alternation)
	return matchSingleRegex(r, c, files, []string{pattern})
}

// matchReturnRegex implements REGEX_RETURN_REGEX (§4.2): stage one's
// `match` regexes capture an identifier named by `match_name`; the
// captured text is substituted into each `match` pattern's sibling
// template (here, the same pattern re-applied per captured value is not
// meaningful on its own, so the convention is: r.Match[0] captures, and
// r.Match[1] is the template containing the literal substring "%CAPTURE%").
func matchReturnRegex(r rule.Rule, c *corpus.Corpus, files []corpus.File) ([]Candidate, error) {
	if len(r.Match) < 2 {
		return nil, fmt.Errorf("rule %s: REGEX_RETURN_REGEX requires a capture pattern and a template pattern", r.ID)
	}
	captureRe, err := regexp.Compile(r.Match[0])
	if err != nil {
		return nil, fmt.Errorf("compile capture pattern: %w", err)
	}
	groupNames := captureRe.SubexpNames()
	blackList, err := compileAll(r.BlackList)
	if err != nil {
		return nil, err
	}
	unmatches, err := compileAll(r.Unmatch)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, f := range files {
		content, err := c.Read(f.AbsPath)
		if err != nil {
			continue
		}

		captured := map[string]bool{}
		for _, m := range captureRe.FindAllSubmatch(content, -1) {
			for i, name := range groupNames {
				if name == r.MatchName && i < len(m) {
					captured[string(m[i])] = true
				}
			}
		}

		for value := range captured {
			templatePattern := strings.ReplaceAll(r.Match[1], "%CAPTURE%", regexp.QuoteMeta(value))
			templateRe, err := regexp.Compile(templatePattern)
			if err != nil {
				continue
			}
			hits := dedupSortHits(grepFile(content, templateRe))

		hitLoop:
			for _, h := range hits {
				for _, bl := range blackList {
					if bl.MatchString(h.snippet) {
						continue hitLoop
					}
				}
				for _, um := range unmatches {
					if um.MatchString(h.snippet) {
						continue hitLoop
					}
				}
				out = append(out, Candidate{FilePath: f.AbsPath, LineNumber: h.line, CodeSnippet: h.snippet})
			}
		}
	}
	return dedupAcrossFile(out), nil
}

// matchKeyword implements EXT_KEYWORD_MATCH (§4.2): first locate lines
// containing `keyword`, then apply match/unmatch only to the surrounding
// context (+/- 3 lines) of those hits.
func matchKeyword(r rule.Rule, c *corpus.Corpus, files []corpus.File) ([]Candidate, error) {
	if r.Keyword == "" {
		return nil, nil
	}
	matches, err := compileAll(r.Match)
	if err != nil {
		return nil, err
	}
	unmatches, err := compileAll(r.Unmatch)
	if err != nil {
		return nil, err
	}

	const contextLines = 3
	var out []Candidate
	for _, f := range files {
		content, err := c.Read(f.AbsPath)
		if err != nil {
			continue
		}
		if !bytes.Contains(content, []byte(r.Keyword)) {
			continue
		}
		keywordHits := dedupSortHits(grepFile(content, regexp.MustCompile(regexp.QuoteMeta(r.Keyword))))

		for _, kh := range keywordHits {
			lo := kh.line - contextLines
			if lo < 1 {
				lo = 1
			}
			hi := kh.line + contextLines
			context := contextWindow(c, f.AbsPath, lo, hi)

			matched := len(matches) == 0
			for _, re := range matches {
				if re.MatchString(context) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			excluded := false
			for _, re := range unmatches {
				if re.MatchString(context) {
					excluded = true
					break
				}
			}
			if excluded {
				continue
			}
			out = append(out, Candidate{FilePath: f.AbsPath, LineNumber: kh.line, CodeSnippet: kh.snippet})
		}
	}
	return out, nil
}

func contextWindow(c *corpus.Corpus, absPath string, lo, hi int) string {
	var sb strings.Builder
	for n := lo; n <= hi; n++ {
		sb.WriteString(c.Line(absPath, n))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func dedupAcrossFile(cands []Candidate) []Candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FilePath != cands[j].FilePath {
			return cands[i].FilePath < cands[j].FilePath
		}
		return cands[i].LineNumber < cands[j].LineNumber
	})
	out := cands[:0:0]
	seen := map[string]bool{}
	for _, c := range cands {
		key := fmt.Sprintf("%s:%d", c.FilePath, c.LineNumber)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
