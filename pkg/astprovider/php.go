package astprovider

import (
	"fmt"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/parser"
	"github.com/cvitracer/cvitracer/pkg/parser/languages"
	sitter "github.com/smacker/go-tree-sitter"
)

// callNodeTypes are the tree-sitter-php node types that denote a call
// expression, in the same order the teacher's pkg/ast extractors use them.
var callNodeTypes = map[string]bool{
	"function_call_expression": true,
	"method_call_expression":   true,
	"scoped_call_expression":   true,
	"echo_statement":           true,
	"print_intrinsic":          true,
}

var assignmentNodeTypes = map[string]bool{
	"assignment_expression":           true,
	"augmented_assignment_expression": true,
}

var literalNodeTypes = map[string]bool{
	"string":                  true,
	"encapsed_string":         true,
	"heredoc":                 true,
	"integer":                 true,
	"float":                   true,
	"boolean":                 true,
	"null":                    true,
	"string_value":            true,
}

// PHPProvider is the engine's sole concrete AST Provider (§1, §4.3): the
// only language that performs full intra-procedural taint analysis.
type PHPProvider struct {
	svc   *parser.Service
	cache *DiskCache // optional, set by WithDiskCache
}

// NewPHPProvider builds a provider backed by the teacher's tree-sitter
// parser service, registering every language pkg/parser/languages lists.
// That list holds PHP only, so Parse reports nothing for files of any
// other language and PHP is the only language this provider walks for
// taint (§1, §4.3).
func NewPHPProvider() *PHPProvider {
	svc := parser.NewService()
	languages.RegisterAllLanguages(svc)
	return &PHPProvider{svc: svc}
}

// WithDiskCache attaches a SQLite-backed report cache (§3 Domain Stack):
// repeat scans of an unchanged file skip AST resolution for lines already
// resolved under the same rule.
func (p *PHPProvider) WithDiskCache(c *DiskCache) *PHPProvider {
	p.cache = c
	return p
}

func (p *PHPProvider) Parse(file string) error {
	_, err := p.svc.ParseFile(file)
	return err
}

func (p *PHPProvider) parsed(file string) (*parser.ParseResult, error) {
	res, err := p.svc.ParseFile(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if res == nil {
		return nil, fmt.Errorf("parse %s: unsupported or empty file", file)
	}
	return res, nil
}

// resolveCtx carries the per-call state threaded through resolve: the
// catalog views the Taint Core already narrowed to this rule, plus a
// visited set guarding against assignment cycles ("loops are unrolled
// once", §4.4 tie-breaks).
type resolveCtx struct {
	src        []byte
	sanitizers map[string]map[string]bool
	ruleID     string
	sources    []string
	visited    map[string]bool
}

func (ctx *resolveCtx) isSource(name string) bool {
	for _, s := range ctx.sources {
		if s == name {
			return true
		}
	}
	return false
}

func (ctx *resolveCtx) isSanitizer(name string) bool {
	rules, ok := ctx.sanitizers[name]
	return ok && rules[ctx.ruleID]
}

// resolution is the outcome of resolving one expression node: whether it
// carries taint, whether a sanitizer dominates it, the chain built along
// the way, and whether resolution instead bottomed out at a function
// parameter (the new-rule feedback trigger, §4.4 last bullet).
type resolution struct {
	tainted    bool
	sanitized  bool
	unconfirmed bool
	chain      []ChainStep
	paramExit  *paramExit
}

type paramExit struct {
	funcName string
	index    int
}

func mergeResolutions(results []resolution) resolution {
	var out resolution
	allSanitizedNoTaint := len(results) > 0
	for _, r := range results {
		if r.paramExit != nil && out.paramExit == nil {
			out.paramExit = r.paramExit
		}
		if r.tainted {
			out.tainted = true
		}
		if r.unconfirmed {
			out.unconfirmed = true
		}
		if !r.sanitized || r.tainted {
			allSanitizedNoTaint = false
		}
		out.chain = append(out.chain, r.chain...)
	}
	// A sanitizer applied on one branch only does not sanitize the sink
	// (§4.4 tie-breaks): sanitized only holds when every reaching
	// definition sanitized and none introduced taint.
	out.sanitized = allSanitizedNoTaint && !out.tainted
	return out
}

func locationOf(node *sitter.Node, src []byte, file string) (int, string) {
	line := int(node.StartPoint().Row) + 1
	return line, nodeText(node, src)
}

func nodeText(node *sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return string(src[node.StartByte():node.EndByte()])
}

// resolve implements the §4.4 intra-procedural taint algorithm for a
// single expression node: literal constants terminate clean, sanitizer
// calls terminate clean, source calls terminate tainted, variable
// references recurse to every reaching assignment in the enclosing scope
// (soundness-biased: any tainted reaching definition taints the whole),
// concatenation/array composition combines its operands, and a variable
// that resolves to nothing but a function parameter spawns a new rule.
func resolve(node *sitter.Node, file string, ctx *resolveCtx) resolution {
	if node == nil {
		return resolution{}
	}
	switch {
	case literalNodeTypes[node.Type()]:
		return resolution{}

	case node.Type() == "variable_name":
		return resolveVariable(node, file, ctx)

	case callNodeTypes[node.Type()]:
		return resolveCall(node, file, ctx)

	case node.Type() == "subscript_expression":
		base := node.ChildByFieldName("object")
		if base == nil && node.NamedChildCount() > 0 {
			base = node.NamedChild(0)
		}
		if base != nil && base.Type() == "variable_name" && ctx.isSource(nodeText(base, ctx.src)) {
			line, code := locationOf(base, ctx.src, file)
			return resolution{tainted: true, chain: []ChainStep{{Kind: StepSource, Code: code, File: file, Line: line}}}
		}
		return resolve(base, file, ctx)

	default:
		return resolveChildren(node, file, ctx)
	}
}

// resolveChildren combines every named child's resolution: the generic
// fallback for concatenation, array literals, parenthesized expressions,
// and anything else the algorithm does not special-case (§4.4 "mixes
// tainted and clean -> tainted").
func resolveChildren(node *sitter.Node, file string, ctx *resolveCtx) resolution {
	n := int(node.NamedChildCount())
	if n == 0 {
		return resolution{}
	}
	results := make([]resolution, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, resolve(node.NamedChild(i), file, ctx))
	}
	return mergeResolutions(results)
}

func resolveCall(node *sitter.Node, file string, ctx *resolveCtx) resolution {
	name := callName(node, ctx.src)
	line, code := locationOf(node, ctx.src, file)

	if ctx.isSanitizer(name) {
		return resolution{sanitized: true, chain: []ChainStep{{Kind: StepSanitizer, Code: code, File: file, Line: line}}}
	}
	if ctx.isSource(name) {
		return resolution{tainted: true, chain: []ChainStep{{Kind: StepSource, Code: code, File: file, Line: line}}}
	}

	// Unknown function: taintedness depends entirely on its arguments.
	args := callArguments(node)
	if len(args) == 0 {
		return resolution{}
	}
	results := make([]resolution, 0, len(args))
	for _, a := range args {
		results = append(results, resolve(a, file, ctx))
	}
	return mergeResolutions(results)
}

func resolveVariable(node *sitter.Node, file string, ctx *resolveCtx) resolution {
	name := nodeText(node, ctx.src)

	if ctx.isSource(name) {
		line, code := locationOf(node, ctx.src, file)
		return resolution{tainted: true, chain: []ChainStep{{Kind: StepSource, Code: code, File: file, Line: line}}}
	}

	if ctx.visited[name] {
		// Revisiting the same variable within one resolution walk means
		// an assignment cycle; the loop is unrolled once (§4.4) and any
		// further recursion is reported as a heuristic positive.
		return resolution{unconfirmed: true}
	}

	scope := enclosingScope(node)
	defs := reachingAssignments(scope, name, node, ctx.src)
	if len(defs) == 0 {
		if fn, idx, ok := enclosingParam(node, name, ctx.src); ok {
			line, code := locationOf(node, ctx.src, file)
			return resolution{
				tainted:   true,
				paramExit: &paramExit{funcName: fn, index: idx},
				chain:     []ChainStep{{Kind: StepParamIn, Code: code, File: file, Line: line}},
			}
		}
		// No assignment and not a parameter: a file-scope constant or an
		// undeclared variable, treated as uncontrollable.
		return resolution{}
	}

	visited := make(map[string]bool, len(ctx.visited)+1)
	for k := range ctx.visited {
		visited[k] = true
	}
	visited[name] = true
	childCtx := &resolveCtx{src: ctx.src, sanitizers: ctx.sanitizers, ruleID: ctx.ruleID, sources: ctx.sources, visited: visited}

	results := make([]resolution, 0, len(defs))
	for _, def := range defs {
		rhs := def.ChildByFieldName("right")
		if rhs == nil && def.NamedChildCount() > 1 {
			rhs = def.NamedChild(int(def.NamedChildCount()) - 1)
		}
		r := resolve(rhs, file, childCtx)
		line, code := locationOf(def, ctx.src, file)
		r.chain = append(r.chain, ChainStep{Kind: StepAssignment, Code: code, File: file, Line: line})
		results = append(results, r)
	}
	return mergeResolutions(results)
}

func callName(node *sitter.Node, src []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "name", "qualified_name", "variable_name", "member_access_expression", "echo", "print":
			return nodeText(child, src)
		}
	}
	return ""
}

func callArguments(node *sitter.Node) []*sitter.Node {
	var argsNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c != nil && c.Type() == "arguments" {
			argsNode = c
			break
		}
	}
	if argsNode == nil {
		if node.Type() != "echo_statement" && node.Type() != "print_intrinsic" {
			return nil
		}
		argsNode = node
	}
	var out []*sitter.Node
	for i := 0; i < int(argsNode.NamedChildCount()); i++ {
		n := argsNode.NamedChild(i)
		if n == nil {
			continue
		}
		if n.Type() == "argument" && n.NamedChildCount() > 0 {
			out = append(out, n.NamedChild(0))
		} else {
			out = append(out, n)
		}
	}
	return out
}

// enclosingScope returns the nearest function/method body containing
// node, or the program root for file-scope code (§4.4: "in the same
// function body (or file scope if none)").
func enclosingScope(node *sitter.Node) *sitter.Node {
	cur := node.Parent()
	var root *sitter.Node
	for cur != nil {
		if cur.Type() == "function_definition" || cur.Type() == "method_declaration" || cur.Type() == "anonymous_function_creation_expression" {
			if body := cur.ChildByFieldName("body"); body != nil {
				return body
			}
		}
		root = cur
		cur = cur.Parent()
	}
	return root
}

// reachingAssignments returns every assignment_expression within scope
// whose left-hand side is name and which appears textually before usage
// -- every reaching definition, not just the last one, so that the
// any-branch-tainted tie-break (§4.4) falls out of the merge step rather
// than needing real control-flow dominance.
func reachingAssignments(scope *sitter.Node, name string, usage *sitter.Node, src []byte) []*sitter.Node {
	if scope == nil {
		return nil
	}
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || n.StartByte() >= usage.StartByte() {
			return
		}
		if assignmentNodeTypes[n.Type()] {
			lhs := n.ChildByFieldName("left")
			if lhs == nil && n.NamedChildCount() > 0 {
				lhs = n.NamedChild(0)
			}
			if lhs != nil && lhs.Type() == "variable_name" && nodeText(lhs, src) == name {
				out = append(out, n)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(scope)
	return out
}

// enclosingParam reports whether name is a formal parameter of the
// function/method enclosing node, returning its name and 0-based index.
func enclosingParam(node *sitter.Node, name string, src []byte) (string, int, bool) {
	cur := node.Parent()
	for cur != nil {
		if cur.Type() == "function_definition" || cur.Type() == "method_declaration" {
			fnName := ""
			if n := cur.ChildByFieldName("name"); n != nil {
				fnName = nodeText(n, src)
			}
			params := cur.ChildByFieldName("parameters")
			if params == nil {
				for i := 0; i < int(cur.ChildCount()); i++ {
					if c := cur.Child(i); c != nil && c.Type() == "formal_parameters" {
						params = c
						break
					}
				}
			}
			if params != nil {
				idx := 0
				for i := 0; i < int(params.NamedChildCount()); i++ {
					p := params.NamedChild(i)
					if p == nil {
						continue
					}
					switch p.Type() {
					case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
						var vn *sitter.Node
						for j := 0; j < int(p.ChildCount()); j++ {
							if c := p.Child(j); c != nil && c.Type() == "variable_name" {
								vn = c
								break
							}
						}
						if vn != nil && nodeText(vn, src) == name {
							return fnName, idx, true
						}
						idx++
					}
				}
			}
			return "", 0, false
		}
		cur = cur.Parent()
	}
	return "", 0, false
}

// findCallsAtLine returns every call node on 1-indexed line whose name is
// in sinks (or every call on that line when sinks is empty, used by the
// generic IsControllableParameter routine).
func findCallsAtLine(root *sitter.Node, line int, sinks []string, src []byte) []*sitter.Node {
	want := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		want[strings.TrimSpace(s)] = true
	}
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if callNodeTypes[n.Type()] && int(n.StartPoint().Row)+1 == line {
			if len(want) == 0 || want[callName(n, src)] {
				out = append(out, n)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

func (p *PHPProvider) ScanParser(sinks []string, line int, file string, sanitizers map[string]map[string]bool, ruleID string, sources []string) ([]Report, error) {
	if cached, ok := p.cache.Get(file, ruleID, line); ok {
		return cached, nil
	}
	res, err := p.parsed(file)
	if err != nil {
		return nil, err
	}
	calls := findCallsAtLine(res.Root, line, sinks, res.Source)
	if len(calls) == 0 {
		return nil, nil
	}
	var out []Report
	for _, call := range calls {
		out = append(out, p.verdictForCall(call, file, sanitizers, ruleID, sources, res.Source))
	}
	p.cache.Put(file, ruleID, line, out)
	return out, nil
}

func (p *PHPProvider) IsControllableParameter(line int, file string, sanitizers map[string]map[string]bool, ruleID string, sources []string) ([]Report, error) {
	if cached, ok := p.cache.Get(file, ruleID, line); ok {
		return cached, nil
	}
	res, err := p.parsed(file)
	if err != nil {
		return nil, err
	}
	calls := findCallsAtLine(res.Root, line, nil, res.Source)
	if len(calls) == 0 {
		return nil, nil
	}
	var out []Report
	for _, call := range calls {
		out = append(out, p.verdictForCall(call, file, sanitizers, ruleID, sources, res.Source))
	}
	p.cache.Put(file, ruleID, line, out)
	return out, nil
}

func (p *PHPProvider) verdictForCall(call *sitter.Node, file string, sanitizers map[string]map[string]bool, ruleID string, sources []string, src []byte) Report {
	args := callArguments(call)
	ctx := &resolveCtx{src: src, sanitizers: sanitizers, ruleID: ruleID, sources: sources, visited: map[string]bool{}}

	if len(args) == 0 {
		return Report{Code: CodeSafe}
	}
	results := make([]resolution, 0, len(args))
	for _, a := range args {
		results = append(results, resolve(a, file, ctx))
	}
	merged := mergeResolutions(results)

	line, code := locationOf(call, src, file)
	sinkStep := ChainStep{Kind: StepSinkCall, Code: code, File: file, Line: line}

	switch {
	case merged.paramExit != nil:
		return Report{
			Code:       CodeNewRule,
			NewSink:    merged.paramExit.funcName,
			ParamIndex: merged.paramExit.index,
			Chain:      append(merged.chain, sinkStep),
		}
	case merged.tainted:
		return Report{Code: CodeVulnerable, Chain: append(merged.chain, sinkStep)}
	case merged.sanitized:
		return Report{Code: CodeFixed, Chain: append(merged.chain, sinkStep)}
	case merged.unconfirmed:
		return Report{Code: CodeUnconfirmed, Chain: append(merged.chain, sinkStep)}
	default:
		return Report{Code: CodeSafe, Chain: append(merged.chain, sinkStep)}
	}
}

// InitMatchRule converts a NEW_RULE hint (an enclosing function name) into
// a matcher-ready rule body (§6): a call-site regex, no anti-regex (PHP
// call sites need no exclusion by default), the sink name itself, and -1
// for the parameter index: the hint is only a function name, so the index
// is carried on the Report that spawned the rule, not returned here.
func (p *PHPProvider) InitMatchRule(hint string) (string, string, string, int) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", "", "", -1
	}
	return fmt.Sprintf(`(?:^|[^a-zA-Z0-9_])(%s)\s*\(`, hint), "", hint, -1
}
