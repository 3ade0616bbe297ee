package filterexpr

import (
	"fmt"
	"strings"

	"github.com/jpequegn/nextrun/internal/matcher"
	"github.com/jpequegn/nextrun/internal/pkggraph"
	"github.com/jpequegn/nextrun/internal/query"
)

// CompileError describes one problem found while compiling a filter
// expression. Compile never panics; it collects every error it finds.
type CompileError struct {
	Expr    string
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("filter expression %q: %s", e.Expr, e.Message)
}

// Compile parses and resolves a list of filter-set expressions against
// the given package graph, returning a single evaluator that matches any
// instance selected by any of the input expressions (the list is a union,
// mirroring passing several `-E` selections on a single invocation).
//
// All errors found across all expressions are returned together; the
// returned Expr is nil if compilation failed.
func Compile(exprs []string, graph *pkggraph.Graph) (*Expr, []error) {
	var errs []error
	var compiled []*Expr
	for _, raw := range exprs {
		p := &parser{src: raw, graph: graph}
		e := p.parseTop()
		if len(p.errs) > 0 {
			for _, err := range p.errs {
				errs = append(errs, &CompileError{Expr: raw, Message: err})
			}
			continue
		}
		compiled = append(compiled, e)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(compiled) == 0 {
		return leaf(opAll), nil
	}
	result := compiled[0]
	for _, e := range compiled[1:] {
		result = &Expr{op: opOr, left: result, right: e}
	}
	return result, nil
}

type parser struct {
	src   string
	pos   int
	graph *pkggraph.Graph
	errs  []string
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *parser) parseTop() *Expr {
	e := p.orExpr()
	p.skipSpace()
	if p.pos < len(p.src) {
		p.fail("trailing tokens starting at %q", p.src[p.pos:])
	}
	return e
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peekByte() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) orExpr() *Expr {
	l := p.andExpr()
	for {
		p.skipSpace()
		save := p.pos
		if p.peekByte() == '|' || p.peekByte() == '+' {
			p.pos++
			r := p.andExpr()
			l = &Expr{op: opOr, left: l, right: r}
			continue
		}
		if p.consumeWordIf("or") {
			r := p.andExpr()
			l = &Expr{op: opOr, left: l, right: r}
			continue
		}
		p.pos = save
		break
	}
	return l
}

func (p *parser) andExpr() *Expr {
	l := p.diffExpr()
	for {
		p.skipSpace()
		save := p.pos
		if p.peekByte() == '&' {
			p.pos++
			r := p.diffExpr()
			l = &Expr{op: opAnd, left: l, right: r}
			continue
		}
		if p.consumeWordIf("and") {
			r := p.diffExpr()
			l = &Expr{op: opAnd, left: l, right: r}
			continue
		}
		p.pos = save
		break
	}
	return l
}

func (p *parser) diffExpr() *Expr {
	l := p.unary()
	for {
		p.skipSpace()
		if p.peekByte() == '-' {
			p.pos++
			r := p.unary()
			l = &Expr{op: opDiff, left: l, right: r}
			continue
		}
		break
	}
	return l
}

func (p *parser) unary() *Expr {
	p.skipSpace()
	save := p.pos
	if p.consumeWordIf("not") {
		x := p.unary()
		return &Expr{op: opNot, child: x}
	}
	p.pos = save
	return p.atom()
}

// consumeWordIf consumes word if the upcoming identifier equals it exactly
// (not merely a prefix), leaving the cursor unmoved otherwise.
func (p *parser) consumeWordIf(word string) bool {
	p.skipSpace()
	start := p.pos
	name := p.tryReadIdent()
	if name == word {
		return true
	}
	p.pos = start
	return false
}

func (p *parser) tryReadIdent() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '-' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *parser) atom() *Expr {
	p.skipSpace()
	if p.peekByte() == '(' {
		p.pos++
		e := p.orExpr()
		p.skipSpace()
		if p.peekByte() != ')' {
			p.fail("expected ')' at %q", p.src[p.pos:])
			return leaf(opNone)
		}
		p.pos++
		return e
	}

	name := p.tryReadIdent()
	if name == "" {
		p.fail("expected predicate name at %q", p.src[p.pos:])
		return leaf(opNone)
	}
	p.skipSpace()
	if p.peekByte() != '(' {
		p.fail("expected '(' after %q", name)
		return leaf(opNone)
	}
	p.pos++
	body := p.readMatcherBody()
	p.skipSpace()
	if p.peekByte() != ')' {
		p.fail("expected ')' to close %q(...)", name)
		return leaf(opNone)
	}
	p.pos++

	switch name {
	case "all":
		return leaf(opAll)
	case "none":
		return leaf(opNone)
	case "package":
		return p.packagePredicate(opPackage, body)
	case "deps":
		return p.packagePredicate(opDeps, body)
	case "rdeps":
		return p.packagePredicate(opRDeps, body)
	case "kind":
		return p.stringPredicate(opKind, body)
	case "binary":
		return p.stringPredicate(opBinary, body)
	case "test":
		return p.stringPredicate(opTest, body)
	case "platform":
		return p.platformPredicate(body)
	default:
		p.fail("unknown predicate %q", name)
		return leaf(opNone)
	}
}

// readMatcherBody scans raw text up to (but not including) the closing
// paren, treating an odd number of unescaped '/' seen so far as "inside a
// regex literal" so a ')' inside a regex body is not mistaken for the
// predicate's closing paren.
func (p *parser) readMatcherBody() string {
	start := p.pos
	slashes := 0
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos += 2
			continue
		}
		if c == '/' {
			slashes++
		}
		if c == ')' && slashes%2 == 0 {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *parser) stringPredicate(o op, body string) *Expr {
	m, err := matcher.Parse(body)
	if err != nil {
		p.fail("%s", err.Error())
		return leaf(opNone)
	}
	return &Expr{op: o, str: m}
}

func (p *parser) platformPredicate(body string) *Expr {
	switch body {
	case "host":
		return &Expr{op: opPlatform, platform: query.Host}
	case "target":
		return &Expr{op: opPlatform, platform: query.Target}
	default:
		p.fail("platform() expects 'host' or 'target', got %q", body)
		return leaf(opNone)
	}
}

func (p *parser) packagePredicate(o op, body string) *Expr {
	m, err := matcher.Parse(body)
	if err != nil {
		p.fail("%s", err.Error())
		return leaf(opNone)
	}
	if p.graph == nil {
		// Without a live package graph we can only resolve an exact
		// literal (this is what lets a printed, already-resolved
		// expression round-trip through Compile with no graph).
		if m.Kind() != matcher.Exact || o != opPackage {
			p.fail("%s(%s): no package graph available to resolve against", opName(o), body)
			return leaf(opNone)
		}
		return &Expr{op: opPackage, set: map[string]struct{}{m.Pattern(): {}}}
	}
	var set map[string]struct{}
	switch o {
	case opPackage:
		set = make(map[string]struct{})
		for _, n := range p.graph.Matching(m) {
			set[n] = struct{}{}
		}
	case opDeps:
		set = p.graph.TransitiveDeps(m)
	case opRDeps:
		set = p.graph.TransitiveRDeps(m)
	}
	if len(set) == 0 {
		p.fail("%s(%s): no package matches", opName(o), body)
		return leaf(opNone)
	}
	return &Expr{op: o, set: set}
}

func opName(o op) string {
	switch o {
	case opPackage:
		return "package"
	case opDeps:
		return "deps"
	case opRDeps:
		return "rdeps"
	default:
		return "?"
	}
}
