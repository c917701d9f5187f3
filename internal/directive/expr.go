package directive

import (
	"fmt"
	"strings"
)

// Expr is a parsed boolean condition over session variables.
//
// Grammar (lowest to highest precedence):
//
//	Expr   ::= Term ( '|' Term )*
//	Term   ::= Factor ( '&' Factor )*
//	Factor ::= '!' Factor | '(' Expr ')' | Ident [ '=' Bool ]
//
// A bare identifier means "variable is true"; `var=false` means "variable is
// false". Variables that were never set read as false.
type Expr interface {
	isExpr()
}

type orExpr struct {
	left, right Expr
}

type andExpr struct {
	left, right Expr
}

type notExpr struct {
	inner Expr
}

// varExpr tests a single variable against a boolean literal.
type varExpr struct {
	name string
	want bool
}

func (orExpr) isExpr()  {}
func (andExpr) isExpr() {}
func (notExpr) isExpr() {}
func (varExpr) isExpr() {}

// Evaluate resolves expr against state. It never mutates state; variables
// absent from state read as false.
func Evaluate(expr Expr, state map[string]bool) bool {
	switch e := expr.(type) {
	case orExpr:
		return Evaluate(e.left, state) || Evaluate(e.right, state)
	case andExpr:
		return Evaluate(e.left, state) && Evaluate(e.right, state)
	case notExpr:
		return !Evaluate(e.inner, state)
	case varExpr:
		return state[e.name] == e.want
	default:
		// Unknown node kinds cannot be produced by ParseExpr; treat as
		// vacuously true so a stale caller never blocks an edge.
		return true
	}
}

// Variables returns every variable referenced in expr, de-duplicated, in
// first-appearance order.
func Variables(expr Expr) []string {
	var out []string
	seen := map[string]struct{}{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case orExpr:
			walk(n.left)
			walk(n.right)
		case andExpr:
			walk(n.left)
			walk(n.right)
		case notExpr:
			walk(n.inner)
		case varExpr:
			if _, ok := seen[n.name]; !ok {
				seen[n.name] = struct{}{}
				out = append(out, n.name)
			}
		}
	}
	if expr != nil {
		walk(expr)
	}
	return out
}

// ParseExpr parses a condition expression. The legacy flat form that joined
// clauses with commas is upgraded on the way in: "a, b" parses as "a&b".
func ParseExpr(src string) (Expr, error) {
	src = upgradeFlatForm(src)
	p := &exprParser{src: src}
	p.skipSpaces()
	if p.eof() {
		return nil, fmt.Errorf("empty expression")
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if !p.eof() {
		return nil, fmt.Errorf("trailing input at %d: %q", p.pos, p.src[p.pos:])
	}
	return expr, nil
}

// upgradeFlatForm rewrites comma-joined AND lists from the older directive
// dialect into the canonical '&' form. Commas inside parentheses are left
// alone so they still fail the parse loudly enough to drop the tag.
func upgradeFlatForm(src string) string {
	if !strings.Contains(src, ",") {
		return src
	}
	var b strings.Builder
	depth := 0
	for _, r := range src {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				b.WriteByte('&')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *exprParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) skipSpaces() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		if p.peek() != '|' {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		if p.peek() != '&' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
}

func (p *exprParser) parseFactor() (Expr, error) {
	p.skipSpaces()
	switch p.peek() {
	case 0:
		return nil, fmt.Errorf("unexpected end of expression at %d", p.pos)
	case '!':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	case '(':
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing ')' at %d", p.pos)
		}
		p.pos++
		return inner, nil
	}
	name := p.readIdent()
	if name == "" {
		return nil, fmt.Errorf("expected identifier at %d, got %q", p.pos, string(p.peek()))
	}
	p.skipSpaces()
	if p.peek() != '=' {
		return varExpr{name: name, want: true}, nil
	}
	p.pos++
	p.skipSpaces()
	lit := p.readIdent()
	switch strings.ToLower(lit) {
	case "true":
		return varExpr{name: name, want: true}, nil
	case "false":
		return varExpr{name: name, want: false}, nil
	default:
		return nil, fmt.Errorf("expected true or false after %q=, got %q", name, lit)
	}
}

func (p *exprParser) readIdent() string {
	start := p.pos
	for !p.eof() && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdentByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-' || b == '.':
		return true
	}
	return false
}
