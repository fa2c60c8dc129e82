// Package formula parses and evaluates the arithmetic expressions carried by
// formula-type valuation actions. The grammar is deliberately small: numeric
// literals, + - * / %, parentheses, dotted field references resolved against
// the listing, and an allowlisted set of math functions. Nothing touches the
// host runtime; unresolvable identifiers fail the evaluation, not the
// process.
package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Resolver supplies the numeric value behind a field reference. Returning
// false marks the path unresolvable, which fails the evaluation.
type Resolver func(path string) (float64, bool)

// maxDepth bounds parser recursion so hostile expressions cannot blow the
// stack.
const maxDepth = 32

// maxLength bounds accepted expression source length.
const maxLength = 2000

// Expr is a parsed, reusable expression.
type Expr struct {
	src    string
	root   node
	fields []string
}

// Parse compiles src into an evaluable expression.
func Parse(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("formula: empty expression")
	}
	if len(trimmed) > maxLength {
		return nil, fmt.Errorf("formula: expression exceeds %d chars", maxLength)
	}
	p := &parser{lex: newLexer(trimmed)}
	if err := p.next(); err != nil {
		return nil, err
	}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("formula: unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	e := &Expr{src: trimmed, root: root}
	e.fields = collectFields(root, nil)
	return e, nil
}

// MustParse panics on parse failure. Test helper.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the original source text.
func (e *Expr) String() string { return e.src }

// Fields returns every field path the expression references, in first-use
// order without duplicates.
func (e *Expr) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Eval computes the expression against the resolver. Unresolvable fields,
// division by zero, and non-finite results are errors.
func (e *Expr) Eval(resolve Resolver) (float64, error) {
	if resolve == nil {
		resolve = func(string) (float64, bool) { return 0, false }
	}
	v, err := e.root.eval(resolve)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("formula: non-finite result")
	}
	return v, nil
}

// Evaluate is the one-shot parse+eval convenience.
func Evaluate(src string, resolve Resolver) (float64, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return e.Eval(resolve)
}

// ---- AST ----

type node interface {
	eval(r Resolver) (float64, error)
}

type numberNode float64

func (n numberNode) eval(Resolver) (float64, error) { return float64(n), nil }

type fieldNode string

func (n fieldNode) eval(r Resolver) (float64, error) {
	v, ok := r(string(n))
	if !ok {
		return 0, fmt.Errorf("formula: unresolved field %q", string(n))
	}
	return v, nil
}

type unaryNode struct {
	x node
}

func (n unaryNode) eval(r Resolver) (float64, error) {
	v, err := n.x.eval(r)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op   byte
	l, r node
}

func (n binaryNode) eval(r Resolver) (float64, error) {
	lv, err := n.l.eval(r)
	if err != nil {
		return 0, err
	}
	rv, err := n.r.eval(r)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return lv + rv, nil
	case '-':
		return lv - rv, nil
	case '*':
		return lv * rv, nil
	case '/':
		if rv == 0 {
			return 0, fmt.Errorf("formula: division by zero")
		}
		return lv / rv, nil
	case '%':
		if rv == 0 {
			return 0, fmt.Errorf("formula: modulo by zero")
		}
		return math.Mod(lv, rv), nil
	default:
		return 0, fmt.Errorf("formula: unknown operator %q", string(n.op))
	}
}

type callNode struct {
	name string
	args []node
}

func (n callNode) eval(r Resolver) (float64, error) {
	fn := builtins[n.name]
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(r)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	return fn.apply(args), nil
}

// builtin is one allowlisted function. Arity is validated at parse time.
type builtin struct {
	minArgs  int
	variadic bool
	apply    func(args []float64) float64
}

var builtins = map[string]builtin{
	"min": {minArgs: 2, variadic: true, apply: func(a []float64) float64 {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Min(out, v)
		}
		return out
	}},
	"max": {minArgs: 2, variadic: true, apply: func(a []float64) float64 {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Max(out, v)
		}
		return out
	}},
	"abs":   {minArgs: 1, apply: func(a []float64) float64 { return math.Abs(a[0]) }},
	"floor": {minArgs: 1, apply: func(a []float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {minArgs: 1, apply: func(a []float64) float64 { return math.Ceil(a[0]) }},
	"round": {minArgs: 1, apply: func(a []float64) float64 { return math.Round(a[0]) }},
	"clamp": {minArgs: 3, apply: func(a []float64) float64 {
		return math.Min(math.Max(a[0], a[1]), a[2])
	}},
}

func collectFields(n node, acc []string) []string {
	switch x := n.(type) {
	case fieldNode:
		for _, f := range acc {
			if f == string(x) {
				return acc
			}
		}
		return append(acc, string(x))
	case unaryNode:
		return collectFields(x.x, acc)
	case binaryNode:
		return collectFields(x.r, collectFields(x.l, acc))
	case callNode:
		for _, a := range x.args {
			acc = collectFields(a, acc)
		}
	}
	return acc
}

// ---- lexer ----

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		l.pos++
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case isIdentStart(c):
		l.pos++
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case c == '+' || c == '-' || c == '*' || c == '/' || c == '%':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	default:
		return token{}, fmt.Errorf("formula: invalid character %q at offset %d", string(c), start)
	}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) || c == '.' }

// ---- parser ----

type parser struct {
	lex   *lexer
	tok   token
	depth int
}

func (p *parser) next() error {
	t, err := p.lex.lex()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func precedence(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*", "/", "%":
		return 2
	default:
		return 0
	}
}

// parseExpr is precedence-climbing over the binary operators.
func (p *parser) parseExpr(minPrec int) (node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, fmt.Errorf("formula: expression too deeply nested")
	}

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp {
		prec := precedence(p.tok.text)
		if prec < minPrec || prec == 0 {
			break
		}
		op := p.tok.text[0]
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{x: x}, nil
	}
	if p.tok.kind == tokOp && p.tok.text == "+" {
		if err := p.next(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("formula: bad number %q at offset %d", p.tok.text, p.tok.pos)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return numberNode(v), nil

	case tokIdent:
		name := p.tok.text
		pos := p.tok.pos
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokLParen {
			if strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
				return nil, fmt.Errorf("formula: malformed field path %q at offset %d", name, pos)
			}
			return fieldNode(name), nil
		}
		return p.parseCall(name, pos)

	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("formula: missing closing parenthesis at offset %d", p.tok.pos)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokEOF:
		return nil, fmt.Errorf("formula: unexpected end of expression")
	default:
		return nil, fmt.Errorf("formula: unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
}

func (p *parser) parseCall(name string, pos int) (node, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("formula: unknown function %q at offset %d", name, pos)
	}
	// consume '('
	if err := p.next(); err != nil {
		return nil, err
	}
	var args []node
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind == tokComma {
				if err := p.next(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("formula: missing closing parenthesis in %s() at offset %d", name, p.tok.pos)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if len(args) < fn.minArgs || (!fn.variadic && len(args) > fn.minArgs) {
		return nil, fmt.Errorf("formula: %s() takes %d argument(s), got %d", name, fn.minArgs, len(args))
	}
	return callNode{name: name, args: args}, nil
}
