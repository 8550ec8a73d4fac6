package uri

import (
	"strings"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// ExpressionKind discriminates Expression nodes.
type ExpressionKind int

const (
	ExprLiteral ExpressionKind = iota
	ExprMember
	ExprUnary
	ExprBinary
	ExprCall
)

// Operator is a logical, comparison or arithmetic operator.
type Operator string

const (
	OpOr  Operator = "or"
	OpAnd Operator = "and"
	OpNot Operator = "not"
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLe  Operator = "le"
	OpGt  Operator = "gt"
	OpGe  Operator = "ge"
	OpAdd Operator = "add"
	OpSub Operator = "sub"
	OpMul Operator = "mul"
	OpDiv Operator = "div"
	OpMod Operator = "mod"
	// OpNeg is the unary arithmetic negation, written as a leading "-".
	OpNeg Operator = "-"
)

// IsComparison reports whether op compares two operands.
func (op Operator) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsLogical reports whether op combines boolean operands.
func (op Operator) IsLogical() bool {
	return op == OpAnd || op == OpOr || op == OpNot
}

// IsArithmetic reports whether op computes a number.
func (op Operator) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return true
	}
	return false
}

// Expression is a node of a parsed $filter or $orderby expression. Member
// paths are unresolved; the query context builder binds them to the schema.
type Expression struct {
	Kind     ExpressionKind
	Operator Operator
	// Left is the operand of unary expressions.
	Left     *Expression
	Right    *Expression
	Member   []string
	Literal  Literal
	Function string
	Args     []*Expression
	Pos      int
}

// String renders the expression in URI syntax.
func (e *Expression) String() string {
	switch e.Kind {
	case ExprLiteral:
		return e.Literal.Text
	case ExprMember:
		return strings.Join(e.Member, "/")
	case ExprUnary:
		if e.Operator == OpNeg {
			return "-" + e.Left.String()
		}
		return string(e.Operator) + " " + e.Left.String()
	case ExprBinary:
		return "(" + e.Left.String() + " " + string(e.Operator) + " " + e.Right.String() + ")"
	case ExprCall:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Function + "(" + strings.Join(args, ",") + ")"
	}
	return ""
}

// functionArity maps supported functions to their minimum and maximum argument counts.
var functionArity = map[string][2]int{
	"substringof": {2, 2},
	"startswith":  {2, 2},
	"endswith":    {2, 2},
	"length":      {1, 1},
	"indexof":     {2, 2},
	"replace":     {3, 3},
	"substring":   {2, 3},
	"tolower":     {1, 1},
	"toupper":     {1, 1},
	"trim":        {1, 1},
	"concat":      {2, 2},
	"year":        {1, 1},
	"month":       {1, 1},
	"day":         {1, 1},
	"hour":        {1, 1},
	"minute":      {1, 1},
	"second":      {1, 1},
	"round":       {1, 1},
	"floor":       {1, 1},
	"ceiling":     {1, 1},
}

type parser struct {
	lex   *lexer
	input string
}

func newParser(input string) *parser {
	return &parser{lex: newLexer(input), input: input}
}

// ParseExpression parses a complete boolean or value expression.
func ParseExpression(input string) (*Expression, error) {
	p := newParser(input)
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) unexpected(t token) error {
	text := t.text
	if t.kind == tokenEOF {
		text = "end of input"
	}
	return odataerr.Syntax(odataerr.KeyUnexpectedToken, text, t.pos, p.input)
}

func (p *parser) expectEOF() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	if t.kind != tokenEOF {
		return p.unexpected(t)
	}
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t, err := p.lex.next()
	if err != nil {
		return token{}, err
	}
	if t.kind != kind {
		return token{}, p.unexpected(t)
	}
	return t, nil
}

// acceptKeyword consumes the next token when it is one of the keywords.
func (p *parser) acceptKeyword(keywords ...Operator) (Operator, int, bool, error) {
	t, err := p.lex.peek()
	if err != nil {
		return "", 0, false, err
	}
	if t.kind != tokenIdent {
		return "", 0, false, nil
	}
	for _, k := range keywords {
		if t.text == string(k) {
			_, _ = p.lex.next()
			return k, t.pos, true, nil
		}
	}
	return "", 0, false, nil
}

type levelParser func() (*Expression, error)

// parseLevel parses a left-associative chain of binary operators.
func (p *parser) parseLevel(operand levelParser, ops ...Operator) (*Expression, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		op, pos, ok, err := p.acceptKeyword(ops...)
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &Expression{Kind: ExprBinary, Operator: op, Left: left, Right: right, Pos: pos}
	}
}

func (p *parser) parseOr() (*Expression, error) {
	return p.parseLevel(p.parseAnd, OpOr)
}

func (p *parser) parseAnd() (*Expression, error) {
	return p.parseLevel(p.parseEquality, OpAnd)
}

func (p *parser) parseEquality() (*Expression, error) {
	return p.parseLevel(p.parseRelational, OpEq, OpNe)
}

func (p *parser) parseRelational() (*Expression, error) {
	return p.parseLevel(p.parseAdditive, OpLt, OpLe, OpGt, OpGe)
}

func (p *parser) parseAdditive() (*Expression, error) {
	return p.parseLevel(p.parseMultiplicative, OpAdd, OpSub)
}

func (p *parser) parseMultiplicative() (*Expression, error) {
	return p.parseLevel(p.parseUnary, OpMul, OpDiv, OpMod)
}

func (p *parser) parseUnary() (*Expression, error) {
	_, pos, ok, err := p.acceptKeyword(OpNot)
	if err != nil {
		return nil, err
	}
	if ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Expression{Kind: ExprUnary, Operator: OpNot, Left: operand, Pos: pos}, nil
	}

	next, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if next.kind == tokenMinus {
		_, _ = p.lex.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Expression{Kind: ExprUnary, Operator: OpNeg, Left: operand, Pos: next.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expression, error) {
	t, err := p.lex.next()
	if err != nil {
		return nil, err
	}

	switch t.kind {
	case tokenOpenParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenCloseParen); err != nil {
			return nil, err
		}
		return e, nil
	case tokenLiteral:
		return &Expression{Kind: ExprLiteral, Literal: t.literal, Pos: t.pos}, nil
	case tokenIdent:
		next, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if next.kind == tokenOpenParen {
			return p.parseCall(t)
		}
		return p.parseMember(t)
	}
	return nil, p.unexpected(t)
}

func (p *parser) parseCall(name token) (*Expression, error) {
	arity, ok := functionArity[name.text]
	if !ok {
		return nil, odataerr.Syntax(odataerr.KeyUnknownFunction, name.text)
	}
	if _, err := p.expect(tokenOpenParen); err != nil {
		return nil, err
	}

	call := &Expression{Kind: ExprCall, Function: name.text, Pos: name.pos}
	if t, err := p.lex.peek(); err != nil {
		return nil, err
	} else if t.kind == tokenCloseParen {
		_, _ = p.lex.next()
	} else {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			t, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			if t.kind == tokenCloseParen {
				break
			}
			if t.kind != tokenComma {
				return nil, p.unexpected(t)
			}
		}
	}

	if n := len(call.Args); n < arity[0] || n > arity[1] {
		want := itoa(arity[0])
		if arity[0] != arity[1] {
			want += " or " + itoa(arity[1])
		}
		return nil, odataerr.Syntax(odataerr.KeyArgumentCount, name.text, want, n)
	}
	return call, nil
}

func (p *parser) parseMember(first token) (*Expression, error) {
	member := &Expression{Kind: ExprMember, Member: []string{first.text}, Pos: first.pos}
	for {
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokenSlash {
			return member, nil
		}
		_, _ = p.lex.next()
		seg, err := p.expect(tokenIdent)
		if err != nil {
			return nil, err
		}
		member.Member = append(member.Member, seg.text)
	}
}

// OrderByItem is one $orderby term.
type OrderByItem struct {
	Expression *Expression
	Descending bool
}

// ParseOrderBy parses a comma separated list of "expression [asc|desc]".
func ParseOrderBy(input string) ([]OrderByItem, error) {
	p := newParser(input)
	var items []OrderByItem
	for {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		item := OrderByItem{Expression: e}
		if dir, _, ok, err := p.acceptKeyword("asc", "desc"); err != nil {
			return nil, err
		} else if ok {
			item.Descending = dir == "desc"
		}
		items = append(items, item)

		t, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokenEOF {
			return items, nil
		}
		if t.kind != tokenComma {
			return nil, p.unexpected(t)
		}
	}
}

// SelectItem is one $select term. Star selects every property of the addressed type.
type SelectItem struct {
	Path []string
	Star bool
}

// ParseSelect parses a comma separated list of property paths or "*".
func ParseSelect(input string) ([]SelectItem, error) {
	p := newParser(input)
	var items []SelectItem
	for {
		t, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch t.kind {
		case tokenStar:
			items = append(items, SelectItem{Star: true})
		case tokenIdent:
			item, err := p.parseSelectPath(t)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		default:
			return nil, p.unexpected(t)
		}

		t, err = p.lex.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokenEOF {
			return items, nil
		}
		if t.kind != tokenComma {
			return nil, p.unexpected(t)
		}
	}
}

func (p *parser) parseSelectPath(first token) (SelectItem, error) {
	item := SelectItem{Path: []string{first.text}}
	for {
		t, err := p.lex.peek()
		if err != nil {
			return item, err
		}
		if t.kind != tokenSlash {
			return item, nil
		}
		_, _ = p.lex.next()
		seg, err := p.lex.next()
		if err != nil {
			return item, err
		}
		switch seg.kind {
		case tokenIdent:
			item.Path = append(item.Path, seg.text)
		case tokenStar:
			item.Star = true
			return item, nil
		default:
			return item, p.unexpected(seg)
		}
	}
}

// ParseExpand parses a comma separated list of navigation paths.
func ParseExpand(input string) ([][]string, error) {
	p := newParser(input)
	var paths [][]string
	for {
		t, err := p.expect(tokenIdent)
		if err != nil {
			return nil, err
		}
		m, err := p.parseMember(t)
		if err != nil {
			return nil, err
		}
		paths = append(paths, m.Member)

		t, err = p.lex.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokenEOF {
			return paths, nil
		}
		if t.kind != tokenComma {
			return nil, p.unexpected(t)
		}
	}
}

func itoa(n int) string {
	return toString(int64(n))
}
