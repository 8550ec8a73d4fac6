package uri

import (
	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenLiteral
	tokenOpenParen
	tokenCloseParen
	tokenComma
	tokenSlash
	tokenStar
	tokenMinus
)

type token struct {
	kind    tokenKind
	text    string
	literal Literal
	pos     int
}

// lexer splits expression text into tokens. It keeps one token of lookahead.
type lexer struct {
	input  string
	pos    int
	peeked *token
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) peek() (token, error) {
	if l.peeked == nil {
		t, err := l.scan()
		if err != nil {
			return token{}, err
		}
		l.peeked = &t
	}
	return *l.peeked, nil
}

func (l *lexer) next() (token, error) {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t, nil
	}
	return l.scan()
}

func (l *lexer) scan() (token, error) {
	for l.pos < len(l.input) && l.input[l.pos] == ' ' {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: start}, nil
	}

	switch c := l.input[l.pos]; {
	case c == '(':
		l.pos++
		return token{kind: tokenOpenParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokenCloseParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case c == '/':
		l.pos++
		return token{kind: tokenSlash, text: "/", pos: start}, nil
	case c == '*':
		l.pos++
		return token{kind: tokenStar, text: "*", pos: start}, nil
	case c == '\'':
		if err := l.skipQuoted(start); err != nil {
			return token{}, err
		}
		return l.literal(start)
	case isDigit(c) || (c == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		l.pos++
		for l.pos < len(l.input) && isNumberChar(l.input[l.pos], l.input[l.pos-1]) {
			l.pos++
		}
		return l.literal(start)
	case c == '-':
		l.pos++
		return token{kind: tokenMinus, text: "-", pos: start}, nil
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}
		text := l.input[start:l.pos]
		// Typed literals such as datetime'...' or guid'...'.
		if l.pos < len(l.input) && l.input[l.pos] == '\'' {
			if err := l.skipQuoted(start); err != nil {
				return token{}, err
			}
			return l.literal(start)
		}
		switch text {
		case "true", "false", "null":
			return l.literal(start)
		}
		return token{kind: tokenIdent, text: text, pos: start}, nil
	default:
		return token{}, odataerr.Syntax(odataerr.KeyUnexpectedToken, string(c), start, l.input)
	}
}

// skipQuoted advances past a quoted section starting at l.pos.
func (l *lexer) skipQuoted(start int) error {
	l.pos++
	for l.pos < len(l.input) {
		if l.input[l.pos] == '\'' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				l.pos += 2
				continue
			}
			l.pos++
			return nil
		}
		l.pos++
	}
	return odataerr.Syntax(odataerr.KeyUnterminatedLiteral, start, l.input)
}

func (l *lexer) literal(start int) (token, error) {
	text := l.input[start:l.pos]
	lit, err := ParseLiteral(text)
	if err != nil {
		return token{}, err
	}
	return token{kind: tokenLiteral, text: text, literal: lit, pos: start}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isNumberChar(c, prev byte) bool {
	switch {
	case isDigit(c), c == '.':
		return true
	case c == 'e' || c == 'E':
		return true
	case (c == '-' || c == '+') && (prev == 'e' || prev == 'E'):
		return true
	case c == 'L' || c == 'l' || c == 'M' || c == 'm' || c == 'D' || c == 'd' || c == 'F' || c == 'f':
		return true
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}
