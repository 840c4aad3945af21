package datamodel

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokString
	tokNumber
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "end of line"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	default:
		return "punctuation"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  Position
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF, tokNewline:
		return t.kind.String()
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// Position is a 1-based line and column in the data-model text.
type Position struct {
	Line int
	Col  int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

type lexer struct {
	src  []rune
	i    int
	pos  Position
	errs []Diagnostic
}

func lex(text string) ([]token, []Diagnostic) {
	l := &lexer{src: []rune(text), pos: Position{Line: 1, Col: 1}}
	var toks []token
	for {
		t := l.next()
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, l.errs
		}
	}
}

func (l *lexer) peek(off int) rune {
	if l.i+off >= len(l.src) {
		return 0
	}
	return l.src[l.i+off]
}

func (l *lexer) advance() rune {
	r := l.src[l.i]
	l.i++
	if r == '\n' {
		l.pos.Line++
		l.pos.Col = 1
	} else {
		l.pos.Col++
	}
	return r
}

func (l *lexer) next() token {
	for l.i < len(l.src) {
		r := l.peek(0)
		switch {
		case r == '\n':
			start := l.pos
			l.advance()
			return token{kind: tokNewline, text: "\n", pos: start}
		case r == ' ' || r == '\t' || r == '\r':
			l.advance()
		case r == '/' && l.peek(1) == '/':
			for l.i < len(l.src) && l.peek(0) != '\n' {
				l.advance()
			}
		default:
			return l.scan()
		}
	}
	return token{kind: tokEOF, pos: l.pos}
}

func (l *lexer) scan() token {
	start := l.pos
	r := l.peek(0)

	switch {
	case r == '_' || unicode.IsLetter(r):
		var b strings.Builder
		for l.i < len(l.src) && (l.peek(0) == '_' || unicode.IsLetter(l.peek(0)) || unicode.IsDigit(l.peek(0))) {
			b.WriteRune(l.advance())
		}
		return token{kind: tokIdent, text: b.String(), pos: start}

	case unicode.IsDigit(r) || (r == '-' && unicode.IsDigit(l.peek(1))):
		var b strings.Builder
		b.WriteRune(l.advance())
		for l.i < len(l.src) && (unicode.IsDigit(l.peek(0)) || l.peek(0) == '.') {
			b.WriteRune(l.advance())
		}
		return token{kind: tokNumber, text: b.String(), pos: start}

	case r == '"':
		l.advance()
		var b strings.Builder
		for {
			if l.i >= len(l.src) || l.peek(0) == '\n' {
				l.errs = append(l.errs, Diagnostic{Pos: start, Message: "unterminated string"})
				return token{kind: tokString, text: b.String(), pos: start}
			}
			c := l.advance()
			if c == '"' {
				return token{kind: tokString, text: b.String(), pos: start}
			}
			if c == '\\' && l.i < len(l.src) && l.peek(0) != '\n' {
				c = l.advance()
			}
			b.WriteRune(c)
		}

	case r == '@' && l.peek(1) == '@':
		l.advance()
		l.advance()
		return token{kind: tokPunct, text: "@@", pos: start}

	case strings.ContainsRune("{}()[],:?@.=", r):
		l.advance()
		return token{kind: tokPunct, text: string(r), pos: start}
	}

	l.advance()
	l.errs = append(l.errs, Diagnostic{Pos: start, Message: fmt.Sprintf("unexpected character %q", r)})
	return l.next()
}
