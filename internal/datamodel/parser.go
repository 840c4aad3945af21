// Package datamodel parses the declarative data-model language into a
// schema.Schema and renders a schema back into data-model text.
package datamodel

import (
	"fmt"
	"strings"
)

// Diagnostic is one parse or validation error.
type Diagnostic struct {
	Pos     Position
	Message string
}

func (d Diagnostic) String() string {
	return d.Pos.String() + ": " + d.Message
}

// ParseError collects every diagnostic found in a data model.
type ParseError struct {
	Diagnostics []Diagnostic
}

func (e *ParseError) Error() string {
	return "invalid datamodel: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the diagnostics as "line:col: message" strings.
func (e *ParseError) Messages() []string {
	out := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		out[i] = d.String()
	}
	return out
}

type valueKind int

const (
	valIdent valueKind = iota
	valString
	valNumber
	valList
	valCall
)

// value is an attribute argument: a (dotted) identifier, literal, list or
// function call.
type value struct {
	kind  valueKind
	text  string
	items []value
	pos   Position
}

type argument struct {
	name string
	val  value
}

type attribute struct {
	name string
	pos  Position
	args []argument
}

type fieldDecl struct {
	name     string
	pos      Position
	typ      string
	typPos   Position
	optional bool
	attrs    []attribute
}

type modelDecl struct {
	name   string
	pos    Position
	fields []fieldDecl
	attrs  []attribute
}

type enumDecl struct {
	name   string
	pos    Position
	values []string
}

type file struct {
	models   []modelDecl
	enums    []enumDecl
	provider string
}

type parser struct {
	toks []token
	i    int
	errs []Diagnostic
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) errorf(pos Position, format string, args ...any) {
	p.errs = append(p.errs, Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) skipNewlines() {
	for p.peek().kind == tokNewline {
		p.next()
	}
}

// skipLine discards tokens up to the end of the line, stopping before a
// closing brace.
func (p *parser) skipLine() {
	for {
		t := p.peek()
		if t.kind == tokEOF || (t.kind == tokPunct && t.text == "}") {
			return
		}
		p.next()
		if t.kind == tokNewline {
			return
		}
	}
}

// skipBlock discards tokens through the matching closing brace.
func (p *parser) skipBlock() {
	depth := 0
	for {
		t := p.next()
		switch {
		case t.kind == tokEOF:
			return
		case t.kind == tokPunct && t.text == "{":
			depth++
		case t.kind == tokPunct && t.text == "}":
			depth--
			if depth <= 0 {
				return
			}
		}
	}
}

func (p *parser) expectPunct(text string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.text == text {
		p.next()
		return true
	}
	p.errorf(t.pos, "expected %q, found %s", text, t.describe())
	return false
}

func (p *parser) expectIdent(what string) (token, bool) {
	t := p.peek()
	if t.kind == tokIdent {
		p.next()
		return t, true
	}
	p.errorf(t.pos, "expected %s, found %s", what, t.describe())
	return t, false
}

// endOfLine consumes the newline that ends a declaration line.
func (p *parser) endOfLine() {
	t := p.peek()
	switch {
	case t.kind == tokNewline:
		p.next()
	case t.kind == tokEOF, t.kind == tokPunct && t.text == "}":
	default:
		p.errorf(t.pos, "unexpected %s", t.describe())
		p.skipLine()
	}
}

func (p *parser) parseFile() *file {
	f := &file{}
	for {
		p.skipNewlines()
		t := p.peek()
		if t.kind == tokEOF {
			return f
		}
		if t.kind != tokIdent {
			p.errorf(t.pos, "expected a model, enum or datasource block, found %s", t.describe())
			p.skipBlock()
			continue
		}

		switch t.text {
		case "model":
			p.next()
			if m, ok := p.parseModel(); ok {
				f.models = append(f.models, m)
			}
		case "enum":
			p.next()
			if e, ok := p.parseEnum(); ok {
				f.enums = append(f.enums, e)
			}
		case "datasource":
			p.next()
			p.parseDatasource(f)
		case "generator":
			p.skipBlock()
		default:
			p.errorf(t.pos, "unknown block type %q", t.text)
			p.skipBlock()
		}
	}
}

func (p *parser) parseModel() (modelDecl, bool) {
	name, ok := p.expectIdent("model name")
	if !ok || !p.expectPunct("{") {
		p.skipBlock()
		return modelDecl{}, false
	}
	m := modelDecl{name: name.text, pos: name.pos}

	for {
		p.skipNewlines()
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			p.errorf(m.pos, "model %s is not closed", m.name)
			return m, true
		case t.kind == tokPunct && t.text == "}":
			p.next()
			return m, true
		case t.kind == tokPunct && t.text == "@@":
			p.next()
			if a, ok := p.parseAttribute(); ok {
				m.attrs = append(m.attrs, a)
			}
			p.endOfLine()
		case t.kind == tokIdent:
			if fd, ok := p.parseField(); ok {
				m.fields = append(m.fields, fd)
			}
			p.endOfLine()
		default:
			p.errorf(t.pos, "expected a field or block attribute, found %s", t.describe())
			p.skipLine()
		}
	}
}

func (p *parser) parseField() (fieldDecl, bool) {
	name := p.next()
	typ, ok := p.expectIdent("field type")
	if !ok {
		p.skipLine()
		return fieldDecl{}, false
	}
	fd := fieldDecl{name: name.text, pos: name.pos, typ: typ.text, typPos: typ.pos}

	if p.is("[") {
		p.errorf(p.peek().pos, "list fields are not supported")
		p.skipLine()
		return fieldDecl{}, false
	}
	if p.is("?") {
		p.next()
		fd.optional = true
	}
	for p.is("@") {
		p.next()
		a, ok := p.parseAttribute()
		if !ok {
			p.skipLine()
			return fd, true
		}
		fd.attrs = append(fd.attrs, a)
	}
	return fd, true
}

// parseAttribute parses an attribute after its "@" or "@@" marker.
func (p *parser) parseAttribute() (attribute, bool) {
	name, ok := p.expectIdent("attribute name")
	if !ok {
		return attribute{}, false
	}
	a := attribute{name: name.text, pos: name.pos}
	if !p.is("(") {
		return a, true
	}
	p.next()

	for !p.is(")") {
		var arg argument
		if t := p.peek(); t.kind == tokIdent && p.toks[p.i+1].kind == tokPunct && p.toks[p.i+1].text == ":" {
			p.next()
			p.next()
			arg.name = t.text
		}
		v, ok := p.parseValue()
		if !ok {
			return a, false
		}
		arg.val = v
		a.args = append(a.args, arg)

		if p.is(",") {
			p.next()
			continue
		}
		if !p.is(")") {
			p.errorf(p.peek().pos, "expected \",\" or \")\", found %s", p.peek().describe())
			return a, false
		}
	}
	p.next()
	return a, true
}

func (p *parser) parseValue() (value, bool) {
	t := p.peek()
	switch {
	case t.kind == tokString:
		p.next()
		return value{kind: valString, text: t.text, pos: t.pos}, true
	case t.kind == tokNumber:
		p.next()
		return value{kind: valNumber, text: t.text, pos: t.pos}, true
	case t.kind == tokPunct && t.text == "[":
		p.next()
		v := value{kind: valList, pos: t.pos}
		for !p.is("]") {
			item, ok := p.parseValue()
			if !ok {
				return v, false
			}
			v.items = append(v.items, item)
			if p.is(",") {
				p.next()
			} else if !p.is("]") {
				p.errorf(p.peek().pos, "expected \",\" or \"]\", found %s", p.peek().describe())
				return v, false
			}
		}
		p.next()
		return v, true
	case t.kind == tokIdent:
		p.next()
		text := t.text
		for p.is(".") {
			p.next()
			part, ok := p.expectIdent("identifier")
			if !ok {
				return value{}, false
			}
			text += "." + part.text
		}
		if !p.is("(") {
			return value{kind: valIdent, text: text, pos: t.pos}, true
		}
		p.next()
		v := value{kind: valCall, text: text, pos: t.pos}
		for !p.is(")") {
			item, ok := p.parseValue()
			if !ok {
				return v, false
			}
			v.items = append(v.items, item)
			if p.is(",") {
				p.next()
			} else if !p.is(")") {
				p.errorf(p.peek().pos, "expected \",\" or \")\", found %s", p.peek().describe())
				return v, false
			}
		}
		p.next()
		return v, true
	}
	p.errorf(t.pos, "expected a value, found %s", t.describe())
	return value{}, false
}

func (p *parser) parseEnum() (enumDecl, bool) {
	name, ok := p.expectIdent("enum name")
	if !ok || !p.expectPunct("{") {
		p.skipBlock()
		return enumDecl{}, false
	}
	e := enumDecl{name: name.text, pos: name.pos}
	for {
		t := p.next()
		switch {
		case t.kind == tokNewline:
		case t.kind == tokIdent:
			e.values = append(e.values, t.text)
		case t.kind == tokPunct && t.text == "}":
			return e, true
		case t.kind == tokEOF:
			p.errorf(e.pos, "enum %s is not closed", e.name)
			return e, true
		default:
			p.errorf(t.pos, "expected an enum value, found %s", t.describe())
		}
	}
}

func (p *parser) parseDatasource(f *file) {
	if _, ok := p.expectIdent("datasource name"); !ok || !p.expectPunct("{") {
		p.skipBlock()
		return
	}
	for {
		p.skipNewlines()
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			p.errorf(t.pos, "datasource block is not closed")
			return
		case t.kind == tokPunct && t.text == "}":
			p.next()
			return
		case t.kind == tokIdent:
			p.next()
			if !p.expectPunct("=") {
				p.skipLine()
				continue
			}
			v, ok := p.parseValue()
			if !ok {
				p.skipLine()
				continue
			}
			if t.text == "provider" {
				if v.kind != valString {
					p.errorf(v.pos, "provider must be a string")
				}
				f.provider = v.text
			}
			p.endOfLine()
		default:
			p.errorf(t.pos, "expected a datasource property, found %s", t.describe())
			p.skipLine()
		}
	}
}
