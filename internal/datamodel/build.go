package datamodel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// Datamodel is a parsed data model.
type Datamodel struct {
	// Provider is the datasource provider identifier, or "" when the data
	// model has no datasource block.
	Provider string
	Schema   *schema.Schema
}

// Parse parses data-model text into a validated Schema. Every problem found
// is reported in one *ParseError.
func Parse(text string) (*schema.Schema, error) {
	dm, err := ParseDatamodel(text)
	if err != nil {
		return nil, err
	}
	return dm.Schema, nil
}

// ParseDatamodel is Parse, also returning the datasource provider.
func ParseDatamodel(text string) (*Datamodel, error) {
	toks, lexErrs := lex(text)
	p := &parser{toks: toks, errs: lexErrs}
	f := p.parseFile()

	b := &builder{errs: p.errs}
	s := b.build(f)
	if len(b.errs) > 0 {
		sort.SliceStable(b.errs, func(i, j int) bool {
			pi, pj := b.errs[i].Pos, b.errs[j].Pos
			if pi.Line != pj.Line {
				return pi.Line < pj.Line
			}
			return pi.Col < pj.Col
		})
		return nil, &ParseError{Diagnostics: b.errs}
	}
	return &Datamodel{Provider: f.provider, Schema: s}, nil
}

type pendingRelation struct {
	fk  schema.ForeignKey
	pos Position
}

type builder struct {
	errs  []Diagnostic
	enums map[string][]string
	// pending holds the relations of the model being built. relations are
	// checked once every model is known.
	pending   []pendingRelation
	relations []pendingRelation
}

func (b *builder) errorf(pos Position, format string, args ...any) {
	b.errs = append(b.errs, Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

var logicalTypes = map[string]schema.ColumnType{}

func init() {
	for _, t := range schema.ColumnTypes {
		if t != schema.TypeEnum {
			logicalTypes[string(t)] = t
		}
	}
}

var actions = map[string]schema.ReferentialAction{
	"Cascade":    schema.Cascade,
	"Restrict":   schema.Restrict,
	"NoAction":   schema.NoAction,
	"SetNull":    schema.SetNull,
	"SetDefault": schema.SetDefault,
}

func (b *builder) build(f *file) *schema.Schema {
	b.enums = map[string][]string{}
	for _, e := range f.enums {
		if _, dup := b.enums[e.name]; dup {
			b.errorf(e.pos, "enum %s is declared more than once", e.name)
			continue
		}
		if _, clash := logicalTypes[e.name]; clash {
			b.errorf(e.pos, "enum %s shadows a built-in type", e.name)
			continue
		}
		if len(e.values) == 0 {
			b.errorf(e.pos, "enum %s has no values", e.name)
		}
		seen := map[string]bool{}
		for _, v := range e.values {
			if seen[v] {
				b.errorf(e.pos, "enum %s declares %s more than once", e.name, v)
			}
			seen[v] = true
		}
		b.enums[e.name] = e.values
	}

	s := &schema.Schema{}
	seen := map[string]bool{}
	for _, m := range f.models {
		if seen[m.name] {
			b.errorf(m.pos, "model %s is declared more than once", m.name)
			continue
		}
		seen[m.name] = true
		if m.name == schema.MigrationTable {
			b.errorf(m.pos, "model name %s is reserved", m.name)
			continue
		}
		s.Tables = append(s.Tables, b.buildModel(m))
	}

	for _, r := range b.relations {
		b.checkRelation(s, r)
	}

	s.Sort()
	return s
}

func (b *builder) buildModel(m modelDecl) schema.Table {
	t := schema.Table{Name: m.name}
	b.pending = nil
	if len(m.fields) == 0 {
		b.errorf(m.pos, "model %s has no fields", m.name)
	}

	fieldPos := map[string]Position{}
	for _, fd := range m.fields {
		if _, dup := fieldPos[fd.name]; dup {
			b.errorf(fd.pos, "field %s is declared more than once in model %s", fd.name, m.name)
			continue
		}
		fieldPos[fd.name] = fd.pos
		t.Columns = append(t.Columns, b.buildColumn(fd))
	}

	for _, a := range m.attrs {
		switch a.name {
		case "id":
			cols, ok := b.fieldList(&t, a, 0)
			if !ok {
				continue
			}
			if len(t.PrimaryKey) > 0 {
				b.errorf(a.pos, "model %s declares its primary key more than once", m.name)
				continue
			}
			t.PrimaryKey = cols

		case "unique", "index":
			cols, ok := b.fieldList(&t, a, 0)
			if !ok {
				continue
			}
			unique := a.name == "unique"
			name, _ := b.stringArg(a, "name")
			if unique && len(cols) == 1 {
				t.Column(cols[0]).Unique = true
				continue
			}
			if name == "" {
				name = schema.IndexName(t.Name, cols)
				if unique {
					name = schema.UniqueName(t.Name, cols)
				}
			}
			if t.Index(name) != nil {
				b.errorf(a.pos, "index %s is declared more than once", name)
				continue
			}
			t.Indexes = append(t.Indexes, schema.Index{Name: name, Columns: cols, Unique: unique})

		case "renamedFrom":
			if name, ok := b.positionalString(a); ok {
				t.RenamedFrom = name
			}

		case "relation":
			cols, ok := b.fieldList(&t, a, 0)
			if !ok {
				continue
			}
			if len(a.args) < 2 || a.args[1].name != "" || a.args[1].val.kind != valCall {
				b.errorf(a.pos, "@@relation needs a target like Model(field, ...)")
				continue
			}
			target := a.args[1].val
			fk := schema.ForeignKey{Columns: cols, ReferencedTable: target.text}
			for _, item := range target.items {
				if item.kind != valIdent {
					b.errorf(item.pos, "expected a field name")
					continue
				}
				fk.ReferencedColumns = append(fk.ReferencedColumns, item.text)
			}
			if b.relationOptions(a, &fk, 2) {
				b.pending = append(b.pending, pendingRelation{fk: fk, pos: a.pos})
			}

		default:
			b.errorf(a.pos, "unknown block attribute @@%s", a.name)
		}
	}

	for _, fd := range m.fields {
		for _, a := range fd.attrs {
			if a.name == "id" {
				if len(t.PrimaryKey) > 0 {
					b.errorf(a.pos, "model %s declares its primary key more than once", m.name)
					continue
				}
				t.PrimaryKey = []string{fd.name}
			}
		}
	}

	for _, r := range b.pending {
		if r.fk.Name == "" {
			r.fk.Name = schema.ForeignKeyName(t.Name, r.fk.Columns)
		}
		if t.ForeignKey(r.fk.Name) != nil {
			b.errorf(r.pos, "relation %s is declared more than once", r.fk.Name)
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, r.fk)
		b.relations = append(b.relations, r)
	}
	return t
}

func (b *builder) buildColumn(fd fieldDecl) schema.Column {
	c := schema.Column{Name: fd.name, Nullable: fd.optional}
	if typ, ok := logicalTypes[fd.typ]; ok {
		c.Type = typ
	} else if values, ok := b.enums[fd.typ]; ok {
		c.Type = schema.TypeEnum
		c.EnumName = fd.typ
		c.EnumValues = append([]string(nil), values...)
	} else {
		b.errorf(fd.typPos, "unknown type %s", fd.typ)
		c.Type = schema.TypeString
	}

	for _, a := range fd.attrs {
		switch a.name {
		case "id":
			// Handled by buildModel.
		case "unique":
			c.Unique = true
		case "default":
			b.applyDefault(&c, a)
		case "renamedFrom":
			if name, ok := b.positionalString(a); ok {
				c.RenamedFrom = name
			}
		case "relation":
			if len(a.args) == 0 || a.args[0].name != "" || a.args[0].val.kind != valIdent || strings.Count(a.args[0].val.text, ".") != 1 {
				b.errorf(a.pos, "@relation needs a target like Model.field")
				continue
			}
			target := strings.SplitN(a.args[0].val.text, ".", 2)
			fk := schema.ForeignKey{
				Columns:           []string{fd.name},
				ReferencedTable:   target[0],
				ReferencedColumns: []string{target[1]},
			}
			if b.relationOptions(a, &fk, 1) {
				b.pending = append(b.pending, pendingRelation{fk: fk, pos: a.pos})
			}
		default:
			b.errorf(a.pos, "unknown attribute @%s", a.name)
		}
	}
	return c
}

// relationOptions reads onDelete, onUpdate and name from the named
// arguments of a relation attribute, starting at args[from].
func (b *builder) relationOptions(a attribute, fk *schema.ForeignKey, from int) bool {
	ok := true
	for _, arg := range a.args[from:] {
		switch arg.name {
		case "onDelete", "onUpdate":
			action, known := actions[arg.val.text]
			if arg.val.kind != valIdent || !known {
				b.errorf(arg.val.pos, "unknown referential action %s", arg.val.text)
				ok = false
				continue
			}
			if arg.name == "onDelete" {
				fk.OnDelete = action
			} else {
				fk.OnUpdate = action
			}
		case "name":
			if arg.val.kind != valString {
				b.errorf(arg.val.pos, "name must be a string")
				ok = false
				continue
			}
			fk.Name = arg.val.text
		default:
			b.errorf(arg.val.pos, "unexpected argument to @%s", a.name)
			ok = false
		}
	}
	return ok
}

func (b *builder) checkRelation(s *schema.Schema, r pendingRelation) {
	fk := r.fk
	target := s.Table(fk.ReferencedTable)
	if target == nil {
		b.errorf(r.pos, "relation %s references unknown model %s", fk.Name, fk.ReferencedTable)
		return
	}
	if len(fk.ReferencedColumns) != len(fk.Columns) {
		b.errorf(r.pos, "relation %s has %d fields but references %d", fk.Name, len(fk.Columns), len(fk.ReferencedColumns))
	}
	for _, c := range fk.ReferencedColumns {
		if target.Column(c) == nil {
			b.errorf(r.pos, "relation %s references unknown field %s.%s", fk.Name, target.Name, c)
		}
	}
}

func (b *builder) applyDefault(c *schema.Column, a attribute) {
	if len(a.args) != 1 || a.args[0].name != "" {
		b.errorf(a.pos, "@default takes exactly one value")
		return
	}
	v := a.args[0].val
	set := func(d string) { c.Default = &d }

	switch v.kind {
	case valCall:
		switch v.text {
		case "autoincrement":
			if c.Type != schema.TypeInt && c.Type != schema.TypeBigInt {
				b.errorf(v.pos, "autoincrement() requires an Int or BigInt field")
				return
			}
			c.AutoIncrement = true
		case "now":
			if c.Type != schema.TypeDateTime {
				b.errorf(v.pos, "now() requires a DateTime field")
				return
			}
			set("CURRENT_TIMESTAMP")
		case "dbgenerated":
			if len(v.items) != 1 || v.items[0].kind != valString {
				b.errorf(v.pos, "dbgenerated() takes one string")
				return
			}
			set(v.items[0].text)
		default:
			b.errorf(v.pos, "unknown function %s()", v.text)
		}

	case valString:
		switch c.Type {
		case schema.TypeString, schema.TypeJSON, schema.TypeDateTime:
			set("'" + strings.ReplaceAll(v.text, "'", "''") + "'")
		default:
			b.errorf(v.pos, "a string default is not valid for a %s field", c.Type)
		}

	case valNumber:
		switch c.Type {
		case schema.TypeInt, schema.TypeBigInt, schema.TypeFloat, schema.TypeDecimal:
			if strings.Contains(v.text, ".") && (c.Type == schema.TypeInt || c.Type == schema.TypeBigInt) {
				b.errorf(v.pos, "%s is not an integer", v.text)
				return
			}
			set(v.text)
		default:
			b.errorf(v.pos, "a numeric default is not valid for a %s field", c.Type)
		}

	case valIdent:
		switch {
		case c.Type == schema.TypeBoolean && (v.text == "true" || v.text == "false"):
			set(v.text)
		case c.Type == schema.TypeEnum:
			for _, ev := range c.EnumValues {
				if ev == v.text {
					set("'" + v.text + "'")
					return
				}
			}
			b.errorf(v.pos, "%s is not a value of enum %s", v.text, c.EnumName)
		default:
			b.errorf(v.pos, "%s is not a valid default for a %s field", v.text, c.Type)
		}

	default:
		b.errorf(v.pos, "a list is not a valid default")
	}
}

// fieldList reads the field list at args[i] and checks every field exists.
func (b *builder) fieldList(t *schema.Table, a attribute, i int) ([]string, bool) {
	if len(a.args) <= i || a.args[i].name != "" || a.args[i].val.kind != valList || len(a.args[i].val.items) == 0 {
		b.errorf(a.pos, "@@%s needs a list of fields", a.name)
		return nil, false
	}
	ok := true
	var cols []string
	for _, item := range a.args[i].val.items {
		if item.kind != valIdent {
			b.errorf(item.pos, "expected a field name")
			ok = false
			continue
		}
		if t.Column(item.text) == nil {
			b.errorf(item.pos, "unknown field %s in model %s", item.text, t.Name)
			ok = false
			continue
		}
		cols = append(cols, item.text)
	}
	return cols, ok
}

func (b *builder) stringArg(a attribute, name string) (string, bool) {
	for _, arg := range a.args {
		if arg.name == name {
			if arg.val.kind != valString {
				b.errorf(arg.val.pos, "%s must be a string", name)
				return "", false
			}
			return arg.val.text, true
		}
	}
	return "", false
}

func (b *builder) positionalString(a attribute) (string, bool) {
	if len(a.args) != 1 || a.args[0].name != "" || a.args[0].val.kind != valString {
		b.errorf(a.pos, "@%s takes one string", a.name)
		return "", false
	}
	return a.args[0].val.text, true
}
