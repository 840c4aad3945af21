package datamodel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

var actionNames = map[schema.ReferentialAction]string{
	schema.Cascade:    "Cascade",
	schema.Restrict:   "Restrict",
	schema.SetNull:    "SetNull",
	schema.SetDefault: "SetDefault",
}

// Render writes s as data-model text. Parsing the output yields a schema
// equal to s.
func Render(s *schema.Schema) string {
	s = s.Without(schema.MigrationTable)
	s.Sort()
	enums := enumNames(s)

	var b strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		renderModel(&b, t, enums)
	}

	names := make([]string, 0, len(enums.values))
	for name := range enums.values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "enum %s {\n", name)
		for _, v := range enums.values[name] {
			fmt.Fprintf(&b, "  %s\n", v)
		}
		b.WriteString("}\n")
	}
	return b.String()
}

type enumIndex struct {
	// byColumn maps "table.column" to the enum name used for it.
	byColumn map[string]string
	values   map[string][]string
}

// enumNames assigns a declared enum to every enum column. Columns sharing
// an enum name but not its values get a name of their own.
func enumNames(s *schema.Schema) enumIndex {
	idx := enumIndex{byColumn: map[string]string{}, values: map[string][]string{}}
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.Type != schema.TypeEnum {
				continue
			}
			name := c.EnumName
			if name == "" {
				name = t.Name + "_" + c.Name
			}
			if have, ok := idx.values[name]; ok && strings.Join(have, ",") != strings.Join(c.EnumValues, ",") {
				name = t.Name + "_" + c.Name
			}
			idx.values[name] = c.EnumValues
			idx.byColumn[t.Name+"."+c.Name] = name
		}
	}
	return idx
}

func renderModel(b *strings.Builder, t schema.Table, enums enumIndex) {
	// A single-column foreign key is written on its field unless the field
	// carries more than one.
	inline := map[string]schema.ForeignKey{}
	perColumn := map[string]int{}
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 1 {
			perColumn[fk.Columns[0]]++
		}
	}
	var blockFKs []schema.ForeignKey
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 1 && perColumn[fk.Columns[0]] == 1 {
			inline[fk.Columns[0]] = fk
			continue
		}
		blockFKs = append(blockFKs, fk)
	}

	rows := make([][3]string, len(t.Columns))
	nameWidth, typeWidth := 0, 0
	for i, c := range t.Columns {
		typ := string(c.Type)
		if c.Type == schema.TypeEnum {
			typ = enums.byColumn[t.Name+"."+c.Name]
		}
		if c.Nullable {
			typ += "?"
		}

		var attrs []string
		if len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name {
			attrs = append(attrs, "@id")
		}
		if d := renderDefault(c); d != "" {
			attrs = append(attrs, "@default("+d+")")
		}
		if c.Unique {
			attrs = append(attrs, "@unique")
		}
		if fk, ok := inline[c.Name]; ok {
			args := []string{fk.ReferencedTable + "." + fk.ReferencedColumns[0]}
			args = append(args, relationOptions(t.Name, fk)...)
			attrs = append(attrs, "@relation("+strings.Join(args, ", ")+")")
		}
		if c.RenamedFrom != "" {
			attrs = append(attrs, "@renamedFrom("+quote(c.RenamedFrom)+")")
		}

		rows[i] = [3]string{c.Name, typ, strings.Join(attrs, " ")}
		nameWidth = max(nameWidth, len(c.Name))
		typeWidth = max(typeWidth, len(typ))
	}

	fmt.Fprintf(b, "model %s {\n", t.Name)
	for _, r := range rows {
		line := fmt.Sprintf("  %-*s %-*s %s", nameWidth, r[0], typeWidth, r[1], r[2])
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteString("\n")
	}

	var block []string
	if len(t.PrimaryKey) > 1 {
		block = append(block, "@@id(["+strings.Join(t.PrimaryKey, ", ")+"])")
	}
	indexes := append([]schema.Index(nil), t.Indexes...)
	sort.SliceStable(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	for _, idx := range indexes {
		kind, conventional := "index", schema.IndexName(t.Name, idx.Columns)
		if idx.Unique {
			kind, conventional = "unique", schema.UniqueName(t.Name, idx.Columns)
		}
		attr := fmt.Sprintf("@@%s([%s]", kind, strings.Join(idx.Columns, ", "))
		if idx.Name != conventional {
			attr += ", name: " + quote(idx.Name)
		}
		block = append(block, attr+")")
	}
	for _, fk := range blockFKs {
		args := []string{
			"[" + strings.Join(fk.Columns, ", ") + "]",
			fk.ReferencedTable + "(" + strings.Join(fk.ReferencedColumns, ", ") + ")",
		}
		args = append(args, relationOptions(t.Name, fk)...)
		block = append(block, "@@relation("+strings.Join(args, ", ")+")")
	}
	if t.RenamedFrom != "" {
		block = append(block, "@@renamedFrom("+quote(t.RenamedFrom)+")")
	}
	if len(block) > 0 {
		b.WriteString("\n")
		for _, attr := range block {
			b.WriteString("  " + attr + "\n")
		}
	}
	b.WriteString("}\n")
}

func relationOptions(table string, fk schema.ForeignKey) []string {
	var out []string
	if name, ok := actionNames[fk.OnDelete]; ok {
		out = append(out, "onDelete: "+name)
	}
	if name, ok := actionNames[fk.OnUpdate]; ok {
		out = append(out, "onUpdate: "+name)
	}
	if fk.Name != schema.ForeignKeyName(table, fk.Columns) {
		out = append(out, "name: "+quote(fk.Name))
	}
	return out
}

func renderDefault(c schema.Column) string {
	if c.AutoIncrement {
		return "autoincrement()"
	}
	if c.Default == nil {
		return ""
	}
	d := *c.Default

	if strings.EqualFold(d, "CURRENT_TIMESTAMP") && c.Type == schema.TypeDateTime {
		return "now()"
	}
	if lit, ok := unquoteSQL(d); ok {
		switch c.Type {
		case schema.TypeEnum:
			for _, v := range c.EnumValues {
				if v == lit {
					return v
				}
			}
		case schema.TypeString, schema.TypeJSON, schema.TypeDateTime:
			return quote(lit)
		}
	}
	switch c.Type {
	case schema.TypeBoolean:
		if d == "true" || d == "false" {
			return d
		}
	case schema.TypeInt, schema.TypeBigInt:
		if _, err := strconv.ParseInt(d, 10, 64); err == nil {
			return d
		}
	case schema.TypeFloat, schema.TypeDecimal:
		if _, err := strconv.ParseFloat(d, 64); err == nil && !strings.ContainsAny(d, "eE+") {
			return d
		}
	}
	return "dbgenerated(" + quote(d) + ")"
}

// unquoteSQL returns the contents of a single-quoted SQL string literal.
func unquoteSQL(d string) (string, bool) {
	if len(d) < 2 || d[0] != '\'' || d[len(d)-1] != '\'' {
		return "", false
	}
	inner := d[1 : len(d)-1]
	if strings.Contains(strings.ReplaceAll(inner, "''", ""), "'") {
		return "", false
	}
	return strings.ReplaceAll(inner, "''", "'"), true
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
