// Package formatter renders a schema.Schema as human-readable summaries for
// command responses and the inspect command.
package formatter

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// TextFormatter formats schema as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Summary returns the compact text form of s, or "(empty schema)".
func Summary(s *schema.Schema) string {
	if s == nil || len(s.Tables) == 0 {
		return "(empty schema)"
	}
	var buf bytes.Buffer
	_ = NewTextFormatter(&buf).Format(s)
	return strings.TrimRight(buf.String(), "\n")
}

// Format writes the schema in compact text format
func (f *TextFormatter) Format(s *schema.Schema) error {
	for i, table := range s.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer)
		}

		if err := f.formatTable(table); err != nil {
			return err
		}
	}
	return nil
}

func (f *TextFormatter) formatTable(table schema.Table) error {
	pkStr := ""
	if len(table.PrimaryKey) > 0 {
		pkStr = fmt.Sprintf(" (PK: %s)", strings.Join(table.PrimaryKey, ", "))
	}
	_, _ = fmt.Fprintf(f.writer, "TABLE %s%s\n", table.Name, pkStr)

	for _, col := range table.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", formatColumn(col))
	}

	if len(table.ForeignKeys) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  FOREIGN KEYS:")
		for _, fk := range table.ForeignKeys {
			_, _ = fmt.Fprintf(f.writer, "    %s\n", formatForeignKey(fk))
		}
	}

	if len(table.Indexes) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  INDEXES:")
		for _, idx := range table.Indexes {
			unique := ""
			if idx.Unique {
				unique = " UNIQUE"
			}
			_, _ = fmt.Fprintf(f.writer, "    %s (%s)%s\n", idx.Name, strings.Join(idx.Columns, ", "), unique)
		}
	}

	return nil
}

func formatColumn(col schema.Column) string {
	var parts []string

	typeStr := string(col.Type)
	if len(col.EnumValues) > 0 {
		typeStr = fmt.Sprintf("%s (%s)", col.Type, strings.Join(col.EnumValues, "|"))
	}
	parts = append(parts, fmt.Sprintf("%s: %s", col.Name, typeStr))
	parts = append(parts, constraints(col)...)

	return strings.Join(parts, " ")
}

// constraints lists the column modifiers in display order.
func constraints(col schema.Column) []string {
	var out []string
	if col.AutoIncrement {
		out = append(out, "AUTOINCREMENT")
	}
	if col.Unique {
		out = append(out, "UNIQUE")
	}
	if !col.Nullable {
		out = append(out, "NOT NULL")
	}
	if col.Default != nil {
		out = append(out, "DEFAULT "+*col.Default)
	}
	return out
}

func formatForeignKey(fk schema.ForeignKey) string {
	s := fmt.Sprintf("(%s) → %s(%s)",
		strings.Join(fk.Columns, ", "),
		fk.ReferencedTable,
		strings.Join(fk.ReferencedColumns, ", "))
	if fk.OnDelete != "" && fk.OnDelete != schema.NoAction {
		s += " ON DELETE " + string(fk.OnDelete)
	}
	if fk.OnUpdate != "" && fk.OnUpdate != schema.NoAction {
		s += " ON UPDATE " + string(fk.OnUpdate)
	}
	return s
}
