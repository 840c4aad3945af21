package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// Output formats understood by the inspect command.
const (
	FormatText      = "text"
	FormatMarkdown  = "markdown"
	FormatDatamodel = "datamodel"
)

// MultiFileFormatter writes one file per table plus an overview into a
// directory.
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // FormatText or FormatMarkdown
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes the schema to multiple files
func (f *MultiFileFormatter) Format(s *schema.Schema) error {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tables := make([]schema.Table, len(s.Tables))
	copy(tables, s.Tables)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	if err := f.writeFile("_overview", func(w io.Writer) { f.writeOverview(w, tables) }); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for _, table := range tables {
		err := f.writeFile(table.Name, func(w io.Writer) { f.writeTable(w, table, s) })
		if err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", table.Name, err)
		}
	}
	return nil
}

func (f *MultiFileFormatter) writeFile(name string, write func(io.Writer)) error {
	file, err := os.Create(filepath.Join(f.OutputDir, name+f.extension()))
	if err != nil {
		return err
	}
	write(file)
	return file.Close()
}

func (f *MultiFileFormatter) writeOverview(w io.Writer, tables []schema.Table) {
	if f.OutputFormat == FormatMarkdown {
		_, _ = fmt.Fprintf(w, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(w, "Each table has a corresponding file: `<table_name>%s`\n\n", f.extension())
		_, _ = fmt.Fprintf(w, "## Tables\n\n")
	} else {
		_, _ = fmt.Fprintf(w, "SCHEMA OVERVIEW\n")
		_, _ = fmt.Fprintf(w, "Each table has a file: <table_name>%s\n\n", f.extension())
	}

	for _, table := range tables {
		line := table.Name
		if f.OutputFormat == FormatMarkdown {
			line = "- **" + table.Name + "**"
		}
		if targets := referencedTables(table); len(targets) > 0 {
			line += fmt.Sprintf(" (references: %s)", strings.Join(targets, ", "))
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func (f *MultiFileFormatter) writeTable(w io.Writer, table schema.Table, s *schema.Schema) {
	if f.OutputFormat == FormatMarkdown {
		_ = NewMarkdownFormatter(w).formatTable(table)
	} else {
		_ = NewTextFormatter(w).formatTable(table)
	}

	incoming := IncomingReferences(table.Name, s)
	if len(incoming) == 0 {
		return
	}
	if f.OutputFormat == FormatMarkdown {
		_, _ = fmt.Fprintf(w, "### Referenced by\n\n")
		for _, ref := range incoming {
			_, _ = fmt.Fprintf(w, "- %s\n", ref)
		}
		_, _ = fmt.Fprintln(w)
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "  REFERENCED BY:")
	for _, ref := range incoming {
		_, _ = fmt.Fprintf(w, "    %s\n", ref)
	}
}

// IncomingReferences describes every foreign key that points at table, as
// "Source(cols) → table(cols)", ordered by source table.
func IncomingReferences(table string, s *schema.Schema) []string {
	var out []string
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			if fk.ReferencedTable == table {
				out = append(out, fmt.Sprintf("%s(%s) → %s(%s)",
					t.Name, strings.Join(fk.Columns, ", "),
					table, strings.Join(fk.ReferencedColumns, ", ")))
			}
		}
	}
	sort.Strings(out)
	return out
}

func referencedTables(table schema.Table) []string {
	seen := map[string]bool{}
	var out []string
	for _, fk := range table.ForeignKeys {
		if !seen[fk.ReferencedTable] {
			seen[fk.ReferencedTable] = true
			out = append(out, fk.ReferencedTable)
		}
	}
	sort.Strings(out)
	return out
}

func (f *MultiFileFormatter) extension() string {
	if f.OutputFormat == FormatMarkdown {
		return ".md"
	}
	return ".txt"
}
