// Package migrate computes, applies and records schema migrations.
package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// stepOrder is the global order of step kinds. Constraints are dropped
// before the objects they depend on, created after them.
var stepOrder = []schema.StepKind{
	schema.DropForeignKey,
	schema.DropIndex,
	schema.RenameTable,
	schema.DropColumn,
	schema.DropTable,
	schema.CreateTable,
	schema.AddColumn,
	schema.AlterColumn,
	schema.CreateIndex,
	schema.CreateForeignKey,
}

// Inference is the result of diffing two schemas.
type Inference struct {
	Steps []schema.Step
	// Warnings lists differences that produce no step and destructive steps.
	Warnings []string
}

// Infer computes the ordered steps that transform current into desired.
// The output is deterministic; renames happen only through explicit
// RenamedFrom directives on the desired schema.
func Infer(current, desired *schema.Schema) Inference {
	cur := current.Without(schema.MigrationTable)
	des := desired.Without(schema.MigrationTable)

	d := &differ{
		buckets:      map[schema.StepKind][]schema.Step{},
		tableRenames: map[string]string{},
	}

	matched := map[string]bool{}
	var pairs [][2]*schema.Table
	var created []*schema.Table

	for i := range des.Tables {
		next := &des.Tables[i]
		switch {
		case cur.HasTable(next.Name):
			matched[next.Name] = true
			pairs = append(pairs, [2]*schema.Table{cur.Table(next.Name), next})
		case next.RenamedFrom != "" && cur.HasTable(next.RenamedFrom) && !des.HasTable(next.RenamedFrom) && !matched[next.RenamedFrom]:
			matched[next.RenamedFrom] = true
			d.tableRenames[next.RenamedFrom] = next.Name
			d.add(schema.Step{Kind: schema.RenameTable, Table: next.RenamedFrom, NewName: next.Name})
			pairs = append(pairs, [2]*schema.Table{cur.Table(next.RenamedFrom), next})
		default:
			created = append(created, next)
		}
	}

	for i := range cur.Tables {
		prev := &cur.Tables[i]
		if matched[prev.Name] {
			continue
		}
		for _, fk := range prev.ForeignKeys {
			d.add(schema.Step{Kind: schema.DropForeignKey, Table: prev.Name, ForeignKey: &schema.ForeignKey{Name: fk.Name}})
		}
		d.add(schema.Step{Kind: schema.DropTable, Table: prev.Name})
	}

	for _, t := range created {
		def := t.Clone()
		def.RenamedFrom = ""
		def.ForeignKeys = nil
		for i := range def.Columns {
			def.Columns[i].RenamedFrom = ""
		}
		d.add(schema.Step{Kind: schema.CreateTable, Definition: &def})
		for _, fk := range t.ForeignKeys {
			fk := fk.Clone()
			d.add(schema.Step{Kind: schema.CreateForeignKey, Table: t.Name, ForeignKey: &fk})
		}
	}

	for _, p := range pairs {
		d.diffTable(p[0], p[1])
	}

	steps := d.ordered()
	return Inference{
		Steps:    steps,
		Warnings: append(d.warnings, Warnings(steps)...),
	}
}

type differ struct {
	buckets      map[schema.StepKind][]schema.Step
	tableRenames map[string]string
	warnings     []string
}

func (d *differ) add(step schema.Step) {
	d.buckets[step.Kind] = append(d.buckets[step.Kind], step)
}

func (d *differ) ordered() []schema.Step {
	var out []schema.Step
	for _, kind := range stepOrder {
		bucket := d.buckets[kind]
		sort.SliceStable(bucket, func(i, j int) bool {
			if ti, tj := bucket[i].TableName(), bucket[j].TableName(); ti != tj {
				return ti < tj
			}
			return bucket[i].ObjectName() < bucket[j].ObjectName()
		})
		out = append(out, bucket...)
	}
	return out
}

func (d *differ) renamedTable(name string) string {
	if n, ok := d.tableRenames[name]; ok {
		return n
	}
	return name
}

func (d *differ) diffTable(prev, next *schema.Table) {
	oldName, newName := prev.Name, next.Name

	// Column matching: by name, then by explicit rename directive.
	colRenames := map[string]string{}
	matched := map[string]bool{}
	for _, nc := range next.Columns {
		switch {
		case prev.Column(nc.Name) != nil:
			matched[nc.Name] = true
		case nc.RenamedFrom != "" && prev.Column(nc.RenamedFrom) != nil && next.Column(nc.RenamedFrom) == nil && !matched[nc.RenamedFrom]:
			matched[nc.RenamedFrom] = true
			colRenames[nc.RenamedFrom] = nc.Name
		}
	}
	renameCols := func(cols []string) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			if n, ok := colRenames[c]; ok {
				c = n
			}
			out[i] = c
		}
		return out
	}

	for _, pc := range prev.Columns {
		if !matched[pc.Name] {
			d.add(schema.Step{Kind: schema.DropColumn, Table: newName, Column: &schema.Column{Name: pc.Name}})
		}
	}

	renamedFrom := make(map[string]string, len(colRenames))
	for old, n := range colRenames {
		renamedFrom[n] = old
	}

	for _, nc := range next.Columns {
		c := nc.Clone()
		c.RenamedFrom = ""

		from := nc.Name
		if prev.Column(from) == nil {
			from = renamedFrom[nc.Name]
		}
		if from == "" {
			d.add(schema.Step{Kind: schema.AddColumn, Table: newName, Column: &c})
			continue
		}

		pc := prev.Column(from).Clone()
		renamed := pc
		renamed.Name = c.Name
		if from != c.Name || !schema.ColumnsEqual(renamed, c) {
			d.add(schema.Step{Kind: schema.AlterColumn, Table: newName, Previous: &pc, Column: &c})
		}
	}

	if strings.Join(renameCols(prev.PrimaryKey), ",") != strings.Join(next.PrimaryKey, ",") {
		d.warnings = append(d.warnings, fmt.Sprintf(
			"The primary key of table %s changed from (%s) to (%s). Primary key changes are not migrated.",
			newName, strings.Join(prev.PrimaryKey, ", "), strings.Join(next.PrimaryKey, ", ")))
	}

	for _, idx := range prev.Indexes {
		want := next.Index(idx.Name)
		moved := schema.Index{Name: idx.Name, Columns: renameCols(idx.Columns), Unique: idx.Unique}
		if want == nil || !schema.IndexesEqual(moved, *want) {
			d.add(schema.Step{Kind: schema.DropIndex, Table: oldName, Index: &schema.Index{Name: idx.Name}})
		}
	}
	for _, idx := range next.Indexes {
		had := prev.Index(idx.Name)
		if had != nil {
			moved := schema.Index{Name: had.Name, Columns: renameCols(had.Columns), Unique: had.Unique}
			if schema.IndexesEqual(moved, idx) {
				continue
			}
		}
		idx := schema.Index{Name: idx.Name, Columns: append([]string(nil), idx.Columns...), Unique: idx.Unique}
		d.add(schema.Step{Kind: schema.CreateIndex, Table: newName, Index: &idx})
	}

	movedFK := func(fk schema.ForeignKey) schema.ForeignKey {
		m := fk.Clone()
		m.Columns = renameCols(fk.Columns)
		m.ReferencedTable = d.renamedTable(fk.ReferencedTable)
		if fk.ReferencedTable == oldName {
			m.ReferencedColumns = renameCols(fk.ReferencedColumns)
		}
		return m
	}
	for _, fk := range prev.ForeignKeys {
		want := next.ForeignKey(fk.Name)
		if want == nil || !schema.ForeignKeysEqual(movedFK(fk), *want) {
			d.add(schema.Step{Kind: schema.DropForeignKey, Table: oldName, ForeignKey: &schema.ForeignKey{Name: fk.Name}})
		}
	}
	for _, fk := range next.ForeignKeys {
		if had := prev.ForeignKey(fk.Name); had != nil && schema.ForeignKeysEqual(movedFK(*had), fk) {
			continue
		}
		fk := fk.Clone()
		d.add(schema.Step{Kind: schema.CreateForeignKey, Table: newName, ForeignKey: &fk})
	}
}

// Warnings describes the destructive steps in steps.
func Warnings(steps []schema.Step) []string {
	var out []string
	for _, s := range steps {
		switch s.Kind {
		case schema.DropTable:
			out = append(out, fmt.Sprintf("You are about to drop the table %s. All the data in it will be lost.", s.Table))
		case schema.DropColumn:
			if s.Column != nil {
				out = append(out, fmt.Sprintf("You are about to drop the column %s.%s. All the data in it will be lost.", s.Table, s.Column.Name))
			}
		case schema.AlterColumn:
			if s.Previous == nil || s.Column == nil {
				continue
			}
			if s.Previous.Type != s.Column.Type {
				out = append(out, fmt.Sprintf("The column %s.%s changes type from %s to %s. Existing values may not convert.",
					s.Table, s.Column.Name, s.Previous.Type, s.Column.Type))
			}
			if s.Previous.Nullable && !s.Column.Nullable {
				out = append(out, fmt.Sprintf("The column %s.%s becomes required. The migration fails if it contains NULL values.",
					s.Table, s.Column.Name))
			}
		case schema.AddColumn:
			if s.Column != nil && !s.Column.Nullable && s.Column.Default == nil && !s.Column.AutoIncrement {
				out = append(out, fmt.Sprintf("The required column %s.%s has no default. The migration fails if the table is not empty.",
					s.Table, s.Column.Name))
			}
		}
	}
	return out
}
