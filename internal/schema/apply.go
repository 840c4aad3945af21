package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownObject is returned when a step references a table, column,
	// index or foreign key that does not exist in the schema.
	ErrUnknownObject = errors.New("unknown schema object")
	// ErrDuplicateObject is returned when a step creates an object that
	// already exists.
	ErrDuplicateObject = errors.New("duplicate schema object")
)

// Apply returns a copy of s with steps applied in order. s is not modified.
// The error names the index of the first step that could not be applied.
func Apply(s *Schema, steps []Step) (*Schema, error) {
	out := s.Clone()
	for i, step := range steps {
		if err := ApplyStep(out, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step, err)
		}
	}
	return out, nil
}

// ApplyStep applies a single step to s in place, mirroring what the
// database does when the rendered DDL runs.
func ApplyStep(s *Schema, step Step) error {
	if err := step.Validate(); err != nil {
		return err
	}

	if step.Kind == CreateTable {
		if s.HasTable(step.Definition.Name) {
			return fmt.Errorf("%w: table %s", ErrDuplicateObject, step.Definition.Name)
		}
		t := step.Definition.Clone()
		t.RenamedFrom = ""
		for i := range t.Columns {
			t.Columns[i].RenamedFrom = ""
		}
		s.Tables = append(s.Tables, t)
		s.Sort()
		return nil
	}

	table := s.Table(step.Table)
	if table == nil {
		return fmt.Errorf("%w: table %s", ErrUnknownObject, step.Table)
	}

	switch step.Kind {
	case DropTable:
		s.removeTable(step.Table)

	case RenameTable:
		if s.HasTable(step.NewName) {
			return fmt.Errorf("%w: table %s", ErrDuplicateObject, step.NewName)
		}
		table.Name = step.NewName
		for i := range s.Tables {
			for j := range s.Tables[i].ForeignKeys {
				if s.Tables[i].ForeignKeys[j].ReferencedTable == step.Table {
					s.Tables[i].ForeignKeys[j].ReferencedTable = step.NewName
				}
			}
		}
		s.Sort()

	case AddColumn:
		if table.Column(step.Column.Name) != nil {
			return fmt.Errorf("%w: column %s.%s", ErrDuplicateObject, table.Name, step.Column.Name)
		}
		c := step.Column.Clone()
		c.RenamedFrom = ""
		table.Columns = append(table.Columns, c)

	case DropColumn:
		if table.Column(step.Column.Name) == nil {
			return fmt.Errorf("%w: column %s.%s", ErrUnknownObject, table.Name, step.Column.Name)
		}
		table.removeColumn(step.Column.Name)

	case AlterColumn:
		col := table.Column(step.Previous.Name)
		if col == nil {
			return fmt.Errorf("%w: column %s.%s", ErrUnknownObject, table.Name, step.Previous.Name)
		}
		if step.Previous.Name != step.Column.Name && table.Column(step.Column.Name) != nil {
			return fmt.Errorf("%w: column %s.%s", ErrDuplicateObject, table.Name, step.Column.Name)
		}
		*col = step.Column.Clone()
		col.RenamedFrom = ""
		if step.Previous.Name != step.Column.Name {
			s.renameColumn(table.Name, step.Previous.Name, step.Column.Name)
		}

	case CreateIndex:
		if table.Index(step.Index.Name) != nil {
			return fmt.Errorf("%w: index %s", ErrDuplicateObject, step.Index.Name)
		}
		for _, c := range step.Index.Columns {
			if table.Column(c) == nil {
				return fmt.Errorf("%w: column %s.%s in index %s", ErrUnknownObject, table.Name, c, step.Index.Name)
			}
		}
		table.Indexes = append(table.Indexes, Index{
			Name:    step.Index.Name,
			Columns: cloneStrings(step.Index.Columns),
			Unique:  step.Index.Unique,
		})

	case DropIndex:
		if table.Index(step.Index.Name) == nil {
			return fmt.Errorf("%w: index %s", ErrUnknownObject, step.Index.Name)
		}
		kept := table.Indexes[:0]
		for _, idx := range table.Indexes {
			if idx.Name != step.Index.Name {
				kept = append(kept, idx)
			}
		}
		table.Indexes = kept

	case CreateForeignKey:
		if table.ForeignKey(step.ForeignKey.Name) != nil {
			return fmt.Errorf("%w: foreign key %s", ErrDuplicateObject, step.ForeignKey.Name)
		}
		for _, c := range step.ForeignKey.Columns {
			if table.Column(c) == nil {
				return fmt.Errorf("%w: column %s.%s in foreign key %s", ErrUnknownObject, table.Name, c, step.ForeignKey.Name)
			}
		}
		target := s.Table(step.ForeignKey.ReferencedTable)
		if target == nil {
			return fmt.Errorf("%w: referenced table %s", ErrUnknownObject, step.ForeignKey.ReferencedTable)
		}
		for _, c := range step.ForeignKey.ReferencedColumns {
			if target.Column(c) == nil {
				return fmt.Errorf("%w: referenced column %s.%s", ErrUnknownObject, target.Name, c)
			}
		}
		table.ForeignKeys = append(table.ForeignKeys, step.ForeignKey.Clone())

	case DropForeignKey:
		if table.ForeignKey(step.ForeignKey.Name) == nil {
			return fmt.Errorf("%w: foreign key %s", ErrUnknownObject, step.ForeignKey.Name)
		}
		kept := table.ForeignKeys[:0]
		for _, fk := range table.ForeignKeys {
			if fk.Name != step.ForeignKey.Name {
				kept = append(kept, fk)
			}
		}
		table.ForeignKeys = kept
	}

	s.Sort()
	return nil
}

func (s *Schema) removeTable(name string) {
	kept := s.Tables[:0]
	for _, t := range s.Tables {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	s.Tables = kept
}

// removeColumn drops the column and every index or foreign key that covers
// it, matching what PostgreSQL and MySQL do implicitly.
func (t *Table) removeColumn(name string) {
	cols := t.Columns[:0]
	for _, c := range t.Columns {
		if c.Name != name {
			cols = append(cols, c)
		}
	}
	t.Columns = cols

	pk := t.PrimaryKey[:0]
	for _, c := range t.PrimaryKey {
		if c != name {
			pk = append(pk, c)
		}
	}
	t.PrimaryKey = pk

	idxs := t.Indexes[:0]
	for _, idx := range t.Indexes {
		if !contains(idx.Columns, name) {
			idxs = append(idxs, idx)
		}
	}
	t.Indexes = idxs

	fks := t.ForeignKeys[:0]
	for _, fk := range t.ForeignKeys {
		if !contains(fk.Columns, name) {
			fks = append(fks, fk)
		}
	}
	t.ForeignKeys = fks
}

func (s *Schema) renameColumn(table, from, to string) {
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.Name == table {
			replaceIn(t.PrimaryKey, from, to)
			for j := range t.Indexes {
				replaceIn(t.Indexes[j].Columns, from, to)
			}
			for j := range t.ForeignKeys {
				replaceIn(t.ForeignKeys[j].Columns, from, to)
			}
		}
		for j := range t.ForeignKeys {
			if t.ForeignKeys[j].ReferencedTable == table {
				replaceIn(t.ForeignKeys[j].ReferencedColumns, from, to)
			}
		}
	}
}

func replaceIn(list []string, from, to string) {
	for i := range list {
		if list[i] == from {
			list[i] = to
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
