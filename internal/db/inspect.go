package db

import "github.com/tordrt/migrationengine/internal/schema"

// foldUniqueIndexes turns single-column unique indexes into Column.Unique.
// Unique indexes are recreated under the conventional name on render, so the
// physical index name is not part of the model.
func foldUniqueIndexes(t *schema.Table) {
	kept := t.Indexes[:0]
	for _, idx := range t.Indexes {
		if idx.Unique && len(idx.Columns) == 1 {
			if col := t.Column(idx.Columns[0]); col != nil && !(len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == col.Name) {
				col.Unique = true
				continue
			}
		}
		kept = append(kept, idx)
	}
	t.Indexes = kept
}

// resolveImplicitReferences fills referenced columns left empty by the
// catalog with the parent table's primary key.
func resolveImplicitReferences(s *schema.Schema) {
	for i := range s.Tables {
		for j := range s.Tables[i].ForeignKeys {
			fk := &s.Tables[i].ForeignKeys[j]
			parent := s.Table(fk.ReferencedTable)
			if parent == nil {
				continue
			}
			for k, c := range fk.ReferencedColumns {
				if c == "" && k < len(parent.PrimaryKey) {
					fk.ReferencedColumns[k] = parent.PrimaryKey[k]
				}
			}
		}
	}
}

// uniqueColumns lists the columns of table in current that carry a
// unique index named after the table.
func uniqueColumns(current *schema.Schema, table string) []string {
	if current == nil {
		return nil
	}
	t := current.Table(table)
	if t == nil {
		return nil
	}
	var out []string
	for _, c := range t.Columns {
		if c.Unique {
			out = append(out, c.Name)
		}
	}
	return out
}

// tableIndexes returns the indexes that back the unique columns of t
// followed by its explicit indexes.
func tableIndexes(t *schema.Table) []schema.Index {
	var out []schema.Index
	for _, c := range t.Columns {
		if c.Unique {
			out = append(out, schema.Index{
				Name:    schema.UniqueIndexName(t.Name, c.Name),
				Columns: []string{c.Name},
				Unique:  true,
			})
		}
	}
	return append(out, t.Indexes...)
}
