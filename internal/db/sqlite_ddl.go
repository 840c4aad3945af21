package db

import (
	"fmt"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

var sqliteTypes = map[schema.ColumnType]string{
	schema.TypeInt:      "INTEGER",
	schema.TypeBigInt:   "BIGINT",
	schema.TypeFloat:    "REAL",
	schema.TypeDecimal:  "DECIMAL(65,30)",
	schema.TypeBoolean:  "BOOLEAN",
	schema.TypeString:   "TEXT",
	schema.TypeDateTime: "DATETIME",
	schema.TypeBytes:    "BLOB",
}

// RenderStep renders one step as SQLite statements. Steps SQLite cannot
// express with ALTER TABLE are rendered as a table rebuild.
func (c *SQLiteConnector) RenderStep(current *schema.Schema, step schema.Step) ([]string, error) {
	if err := step.Validate(); err != nil {
		return nil, err
	}
	for _, col := range stepColumns(step) {
		if _, ok := sqliteTypes[col.Type]; !ok {
			return nil, unsupported(SQLite, col)
		}
	}

	switch step.Kind {
	case schema.CreateTable:
		t := step.Definition
		stmts := []string{sqliteCreateTable(t, t.Name)}
		return append(stmts, sqliteCreateIndexes(t)...), nil

	case schema.DropTable:
		return []string{"DROP TABLE " + sqliteQuote(step.Table)}, nil

	case schema.RenameTable:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", sqliteQuote(step.Table), sqliteQuote(step.NewName))}
		for _, col := range uniqueColumns(current, step.Table) {
			stmts = append(stmts,
				"DROP INDEX "+sqliteQuote(schema.UniqueIndexName(step.Table, col)),
				sqliteCreateIndex(step.NewName, schema.Index{Name: schema.UniqueIndexName(step.NewName, col), Columns: []string{col}, Unique: true}))
		}
		return stmts, nil

	case schema.AddColumn:
		if sqliteAddNeedsRebuild(*step.Column) {
			return sqliteRebuild(current, step)
		}
		stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", sqliteQuote(step.Table), sqliteColumnDef(*step.Column, false))}
		if step.Column.Unique {
			stmts = append(stmts, sqliteCreateIndex(step.Table, schema.Index{
				Name:    schema.UniqueIndexName(step.Table, step.Column.Name),
				Columns: []string{step.Column.Name},
				Unique:  true,
			}))
		}
		return stmts, nil

	case schema.AlterColumn:
		if onlyUniqueChanged(*step.Previous, *step.Column) {
			name := schema.UniqueIndexName(step.Table, step.Column.Name)
			if step.Column.Unique {
				return []string{sqliteCreateIndex(step.Table, schema.Index{Name: name, Columns: []string{step.Column.Name}, Unique: true})}, nil
			}
			return []string{"DROP INDEX " + sqliteQuote(name)}, nil
		}
		return sqliteRebuild(current, step)

	case schema.DropColumn, schema.CreateForeignKey, schema.DropForeignKey:
		return sqliteRebuild(current, step)

	case schema.CreateIndex:
		return []string{sqliteCreateIndex(step.Table, *step.Index)}, nil

	case schema.DropIndex:
		return []string{"DROP INDEX " + sqliteQuote(step.Index.Name)}, nil
	}
	return nil, fmt.Errorf("%w: %s", schema.ErrInvalidStep, step.Kind)
}

// TransactionalDDL reports false for steps rendered as a table rebuild:
// PRAGMA foreign_keys has no effect inside a transaction.
func (c *SQLiteConnector) TransactionalDDL(step schema.Step) bool {
	switch step.Kind {
	case schema.DropColumn, schema.CreateForeignKey, schema.DropForeignKey:
		return false
	case schema.AddColumn:
		return step.Column == nil || !sqliteAddNeedsRebuild(*step.Column)
	case schema.AlterColumn:
		return step.Column != nil && step.Previous != nil && onlyUniqueChanged(*step.Previous, *step.Column)
	}
	return true
}

// sqliteAddNeedsRebuild reports whether ALTER TABLE ADD COLUMN rejects the
// column: SQLite requires a constant default for NOT NULL columns.
func sqliteAddNeedsRebuild(c schema.Column) bool {
	if c.AutoIncrement {
		return true
	}
	if c.Default == nil {
		return !c.Nullable
	}
	return isExpressionDefault(*c.Default)
}

func onlyUniqueChanged(prev, next schema.Column) bool {
	if prev.Unique == next.Unique {
		return false
	}
	prev.Unique = next.Unique
	return schema.ColumnsEqual(prev, next)
}

// sqliteRebuild recreates the table with the shape it has after step,
// copying the surviving columns.
func sqliteRebuild(current *schema.Schema, step schema.Step) ([]string, error) {
	old := current.Table(step.Table)
	if old == nil {
		return nil, fmt.Errorf("%w: table %s", schema.ErrUnknownObject, step.Table)
	}
	next, err := afterStep(current, step)
	if err != nil {
		return nil, err
	}

	tmp := "_new_" + next.Name
	var dst, src []string
	for _, col := range next.Columns {
		from := col.Name
		if step.Kind == schema.AlterColumn && col.Name == step.Column.Name {
			from = step.Previous.Name
		}
		if old.Column(from) == nil {
			continue
		}
		dst = append(dst, sqliteQuote(col.Name))
		src = append(src, sqliteQuote(from))
	}

	stmts := []string{
		"PRAGMA foreign_keys=OFF",
		"DROP TABLE IF EXISTS " + sqliteQuote(tmp),
		sqliteCreateTable(next, tmp),
	}
	if len(dst) > 0 {
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			sqliteQuote(tmp), strings.Join(dst, ", "), strings.Join(src, ", "), sqliteQuote(old.Name)))
	}
	stmts = append(stmts,
		"DROP TABLE "+sqliteQuote(old.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", sqliteQuote(tmp), sqliteQuote(next.Name)),
	)
	stmts = append(stmts, sqliteCreateIndexes(next)...)
	return append(stmts, "PRAGMA foreign_keys=ON"), nil
}

func sqliteCreateTable(t *schema.Table, name string) string {
	inlinePK := len(t.PrimaryKey) == 1 && sqliteIsRowIDAlias(t.Column(t.PrimaryKey[0]))

	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, sqliteColumnDef(col, inlinePK && col.Name == t.PrimaryKey[0]))
	}
	if len(t.PrimaryKey) > 0 && !inlinePK {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", joinQuoted(t.PrimaryKey, sqliteQuote)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)%s",
			sqliteQuote(fk.Name),
			joinQuoted(fk.Columns, sqliteQuote),
			sqliteQuote(fk.ReferencedTable),
			joinQuoted(fk.ReferencedColumns, sqliteQuote),
			actionClause(fk)))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", sqliteQuote(name), strings.Join(defs, ",\n    "))
}

func sqliteIsRowIDAlias(c *schema.Column) bool {
	return c != nil && c.AutoIncrement && c.Type == schema.TypeInt
}

func sqliteColumnDef(c schema.Column, inlinePK bool) string {
	var b strings.Builder
	b.WriteString(sqliteQuote(c.Name))
	b.WriteString(" ")
	b.WriteString(sqliteTypes[c.Type])
	if !c.Nullable || inlinePK {
		b.WriteString(" NOT NULL")
	}
	if inlinePK {
		b.WriteString(" PRIMARY KEY AUTOINCREMENT")
		return b.String()
	}
	if c.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.Default)
	}
	return b.String()
}

func sqliteCreateIndexes(t *schema.Table) []string {
	var stmts []string
	for _, idx := range tableIndexes(t) {
		stmts = append(stmts, sqliteCreateIndex(t.Name, idx))
	}
	return stmts
}

func sqliteCreateIndex(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, sqliteQuote(idx.Name), sqliteQuote(table), joinQuoted(idx.Columns, sqliteQuote))
}
