package db

import (
	"fmt"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

var mysqlTypes = map[schema.ColumnType]string{
	schema.TypeInt:      "int",
	schema.TypeBigInt:   "bigint",
	schema.TypeFloat:    "double",
	schema.TypeDecimal:  "decimal(65,30)",
	schema.TypeBoolean:  "tinyint(1)",
	schema.TypeString:   "varchar(191)",
	schema.TypeDateTime: "datetime(3)",
	schema.TypeJSON:     "json",
	schema.TypeBytes:    "longblob",
}

// RenderStep renders one step as MySQL statements.
func (c *MySQLConnector) RenderStep(current *schema.Schema, step schema.Step) ([]string, error) {
	if err := step.Validate(); err != nil {
		return nil, err
	}

	tbl := mysqlQuote(step.Table)
	switch step.Kind {
	case schema.CreateTable:
		return []string{mysqlCreateTable(step.Definition)}, nil

	case schema.DropTable:
		return []string{"DROP TABLE " + tbl}, nil

	case schema.RenameTable:
		stmts := []string{fmt.Sprintf("RENAME TABLE %s TO %s", tbl, mysqlQuote(step.NewName))}
		for _, col := range uniqueColumns(current, step.Table) {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", mysqlQuote(step.NewName),
				mysqlQuote(schema.UniqueIndexName(step.Table, col)), mysqlQuote(schema.UniqueIndexName(step.NewName, col))))
		}
		return stmts, nil

	case schema.AddColumn:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", tbl, mysqlColumnDef(*step.Column))}
		if step.Column.Unique {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD UNIQUE INDEX %s (%s)",
				tbl, mysqlQuote(schema.UniqueIndexName(step.Table, step.Column.Name)), mysqlQuote(step.Column.Name)))
		}
		return stmts, nil

	case schema.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", tbl, mysqlQuote(step.Column.Name))}, nil

	case schema.AlterColumn:
		prev, next := *step.Previous, *step.Column
		var stmts []string
		prevBare, nextBare := prev, next
		prevBare.Unique, nextBare.Unique = false, false
		prevBare.Name = next.Name
		if !schema.ColumnsEqual(prevBare, nextBare) || prev.Name != next.Name {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s CHANGE %s %s", tbl, mysqlQuote(prev.Name), mysqlColumnDef(next)))
		}
		switch {
		case prev.Unique && next.Unique && prev.Name != next.Name:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", tbl,
				mysqlQuote(schema.UniqueIndexName(step.Table, prev.Name)), mysqlQuote(schema.UniqueIndexName(step.Table, next.Name))))
		case !prev.Unique && next.Unique:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD UNIQUE INDEX %s (%s)",
				tbl, mysqlQuote(schema.UniqueIndexName(step.Table, next.Name)), mysqlQuote(next.Name)))
		case prev.Unique && !next.Unique:
			stmts = append(stmts, fmt.Sprintf("DROP INDEX %s ON %s", mysqlQuote(schema.UniqueIndexName(step.Table, prev.Name)), tbl))
		}
		return stmts, nil

	case schema.CreateIndex:
		return []string{mysqlCreateIndex(step.Table, *step.Index)}, nil

	case schema.DropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s ON %s", mysqlQuote(step.Index.Name), tbl)}, nil

	case schema.CreateForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", tbl, mysqlForeignKey(*step.ForeignKey))}, nil

	case schema.DropForeignKey:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", tbl, mysqlQuote(step.ForeignKey.Name))}
		// Drop the index MySQL created for the constraint when no other
		// index covers its columns.
		if t := current.Table(step.Table); t != nil {
			if fk := t.ForeignKey(step.ForeignKey.Name); fk != nil && !mysqlCovered(t, fk.Columns) {
				stmts = append(stmts, fmt.Sprintf("DROP INDEX %s ON %s", mysqlQuote(fk.Name), tbl))
			}
		}
		return stmts, nil
	}
	return nil, fmt.Errorf("%w: %s", schema.ErrInvalidStep, step.Kind)
}

// TransactionalDDL is always false: MySQL commits implicitly around DDL.
func (c *MySQLConnector) TransactionalDDL(schema.Step) bool { return false }

// mysqlCovered reports whether an index other than the implicit foreign key
// index starts with columns.
func mysqlCovered(t *schema.Table, columns []string) bool {
	prefix := func(cols []string) bool {
		if len(cols) < len(columns) {
			return false
		}
		for i, c := range columns {
			if cols[i] != c {
				return false
			}
		}
		return true
	}
	if prefix(t.PrimaryKey) {
		return true
	}
	for _, idx := range tableIndexes(t) {
		if prefix(idx.Columns) {
			return true
		}
	}
	return false
}

func mysqlColumnType(col schema.Column) string {
	if col.Type == schema.TypeEnum {
		values := make([]string, len(col.EnumValues))
		for i, v := range col.EnumValues {
			values[i] = quoteLiteral(v)
		}
		return "enum(" + strings.Join(values, ",") + ")"
	}
	return mysqlTypes[col.Type]
}

func mysqlColumnDef(col schema.Column) string {
	var b strings.Builder
	b.WriteString(mysqlQuote(col.Name))
	b.WriteString(" ")
	b.WriteString(mysqlColumnType(col))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if col.Default != nil && !col.AutoIncrement {
		b.WriteString(" DEFAULT ")
		if col.Type == schema.TypeDateTime && strings.EqualFold(*col.Default, "CURRENT_TIMESTAMP") {
			b.WriteString("CURRENT_TIMESTAMP(3)")
		} else {
			b.WriteString(*col.Default)
		}
	}
	if col.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	return b.String()
}

func mysqlCreateTable(t *schema.Table) string {
	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, mysqlColumnDef(col))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", joinQuoted(t.PrimaryKey, mysqlQuote)))
	}
	for _, idx := range tableIndexes(t) {
		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		defs = append(defs, fmt.Sprintf("%s %s (%s)", kind, mysqlQuote(idx.Name), joinQuoted(idx.Columns, mysqlQuote)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, mysqlForeignKey(fk))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n) DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		mysqlQuote(t.Name), strings.Join(defs, ",\n    "))
}

func mysqlCreateIndex(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, mysqlQuote(idx.Name), mysqlQuote(table), joinQuoted(idx.Columns, mysqlQuote))
}

func mysqlForeignKey(fk schema.ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)%s",
		mysqlQuote(fk.Name),
		joinQuoted(fk.Columns, mysqlQuote),
		mysqlQuote(fk.ReferencedTable),
		joinQuoted(fk.ReferencedColumns, mysqlQuote),
		actionClause(fk))
}
