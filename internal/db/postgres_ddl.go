package db

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tordrt/migrationengine/internal/schema"
)

var postgresTypes = map[schema.ColumnType]string{
	schema.TypeInt:      "integer",
	schema.TypeBigInt:   "bigint",
	schema.TypeFloat:    "double precision",
	schema.TypeDecimal:  "decimal(65,30)",
	schema.TypeBoolean:  "boolean",
	schema.TypeString:   "text",
	schema.TypeDateTime: "timestamp(3)",
	schema.TypeJSON:     "jsonb",
	schema.TypeBytes:    "bytea",
}

// RenderStep renders one step as schema-qualified PostgreSQL statements.
// Enum columns are backed by a native type named "<table>_<column>".
func (c *PostgresConnector) RenderStep(current *schema.Schema, step schema.Step) ([]string, error) {
	if err := step.Validate(); err != nil {
		return nil, err
	}
	r := postgresRenderer{schema: c.schema}

	switch step.Kind {
	case schema.CreateTable:
		return r.createTable(step.Definition), nil

	case schema.DropTable:
		stmts := []string{"DROP TABLE " + r.table(step.Table)}
		if t := current.Table(step.Table); t != nil {
			for _, col := range t.Columns {
				if col.Type == schema.TypeEnum {
					stmts = append(stmts, "DROP TYPE IF EXISTS "+r.enumType(t.Name, col.Name))
				}
			}
		}
		return stmts, nil

	case schema.RenameTable:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s RENAME TO %s", r.table(step.Table), pq.QuoteIdentifier(step.NewName))}
		if t := current.Table(step.Table); t != nil {
			for _, col := range t.Columns {
				if col.Type == schema.TypeEnum {
					stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s RENAME TO %s",
						r.enumType(step.Table, col.Name), pq.QuoteIdentifier(step.NewName+"_"+col.Name)))
				}
			}
		}
		for _, col := range uniqueColumns(current, step.Table) {
			stmts = append(stmts, fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
				r.qualified(schema.UniqueIndexName(step.Table, col)), pq.QuoteIdentifier(schema.UniqueIndexName(step.NewName, col))))
		}
		return stmts, nil

	case schema.AddColumn:
		col := *step.Column
		var stmts []string
		if col.Type == schema.TypeEnum {
			stmts = append(stmts, r.createEnum(step.Table, col))
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", r.table(step.Table), r.columnDef(step.Table, col)))
		if col.Unique {
			stmts = append(stmts, r.createIndex(step.Table, schema.Index{
				Name:    schema.UniqueIndexName(step.Table, col.Name),
				Columns: []string{col.Name},
				Unique:  true,
			}))
		}
		return stmts, nil

	case schema.DropColumn:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", r.table(step.Table), pq.QuoteIdentifier(step.Column.Name))}
		if t := current.Table(step.Table); t != nil {
			if col := t.Column(step.Column.Name); col != nil && col.Type == schema.TypeEnum {
				stmts = append(stmts, "DROP TYPE IF EXISTS "+r.enumType(step.Table, col.Name))
			}
		}
		return stmts, nil

	case schema.AlterColumn:
		return r.alterColumn(step.Table, *step.Previous, *step.Column), nil

	case schema.CreateIndex:
		return []string{r.createIndex(step.Table, *step.Index)}, nil

	case schema.DropIndex:
		return []string{"DROP INDEX " + r.qualified(step.Index.Name)}, nil

	case schema.CreateForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD %s", r.table(step.Table), r.foreignKey(*step.ForeignKey))}, nil

	case schema.DropForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", r.table(step.Table), pq.QuoteIdentifier(step.ForeignKey.Name))}, nil
	}
	return nil, fmt.Errorf("%w: %s", schema.ErrInvalidStep, step.Kind)
}

// TransactionalDDL is always true: PostgreSQL DDL is transactional.
func (c *PostgresConnector) TransactionalDDL(schema.Step) bool { return true }

type postgresRenderer struct {
	schema string
}

func (r postgresRenderer) qualified(name string) string {
	return pq.QuoteIdentifier(r.schema) + "." + pq.QuoteIdentifier(name)
}

func (r postgresRenderer) table(name string) string {
	return r.qualified(name)
}

func (r postgresRenderer) enumType(table, column string) string {
	return r.qualified(table + "_" + column)
}

func (r postgresRenderer) createEnum(table string, col schema.Column) string {
	values := make([]string, len(col.EnumValues))
	for i, v := range col.EnumValues {
		values[i] = quoteLiteral(v)
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", r.enumType(table, col.Name), strings.Join(values, ", "))
}

func (r postgresRenderer) columnType(table string, col schema.Column) string {
	if col.AutoIncrement {
		if col.Type == schema.TypeBigInt {
			return "bigserial"
		}
		return "serial"
	}
	if col.Type == schema.TypeEnum {
		return r.enumType(table, col.Name)
	}
	return postgresTypes[col.Type]
}

func (r postgresRenderer) columnDef(table string, col schema.Column) string {
	var b strings.Builder
	b.WriteString(pq.QuoteIdentifier(col.Name))
	b.WriteString(" ")
	b.WriteString(r.columnType(table, col))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil && !col.AutoIncrement {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	return b.String()
}

func (r postgresRenderer) createTable(t *schema.Table) []string {
	var stmts []string
	for _, col := range t.Columns {
		if col.Type == schema.TypeEnum {
			stmts = append(stmts, r.createEnum(t.Name, col))
		}
	}

	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, r.columnDef(t.Name, col))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", joinQuoted(t.PrimaryKey, pq.QuoteIdentifier)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, r.foreignKey(fk))
	}
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", r.table(t.Name), strings.Join(defs, ",\n    ")))

	for _, idx := range tableIndexes(t) {
		stmts = append(stmts, r.createIndex(t.Name, idx))
	}
	return stmts
}

func (r postgresRenderer) createIndex(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, pq.QuoteIdentifier(idx.Name), r.table(table), joinQuoted(idx.Columns, pq.QuoteIdentifier))
}

func (r postgresRenderer) foreignKey(fk schema.ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)%s",
		pq.QuoteIdentifier(fk.Name),
		joinQuoted(fk.Columns, pq.QuoteIdentifier),
		r.table(fk.ReferencedTable),
		joinQuoted(fk.ReferencedColumns, pq.QuoteIdentifier),
		actionClause(fk))
}

func (r postgresRenderer) alterColumn(table string, prev, next schema.Column) []string {
	tbl := r.table(table)
	col := pq.QuoteIdentifier(next.Name)
	alter := func(format string, args ...any) string {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s ", tbl, col) + fmt.Sprintf(format, args...)
	}

	var stmts []string
	if prev.Name != next.Name {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tbl, pq.QuoteIdentifier(prev.Name), col))
		if prev.Type == schema.TypeEnum {
			stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s RENAME TO %s", r.enumType(table, prev.Name), pq.QuoteIdentifier(table+"_"+next.Name)))
		}
		if prev.Unique && next.Unique {
			stmts = append(stmts, fmt.Sprintf("ALTER INDEX %s RENAME TO %s",
				r.qualified(schema.UniqueIndexName(table, prev.Name)), pq.QuoteIdentifier(schema.UniqueIndexName(table, next.Name))))
		}
	}

	typeChanged := prev.Type != next.Type ||
		(next.Type == schema.TypeEnum && strings.Join(prev.EnumValues, ",") != strings.Join(next.EnumValues, ","))
	defaultChanged := (prev.Default == nil) != (next.Default == nil) ||
		(prev.Default != nil && *prev.Default != *next.Default)

	if typeChanged {
		if prev.Default != nil || prev.AutoIncrement {
			stmts = append(stmts, alter("DROP DEFAULT"))
		}
		if next.Type == schema.TypeEnum {
			tmp := r.qualified(table + "_" + next.Name + "_new")
			values := make([]string, len(next.EnumValues))
			for i, v := range next.EnumValues {
				values[i] = quoteLiteral(v)
			}
			stmts = append(stmts,
				fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", tmp, strings.Join(values, ", ")),
				alter("TYPE %s USING (%s::text::%s)", tmp, col, tmp))
			if prev.Type == schema.TypeEnum {
				stmts = append(stmts, "DROP TYPE "+r.enumType(table, next.Name))
			}
			stmts = append(stmts, fmt.Sprintf("ALTER TYPE %s RENAME TO %s", tmp, pq.QuoteIdentifier(table+"_"+next.Name)))
		} else {
			native := postgresTypes[next.Type]
			stmts = append(stmts, alter("TYPE %s USING (%s::%s)", native, col, native))
			if prev.Type == schema.TypeEnum {
				stmts = append(stmts, "DROP TYPE IF EXISTS "+r.enumType(table, next.Name))
			}
		}
		if next.Default != nil {
			stmts = append(stmts, alter("SET DEFAULT %s", *next.Default))
		}
	} else if defaultChanged && !next.AutoIncrement {
		if next.Default == nil {
			stmts = append(stmts, alter("DROP DEFAULT"))
		} else {
			stmts = append(stmts, alter("SET DEFAULT %s", *next.Default))
		}
	}

	if prev.AutoIncrement != next.AutoIncrement {
		seq := r.qualified(table + "_" + next.Name + "_seq")
		if next.AutoIncrement {
			stmts = append(stmts,
				"CREATE SEQUENCE IF NOT EXISTS "+seq,
				alter("SET DEFAULT nextval(%s)", quoteLiteral(seq)),
				fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s", seq, tbl, col))
		} else if !typeChanged {
			stmts = append(stmts, alter("DROP DEFAULT"))
		}
	}

	if prev.Nullable != next.Nullable {
		if next.Nullable {
			stmts = append(stmts, alter("DROP NOT NULL"))
		} else {
			stmts = append(stmts, alter("SET NOT NULL"))
		}
	}

	if prev.Unique != next.Unique {
		name := schema.UniqueIndexName(table, next.Name)
		if next.Unique {
			stmts = append(stmts, r.createIndex(table, schema.Index{Name: name, Columns: []string{next.Name}, Unique: true}))
		} else {
			stmts = append(stmts, "DROP INDEX "+r.qualified(schema.UniqueIndexName(table, prev.Name)))
		}
	}
	return stmts
}
