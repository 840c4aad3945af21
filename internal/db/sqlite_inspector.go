package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// sqliteInspector handles schema introspection for SQLite. Every PRAGMA
// result is materialized before the next query because the connector holds
// a single connection.
type sqliteInspector struct {
	client *sqlClient
}

func newSQLiteInspector(db *sql.DB) *sqliteInspector {
	return &sqliteInspector{client: &sqlClient{db: db}}
}

var sqliteConstraintName = regexp.MustCompile(`(?i)CONSTRAINT\s+("(?:[^"]|"")+"|\w+)\s+FOREIGN\s+KEY\s*\(([^)]*)\)`)

func (e *sqliteInspector) inspect(ctx context.Context) (*schema.Schema, error) {
	tables, err := e.client.Query(ctx, `
		SELECT name, sql
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ?
		ORDER BY name
	`, schema.MigrationTable)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	s := &schema.Schema{}
	for i := 0; i < tables.Len(); i++ {
		name := tables.String(i, "name")
		table, err := e.inspectTable(ctx, name, tables.String(i, "sql"))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", name, err)
		}
		s.Tables = append(s.Tables, *table)
	}

	resolveImplicitReferences(s)
	s.Sort()
	return s, nil
}

func (e *sqliteInspector) inspectTable(ctx context.Context, tableName, createSQL string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	if err := e.inspectColumns(ctx, table, createSQL); err != nil {
		return nil, fmt.Errorf("failed to inspect columns: %w", err)
	}

	indexes, err := e.inspectIndexes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect indexes: %w", err)
	}
	table.Indexes = indexes

	fks, err := e.inspectForeignKeys(ctx, tableName, createSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	foldUniqueIndexes(table)
	return table, nil
}

func (e *sqliteInspector) inspectColumns(ctx context.Context, table *schema.Table, createSQL string) error {
	rows, err := e.client.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sqliteQuote(table.Name)))
	if err != nil {
		return err
	}

	type pkCol struct {
		name  string
		order int64
	}
	var pk []pkCol

	for i := 0; i < rows.Len(); i++ {
		name := rows.String(i, "name")
		notNull, _ := rows.Int64(i, "notnull")
		pkOrder, _ := rows.Int64(i, "pk")

		col := schema.Column{
			Name:     name,
			Type:     sqliteLogicalType(rows.String(i, "type")),
			Nullable: notNull == 0,
		}
		if d, ok := rows.NullString(i, "dflt_value"); ok {
			d = normalizeSQLiteDefault(d, col.Type)
			col.Default = &d
		}
		if pkOrder > 0 {
			pk = append(pk, pkCol{name: name, order: pkOrder})
		}
		table.Columns = append(table.Columns, col)
	}

	sort.Slice(pk, func(a, b int) bool { return pk[a].order < pk[b].order })
	for _, p := range pk {
		table.PrimaryKey = append(table.PrimaryKey, p.name)
	}

	if len(table.PrimaryKey) == 1 && strings.Contains(strings.ToUpper(createSQL), "AUTOINCREMENT") {
		if col := table.Column(table.PrimaryKey[0]); col != nil && col.Type == schema.TypeInt {
			col.AutoIncrement = true
			col.Nullable = false
		}
	}
	return nil
}

func (e *sqliteInspector) inspectIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	list, err := e.client.Query(ctx, fmt.Sprintf("PRAGMA index_list(%s)", sqliteQuote(tableName)))
	if err != nil {
		return nil, err
	}

	var indexes []schema.Index
	for i := 0; i < list.Len(); i++ {
		name := list.String(i, "name")
		// Skip auto-generated primary key and inline constraint indexes
		if list.String(i, "origin") == "pk" || strings.HasPrefix(name, "sqlite_autoindex") {
			continue
		}

		info, err := e.client.Query(ctx, fmt.Sprintf("PRAGMA index_info(%s)", sqliteQuote(name)))
		if err != nil {
			return nil, err
		}
		var columns []string
		for j := 0; j < info.Len(); j++ {
			if c, ok := info.NullString(j, "name"); ok {
				columns = append(columns, c)
			}
		}

		if len(columns) > 0 {
			indexes = append(indexes, schema.Index{
				Name:    name,
				Columns: columns,
				Unique:  list.Bool(i, "unique"),
			})
		}
	}
	return indexes, nil
}

func (e *sqliteInspector) inspectForeignKeys(ctx context.Context, tableName, createSQL string) ([]schema.ForeignKey, error) {
	rows, err := e.client.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqliteQuote(tableName)))
	if err != nil {
		return nil, err
	}

	byID := map[int64]*schema.ForeignKey{}
	var order []int64
	for i := 0; i < rows.Len(); i++ {
		id, _ := rows.Int64(i, "id")
		fk, ok := byID[id]
		if !ok {
			fk = &schema.ForeignKey{
				ReferencedTable: rows.String(i, "table"),
				OnDelete:        schema.NormalizeAction(rows.String(i, "on_delete")),
				OnUpdate:        schema.NormalizeAction(rows.String(i, "on_update")),
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, rows.String(i, "from"))
		// "to" is NULL when the parent primary key is referenced implicitly
		fk.ReferencedColumns = append(fk.ReferencedColumns, rows.String(i, "to"))
	}

	names := sqliteForeignKeyNames(createSQL)
	fks := make([]schema.ForeignKey, 0, len(order))
	for _, id := range order {
		fk := byID[id]
		key := strings.Join(fk.Columns, ",")
		if name, ok := names[key]; ok {
			fk.Name = name
		} else {
			fk.Name = schema.ForeignKeyName(tableName, fk.Columns)
		}
		fks = append(fks, *fk)
	}
	return fks, nil
}

// sqliteForeignKeyNames extracts named FOREIGN KEY constraints from the
// table's CREATE statement, keyed by their comma-joined column list.
func sqliteForeignKeyNames(createSQL string) map[string]string {
	names := map[string]string{}
	for _, m := range sqliteConstraintName.FindAllStringSubmatch(createSQL, -1) {
		var cols []string
		for _, c := range strings.Split(m[2], ",") {
			cols = append(cols, sqliteUnquote(strings.TrimSpace(c)))
		}
		names[strings.Join(cols, ",")] = sqliteUnquote(m[1])
	}
	return names
}

// sqliteLogicalType applies SQLite's declared-type affinity rules, refined
// for the names this engine renders.
func sqliteLogicalType(declared string) schema.ColumnType {
	t := strings.ToUpper(strings.TrimSpace(declared))
	switch {
	case t == "BIGINT" || t == "INT8":
		return schema.TypeBigInt
	case strings.HasPrefix(t, "BOOL"):
		return schema.TypeBoolean
	case strings.Contains(t, "DATE") || strings.Contains(t, "TIME"):
		return schema.TypeDateTime
	case strings.Contains(t, "INT"):
		return schema.TypeInt
	case strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB") || strings.Contains(t, "TEXT"):
		return schema.TypeString
	case t == "" || strings.Contains(t, "BLOB"):
		return schema.TypeBytes
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB"):
		return schema.TypeFloat
	case strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC"):
		return schema.TypeDecimal
	default:
		return schema.TypeString
	}
}

func normalizeSQLiteDefault(d string, t schema.ColumnType) string {
	d = strings.TrimSpace(d)
	for len(d) >= 2 && d[0] == '(' && d[len(d)-1] == ')' {
		d = strings.TrimSpace(d[1 : len(d)-1])
	}
	switch strings.ToUpper(d) {
	case "CURRENT_TIMESTAMP", "DATETIME('NOW')":
		return "CURRENT_TIMESTAMP"
	}
	if t == schema.TypeBoolean {
		switch strings.ToLower(d) {
		case "1", "true":
			return "true"
		case "0", "false":
			return "false"
		}
	}
	return d
}

func sqliteQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteUnquote(name string) string {
	if len(name) >= 2 && (name[0] == '"' || name[0] == '`' || name[0] == '[') {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return name
}
