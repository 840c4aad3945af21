package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tordrt/migrationengine/internal/schema"
)

// postgresInspector handles schema introspection for PostgreSQL
type postgresInspector struct {
	pool   *pgxpool.Pool
	schema string
}

func newPostgresInspector(pool *pgxpool.Pool, schemaName string) *postgresInspector {
	return &postgresInspector{pool: pool, schema: schemaName}
}

func (e *postgresInspector) inspect(ctx context.Context) (*schema.Schema, error) {
	tableNames, err := e.getTableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}

	s := &schema.Schema{}
	for _, tableName := range tableNames {
		table, err := e.inspectTable(ctx, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", tableName, err)
		}
		s.Tables = append(s.Tables, *table)
	}

	s.Sort()
	return s, nil
}

// getTableNames returns the base tables of the schema. A missing schema
// yields no tables.
func (e *postgresInspector) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE' AND table_name != $2
		ORDER BY table_name
	`

	rows, err := e.pool.Query(ctx, query, e.schema, schema.MigrationTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

func (e *postgresInspector) inspectTable(ctx context.Context, tableName string) (*schema.Table, error) {
	table := &schema.Table{Name: tableName}

	columns, err := e.inspectColumns(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect columns: %w", err)
	}
	table.Columns = columns

	pk, err := e.inspectPrimaryKey(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect primary key: %w", err)
	}
	table.PrimaryKey = pk

	fks, err := e.inspectForeignKeys(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect foreign keys: %w", err)
	}
	table.ForeignKeys = fks

	indexes, err := e.inspectIndexes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect indexes: %w", err)
	}
	table.Indexes = indexes

	foldUniqueIndexes(table)
	return table, nil
}

// postgresLogicalType maps information_schema type names onto the logical
// types
func postgresLogicalType(dataType, udtName string) schema.ColumnType {
	switch dataType {
	case "integer", "smallint":
		return schema.TypeInt
	case "bigint":
		return schema.TypeBigInt
	case "double precision", "real":
		return schema.TypeFloat
	case "numeric":
		return schema.TypeDecimal
	case "boolean":
		return schema.TypeBoolean
	case "timestamp without time zone", "timestamp with time zone", "date":
		return schema.TypeDateTime
	case "jsonb", "json":
		return schema.TypeJSON
	case "bytea":
		return schema.TypeBytes
	case "USER-DEFINED":
		return schema.TypeEnum
	}
	return schema.TypeString
}

func (e *postgresInspector) inspectColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable,
			c.column_default
		FROM information_schema.columns c
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	var enumTypes []string
	udtNames := map[string]string{}

	for rows.Next() {
		var col schema.Column
		var dataType, udtName, nullable string
		var defaultVal *string

		if err := rows.Scan(&col.Name, &dataType, &udtName, &nullable, &defaultVal); err != nil {
			return nil, err
		}

		col.Nullable = (nullable == "YES")
		col.Type = postgresLogicalType(dataType, udtName)
		if defaultVal != nil {
			if strings.HasPrefix(*defaultVal, "nextval(") {
				col.AutoIncrement = true
			} else {
				d := normalizePostgresDefault(*defaultVal, col.Type)
				col.Default = &d
			}
		}

		// Remember USER-DEFINED types for the enum value lookup
		if col.Type == schema.TypeEnum {
			enumTypes = append(enumTypes, udtName)
			udtNames[col.Name] = udtName
		}

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(enumTypes) > 0 {
		enumValuesMap, err := e.inspectEnumValues(ctx, enumTypes)
		if err != nil {
			return nil, err
		}
		for i := range columns {
			if udt, ok := udtNames[columns[i].Name]; ok {
				columns[i].EnumValues = enumValuesMap[udt]
			}
		}
	}

	return columns, nil
}

// inspectEnumValues extracts enum labels for multiple enum types at once
func (e *postgresInspector) inspectEnumValues(ctx context.Context, enumTypeNames []string) (map[string][]string, error) {
	query := `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		JOIN pg_namespace n ON t.typnamespace = n.oid
		WHERE n.nspname = $1 AND t.typname = ANY($2)
		ORDER BY t.typname, e.enumsortorder
	`

	rows, err := e.pool.Query(ctx, query, e.schema, enumTypeNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var typName, enumLabel string
		if err := rows.Scan(&typName, &enumLabel); err != nil {
			return nil, err
		}
		result[typName] = append(result[typName], enumLabel)
	}

	return result, rows.Err()
}

func (e *postgresInspector) inspectPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = $1
			AND table_name = $2
			AND constraint_name IN (
				SELECT constraint_name
				FROM information_schema.table_constraints
				WHERE table_schema = $1
					AND table_name = $2
					AND constraint_type = 'PRIMARY KEY'
			)
		ORDER BY ordinal_position
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return nil, err
		}
		pk = append(pk, colName)
	}

	return pk, rows.Err()
}

// inspectForeignKeys reads pg_constraint so that composite keys keep their
// column pairing and referential actions
func (e *postgresInspector) inspectForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			c.conname::text,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			) AS columns,
			rt.relname::text AS referenced_table,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(c.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			) AS referenced_columns,
			c.confdeltype::text,
			c.confupdtype::text
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class rt ON rt.oid = c.confrelid
		WHERE c.contype = 'f'
			AND n.nspname = $1
			AND t.relname = $2
		ORDER BY c.conname
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		var onDelete, onUpdate string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &onDelete, &onUpdate); err != nil {
			return nil, err
		}
		fk.OnDelete = schema.NormalizeAction(onDelete)
		fk.OnUpdate = schema.NormalizeAction(onUpdate)
		fks = append(fks, fk)
	}

	return fks, rows.Err()
}

func (e *postgresInspector) inspectIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			i.relname::text AS index_name,
			ix.indisunique AS is_unique,
			array_agg(a.attname::text ORDER BY array_position(ix.indkey, a.attnum)) AS column_names
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relkind = 'r'
			AND n.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname
	`

	rows, err := e.pool.Query(ctx, query, e.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Columns); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}

// normalizePostgresDefault strips the casts PostgreSQL adds to stored
// defaults, e.g. 'abc'::text or '42'::integer.
func normalizePostgresDefault(raw string, t schema.ColumnType) string {
	d := strings.TrimSpace(raw)

	switch strings.ToLower(d) {
	case "now()", "current_timestamp", "transaction_timestamp()", "current_timestamp(3)":
		return "CURRENT_TIMESTAMP"
	}

	if strings.HasPrefix(d, "'") {
		end := closingQuote(d)
		if end > 0 {
			d = d[:end+1]
		}
	} else if i := strings.LastIndex(d, "::"); i > 0 {
		d = d[:i]
	}
	d = strings.TrimSpace(d)
	for len(d) >= 2 && d[0] == '(' && d[len(d)-1] == ')' {
		d = strings.TrimSpace(d[1 : len(d)-1])
	}

	switch t {
	case schema.TypeInt, schema.TypeBigInt, schema.TypeFloat, schema.TypeDecimal:
		if strings.HasPrefix(d, "'") && strings.HasSuffix(d, "'") && len(d) >= 2 {
			d = d[1 : len(d)-1]
		}
	case schema.TypeBoolean:
		d = strings.ToLower(d)
	}
	return d
}

// closingQuote returns the index of the quote that closes the string
// literal starting at s[0], honoring '' escapes.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			i++
			continue
		}
		return i
	}
	return -1
}
