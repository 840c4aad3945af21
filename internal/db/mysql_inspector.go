package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// mysqlInspector handles schema introspection for MySQL
type mysqlInspector struct {
	db         *sql.DB
	schemaName string
}

func newMySQLInspector(db *sql.DB, schemaName string) *mysqlInspector {
	return &mysqlInspector{db: db, schemaName: schemaName}
}

func (e *mysqlInspector) inspect(ctx context.Context) (*schema.Schema, error) {
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

func (e *mysqlInspector) getTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE' AND table_name != ?
		ORDER BY table_name
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, schema.MigrationTable)
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

func (e *mysqlInspector) inspectTable(ctx context.Context, tableName string) (*schema.Table, error) {
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
	// MySQL creates an index named after each foreign key that has no
	// covering index; it is not part of the model.
	kept := indexes[:0]
	for _, idx := range indexes {
		if table.ForeignKey(idx.Name) == nil {
			kept = append(kept, idx)
		}
	}
	table.Indexes = kept

	foldUniqueIndexes(table)
	return table, nil
}

func (e *mysqlInspector) inspectColumns(ctx context.Context, tableName string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.column_type,
			c.data_type,
			c.is_nullable,
			c.column_default,
			c.extra
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var columnType, dataType, nullable, extra string
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &columnType, &dataType, &nullable, &defaultVal, &extra); err != nil {
			return nil, err
		}

		col.Type = mysqlLogicalType(dataType, columnType)
		col.Nullable = (nullable == "YES")
		col.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if defaultVal.Valid && defaultVal.String != "NULL" {
			d := normalizeMySQLDefault(defaultVal.String, col.Type)
			col.Default = &d
		}

		if col.Type == schema.TypeEnum {
			values, err := parseMySQLEnumValues(columnType)
			if err != nil {
				return nil, err
			}
			col.EnumValues = values
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func mysqlLogicalType(dataType, columnType string) schema.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint":
		if strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
			return schema.TypeBoolean
		}
		return schema.TypeInt
	case "int", "smallint", "mediumint", "integer":
		return schema.TypeInt
	case "bigint":
		return schema.TypeBigInt
	case "double", "float", "real":
		return schema.TypeFloat
	case "decimal", "numeric":
		return schema.TypeDecimal
	case "bit", "boolean", "bool":
		return schema.TypeBoolean
	case "datetime", "timestamp", "date":
		return schema.TypeDateTime
	case "json":
		return schema.TypeJSON
	case "blob", "longblob", "mediumblob", "tinyblob", "binary", "varbinary":
		return schema.TypeBytes
	case "enum":
		return schema.TypeEnum
	}
	return schema.TypeString
}

// parseMySQLEnumValues parses enum values from the column type string
// MySQL stores enum types as "enum('value1','value2','value3')"
func parseMySQLEnumValues(columnType string) ([]string, error) {
	start := strings.Index(columnType, "(")
	end := strings.LastIndex(columnType, ")")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("invalid enum type format: %s", columnType)
	}

	var values []string
	list := columnType[start+1 : end]
	for len(list) > 0 {
		list = strings.TrimLeft(list, " ,")
		if list == "" || list[0] != '\'' {
			break
		}
		closing := closingQuote(list)
		if closing < 0 {
			return nil, fmt.Errorf("invalid enum type format: %s", columnType)
		}
		values = append(values, strings.ReplaceAll(list[1:closing], "''", "'"))
		list = list[closing+1:]
	}
	return values, nil
}

// normalizeMySQLDefault converts information_schema defaults, which MySQL
// reports unquoted, back into SQL literals.
func normalizeMySQLDefault(raw string, t schema.ColumnType) string {
	d := strings.TrimSpace(raw)
	upper := strings.ToUpper(d)
	if upper == "CURRENT_TIMESTAMP" || strings.HasPrefix(upper, "CURRENT_TIMESTAMP(") {
		return "CURRENT_TIMESTAMP"
	}

	switch t {
	case schema.TypeBoolean:
		switch strings.Trim(d, "'") {
		case "1", "b'1'":
			return "true"
		case "0", "b'0'":
			return "false"
		}
		return strings.ToLower(d)
	case schema.TypeInt, schema.TypeBigInt:
		return strings.Trim(d, "'")
	case schema.TypeFloat, schema.TypeDecimal:
		return trimDecimal(strings.Trim(d, "'"))
	}

	// MariaDB already quotes string defaults
	if strings.HasPrefix(d, "'") && closingQuote(d) == len(d)-1 {
		return d
	}
	return quoteLiteral(d)
}

func trimDecimal(d string) string {
	if !strings.Contains(d, ".") {
		return d
	}
	d = strings.TrimRight(d, "0")
	return strings.TrimSuffix(d, ".")
}

func (e *mysqlInspector) inspectPrimaryKey(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
			AND table_name = ?
			AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, tableName)
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

func (e *mysqlInspector) inspectForeignKeys(ctx context.Context, tableName string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			kcu.constraint_name,
			kcu.column_name,
			kcu.referenced_table_name,
			kcu.referenced_column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = kcu.table_schema
			AND rc.table_name = kcu.table_name
			AND rc.constraint_name = kcu.constraint_name
		WHERE kcu.table_schema = ?
			AND kcu.table_name = ?
			AND kcu.referenced_table_name IS NOT NULL
		ORDER BY kcu.constraint_name, kcu.ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var name, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return nil, err
		}

		if n := len(fks); n > 0 && fks[n-1].Name == name {
			fks[n-1].Columns = append(fks[n-1].Columns, column)
			fks[n-1].ReferencedColumns = append(fks[n-1].ReferencedColumns, refColumn)
			continue
		}
		fks = append(fks, schema.ForeignKey{
			Name:              name,
			Columns:           []string{column},
			ReferencedTable:   refTable,
			ReferencedColumns: []string{refColumn},
			OnDelete:          schema.NormalizeAction(onDelete),
			OnUpdate:          schema.NormalizeAction(onUpdate),
		})
	}

	return fks, rows.Err()
}

func (e *mysqlInspector) inspectIndexes(ctx context.Context, tableName string) ([]schema.Index, error) {
	query := `
		SELECT
			s.index_name,
			s.non_unique = 0 AS is_unique,
			GROUP_CONCAT(s.column_name ORDER BY s.seq_in_index) AS column_names
		FROM information_schema.statistics s
		WHERE s.table_schema = ?
			AND s.table_name = ?
			AND s.index_name != 'PRIMARY'
		GROUP BY s.index_name, s.non_unique
		ORDER BY s.index_name
	`

	rows, err := e.db.QueryContext(ctx, query, e.schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var idx schema.Index
		var isUnique int
		var columnNames string

		if err := rows.Scan(&idx.Name, &isUnique, &columnNames); err != nil {
			return nil, err
		}

		idx.Unique = (isUnique == 1)
		idx.Columns = strings.Split(columnNames, ",")

		indexes = append(indexes, idx)
	}

	return indexes, rows.Err()
}
