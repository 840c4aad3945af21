package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// RowSet is a fully materialized query result.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	return len(r.Rows)
}

func (r *RowSet) index(column string) int {
	for i, c := range r.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Value returns the raw value of column in row i, or nil.
func (r *RowSet) Value(i int, column string) any {
	j := r.index(column)
	if j < 0 || i >= len(r.Rows) {
		return nil
	}
	return r.Rows[i][j]
}

// String returns column in row i as a string. NULL becomes "".
func (r *RowSet) String(i int, column string) string {
	s, _ := r.NullString(i, column)
	return s
}

// NullString returns column in row i as a string and whether it was non-NULL.
func (r *RowSet) NullString(i int, column string) (string, bool) {
	switch v := r.Value(i, column).(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), true
	default:
		return fmt.Sprint(v), true
	}
}

// Int64 returns column in row i as an integer and whether it was non-NULL.
func (r *RowSet) Int64(i int, column string) (int64, bool) {
	switch v := r.Value(i, column).(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns column in row i as a boolean. Integers are true when non-zero.
func (r *RowSet) Bool(i int, column string) bool {
	if b, ok := r.Value(i, column).(bool); ok {
		return b
	}
	n, _ := r.Int64(i, column)
	return n != 0
}

// sqlClient implements the raw query surface of a Connector on top of
// database/sql.
type sqlClient struct {
	db *sql.DB
}

func (c *sqlClient) Query(ctx context.Context, stmt string, args ...any) (*RowSet, error) {
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (c *sqlClient) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := c.db.ExecContext(ctx, stmt, args...)
	return err
}

func (c *sqlClient) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (c *sqlClient) Close() error {
	return c.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, stmt, args...)
	return err
}

func (t *sqlTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

func scanRows(rows *sql.Rows) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &RowSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			// Drivers may reuse byte buffers between rows.
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}
