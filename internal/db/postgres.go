package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/tordrt/migrationengine/internal/schema"
)

// PostgresConnector manages a connection pool to PostgreSQL
type PostgresConnector struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresConnector creates a new PostgreSQL connection pool
func NewPostgresConnector(ctx context.Context, target *Target) (*PostgresConnector, error) {
	cfg, err := pgxpool.ParseConfig(target.DSN)
	if err != nil {
		return nil, &ConnectionError{Backend: Postgres, Err: fmt.Errorf("failed to parse DSN: %w", err)}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Backend: Postgres, Err: fmt.Errorf("failed to connect to database: %w", err)}
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Backend: Postgres, Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	return &PostgresConnector{pool: pool, schema: target.Schema}, nil
}

func (c *PostgresConnector) Type() Type { return Postgres }

func (c *PostgresConnector) SchemaName() string { return c.schema }

func (c *PostgresConnector) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (c *PostgresConnector) QuoteTable(name string) string {
	return pq.QuoteIdentifier(c.schema) + "." + pq.QuoteIdentifier(name)
}

func (c *PostgresConnector) Query(ctx context.Context, stmt string, args ...any) (*RowSet, error) {
	rows, err := c.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPgxRows(rows)
}

func (c *PostgresConnector) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := c.pool.Exec(ctx, stmt, args...)
	return err
}

func (c *PostgresConnector) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgxTx{tx: tx}, nil
}

// Inspect reads the live schema
func (c *PostgresConnector) Inspect(ctx context.Context) (*schema.Schema, error) {
	return newPostgresInspector(c.pool, c.schema).inspect(ctx)
}

// Reset drops and recreates the schema, removing tables and enum types
func (c *PostgresConnector) Reset(ctx context.Context) error {
	name := pq.QuoteIdentifier(c.schema)
	if err := c.Exec(ctx, "DROP SCHEMA IF EXISTS "+name+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", c.schema, err)
	}
	if err := c.Exec(ctx, "CREATE SCHEMA "+name); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", c.schema, err)
	}
	return nil
}

// Close closes the connection pool
func (c *PostgresConnector) Close() error {
	c.pool.Close()
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := t.tx.Exec(ctx, stmt, args...)
	return err
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func collectPgxRows(rows pgx.Rows) (*RowSet, error) {
	rs := &RowSet{}
	for _, fd := range rows.FieldDescriptions() {
		rs.Columns = append(rs.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}
