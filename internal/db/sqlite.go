package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tordrt/migrationengine/internal/schema"
)

// SQLiteConnector manages the connection to a SQLite database file
type SQLiteConnector struct {
	sqlClient
}

// NewSQLiteConnector opens the database file and enables foreign keys
func NewSQLiteConnector(ctx context.Context, target *Target) (*SQLiteConnector, error) {
	db, err := sql.Open("sqlite3", target.DSN)
	if err != nil {
		return nil, &ConnectionError{Backend: SQLite, Err: fmt.Errorf("failed to open database: %w", err)}
	}
	// PRAGMA foreign_keys is per connection; a single connection keeps the
	// rebuild statements on the one that executed the pragma.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Backend: SQLite, Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	return &SQLiteConnector{sqlClient{db: db}}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=1"
	}
	return path + "?_foreign_keys=1"
}

func (c *SQLiteConnector) Type() Type { return SQLite }

func (c *SQLiteConnector) SchemaName() string { return "main" }

func (c *SQLiteConnector) Placeholder(int) string { return "?" }

func (c *SQLiteConnector) QuoteTable(name string) string { return sqliteQuote(name) }

// Inspect reads the live schema
func (c *SQLiteConnector) Inspect(ctx context.Context) (*schema.Schema, error) {
	return newSQLiteInspector(c.db).inspect(ctx)
}

// Reset drops every table in the database
func (c *SQLiteConnector) Reset(ctx context.Context) error {
	rows, err := c.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	if err := c.Exec(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return err
	}
	defer func() { _ = c.Exec(context.WithoutCancel(ctx), "PRAGMA foreign_keys=ON") }()

	for i := 0; i < rows.Len(); i++ {
		name := rows.String(i, "name")
		if err := c.Exec(ctx, "DROP TABLE IF EXISTS "+sqliteQuote(name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}
	return nil
}
