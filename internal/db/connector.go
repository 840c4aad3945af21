// Package db contains one Connector per supported backend. A Connector owns
// the client connection, introspects the live schema and renders Migration
// Steps into backend DDL.
package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tordrt/migrationengine/internal/schema"
)

// Type identifies a backend. The string values are the connector
// identifiers used by the data model's datasource provider.
type Type string

const (
	SQLite   Type = "sqlite"
	Postgres Type = "postgresql"
	MySQL    Type = "mysql"
)

// Types lists the supported backends.
var Types = []Type{SQLite, Postgres, MySQL}

// ParseType maps a provider identifier onto a backend Type. "postgres" is
// accepted as an alias.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "sqlite":
		return SQLite, nil
	case "postgresql", "postgres":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

var (
	// ErrUnsupportedBackend is returned for connection strings or provider
	// identifiers that name no known backend.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrUnsupportedType is returned by RenderStep when a column type has no
	// native representation on the backend.
	ErrUnsupportedType = errors.New("unsupported column type")
)

// ConnectionError reports a failure to reach the database.
type ConnectionError struct {
	Backend Type
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s database: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Tx is a database transaction used by the applier for transactional DDL.
type Tx interface {
	Exec(ctx context.Context, stmt string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connector is the backend abstraction used by the rest of the engine.
type Connector interface {
	// Type returns the backend identifier.
	Type() Type
	// SchemaName returns the schema (PostgreSQL), database (MySQL) or
	// attached database name (SQLite) the connector operates on.
	SchemaName() string

	Query(ctx context.Context, stmt string, args ...any) (*RowSet, error)
	Exec(ctx context.Context, stmt string, args ...any) error
	Begin(ctx context.Context) (Tx, error)

	// Placeholder returns the bind parameter marker for the n-th (1-based)
	// argument.
	Placeholder(n int) string
	// QuoteTable returns the quoted, and where applicable schema-qualified,
	// table name.
	QuoteTable(name string) string

	// RenderStep renders one step against the schema it applies to. current
	// is not modified.
	RenderStep(current *schema.Schema, step schema.Step) ([]string, error)
	// TransactionalDDL reports whether the statements rendered for step can
	// run inside a transaction that is rolled back as a unit.
	TransactionalDDL(step schema.Step) bool

	// Inspect reads the live schema. The history table is excluded.
	Inspect(ctx context.Context) (*schema.Schema, error)
	// Reset drops every table, including the history table, in the schema.
	Reset(ctx context.Context) error

	Close() error
}

// Target is a parsed connection string.
type Target struct {
	Type Type
	// DSN is what the driver is opened with.
	DSN string
	// Schema is the PostgreSQL schema or MySQL database name.
	Schema string
}

// ParseURL inspects the connection string scheme and converts it into a
// driver DSN. It performs no I/O.
func ParseURL(raw string) (*Target, error) {
	if raw == "" {
		return nil, errors.New("connection string is empty")
	}

	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return &Target{Type: SQLite, DSN: sqliteDSN(strings.TrimPrefix(raw, "sqlite://")), Schema: "main"}, nil
	case strings.HasPrefix(raw, "file:"):
		return &Target{Type: SQLite, DSN: sqliteDSN(raw), Schema: "main"}, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return parsePostgresURL(raw)
	case strings.HasPrefix(raw, "mysql://"):
		return parseMySQLURL(raw)
	}

	scheme := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		scheme = raw[:i]
	}
	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedBackend, scheme)
}

func parsePostgresURL(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	q := u.Query()
	schemaName := q.Get("schema")
	if schemaName == "" {
		schemaName = "public"
	}
	q.Del("schema")
	u.RawQuery = q.Encode()
	return &Target{Type: Postgres, DSN: u.String(), Schema: schemaName}, nil
}

// Open parses the connection string and connects to the database.
func Open(ctx context.Context, raw string) (Connector, error) {
	target, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case SQLite:
		return NewSQLiteConnector(ctx, target)
	case Postgres:
		return NewPostgresConnector(ctx, target)
	case MySQL:
		return NewMySQLConnector(ctx, target)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, target.Type)
}

func unsupported(backend Type, c schema.Column) error {
	return fmt.Errorf("%w: %s does not support %s (column %s)", ErrUnsupportedType, backend, c.Type, c.Name)
}

// stepColumns returns the columns a step introduces, used to check type
// support before rendering.
func stepColumns(step schema.Step) []schema.Column {
	switch step.Kind {
	case schema.CreateTable:
		if step.Definition != nil {
			return step.Definition.Columns
		}
	case schema.AddColumn, schema.AlterColumn:
		if step.Column != nil {
			return []schema.Column{*step.Column}
		}
	}
	return nil
}

func joinQuoted(names []string, quote func(string) string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// isExpressionDefault reports whether a default is an expression rather
// than a constant literal.
func isExpressionDefault(d string) bool {
	u := strings.ToUpper(strings.TrimSpace(d))
	return u == "CURRENT_TIMESTAMP" || strings.HasPrefix(u, "(") || strings.HasSuffix(u, ")")
}

func actionClause(fk schema.ForeignKey) string {
	var b strings.Builder
	if fk.OnDelete != "" && fk.OnDelete != schema.NoAction {
		b.WriteString(" ON DELETE ")
		b.WriteString(string(fk.OnDelete))
	}
	if fk.OnUpdate != "" && fk.OnUpdate != schema.NoAction {
		b.WriteString(" ON UPDATE ")
		b.WriteString(string(fk.OnUpdate))
	}
	return b.String()
}

// afterStep returns the table as it looks once step is applied to current.
func afterStep(current *schema.Schema, step schema.Step) (*schema.Table, error) {
	next := current.Clone()
	if err := schema.ApplyStep(next, step); err != nil {
		return nil, err
	}
	t := next.Table(step.TableName())
	if t == nil {
		return nil, fmt.Errorf("%w: table %s", schema.ErrUnknownObject, step.TableName())
	}
	return t, nil
}
