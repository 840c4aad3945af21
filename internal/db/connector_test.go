package db

import (
	"errors"
	"strings"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantType   Type
		wantDSN    string
		wantSchema string
		wantErr    error
	}{
		{
			name:       "sqlite scheme",
			url:        "sqlite://dev.db",
			wantType:   SQLite,
			wantDSN:    "dev.db?_foreign_keys=1",
			wantSchema: "main",
		},
		{
			name:       "sqlite absolute path",
			url:        "sqlite:///tmp/dev.db",
			wantType:   SQLite,
			wantDSN:    "/tmp/dev.db?_foreign_keys=1",
			wantSchema: "main",
		},
		{
			name:       "file URI keeps its params",
			url:        "file:dev.db?cache=shared",
			wantType:   SQLite,
			wantDSN:    "file:dev.db?cache=shared&_foreign_keys=1",
			wantSchema: "main",
		},
		{
			name:       "postgres default schema",
			url:        "postgres://u:p@localhost:5432/app?sslmode=disable",
			wantType:   Postgres,
			wantDSN:    "postgres://u:p@localhost:5432/app?sslmode=disable",
			wantSchema: "public",
		},
		{
			name:       "postgresql schema param is stripped",
			url:        "postgresql://u:p@localhost/app?schema=tenant",
			wantType:   Postgres,
			wantDSN:    "postgresql://u:p@localhost/app",
			wantSchema: "tenant",
		},
		{
			name:       "mysql",
			url:        "mysql://root:secret@db:3307/shop",
			wantType:   MySQL,
			wantSchema: "shop",
		},
		{
			name:    "unknown scheme",
			url:     "mongodb://localhost/x",
			wantErr: ErrUnsupportedBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseURL(tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseURL() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL() unexpected error: %v", err)
			}
			if target.Type != tt.wantType {
				t.Errorf("ParseURL() type = %s, want %s", target.Type, tt.wantType)
			}
			if tt.wantDSN != "" && target.DSN != tt.wantDSN {
				t.Errorf("ParseURL() dsn = %s, want %s", target.DSN, tt.wantDSN)
			}
			if target.Schema != tt.wantSchema {
				t.Errorf("ParseURL() schema = %s, want %s", target.Schema, tt.wantSchema)
			}
		})
	}
}

func TestParseURLMySQLDSN(t *testing.T) {
	target, err := ParseURL("mysql://root:secret@db/shop?charset=utf8mb4")
	if err != nil {
		t.Fatalf("ParseURL() unexpected error: %v", err)
	}
	for _, want := range []string{"root:secret@tcp(db:3306)/shop", "charset=utf8mb4"} {
		if !strings.Contains(target.DSN, want) {
			t.Errorf("ParseURL() dsn = %s, want it to contain %s", target.DSN, want)
		}
	}

	if _, err := ParseURL("mysql://root@db:3306/"); err == nil {
		t.Error("ParseURL() expected an error for a URL without database")
	}
}

func TestParseURLEmpty(t *testing.T) {
	if _, err := ParseURL(""); err == nil {
		t.Error("ParseURL(\"\") expected error")
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"sqlite", "postgresql", "postgres", "mysql", "MySQL"} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseType("oracle"); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("ParseType(oracle) error = %v, want ErrUnsupportedBackend", err)
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	inner := errors.New("refused")
	err := error(&ConnectionError{Backend: MySQL, Err: inner})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Backend != MySQL {
		t.Fatalf("errors.As() failed for %v", err)
	}
	if !errors.Is(err, inner) {
		t.Error("ConnectionError does not unwrap to its cause")
	}
}

func TestRowSetConversions(t *testing.T) {
	rs := &RowSet{
		Columns: []string{"s", "b", "n", "i32", "null", "flag"},
		Rows:    [][]any{{"text", []byte("bytes"), int64(7), int32(3), nil, int64(1)}},
	}

	if got := rs.String(0, "s"); got != "text" {
		t.Errorf("String(s) = %q, want text", got)
	}
	if got := rs.String(0, "b"); got != "bytes" {
		t.Errorf("String(b) = %q, want bytes", got)
	}
	if n, ok := rs.Int64(0, "n"); !ok || n != 7 {
		t.Errorf("Int64(n) = %d, %v, want 7, true", n, ok)
	}
	if n, ok := rs.Int64(0, "i32"); !ok || n != 3 {
		t.Errorf("Int64(i32) = %d, %v, want 3, true", n, ok)
	}
	if _, ok := rs.NullString(0, "null"); ok {
		t.Error("NullString(null) reported a value")
	}
	if !rs.Bool(0, "flag") {
		t.Error("Bool(flag) = false, want true")
	}
	if rs.Value(0, "missing") != nil {
		t.Error("Value(missing) should be nil")
	}
}
