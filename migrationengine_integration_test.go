//go:build integration

package migrationengine

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tordrt/migrationengine/internal/schema"
)

var (
	postgresOnce sync.Once
	postgresURL  string
	postgresErr  error
)

// postgresConnectionString returns POSTGRES_TEST_URL or starts a shared
// PostgreSQL container on first use.
func postgresConnectionString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("POSTGRES_TEST_URL"); url != "" {
		return url
	}

	postgresOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("engine"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			postgresErr = err
			return
		}
		dsn, err := container.ConnectionString(ctx)
		if err != nil {
			_ = container.Terminate(ctx)
			postgresErr = err
			return
		}
		postgresURL = dsn + "sslmode=disable"
	})
	if postgresErr != nil {
		t.Skipf("PostgreSQL unavailable: %v", postgresErr)
	}
	return postgresURL
}

// withSchema points a PostgreSQL URL at a dedicated schema.
func withSchema(url, name string) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
		if strings.HasSuffix(url, "?") || strings.HasSuffix(url, "&") {
			sep = ""
		}
	}
	return url + sep + "schema=" + name
}

// eachBackend runs fn against a reset database of every reachable backend.
func eachBackend(t *testing.T, fn func(t *testing.T, e *Engine)) {
	backends := map[string]func(t *testing.T) string{
		"sqlite": func(t *testing.T) string {
			return "sqlite://" + t.TempDir() + "/it.db"
		},
		"postgresql": func(t *testing.T) string {
			return withSchema(postgresConnectionString(t), "it_"+strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_")))
		},
		"mysql": func(t *testing.T) string {
			url := os.Getenv("MYSQL_TEST_URL")
			if url == "" {
				t.Skip("MYSQL_TEST_URL is not set")
			}
			return url
		},
	}

	for _, name := range []string{"sqlite", "postgresql", "mysql"} {
		t.Run(name, func(t *testing.T) {
			e, err := New(backends[name](t), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = e.Close() })

			_, err = e.Reset(context.Background())
			require.NoError(t, err)
			fn(t, e)
		})
	}
}

const shopModel = `
model Customer {
  id     Int     @id @default(autoincrement())
  email  String  @unique
  active Boolean
  notes  String?
}

model Order {
  id         Int      @id @default(autoincrement())
  customerId Int      @relation(Customer.id, onDelete: Cascade)
  total      Decimal
  placedAt   DateTime @default(now())

  @@index([customerId])
}
`

func TestIntegrationLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine) {
		ctx := context.Background()

		inferred, err := e.InferMigrationSteps(ctx, InferMigrationStepsInput{MigrationID: "init", Datamodel: shopModel})
		require.NoError(t, err)
		require.NotEmpty(t, inferred.DatamodelSteps)

		preview, err := e.CalculateDatabaseSteps(ctx, CalculateDatabaseStepsInput{StepsToApply: inferred.DatamodelSteps})
		require.NoError(t, err)
		assert.Len(t, preview.DatabaseSteps, len(inferred.DatamodelSteps))

		_, err = e.ApplyMigration(ctx, ApplyMigrationInput{MigrationID: "init", Steps: inferred.DatamodelSteps})
		require.NoError(t, err)

		live, err := e.Inspect(ctx)
		require.NoError(t, err)
		desired, err := e.parseDatamodel(shopModel)
		require.NoError(t, err)
		assert.Empty(t, schema.Differences(live, desired))

		again, err := e.InferMigrationSteps(ctx, InferMigrationStepsInput{MigrationID: "noop", Datamodel: shopModel})
		require.NoError(t, err)
		assert.Empty(t, again.DatamodelSteps)

		next := strings.Replace(shopModel, "notes  String?", "notes  String?\n  phone  String?", 1)
		inferred, err = e.InferMigrationSteps(ctx, InferMigrationStepsInput{MigrationID: "phone", Datamodel: next})
		require.NoError(t, err)
		require.Len(t, inferred.DatamodelSteps, 1)
		_, err = e.ApplyMigration(ctx, ApplyMigrationInput{MigrationID: "phone", Steps: inferred.DatamodelSteps})
		require.NoError(t, err)

		undo, err := e.UnapplyMigration(ctx)
		require.NoError(t, err)
		assert.Equal(t, "phone", undo.RolledBack)
		assert.Equal(t, "init", undo.Active)

		live, err = e.Inspect(ctx)
		require.NoError(t, err)
		assert.Empty(t, schema.Differences(live, desired))

		list, err := e.ListMigrations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "RolledBack", list[2].Status)

		_, err = e.Reset(ctx)
		require.NoError(t, err)
		live, err = e.Inspect(ctx)
		require.NoError(t, err)
		assert.Empty(t, live.Tables)
	})
}
