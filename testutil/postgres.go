package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/live-moderation/db"
)

// PostgresDSN returns TEST_PG_DSN, skipping the test when it is not set.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	return dsn
}

// SetupTestDB creates a test database connection, runs migrations and
// empties note_templates before and after the test.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Connect(PostgresDSN(t))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `DELETE FROM note_templates`); err != nil {
		database.Close()
		t.Fatalf("failed to clear note_templates: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM note_templates`)
		database.Close()
	})
	return database
}
