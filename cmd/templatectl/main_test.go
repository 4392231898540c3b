package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/onnwee/live-moderation/testutil"
)

const sampleTemplates = `[
  {"id": "t-1", "label": "Spam", "text": "Please stop posting links.", "category": "spam", "status": "approved"},
  {"id": "t-2", "label": "Price", "text": "Prices are in the pinned post.", "category": "faq"}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	bolt := filepath.Join(t.TempDir(), "templates.db")
	in := writeFile(t, "in.json", sampleTemplates)

	var out bytes.Buffer
	if err := run(ctx, []string{"--bolt", bolt, "import", in}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := gjson.Get(out.String(), "imported").Int(); got != 2 {
		t.Fatalf("imported = %d, want 2", got)
	}

	exportFile := filepath.Join(t.TempDir(), "export.json")
	if err := run(ctx, []string{"--bolt", bolt, "export", "--out", exportFile}, &out); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(exportFile)
	if err != nil {
		t.Fatal(err)
	}
	if n := gjson.GetBytes(data, "templates.#").Int(); n != 2 {
		t.Fatalf("exported %d templates, want 2", n)
	}
	if v := gjson.GetBytes(data, `templates.#(id=="t-2").status`).String(); v != "draft" {
		t.Fatalf("t-2 status = %q, want draft", v)
	}

	// The export document can be imported into a fresh store.
	fresh := filepath.Join(t.TempDir(), "fresh.db")
	out.Reset()
	if err := run(ctx, []string{"--bolt", fresh, "import", exportFile}, &out); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if got := gjson.Get(out.String(), "imported").Int(); got != 2 {
		t.Fatalf("re-imported = %d, want 2", got)
	}
}

func TestImportDryRunDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	bolt := filepath.Join(t.TempDir(), "templates.db")
	in := writeFile(t, "in.json", sampleTemplates)

	if err := run(ctx, []string{"--bolt", bolt, "import", "--dry-run", in}, &bytes.Buffer{}); err != nil {
		t.Fatalf("dry-run import: %v", err)
	}
	var out bytes.Buffer
	if err := run(ctx, []string{"--bolt", bolt, "stats"}, &out); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := gjson.Get(out.String(), "total").Int(); got != 0 {
		t.Fatalf("total = %d after dry run, want 0", got)
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	bolt := filepath.Join(t.TempDir(), "templates.db")
	in := writeFile(t, "bad.json", `[{"id": "t-1", "label": "x", "text": "y"}]`)
	err := run(context.Background(), []string{"--bolt", bolt, "import", in}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing category")
	}
}

func TestRunRequiresStoreAndCommand(t *testing.T) {
	t.Setenv("BOLT_PATH", "")
	t.Setenv("DB_DSN", "")
	if err := run(context.Background(), []string{"stats"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without a store")
	}
	bolt := filepath.Join(t.TempDir(), "templates.db")
	if err := run(context.Background(), []string{"--bolt", bolt}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without a command")
	}
	if err := run(context.Background(), []string{"--bolt", bolt, "frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestImportPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	dsn := testutil.PostgresDSN(t)
	in := writeFile(t, "in.json", sampleTemplates)

	if err := run(context.Background(), []string{"--dsn", dsn, "import", in}, &bytes.Buffer{}); err != nil {
		t.Fatalf("import: %v", err)
	}
	var n int
	if err := database.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM note_templates`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	if err := run(context.Background(), []string{"migrate"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without a dsn")
	}
}

func TestMigrateReportsVersion(t *testing.T) {
	dsn := testutil.PostgresDSN(t)
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--dsn", dsn, "migrate"}, &out); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if v := gjson.Get(out.String(), "version").Int(); v < 1 {
		t.Fatalf("version = %d, want >= 1", v)
	}
	if gjson.Get(out.String(), "dirty").Bool() {
		t.Fatal("database left dirty")
	}
}
