package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_EmbeddedSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	if err := Run(ctx, db, quiet()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, tbl := range []string{"channel_state", "thing_status", "schema_migrations"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tbl).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", tbl, err)
		}
	}

	// Idempotent.
	if err := Run(ctx, db, quiet()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("applied migrations = %d, want 1", n)
	}
}

func TestRun_OrderAndSkipping(t *testing.T) {
	db := openMemory(t)
	files := fstest.MapFS{
		"0002_second.sql": {Data: []byte(`INSERT INTO log (step) VALUES ('second');`)},
		"0001_first.sql":  {Data: []byte(`CREATE TABLE log (step TEXT); INSERT INTO log (step) VALUES ('first');`)},
		"README.md":       {Data: []byte("ignored")},
		"notes.sql":       {Data: []byte("ignored too")},
	}

	if err := run(context.Background(), db, files, quiet()); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	rows, err := db.Query(`SELECT step FROM log ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var steps []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("scan: %v", err)
		}
		steps = append(steps, s)
	}
	if len(steps) != 2 || steps[0] != "first" || steps[1] != "second" {
		t.Errorf("steps = %v, want [first second]", steps)
	}
}

func TestRun_FailedMigrationRollsBack(t *testing.T) {
	db := openMemory(t)
	files := fstest.MapFS{
		"0001_broken.sql": {Data: []byte(`CREATE TABLE ok (id INTEGER); CREATE TABLE (;`)},
	}

	if err := run(context.Background(), db, files, quiet()); err == nil {
		t.Fatal("run() error = nil, want non-nil")
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("recorded migrations = %d, want 0", n)
	}
}

func TestRun_DuplicateVersion(t *testing.T) {
	db := openMemory(t)
	files := fstest.MapFS{
		"0001_a.sql": {Data: []byte(`SELECT 1;`)},
		"0001_b.sql": {Data: []byte(`SELECT 1;`)},
	}
	if err := run(context.Background(), db, files, quiet()); err == nil {
		t.Fatal("run() error = nil, want duplicate version error")
	}
}
