package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

const (
	usersUp  = "-- +migrate Up\nCREATE TABLE users(id INTEGER PRIMARY KEY, email TEXT NOT NULL);\n-- +migrate Down\nDROP TABLE users;"
	eventsUp = "-- +migrate Up\nCREATE TABLE events(id INTEGER PRIMARY KEY, organizer INTEGER REFERENCES users(id));"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func appliedNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM " + migrationTable + " ORDER BY name")
	if err != nil {
		t.Fatalf("query applied: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return names
}

func hasTable(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		t.Fatalf("lookup table %s: %v", table, err)
	}
	return true
}

func TestApplyMigrationsInLexicalOrderOnce(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	files := fstest.MapFS{
		"002_events.sql": {Data: []byte(eventsUp)},
		"001_users.sql":  {Data: []byte(usersUp)},
		"README.md":      {Data: []byte("not a migration")},
	}
	ctx := context.Background()
	for range 2 {
		if err := ApplyMigrations(ctx, db, files, ""); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	got := appliedNames(t, db)
	if len(got) != 2 || got[0] != "001_users.sql" || got[1] != "002_events.sql" {
		t.Fatalf("applied = %v", got)
	}
	if !hasTable(t, db, "users") || !hasTable(t, db, "events") {
		t.Fatal("expected both tables")
	}
}

func TestApplyMigrationsLeavesFailedFileUnrecorded(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()
	broken := fstest.MapFS{"001_users.sql": {Data: []byte("-- +migrate Up\nCREAT TABLE users(id INTEGER);")}}
	if err := ApplyMigrations(ctx, db, broken, ""); err == nil {
		t.Fatal("expected syntax error")
	}
	if got := appliedNames(t, db); len(got) != 0 {
		t.Fatalf("applied after failure = %v", got)
	}

	fixed := fstest.MapFS{"001_users.sql": {Data: []byte(usersUp)}}
	if err := ApplyMigrations(ctx, db, fixed, ""); err != nil {
		t.Fatalf("apply fixed: %v", err)
	}
	if got := appliedNames(t, db); len(got) != 1 {
		t.Fatalf("applied after fix = %v", got)
	}
}

func TestApplyMigrationsKeysByRoot(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	files := fstest.MapFS{"directory/001_users.sql": {Data: []byte(usersUp)}}
	if err := ApplyMigrations(context.Background(), db, files, "directory"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := appliedNames(t, db); len(got) != 1 || got[0] != "directory/001_users.sql" {
		t.Fatalf("applied = %v", got)
	}
}

func TestApplyMigrationsToleratesExistingObjects(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	if _, err := db.Exec("CREATE TABLE users(id INTEGER PRIMARY KEY, email TEXT NOT NULL)"); err != nil {
		t.Fatalf("seed table: %v", err)
	}
	files := fstest.MapFS{"001_users.sql": {Data: []byte(usersUp)}}
	if err := ApplyMigrations(context.Background(), db, files, ""); err != nil {
		t.Fatalf("apply over existing table: %v", err)
	}
	if got := appliedNames(t, db); len(got) != 1 {
		t.Fatalf("applied = %v", got)
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	t.Parallel()

	if err := ApplyMigrations(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected missing db error")
	}
}

func TestExtractUpMigration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "no markers", content: "CREATE TABLE a(id INT);", want: "CREATE TABLE a(id INT);"},
		{name: "up only", content: "-- +migrate Up\nCREATE TABLE a(id INT);", want: "\nCREATE TABLE a(id INT);"},
		{name: "up and down", content: "-- +migrate Up\nCREATE TABLE a(id INT);\n-- +migrate Down\nDROP TABLE a;", want: "\nCREATE TABLE a(id INT);\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractUpMigration(tc.content); got != tc.want {
				t.Fatalf("ExtractUpMigration = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	t.Parallel()

	if IsAlreadyExistsError(nil) {
		t.Fatal("nil is not an exists error")
	}
	if !IsAlreadyExistsError(errors.New("SQL logic error: table users already exists (1)")) {
		t.Fatal("expected table exists match")
	}
	if !IsAlreadyExistsError(errors.New("duplicate column name: city")) {
		t.Fatal("expected duplicate column match")
	}
	if IsAlreadyExistsError(errors.New("no such table: users")) {
		t.Fatal("unexpected match")
	}
}
