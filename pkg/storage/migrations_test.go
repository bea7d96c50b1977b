package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestRunMigrationsFreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("runMigrations() failed: %v", err)
	}

	version, err := getCurrentVersion(db)
	if err != nil {
		t.Fatalf("getCurrentVersion() failed: %v", err)
	}

	want := migrations[len(migrations)-1].Version
	if version != want {
		t.Errorf("version after migration = %d, want %d", version, want)
	}

	var name string
	err = db.QueryRow(`
		SELECT name FROM sqlite_master WHERE type='table' AND name='decisions'
	`).Scan(&name)
	if err != nil {
		t.Fatalf("decisions table missing after migration: %v", err)
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first runMigrations() failed: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second runMigrations() failed: %v", err)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("schema_version query failed: %v", err)
	}
	if rows != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d (no duplicate applications)", rows, len(migrations))
	}
}

func TestGetCurrentVersionFreshDatabase(t *testing.T) {
	db := openTestDB(t)

	version, err := getCurrentVersion(db)
	if err != nil {
		t.Fatalf("getCurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("fresh database version = %d, want 0", version)
	}
}

func TestMigrationVersionsAreUniqueAndOrdered(t *testing.T) {
	seen := map[int]bool{}
	for _, m := range getMigrations() {
		if seen[m.Version] {
			t.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
	}

	sorted := getMigrations()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version <= sorted[i-1].Version {
			t.Errorf("migrations not sorted at index %d", i)
		}
	}
}
