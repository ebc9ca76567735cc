package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for _, table := range []string{"documents", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}

	var index string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_documents_video_id'").Scan(&index)
	if err != nil {
		t.Errorf("change lookup index was not created: %v", err)
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckDBMigrationStatus(db, SQLite)
		if err == nil {
			t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
		}
		if err.Error() != "database has no schema version (needs migration)" {
			t.Errorf("CheckDBMigrationStatus() error = %q", err.Error())
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db, SQLite); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}
		if err := CheckDBMigrationStatus(db, SQLite); err != nil {
			t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
		}
	})

	t.Run("unknown dialect", func(t *testing.T) {
		db := openTestDB(t)
		if err := CheckDBMigrationStatus(db, "oracle"); err == nil {
			t.Error("CheckDBMigrationStatus() expected error for unknown dialect")
		}
	})
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("first MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestPostgresMigrationsEmbedded(t *testing.T) {
	src, err := newSource(Postgres)
	if err != nil {
		t.Fatalf("newSource() error = %v", err)
	}
	defer src.Close()

	latest, err := getLatestVersion(src)
	if err != nil {
		t.Fatalf("getLatestVersion() error = %v", err)
	}
	if latest != 2 {
		t.Errorf("latest postgres version = %d, want 2", latest)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
