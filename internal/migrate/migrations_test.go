package migrate

import (
	"testing"

	"taskboard/internal/db"
)

func TestDialectsHaveMatchingMigrations(t *testing.T) {
	sqlite, err := loadMigrations("sqlite")
	if err != nil {
		t.Fatalf("load sqlite: %v", err)
	}
	pg, err := loadMigrations("postgres")
	if err != nil {
		t.Fatalf("load postgres: %v", err)
	}
	if len(sqlite) == 0 || len(sqlite) != len(pg) {
		t.Fatalf("sqlite has %d migrations, postgres %d", len(sqlite), len(pg))
	}
	for i := range sqlite {
		if sqlite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, sqlite[i].Version, pg[i].Version)
		}
	}
	if _, err := Dialect("mysql"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	var n int
	if err := conn.Get(&n, `SELECT count(*) FROM users`); err != nil {
		t.Fatalf("users table missing: %v", err)
	}
}
