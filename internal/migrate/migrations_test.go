package migrate_test

import (
	"context"
	"testing"

	"dreamie/internal/db"
	"dreamie/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := migrate.Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("expected migrations to run")
	}
	again, err := migrate.Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no-op, applied %v", again)
	}
	v, err := migrate.Current(ctx, conn)
	if err != nil || v < 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES ('k','v','now')`); err != nil {
		t.Fatalf("settings table missing: %v", err)
	}
}
