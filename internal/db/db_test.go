package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesStateDir(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var mode string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q", mode)
	}
	if _, err := os.Stat(filepath.Join(ws, StateDir, fileName)); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
}
