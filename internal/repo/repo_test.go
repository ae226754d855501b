package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dreamie/internal/db"
	"dreamie/internal/domain"
	"dreamie/internal/events"
	"dreamie/internal/migrate"
	"dreamie/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestSettingsUpsert(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	if _, err := r.GetSetting(ctx, repo.SettingQueueLocked); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []string{"true", "false"} {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.SetSettingTx(ctx, tx, repo.SettingQueueLocked, v, "staff-1", now); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	got, err := r.GetSetting(ctx, repo.SettingQueueLocked)
	if err != nil || got != "false" {
		t.Fatalf("get = %q, %v", got, err)
	}
}

func TestStaffRoster(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tx, _ := r.DB.BeginTx(ctx, nil)
	if err := r.GrantStaffTx(ctx, tx, domain.StaffMember{AccountID: "42", Handle: "isabelle", GrantedBy: "root"}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	tx.Commit()
	m, err := r.GetStaff(ctx, "42")
	if err != nil || m.Handle != "isabelle" {
		t.Fatalf("get staff = %+v, %v", m, err)
	}
	list, err := r.ListStaff(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	tx, _ = r.DB.BeginTx(ctx, nil)
	if err := r.RevokeStaffTx(ctx, tx, "42"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.RevokeStaffTx(ctx, tx, "42"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
	tx.Commit()
	if _, err := r.GetStaff(ctx, "42"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	key := domain.APIKey{ID: "k1", AccountID: "42", Name: "chat bridge", KeyHash: repo.HashAPIKey("secret"), CreatedAt: "2024-01-01T00:00:00Z"}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertAPIKeyTx(ctx, tx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	if err != nil || got.AccountID != "42" || got.Name != "chat bridge" {
		t.Fatalf("lookup = %+v, %v", got, err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("other")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, err := r.GetAPIKey(ctx, "k1"); err != nil || got.KeyHash != key.KeyHash {
		t.Fatalf("get = %+v, %v", got, err)
	}
	tx, err = r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.DeleteAPIKeyTx(ctx, tx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKeyTx(ctx, tx, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	keys, err := r.ListAPIKeys(ctx, "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("list after delete = %v, %v", keys, err)
	}
}

func TestEventsCursor(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	w := events.Writer{DB: r.DB, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	for _, id := range []string{"AAAAAA", "BBBBBB", "CCCCCC"} {
		if err := w.Record(ctx, events.TypeApplicationCreated, events.KindApplication, id, "u1", events.EventPayload{"villager": "Raymond"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest = %d, %v", latest, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil || len(after) != 2 || after[0].EntityID != "BBBBBB" {
		t.Fatalf("after = %+v, %v", after, err)
	}
	newest, err := r.LatestEvents(ctx, repo.EventFilters{EntityID: "CCCCCC"})
	if err != nil || len(newest) != 1 || newest[0].Payload != `{"villager":"Raymond"}` {
		t.Fatalf("latest events = %+v, %v", newest, err)
	}
}
