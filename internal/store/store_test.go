package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"dreamie/internal/domain"
	"dreamie/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "data", "requests.jsonl"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func sampleApp(id, account, villager string, created time.Time) domain.Application {
	return domain.Application{
		ID:                 id,
		Requester:          domain.Requester{AccountID: account, Name: "user-" + account},
		Villager:           domain.Villager{Name: villager, Link: "https://villagerdb.com/villager/" + strings.ToLower(villager)},
		Status:             domain.StatusPending,
		CanTimeTravel:      true,
		AvailabilityWindow: 3,
		CreatedAt:          created,
	}
}

func TestOpenCreatesEmptyLog(t *testing.T) {
	s := newStore(t)
	apps, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(apps) != 0 {
		t.Fatalf("expected empty store, got %d", len(apps))
	}
}

func TestReplaceAllLoadAllIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 13, 4, 5, 0, time.UTC)
	a := sampleApp("AAAAAA", "1", "Raymond", base)
	b := sampleApp("BBBBBB", "2", "Judy", base.Add(time.Hour))
	b.Status = domain.StatusFound
	b.LastModifiedAt = base.Add(2 * time.Hour)
	b.AssignedStaff = "staffer"
	b.AssignedStaffID = "99"
	if err := s.ReplaceAll(ctx, map[string]domain.Application{a.ID: a, b.ID: b}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	first, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.ReplaceAll(ctx, first); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	second, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reload differs:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(second["BBBBBB"], b) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", second["BBBBBB"], b)
	}
}

func TestLoadLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	app := sampleApp("AAAAAA", "1", "Raymond", base)
	if err := s.AppendOne(ctx, app); err != nil {
		t.Fatalf("append: %v", err)
	}
	app.Status = domain.StatusCancel
	line, err := s.Codec().Encode(app)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write(append(line, '\n'))
	f.Close()

	apps, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(apps) != 1 || apps["AAAAAA"].Status != domain.StatusCancel {
		t.Fatalf("expected later record to win, got %+v", apps)
	}
}

func TestLoadLegacyRecord(t *testing.T) {
	s := newStore(t)
	legacy := `{"X1Y2Z3": {"name": "foxfair#2155", "user_id": 123456789012345678, "villager": "Raymond, https://villagerdb.com/villager/raymond", "created_time": "2020-07-01 09:15:00PM UTC", "status": "PENDING", "can_time_travel": false, "avail_time": "16:00-19:59 UTC"}}` + "\n"
	if err := os.WriteFile(s.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	apps, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	app := apps["X1Y2Z3"]
	if app.Requester.AccountID != "123456789012345678" {
		t.Fatalf("account id = %q", app.Requester.AccountID)
	}
	if app.Villager.Name != "Raymond" || app.Villager.Link != "https://villagerdb.com/villager/raymond" {
		t.Fatalf("villager = %+v", app.Villager)
	}
	if !app.LastModifiedAt.IsZero() || app.AssignedStaff != "" {
		t.Fatalf("expected defaults for missing fields, got %+v", app)
	}
	if app.AvailabilityWindow != 5 {
		t.Fatalf("window = %d", app.AvailabilityWindow)
	}
	want := time.Date(2020, 7, 1, 21, 15, 0, 0, time.UTC)
	if !app.CreatedAt.Equal(want) {
		t.Fatalf("created = %v", app.CreatedAt)
	}
}

func TestTornTrailingLineIsDroppedThenRepaired(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.AppendOne(ctx, sampleApp("AAAAAA", "1", "Raymond", base)); err != nil {
		t.Fatal(err)
	}
	f, _ := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(`{"BBBBBB": {"name": "half`)
	f.Close()

	apps, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load with torn tail: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("expected torn record dropped, got %d", len(apps))
	}
	if err := s.AppendOne(ctx, sampleApp("CCCCCC", "3", "Judy", base.Add(time.Minute))); err != nil {
		t.Fatalf("append after torn tail: %v", err)
	}
	apps, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load after repair: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("expected 2 applications after repair, got %d", len(apps))
	}
}

func TestUnterminatedTrailingRecordIsKeptAndRepaired(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	line, err := s.Codec().Encode(sampleApp("AAAAAA", "1", "Raymond", base))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), line, 0o644); err != nil {
		t.Fatal(err)
	}

	apps, err := s.LoadAll(ctx)
	if err != nil || len(apps) != 1 {
		t.Fatalf("load unterminated record: %d apps, %v", len(apps), err)
	}
	if err := s.AppendOne(ctx, sampleApp("BBBBBB", "2", "Judy", base.Add(time.Minute))); err != nil {
		t.Fatalf("append after unterminated record: %v", err)
	}
	apps, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := apps["AAAAAA"]; !ok || len(apps) != 2 {
		t.Fatalf("expected both records, got %v", apps)
	}
	data, _ := os.ReadFile(s.Path())
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d in %q", n, data)
	}
}

func TestCorruptMiddleLineFails(t *testing.T) {
	s := newStore(t)
	content := "not json\n" + `{"AAAAAA": {"name": "a", "user_id": "1", "villager": "Raymond", "status": "PENDING", "created_time": ""}}` + "\n"
	os.WriteFile(s.Path(), []byte(content), 0o644)
	_, err := s.LoadAll(context.Background())
	if !errors.Is(err, store.ErrCorrupt) || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadMissingFileUnavailable(t *testing.T) {
	s := newStore(t)
	os.Remove(s.Path())
	if _, err := s.LoadAll(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.AppendOne(ctx, sampleApp("AAAAAA", "1", "Raymond", base))
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *store.Tx) error {
		app, _ := tx.Get("AAAAAA")
		app.Status = domain.StatusClosed
		if err := tx.Put(app); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	apps, _ := s.LoadAll(ctx)
	if apps["AAAAAA"].Status != domain.StatusPending {
		t.Fatalf("failed update leaked: %s", apps["AAAAAA"].Status)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.AppendOne(ctx, sampleApp("AAAAAA", "1", "Raymond", base)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOne(ctx, sampleApp("AAAAAA", "2", "Judy", base)); !errors.Is(err, store.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ID%04d", i)
			if err := s.AppendOne(ctx, sampleApp(id, fmt.Sprint(i), "Raymond", base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Errorf("append %s: %v", id, err)
			}
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.LoadAll(ctx); err != nil {
				t.Errorf("load: %v", err)
			}
		}()
	}
	wg.Wait()
	apps, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps) != 20 {
		t.Fatalf("expected 20 applications, got %d", len(apps))
	}
}

func TestReplaceAllLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.ReplaceAll(ctx, map[string]domain.Application{"AAAAAA": sampleApp("AAAAAA", "1", "Raymond", base)})
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the record file, found %d entries", len(entries))
	}
}

func TestOnCommitRunsOnlyAfterWrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var fired []string
	err := s.Update(ctx, func(tx *store.Tx) error {
		tx.OnCommit(func() { fired = append(fired, "ok") })
		return tx.Insert(sampleApp("AAAAAA", "1", "Raymond", base))
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Update(ctx, func(tx *store.Tx) error {
		tx.OnCommit(func() { fired = append(fired, "failed") })
		return errors.New("abort")
	})
	if len(fired) != 1 || fired[0] != "ok" {
		t.Fatalf("unexpected hooks: %v", fired)
	}
}

func TestCheckLayout(t *testing.T) {
	if err := store.CheckLayout(store.DefaultTimeLayout); err != nil {
		t.Fatalf("default layout: %v", err)
	}
	for _, layout := range []string{"%Y-%m-%d %I:%M:%S%p %Z", "2006-01-02", "15:04:05", "2006-01-02 03:04:05"} {
		if err := store.CheckLayout(layout); err == nil {
			t.Fatalf("%q accepted", layout)
		}
	}
}
