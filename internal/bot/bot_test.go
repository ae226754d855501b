package bot_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dreamie/internal/bot"
	"dreamie/internal/catalog"
	"dreamie/internal/db"
	"dreamie/internal/domain"
	"dreamie/internal/engine"
	"dreamie/internal/engine/auth"
	"dreamie/internal/migrate"
	"dreamie/internal/notify"
	"dreamie/internal/repo"
	"dreamie/internal/store"
)

var (
	tom   = domain.Requester{AccountID: "u1", Name: "Tom"}
	staff = domain.Actor{AccountID: "staff-1"}
)

func actorOf(r domain.Requester) domain.Actor {
	return domain.Actor{AccountID: r.AccountID, Name: r.Name}
}

// script answers prompts in order; an empty answer simulates a timeout.
type script struct {
	answers []string
	asked   []notify.Prompt
}

func (s *script) Confirm(_ context.Context, _ domain.Requester, p notify.Prompt) (string, error) {
	s.asked = append(s.asked, p)
	if len(s.answers) == 0 {
		return "", notify.ErrNoResponse
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	if a == "" {
		return "", notify.ErrNoResponse
	}
	return a, nil
}

type recorder struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (r *recorder) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) to(aud domain.Audience) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.notes {
		if n.Audience == aud {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	Bot   *bot.Bot
	Notes *recorder
	Ask   *script
	Ctx   context.Context
}

func newTestEnv(t *testing.T, answers ...string) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := store.Open(filepath.Join(dir, "requests.jsonl"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	eng := engine.New(st, catalog.New([]string{"Raymond", "Judy", "Kid Cat"}), conn, engine.DefaultOptions())
	eng.Auth = auth.Roster{Repo: repo.Repo{DB: conn}, Static: auth.ParseStatic([]string{"staff-1:isabelle"})}
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	notes := &recorder{}
	ask := &script{answers: answers}
	return testEnv{Bot: bot.New(eng, notes, ask), Notes: notes, Ask: ask, Ctx: ctx}
}

func (env testEnv) stored(t *testing.T) int {
	t.Helper()
	apps, err := env.Bot.Engine.Search(env.Ctx, engine.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	return len(apps)
}

func TestApplyFlowCreatesApplication(t *testing.T) {
	env := newTestEnv(t, "yes", "3", "YES")
	app, err := env.Bot.Apply(env.Ctx, tom, "kid")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if app.Villager.Name != "Kid Cat" || !app.CanTimeTravel || app.AvailabilityWindow != 3 || app.Status != domain.StatusPending {
		t.Fatalf("app = %+v", app)
	}
	if len(env.Ask.asked) != 3 {
		t.Fatalf("asked %d prompts, want 3 (open plot skipped)", len(env.Ask.asked))
	}
	if got := env.Ask.asked[1].Timeout; got != 600*time.Second {
		t.Fatalf("slot timeout = %s", got)
	}
	if len(env.Notes.to(domain.AudienceRequester)) != 1 || len(env.Notes.to(domain.AudienceLog)) != 1 {
		t.Fatalf("notes = %+v", env.Notes.notes)
	}
}

func TestApplyWithoutTimeTravelAsksForPlot(t *testing.T) {
	env := newTestEnv(t, "no", "yes", "6", "yes")
	app, err := env.Bot.Apply(env.Ctx, tom, "Judy")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if app.CanTimeTravel || app.AvailabilityWindow != 6 {
		t.Fatalf("app = %+v", app)
	}
}

func TestApplyRefusals(t *testing.T) {
	cases := []struct {
		name    string
		answers []string
		want    error
		kind    engine.ErrorKind
	}{
		{"no open plot", []string{"no", "no"}, bot.ErrNoOpenPlot, engine.KindPolicy},
		{"silent at time travel", nil, bot.ErrAbandoned, engine.KindValidation},
		{"silent at slot", []string{"yes", ""}, bot.ErrAbandoned, engine.KindValidation},
		{"declined at the end", []string{"yes", "2", "no"}, bot.ErrAborted, engine.KindValidation},
		{"nonsense slot", []string{"yes", "9"}, bot.ErrAborted, engine.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.answers...)
			_, err := env.Bot.Apply(env.Ctx, tom, "Raymond")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if got := bot.Kind(err); got != tc.kind {
				t.Fatalf("kind = %s, want %s", got, tc.kind)
			}
			if n := env.stored(t); n != 0 {
				t.Fatalf("%d applications persisted", n)
			}
			if len(env.Notes.notes) != 0 {
				t.Fatalf("notified on refusal: %+v", env.Notes.notes)
			}
		})
	}
}

func TestApplyPrecheckFailsBeforePrompting(t *testing.T) {
	env := newTestEnv(t, "yes", "1", "yes")
	if _, err := env.Bot.Apply(env.Ctx, tom, "Raymond"); err != nil {
		t.Fatal(err)
	}
	env.Ask.asked = nil
	env.Ask.answers = []string{"yes", "1", "yes"}
	_, err := env.Bot.Apply(env.Ctx, tom, "Judy")
	if !errors.Is(err, engine.ErrLimitExceeded) {
		t.Fatalf("err = %v, want limit", err)
	}
	if len(env.Ask.asked) != 0 {
		t.Fatalf("prompted %d times before refusing", len(env.Ask.asked))
	}
	if _, err := env.Bot.Apply(env.Ctx, tom, "Nobody"); !errors.Is(err, engine.ErrUnknownVillager) {
		t.Fatalf("unknown villager err = %v", err)
	}
}

func TestApplyNeedsConfirmer(t *testing.T) {
	env := newTestEnv(t)
	env.Bot.Confirmer = nil
	if _, err := env.Bot.Apply(env.Ctx, tom, "Raymond"); !errors.Is(err, bot.ErrNoConfirmer) {
		t.Fatalf("err = %v", err)
	}
}

func TestLifecycleNotifiesRequesterAndStaff(t *testing.T) {
	env := newTestEnv(t)
	env.Bot.Confirmer = nil
	app, err := env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Raymond", Window: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Bot.Claim(env.Ctx, staff, app.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Bot.Found(env.Ctx, staff, app.ID); err != nil {
		t.Fatal(err)
	}
	ready, err := env.Bot.Ready(env.Ctx, actorOf(tom), "")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if ready.Status != domain.StatusReady {
		t.Fatalf("status = %s", ready.Status)
	}
	dms := env.Notes.to(domain.AudienceStaff)
	if len(dms) != 1 || dms[0].Recipient.AccountID != "staff-1" || dms[0].Recipient.Name != "isabelle" {
		t.Fatalf("staff DMs = %+v", dms)
	}
	closed, err := env.Bot.Close(env.Ctx, staff, app.ID, false)
	if err != nil || closed.Status != domain.StatusClosed {
		t.Fatalf("close: %+v %v", closed, err)
	}
	// created, claim, find, close reach the requester; ready does not
	if got := len(env.Notes.to(domain.AudienceRequester)); got != 4 {
		t.Fatalf("requester notes = %d", got)
	}
	if got := len(env.Notes.to(domain.AudienceLog)); got != 5 {
		t.Fatalf("log notes = %d", got)
	}
}

func TestReadyAndCancelAskFirst(t *testing.T) {
	env := newTestEnv(t, "no")
	app, err := env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Raymond", Window: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Bot.Cancel(env.Ctx, actorOf(tom), ""); !errors.Is(err, bot.ErrAborted) {
		t.Fatalf("declined cancel err = %v", err)
	}
	env.Ask.answers = []string{"yes"}
	got, err := env.Bot.Cancel(env.Ctx, actorOf(tom), "")
	if err != nil || got.ID != app.ID || got.Status != domain.StatusCancel {
		t.Fatalf("cancel = %+v %v", got, err)
	}
	if _, err := env.Bot.Ready(env.Ctx, actorOf(tom), ""); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("ready with nothing open err = %v", err)
	}
}

func TestStaffCancelTellsRequester(t *testing.T) {
	env := newTestEnv(t, "yes")
	app, err := env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Raymond", Window: 2})
	if err != nil {
		t.Fatal(err)
	}
	before := len(env.Notes.to(domain.AudienceRequester))
	if _, err := env.Bot.Cancel(env.Ctx, staff, app.ID); err != nil {
		t.Fatal(err)
	}
	if got := len(env.Notes.to(domain.AudienceRequester)); got != before+1 {
		t.Fatalf("requester notes %d -> %d", before, got)
	}
}

func TestStaffQueriesRequireStaff(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Judy", Window: 1}); err != nil {
		t.Fatal(err)
	}
	self := domain.Actor{AccountID: "u1", Staff: true}
	if _, err := env.Bot.List(env.Ctx, self, ""); !engine.IsForbidden(err) {
		t.Fatalf("list err = %v", err)
	}
	if _, err := env.Bot.Search(env.Ctx, self, "pending"); !engine.IsForbidden(err) {
		t.Fatalf("search err = %v", err)
	}
	if _, err := env.Bot.Summary(env.Ctx, self); !engine.IsForbidden(err) {
		t.Fatalf("summary err = %v", err)
	}

	list, err := env.Bot.List(env.Ctx, staff, "")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v %v", list, err)
	}
	found, err := env.Bot.Search(env.Ctx, staff, "name", "TO")
	if err != nil || len(found) != 1 {
		t.Fatalf("search by name = %v %v", found, err)
	}
	found, err = env.Bot.Search(env.Ctx, staff, "status", "approved")
	if err != nil || len(found) != 0 {
		t.Fatalf("search by status = %v %v", found, err)
	}
	sum, err := env.Bot.Summary(env.Ctx, staff)
	if err != nil || sum.For(domain.StatusPending).String() != "1 (100.000%)" {
		t.Fatalf("summary = %+v %v", sum, err)
	}
}

func TestParseSearch(t *testing.T) {
	cases := []struct {
		args []string
		want engine.Filter
	}{
		{[]string{"status", "reject"}, engine.Filter{Status: domain.StatusRejected}},
		{[]string{"READY"}, engine.Filter{Status: domain.StatusReady}},
		{[]string{"close"}, engine.Filter{Status: domain.StatusClosed}},
		{[]string{"name", "fox", "fair"}, engine.Filter{Name: "fox fair"}},
		{[]string{"foxfair"}, engine.Filter{Name: "foxfair"}},
	}
	for _, tc := range cases {
		got, err := bot.ParseSearch(tc.args)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if got != tc.want {
			t.Fatalf("%v = %+v, want %+v", tc.args, got, tc.want)
		}
	}
	for _, bad := range [][]string{nil, {"status"}, {"status", "sleeping"}, {"name"}} {
		if _, err := bot.ParseSearch(bad); !errors.Is(err, bot.ErrBadQuery) {
			t.Fatalf("%v err = %v", bad, err)
		}
	}
}

func TestToggleLock(t *testing.T) {
	env := newTestEnv(t, "yes")
	locked, err := env.Bot.ToggleLock(env.Ctx, staff)
	if err != nil || !locked {
		t.Fatalf("toggle = %v %v", locked, err)
	}
	_, err = env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Judy", Window: 1})
	if !errors.Is(err, engine.ErrQueueLocked) {
		t.Fatalf("create while locked err = %v", err)
	}
	env.Ask.answers = []string{"no"}
	if _, err := env.Bot.ToggleLock(env.Ctx, staff); !errors.Is(err, bot.ErrAborted) {
		t.Fatalf("declined toggle err = %v", err)
	}
	if err := env.Bot.SetLock(env.Ctx, staff, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Bot.ToggleLock(env.Ctx, actorOf(tom)); !engine.IsForbidden(err) {
		t.Fatalf("requester toggle err = %v", err)
	}
}

func TestViewOwnerOrStaff(t *testing.T) {
	env := newTestEnv(t)
	app, err := env.Bot.Submit(env.Ctx, engine.CreateOptions{Requester: tom, Villager: "Judy", Window: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Bot.View(env.Ctx, actorOf(tom), app.ID); err != nil {
		t.Fatalf("owner view: %v", err)
	}
	if _, err := env.Bot.View(env.Ctx, staff, app.ID); err != nil {
		t.Fatalf("staff view: %v", err)
	}
	if _, err := env.Bot.View(env.Ctx, domain.Actor{AccountID: "u9"}, app.ID); !engine.IsForbidden(err) {
		t.Fatalf("stranger view err = %v", err)
	}
}
