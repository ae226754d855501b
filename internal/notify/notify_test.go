package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dreamie/internal/domain"
	"dreamie/internal/notify"
)

type failing struct{ err error }

func (f failing) Notify(context.Context, domain.Notification) error { return f.err }

func TestLogNotifierWritesFields(t *testing.T) {
	var buf bytes.Buffer
	n := notify.Log{Logger: zerolog.New(&buf)}
	err := n.Notify(context.Background(), domain.Notification{
		Kind:          domain.NotifyTransitioned,
		Audience:      domain.AudienceRequester,
		Recipient:     domain.Requester{AccountID: "u1"},
		ApplicationID: "AAAAAA",
		Status:        domain.StatusFound,
		Message:       "found",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"recipient":"u1"`, `"application":"AAAAAA"`, `"status":"FOUND"`, `"message":"found"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := notify.Multi{notify.Noop{}, failing{boom}, nil}
	if err := m.Notify(context.Background(), domain.Notification{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestWebhookMirrorPostsRow(t *testing.T) {
	var got notify.SheetRow
	var event, secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event = r.Header.Get("X-Dreamie-Event")
		secret = r.Header.Get("X-Dreamie-Secret")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := notify.WebhookMirror{Webhook: notify.Webhook{URL: srv.URL, Secret: "s3"}, TimeLayout: "2006-01-02"}
	app := domain.Application{
		ID:                 "AAAAAA",
		Requester:          domain.Requester{AccountID: "1", Name: "tom"},
		Villager:           domain.Villager{Name: "Raymond", Link: "https://villagerdb.com/villager/raymond"},
		Status:             domain.StatusPending,
		CanTimeTravel:      true,
		AvailabilityWindow: 2,
		CreatedAt:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := m.Publish(context.Background(), app); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := []string{"AAAAAA", "tom", "PENDING", "Raymond", "2024-05-01", "true", "04:00-07:59 UTC", ""}
	if strings.Join(got.Values, "|") != strings.Join(want, "|") {
		t.Fatalf("row = %v", got.Values)
	}
	if len(got.Header) != 8 || event != "sheet.row" || secret != "s3" {
		t.Fatalf("header=%v event=%q secret=%q", got.Header, event, secret)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bridge down", http.StatusBadGateway)
	}))
	defer srv.Close()
	n := notify.WebhookNotifier{Webhook: notify.Webhook{URL: srv.URL}}
	err := n.Notify(context.Background(), domain.Notification{Kind: domain.NotifyCreated})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebhookWithoutURLIsNoop(t *testing.T) {
	n := notify.WebhookNotifier{}
	if err := n.Notify(context.Background(), domain.Notification{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWebhookMirrorArchive(t *testing.T) {
	var got notify.SheetArchive
	var event, delivery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event = r.Header.Get("X-Dreamie-Event")
		delivery = r.Header.Get("X-Dreamie-Delivery")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var m notify.Mirror = notify.WebhookMirror{Webhook: notify.Webhook{URL: srv.URL}}
	a, ok := m.(notify.Archiver)
	if !ok {
		t.Fatal("webhook mirror cannot archive")
	}
	if err := a.Archive(context.Background(), "AAAAAA", true); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if event != "sheet.archive" || delivery != "AAAAAA" || got.ID != "AAAAAA" || !got.Hidden {
		t.Fatalf("event=%q delivery=%q body=%+v", event, delivery, got)
	}
}
