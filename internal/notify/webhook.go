package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dreamie/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts JSON bodies to one URL. The chat bridge and the sheet sync
// are both reached this way.
type Webhook struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

func (w Webhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (w Webhook) post(ctx context.Context, event, delivery string, body any) error {
	if strings.TrimSpace(w.URL) == "" {
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dreamie-Event", event)
	if delivery != "" {
		req.Header.Set("X-Dreamie-Delivery", delivery)
	}
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Dreamie-Secret", w.Secret)
	}
	res, err := w.client().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// WebhookNotifier forwards notifications to a chat bridge.
type WebhookNotifier struct {
	Webhook
}

func (n WebhookNotifier) Notify(ctx context.Context, note domain.Notification) error {
	return n.post(ctx, string(note.Kind), note.ApplicationID, note)
}

// SheetHeader names the mirror columns in order.
var SheetHeader = []string{
	"Request Id", "Name", "Status", "Villager",
	"Created Time(UTC)", "Time-Travel", "Available Time(UTC)", "Last Modified(UTC)",
}

// SheetRow is the body the mirror receives: one spreadsheet row keyed by id.
type SheetRow struct {
	ID     string   `json:"id"`
	Header []string `json:"header"`
	Values []string `json:"values"`
}

// WebhookMirror publishes sheet rows. TimeLayout matches the record file.
type WebhookMirror struct {
	Webhook
	TimeLayout string
}

// Row renders app in SheetHeader order.
func (m WebhookMirror) Row(app domain.Application) SheetRow {
	layout := m.TimeLayout
	if layout == "" {
		layout = time.RFC3339
	}
	format := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(layout)
	}
	return SheetRow{
		ID:     app.ID,
		Header: SheetHeader,
		Values: []string{
			app.ID,
			app.Requester.Name,
			string(app.Status),
			app.Villager.Name,
			format(app.CreatedAt),
			fmt.Sprintf("%t", app.CanTimeTravel),
			app.AvailabilityWindow.String(),
			format(app.LastModifiedAt),
		},
	}
}

func (m WebhookMirror) Publish(ctx context.Context, app domain.Application) error {
	return m.post(ctx, "sheet.row", app.ID, m.Row(app))
}

// SheetArchive hides or shows the row of one application.
type SheetArchive struct {
	ID     string `json:"id"`
	Hidden bool   `json:"hidden"`
}

func (m WebhookMirror) Archive(ctx context.Context, id string, hidden bool) error {
	return m.post(ctx, "sheet.archive", id, SheetArchive{ID: id, Hidden: hidden})
}
