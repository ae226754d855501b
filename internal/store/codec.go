package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dreamie/internal/domain"
)

// DefaultTimeLayout renders timestamps like "2024-05-01 09:30:00PM UTC".
const DefaultTimeLayout = "2006-01-02 03:04:05PM MST"

// record is the on-disk shape of one application. Keys match the record file
// written by earlier versions of the bot.
type record struct {
	Name          string    `json:"name"`
	UserID        accountID `json:"user_id"`
	Villager      string    `json:"villager"`
	Status        string    `json:"status"`
	CreatedTime   string    `json:"created_time"`
	LastModified  string    `json:"last_modified"`
	CanTimeTravel bool      `json:"can_time_travel"`
	AvailTime     string    `json:"avail_time"`
	Staff         string    `json:"staff"`
	StaffID       string    `json:"staff_id,omitempty"`
}

// accountID accepts both the numeric ids of old records and strings.
type accountID string

func (a *accountID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = accountID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*a = accountID(n.String())
	return nil
}

// Codec converts between applications and log lines.
type Codec struct {
	TimeLayout string
}

func (c Codec) layout() string {
	if c.TimeLayout == "" {
		return DefaultTimeLayout
	}
	return c.TimeLayout
}

// FormatTime renders t in UTC with the configured layout; zero renders empty.
func (c Codec) FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(c.layout())
}

// ParseTime is the inverse of FormatTime.
func (c Codec) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(c.layout(), s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// layoutProbe has every field distinct and an afternoon hour so a layout
// that drops any part of the date or time fails to round-trip.
var layoutProbe = time.Date(2023, time.November, 24, 17, 45, 39, 0, time.UTC)

// CheckLayout reports whether layout keeps timestamps to the second. A
// strftime pattern such as "%Y-%m-%d" is not a Go layout and fails here.
func CheckLayout(layout string) error {
	c := Codec{TimeLayout: layout}
	got, err := c.ParseTime(c.FormatTime(layoutProbe))
	if err != nil {
		return fmt.Errorf("time layout %q does not parse its own output: %w", layout, err)
	}
	if !got.Equal(layoutProbe) {
		return fmt.Errorf("time layout %q loses precision: %s reads back as %s",
			layout, layoutProbe.Format(time.DateTime), got.Format(time.DateTime))
	}
	return nil
}

// Encode renders one self-contained line (without the trailing newline).
func (c Codec) Encode(app domain.Application) ([]byte, error) {
	rec := record{
		Name:          app.Requester.Name,
		UserID:        accountID(app.Requester.AccountID),
		Villager:      joinVillager(app.Villager),
		Status:        string(app.Status),
		CreatedTime:   c.FormatTime(app.CreatedAt),
		LastModified:  c.FormatTime(app.LastModifiedAt),
		CanTimeTravel: app.CanTimeTravel,
		AvailTime:     app.AvailabilityWindow.String(),
		Staff:         app.AssignedStaff,
		StaffID:       app.AssignedStaffID,
	}
	return json.Marshal(map[string]record{app.ID: rec})
}

// Decode parses one line. Missing last_modified, staff and avail_time fall
// back to their zero values.
func (c Codec) Decode(line []byte) (domain.Application, error) {
	var entry map[string]record
	if err := json.Unmarshal(line, &entry); err != nil {
		return domain.Application{}, err
	}
	if len(entry) != 1 {
		return domain.Application{}, fmt.Errorf("expected one application per line, got %d", len(entry))
	}
	var (
		id  string
		rec record
	)
	for k, v := range entry {
		id, rec = k, v
	}
	if strings.TrimSpace(id) == "" {
		return domain.Application{}, fmt.Errorf("empty application id")
	}
	status, err := domain.ParseStatus(rec.Status)
	if err != nil {
		return domain.Application{}, fmt.Errorf("application %s: %w", id, err)
	}
	created, err := c.ParseTime(rec.CreatedTime)
	if err != nil {
		return domain.Application{}, fmt.Errorf("application %s created_time: %w", id, err)
	}
	modified, err := c.ParseTime(rec.LastModified)
	if err != nil {
		return domain.Application{}, fmt.Errorf("application %s last_modified: %w", id, err)
	}
	var window domain.AvailabilityWindow
	if strings.TrimSpace(rec.AvailTime) != "" {
		window, err = domain.ParseWindow(rec.AvailTime)
		if err != nil {
			return domain.Application{}, fmt.Errorf("application %s: %w", id, err)
		}
	}
	return domain.Application{
		ID:                 id,
		Requester:          domain.Requester{AccountID: string(rec.UserID), Name: rec.Name},
		Villager:           splitVillager(rec.Villager),
		Status:             status,
		CanTimeTravel:      rec.CanTimeTravel,
		AvailabilityWindow: window,
		CreatedAt:          created,
		LastModifiedAt:     modified,
		AssignedStaff:      rec.Staff,
		AssignedStaffID:    rec.StaffID,
	}, nil
}

func joinVillager(v domain.Villager) string {
	if v.Link == "" {
		return v.Name
	}
	return v.Name + ", " + v.Link
}

func splitVillager(s string) domain.Villager {
	name, link, _ := strings.Cut(s, ",")
	return domain.Villager{Name: strings.TrimSpace(name), Link: strings.TrimSpace(link)}
}

// quoteID is used in error messages for ids that may contain whitespace.
func quoteID(id string) string { return strconv.Quote(id) }
