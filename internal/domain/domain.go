package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle stage of an application.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusFound      Status = "FOUND"
	StatusReady      Status = "READY"
	StatusClosed     Status = "CLOSED"
	StatusCancel     Status = "CANCEL"
	StatusRejected   Status = "REJECTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusApproved,
	StatusFound,
	StatusReady,
	StatusClosed,
	StatusCancel,
	StatusRejected,
}

// ParseStatus accepts any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsOpen reports whether the status still counts against the requester.
func (s Status) IsOpen() bool {
	switch s {
	case StatusClosed, StatusCancel, StatusRejected:
		return false
	}
	return s != ""
}

// Action is a named lifecycle operation.
type Action string

const (
	ActionApprove   Action = "approve"
	ActionDeny      Action = "deny"
	ActionClaim     Action = "claim"
	ActionFind      Action = "find"
	ActionCloseOut  Action = "closeOut"
	ActionMarkReady Action = "markReady"
	ActionCancel    Action = "cancel"
	// ActionExpire is only issued by the reconciliation job.
	ActionExpire Action = "expire"
)

// ParseAction maps user input (including the chat command aliases) to an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "review":
		return ActionApprove, nil
	case "deny", "denied", "reject":
		return ActionDeny, nil
	case "claim":
		return ActionClaim, nil
	case "find", "found":
		return ActionFind, nil
	case "closeout", "close":
		return ActionCloseOut, nil
	case "markready", "ready":
		return ActionMarkReady, nil
	case "cancel":
		return ActionCancel, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Requester identifies the user who filed an application.
type Requester struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// Actor is whoever triggers a transition.
type Actor struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Staff     bool   `json:"staff"`
	System    bool   `json:"system,omitempty"`
}

// SystemLabel is stamped into AssignedStaff for automatic transitions.
const SystemLabel = "<system>"

// SystemActor performs automatic expiry.
var SystemActor = Actor{AccountID: SystemLabel, Name: SystemLabel, System: true}

// Owns reports whether the actor filed the application.
func (a Actor) Owns(app Application) bool {
	return a.AccountID != "" && a.AccountID == app.Requester.AccountID
}

// Villager is a catalog entry.
type Villager struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// AvailabilityWindow is one of six fixed 4-hour UTC slots, numbered 1..6.
type AvailabilityWindow int

// WindowCount is the number of availability slots.
const WindowCount = 6

var windowLabels = [WindowCount]string{
	"00:00-03:59 UTC",
	"04:00-07:59 UTC",
	"08:00-11:59 UTC",
	"12:00-15:59 UTC",
	"16:00-19:59 UTC",
	"20:00-23:59 UTC",
}

// Valid reports whether w names a real slot.
func (w AvailabilityWindow) Valid() bool {
	return w >= 1 && w <= WindowCount
}

func (w AvailabilityWindow) String() string {
	if !w.Valid() {
		return ""
	}
	return windowLabels[w-1]
}

// ParseWindow accepts a slot number ("3") or its label ("08:00-11:59 UTC").
func ParseWindow(s string) (AvailabilityWindow, error) {
	s = strings.TrimSpace(s)
	for i, label := range windowLabels {
		if strings.EqualFold(s, label) {
			return AvailabilityWindow(i + 1), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && AvailabilityWindow(n).Valid() {
		return AvailabilityWindow(n), nil
	}
	return 0, fmt.Errorf("unknown availability window %q", s)
}

// Application is one adoption request.
type Application struct {
	ID                 string             `json:"id"`
	Requester          Requester          `json:"requester"`
	Villager           Villager           `json:"villager"`
	Status             Status             `json:"status"`
	CanTimeTravel      bool               `json:"can_time_travel"`
	AvailabilityWindow AvailabilityWindow `json:"availability_window"`
	CreatedAt          time.Time          `json:"created_at"`
	// LastModifiedAt is zero until the first transition.
	LastModifiedAt time.Time `json:"last_modified_at,omitempty"`
	// AssignedStaff is the display handle of the last staff actor.
	AssignedStaff   string `json:"assigned_staff,omitempty"`
	AssignedStaffID string `json:"assigned_staff_id,omitempty"`
}

// SameVillager compares villager names case-insensitively.
func (a Application) SameVillager(name string) bool {
	return strings.EqualFold(strings.TrimSpace(a.Villager.Name), strings.TrimSpace(name))
}

// NotificationKind tags outbound notifications.
type NotificationKind string

const (
	NotifyCreated       NotificationKind = "application.created"
	NotifyTransitioned  NotificationKind = "application.transitioned"
	NotifyExpired       NotificationKind = "application.expired"
	NotifyReminder      NotificationKind = "application.reminder"
	NotifyStatusReport  NotificationKind = "status.report"
	NotifyStaffActivity NotificationKind = "staff.activity"
)

// Audience selects where a notification goes.
type Audience string

const (
	// AudienceRequester is a direct message to one user.
	AudienceRequester Audience = "requester"
	// AudienceStaff is a direct message to one staff member.
	AudienceStaff Audience = "staff"
	// AudienceLog is the staff log channel.
	AudienceLog Audience = "log"
)

// Notification is the payload handed to the chat transport. Rendering is the
// transport's job.
type Notification struct {
	Kind          NotificationKind  `json:"kind"`
	Audience      Audience          `json:"audience"`
	Recipient     Requester         `json:"recipient,omitempty"`
	ApplicationID string            `json:"application_id,omitempty"`
	Status        Status            `json:"status,omitempty"`
	Message       string            `json:"message"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// ByCreation flattens a store snapshot, oldest first, ties broken by id.
func ByCreation(apps map[string]Application) []Application {
	out := make([]Application, 0, len(apps))
	for id, app := range apps {
		app.ID = id
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Event is one row of the audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// StaffMember is a roster entry granted at runtime.
type StaffMember struct {
	AccountID string `json:"account_id"`
	Handle    string `json:"handle"`
	GrantedBy string `json:"granted_by"`
	GrantedAt string `json:"granted_at"`
}

// APIKey lets an integration (the chat bridge, a sheet sync) act as one account.
type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}
