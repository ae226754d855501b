package server

import (
	"encoding/json"
	"time"

	"dreamie/internal/domain"
	"dreamie/internal/engine"
)

// Request payloads

type CreateApplicationRequest struct {
	Villager      string `json:"villager" minLength:"1"`
	Window        int    `json:"window" minimum:"1" maximum:"6" doc:"Availability slot, 1 = 00:00-03:59 UTC"`
	CanTimeTravel bool   `json:"can_time_travel,omitempty"`
	// Name overrides the display name carried by the credential.
	Name string `json:"name,omitempty"`
}

type ActionRequest struct {
	Force bool `json:"force,omitempty" doc:"Staff only: close an application that is not READY yet"`
}

type ArchiveRequest struct {
	Hidden bool `json:"hidden" doc:"false shows the row again"`
}

type LockRequest struct {
	Locked bool `json:"locked"`
}

type GrantStaffRequest struct {
	AccountID string `json:"account_id" minLength:"1"`
	Handle    string `json:"handle,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name      string `json:"name,omitempty"`
	AccountID string `json:"account_id,omitempty" doc:"Staff only: issue for another account"`
}

type DevLoginRequest struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
}

// Response payloads

type ApplicationResponse struct {
	ID              string `json:"id"`
	RequesterID     string `json:"requester_id"`
	RequesterName   string `json:"requester_name"`
	Villager        string `json:"villager"`
	VillagerLink    string `json:"villager_link,omitempty"`
	Status          string `json:"status"`
	CanTimeTravel   bool   `json:"can_time_travel"`
	Window          int    `json:"window"`
	WindowLabel     string `json:"window_label"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	LastModifiedAt  string `json:"last_modified_at,omitempty" format:"date-time"`
	AssignedStaff   string `json:"assigned_staff,omitempty"`
	AssignedStaffID string `json:"assigned_staff_id,omitempty"`
}

type ApplicationList struct {
	Items []ApplicationResponse `json:"items"`
}

type StatusCountResponse struct {
	Status     string  `json:"status"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Display    string  `json:"display" example:"3 (42.857%)"`
}

type SummaryResponse struct {
	Total  int                   `json:"total"`
	Counts []StatusCountResponse `json:"counts"`
}

type LockResponse struct {
	Locked bool `json:"locked"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type StaffList struct {
	Items []domain.StaffMember `json:"items"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is only returned on creation.
	Key string `json:"key,omitempty"`
}

type APIKeyList struct {
	Items []APIKeyResponse `json:"items"`
}

type MeResponse struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Staff     bool   `json:"staff"`
	Source    string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func applicationResponse(app domain.Application) ApplicationResponse {
	res := ApplicationResponse{
		ID:              app.ID,
		RequesterID:     app.Requester.AccountID,
		RequesterName:   app.Requester.Name,
		Villager:        app.Villager.Name,
		VillagerLink:    app.Villager.Link,
		Status:          string(app.Status),
		CanTimeTravel:   app.CanTimeTravel,
		Window:          int(app.AvailabilityWindow),
		WindowLabel:     app.AvailabilityWindow.String(),
		CreatedAt:       app.CreatedAt.UTC().Format(time.RFC3339),
		AssignedStaff:   app.AssignedStaff,
		AssignedStaffID: app.AssignedStaffID,
	}
	if !app.LastModifiedAt.IsZero() {
		res.LastModifiedAt = app.LastModifiedAt.UTC().Format(time.RFC3339)
	}
	return res
}

func mapApplications(items []domain.Application) []ApplicationResponse {
	out := make([]ApplicationResponse, 0, len(items))
	for _, app := range items {
		out = append(out, applicationResponse(app))
	}
	return out
}

func summaryResponse(s engine.Summary) SummaryResponse {
	res := SummaryResponse{Total: s.Total, Counts: []StatusCountResponse{}}
	for _, c := range s.Counts {
		res.Counts = append(res.Counts, StatusCountResponse{
			Status:     string(c.Status),
			Count:      c.Count,
			Percentage: c.Percentage,
			Display:    c.String(),
		})
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, AccountID: k.AccountID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
