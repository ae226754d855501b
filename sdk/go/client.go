package dreamiesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Dreamie HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID and ActorName are sent as X-Actor-Id/X-Actor-Name when no
	// credential is set. Servers only honour them with legacy headers enabled.
	ActorID    string
	ActorName  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Application is the API application model.
type Application struct {
	ID              string `json:"id"`
	RequesterID     string `json:"requester_id"`
	RequesterName   string `json:"requester_name"`
	Villager        string `json:"villager"`
	VillagerLink    string `json:"villager_link,omitempty"`
	Status          string `json:"status"`
	CanTimeTravel   bool   `json:"can_time_travel"`
	Window          int    `json:"window"`
	WindowLabel     string `json:"window_label"`
	CreatedAt       string `json:"created_at"`
	LastModifiedAt  string `json:"last_modified_at,omitempty"`
	AssignedStaff   string `json:"assigned_staff,omitempty"`
	AssignedStaffID string `json:"assigned_staff_id,omitempty"`
}

// NewApplication is the create payload.
type NewApplication struct {
	Villager      string `json:"villager"`
	Window        int    `json:"window"`
	CanTimeTravel bool   `json:"can_time_travel,omitempty"`
	Name          string `json:"name,omitempty"`
}

// Search narrows ListApplications. Zero fields are not sent.
type Search struct {
	Status    string
	Requester string
	Name      string
	Villager  string
	Open      bool
}

// StatusCount is one summary line; Display reads "3 (42.857%)".
type StatusCount struct {
	Status     string  `json:"status"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Display    string  `json:"display"`
}

type Summary struct {
	Total  int           `json:"total"`
	Counts []StatusCount `json:"counts"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Apply files an application as the authenticated caller.
func (c *Client) Apply(ctx context.Context, in NewApplication) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications", in, &resp)
	return resp, err
}

// Mine returns the caller's open applications.
func (c *Client) Mine(ctx context.Context) ([]Application, error) {
	var resp struct {
		Items []Application `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/applications/mine", nil, &resp)
	return resp.Items, err
}

// Get fetches one application.
func (c *Client) Get(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, "v0/applications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListApplications searches applications. Staff only.
func (c *Client) ListApplications(ctx context.Context, s Search) ([]Application, error) {
	q := url.Values{}
	if s.Status != "" {
		q.Set("status", s.Status)
	}
	if s.Requester != "" {
		q.Set("requester", s.Requester)
	}
	if s.Name != "" {
		q.Set("name", s.Name)
	}
	if s.Villager != "" {
		q.Set("villager", s.Villager)
	}
	if s.Open {
		q.Set("open", "true")
	}
	endpoint := "v0/applications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Application `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Act applies a lifecycle action such as "approve" or "markReady".
func (c *Client) Act(ctx context.Context, id, action string, force bool) (Application, error) {
	var body any
	if force {
		body = map[string]any{"force": true}
	}
	var resp Application
	endpoint := fmt.Sprintf("v0/applications/%s/%s", url.PathEscape(id), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Summary returns per-status counts. Staff only.
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, "v0/summary", nil, &resp)
	return resp, err
}

// Locked reports whether the queue refuses new applications.
func (c *Client) Locked(ctx context.Context) (bool, error) {
	var resp struct {
		Locked bool `json:"locked"`
	}
	err := c.do(ctx, http.MethodGet, "v0/queue/lock", nil, &resp)
	return resp.Locked, err
}

// SetLocked opens or closes intake. Staff only.
func (c *Client) SetLocked(ctx context.Context, locked bool) error {
	return c.do(ctx, http.MethodPut, "v0/queue/lock", map[string]any{"locked": locked}, nil)
}

// Events returns the oldest page of audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if c.ActorName != "" {
			req.Header.Set("X-Actor-Name", c.ActorName)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
