package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"dreamie/internal/domain"
)

// Get returns one application by id.
func (e Engine) Get(ctx context.Context, id string) (domain.Application, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return domain.Application{}, err
	}
	apps, err := e.Store.LoadAll(ctx)
	if err != nil {
		return domain.Application{}, err
	}
	app, ok := apps[id]
	if !ok {
		return domain.Application{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return app, nil
}

// Filter narrows Search. Zero fields match everything.
type Filter struct {
	ID          string
	Status      domain.Status
	RequesterID string
	// Name matches a substring of the requester's display name, any case.
	Name     string
	Villager string
	OpenOnly bool
}

func (f Filter) match(app domain.Application) bool {
	if f.ID != "" && !strings.EqualFold(app.ID, strings.TrimSpace(f.ID)) {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.RequesterID != "" && app.Requester.AccountID != f.RequesterID {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(app.Requester.Name), strings.ToLower(strings.TrimSpace(f.Name))) {
		return false
	}
	if f.Villager != "" && !app.SameVillager(f.Villager) {
		return false
	}
	if f.OpenOnly && !app.Status.IsOpen() {
		return false
	}
	return true
}

// Search returns the applications matching f, keyed by id.
func (e Engine) Search(ctx context.Context, f Filter) (map[string]domain.Application, error) {
	apps, err := e.Store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Application)
	for id, app := range apps {
		if f.match(app) {
			out[id] = app
		}
	}
	return out, nil
}

// OpenFor lists a requester's open applications, oldest first.
func (e Engine) OpenFor(ctx context.Context, requesterID string) ([]domain.Application, error) {
	apps, err := e.Search(ctx, Filter{RequesterID: requesterID, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	return domain.ByCreation(apps), nil
}

// ResolveOpen picks the requester's application: the given id, or the only
// open one when id is empty.
func (e Engine) ResolveOpen(ctx context.Context, requesterID, id string) (domain.Application, error) {
	if strings.TrimSpace(id) != "" {
		return e.Get(ctx, id)
	}
	open, err := e.OpenFor(ctx, requesterID)
	if err != nil {
		return domain.Application{}, err
	}
	switch len(open) {
	case 0:
		return domain.Application{}, fmt.Errorf("%w: no open application", ErrNotFound)
	case 1:
		return open[0], nil
	}
	return domain.Application{}, ErrAmbiguous
}

// StatusCount is one summary line.
type StatusCount struct {
	Status     domain.Status `json:"status"`
	Count      int           `json:"count"`
	Percentage float64       `json:"percentage"`
}

// String renders "3 (42.857%)", or "0 (------)" when there is nothing to count.
func (c StatusCount) String() string {
	if c.Count == 0 {
		return "0 (------)"
	}
	return fmt.Sprintf("%d (%.3f%%)", c.Count, c.Percentage)
}

// Summary counts applications per status.
type Summary struct {
	Total  int           `json:"total"`
	Counts []StatusCount `json:"counts"`
}

// For returns the line for one status.
func (s Summary) For(st domain.Status) StatusCount {
	for _, c := range s.Counts {
		if c.Status == st {
			return c
		}
	}
	return StatusCount{Status: st}
}

// Summary counts every status, in lifecycle order.
func (e Engine) Summary(ctx context.Context) (Summary, error) {
	apps, err := e.Store.LoadAll(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(apps), nil
}

// Summarize is the pure part of Summary.
func Summarize(apps map[string]domain.Application) Summary {
	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	for _, app := range apps {
		counts[app.Status]++
	}
	s := Summary{Total: len(apps)}
	for _, st := range domain.AllStatuses {
		c := StatusCount{Status: st, Count: counts[st]}
		if s.Total > 0 && c.Count > 0 {
			c.Percentage = math.Round(float64(c.Count)/float64(s.Total)*100*1000) / 1000
		}
		s.Counts = append(s.Counts, c)
	}
	return s
}

// ListEvents tails the audit log after cursor.
func (e Engine) ListEvents(ctx context.Context, after int64, limit int) ([]domain.Event, error) {
	if e.DB == nil {
		return nil, nil
	}
	return e.Repo.EventsAfter(ctx, limit, after)
}
