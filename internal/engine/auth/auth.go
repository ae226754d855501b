package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dreamie/internal/repo"
)

// ForbiddenError indicates the actor lacks the role or ownership an action needs.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not allowed to %s", e.Action)
	}
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

// Authorizer answers who counts as staff and how to label them.
type Authorizer interface {
	IsStaff(ctx context.Context, accountID string) (bool, error)
	// ResolveActor returns the display handle to stamp on a record, or "" if
	// the account has none on file.
	ResolveActor(ctx context.Context, accountID string) (string, error)
}

// Static is a fixed staff list, usually loaded from configuration.
type Static struct {
	Handles map[string]string
}

// ParseStatic reads entries of the form "id" or "id:handle".
func ParseStatic(entries []string) Static {
	s := Static{Handles: map[string]string{}}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		id, handle, _ := strings.Cut(e, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s.Handles[id] = strings.TrimSpace(handle)
	}
	return s
}

func (s Static) IsStaff(_ context.Context, accountID string) (bool, error) {
	_, ok := s.Handles[accountID]
	return ok, nil
}

func (s Static) ResolveActor(_ context.Context, accountID string) (string, error) {
	return s.Handles[accountID], nil
}

// Roster layers the runtime staff table over a static list.
type Roster struct {
	Repo   repo.Repo
	Static Static
}

func (r Roster) IsStaff(ctx context.Context, accountID string) (bool, error) {
	if ok, _ := r.Static.IsStaff(ctx, accountID); ok {
		return true, nil
	}
	if r.Repo.DB == nil || accountID == "" {
		return false, nil
	}
	_, err := r.Repo.GetStaff(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r Roster) ResolveActor(ctx context.Context, accountID string) (string, error) {
	if h, _ := r.Static.ResolveActor(ctx, accountID); h != "" {
		return h, nil
	}
	if r.Repo.DB == nil || accountID == "" {
		return "", nil
	}
	m, err := r.Repo.GetStaff(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Handle, nil
}
