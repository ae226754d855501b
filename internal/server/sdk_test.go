package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	dreamiesdk "dreamie/sdk/go"
)

func TestSDKAgainstServer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	tom := dreamiesdk.New(srv.URL)
	tom.ActorID, tom.ActorName = "u1", "Tom"
	staff := dreamiesdk.New(srv.URL)
	staff.ActorID = "staff-1"

	app, err := tom.Apply(ctx, dreamiesdk.NewApplication{Villager: "Raymond", Window: 5})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	mine, err := tom.Mine(ctx)
	if err != nil || len(mine) != 1 || mine[0].ID != app.ID {
		t.Fatalf("mine: %v %+v", err, mine)
	}

	_, err = tom.Act(ctx, app.ID, "approve", false)
	var apiErr *dreamiesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("expected forbidden api error, got %v", err)
	}

	if _, err := staff.Act(ctx, app.ID, "approve", false); err != nil {
		t.Fatalf("approve: %v", err)
	}
	closed, err := staff.Act(ctx, app.ID, "closeOut", true)
	if err != nil {
		t.Fatalf("forced close: %v", err)
	}
	if closed.Status != "CLOSED" {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}

	found, err := staff.ListApplications(ctx, dreamiesdk.Search{Status: "closed", Name: "to"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %v %+v", err, found)
	}
	sum, err := staff.Summary(ctx)
	if err != nil || sum.Total != 1 {
		t.Fatalf("summary: %v %+v", err, sum)
	}

	if err := staff.SetLocked(ctx, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	locked, err := tom.Locked(ctx)
	if err != nil || !locked {
		t.Fatalf("expected locked: %v", err)
	}

	page, err := staff.EventsPage(ctx, 2, "")
	if err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("events page: %v %+v", err, page)
	}
	rest, err := staff.EventsPage(ctx, 50, page.NextCursor)
	if err != nil || len(rest.Items) != 2 || rest.NextCursor != "" {
		t.Fatalf("events rest: %v %+v", err, rest)
	}
}
