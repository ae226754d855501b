package engine_test

import (
	"context"
	"errors"
	"testing"

	"dreamie/internal/domain"
	"dreamie/internal/engine"
)

type archivingMirror struct {
	published []domain.Status
	archived  []string
	fail      error
}

func (m *archivingMirror) Publish(_ context.Context, app domain.Application) error {
	m.published = append(m.published, app.Status)
	return nil
}

func (m *archivingMirror) Archive(_ context.Context, id string, hidden bool) error {
	if m.fail != nil {
		return m.fail
	}
	state := "shown"
	if hidden {
		state = "hidden"
	}
	m.archived = append(m.archived, id+":"+state)
	return nil
}

func TestDenyArchivesMirrorRow(t *testing.T) {
	env := newTestEnv(t)
	mirror := &archivingMirror{}
	env.Engine.Mirror = mirror
	app := env.create(t, u1, "Raymond")
	if _, err := env.act(app.ID, domain.ActionApprove, staff); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(mirror.archived) != 0 {
		t.Fatalf("open application archived: %v", mirror.archived)
	}
	if _, err := env.act(app.ID, domain.ActionDeny, staff); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if len(mirror.archived) != 1 || mirror.archived[0] != app.ID+":hidden" {
		t.Fatalf("archived = %v", mirror.archived)
	}
}

func TestArchiveByStaff(t *testing.T) {
	env := newTestEnv(t)
	mirror := &archivingMirror{}
	env.Engine.Mirror = mirror
	app := env.create(t, u1, "Judy")

	if _, err := env.Engine.Archive(env.Ctx, asActor(u1), app.ID, true); !engine.IsForbidden(err) {
		t.Fatalf("requester archive err = %v", err)
	}
	if _, err := env.Engine.Archive(env.Ctx, staff, "ZZZZZZ", true); engine.Kind(err) != engine.KindNotFound {
		t.Fatalf("unknown id err = %v", err)
	}
	if _, err := env.Engine.Archive(env.Ctx, staff, app.ID, true); err != nil {
		t.Fatalf("hide: %v", err)
	}
	got, err := env.Engine.Archive(env.Ctx, staff, app.ID, false)
	if err != nil || got.Status != domain.StatusPending {
		t.Fatalf("show = %+v, %v", got, err)
	}
	if len(mirror.archived) != 2 || mirror.archived[1] != app.ID+":shown" {
		t.Fatalf("archived = %v", mirror.archived)
	}

	evts, err := env.Engine.ListEvents(env.Ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	if len(types) != 3 || types[1] != "application.archived" || types[2] != "application.unarchived" {
		t.Fatalf("audit = %v", types)
	}

	mirror.fail = errors.New("sheet offline")
	if _, err := env.Engine.Archive(env.Ctx, staff, app.ID, true); err == nil {
		t.Fatal("expected mirror failure to surface")
	}
}
