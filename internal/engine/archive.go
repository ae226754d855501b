package engine

import (
	"context"
	"fmt"

	"dreamie/internal/domain"
	"dreamie/internal/events"
	"dreamie/internal/metrics"
	"dreamie/internal/notify"
)

// Archive hides (or with hidden false, shows again) the mirror row of an
// application. The record file is untouched. Staff only.
func (e Engine) Archive(ctx context.Context, actor domain.Actor, id string, hidden bool) (domain.Application, error) {
	actor, err := e.requireStaff(ctx, actor, "archive applications")
	if err != nil {
		return domain.Application{}, err
	}
	app, err := e.Get(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if a, ok := e.Mirror.(notify.Archiver); ok {
		if err := a.Archive(ctx, app.ID, hidden); err != nil {
			metrics.NotificationFailures.WithLabelValues("mirror").Inc()
			return domain.Application{}, fmt.Errorf("archive row %s: %w", app.ID, err)
		}
	}
	evt := events.TypeApplicationArchived
	if !hidden {
		evt = events.TypeApplicationUnarchived
	}
	e.audit(ctx, evt, events.KindApplication, app.ID, actor.AccountID, nil)
	e.Log.Info().Str("application", app.ID).Bool("hidden", hidden).Str("actor", actor.AccountID).Msg("mirror row archived")
	return app, nil
}

// archiveFinished hides the row of a rejected or closed application.
func (e Engine) archiveFinished(ctx context.Context, app domain.Application) {
	if app.Status != domain.StatusClosed && app.Status != domain.StatusRejected {
		return
	}
	a, ok := e.Mirror.(notify.Archiver)
	if !ok {
		return
	}
	if err := a.Archive(ctx, app.ID, true); err != nil {
		metrics.NotificationFailures.WithLabelValues("mirror").Inc()
		e.Log.Warn().Err(err).Str("application", app.ID).Msg("mirror archive failed")
	}
}
