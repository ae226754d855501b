// Package notify holds the outbound collaborators of the lifecycle core: the
// chat notifier, the interactive confirmer and the spreadsheet mirror. The
// core only hands them data; rendering is theirs.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dreamie/internal/domain"
)

// ErrNoResponse is returned by a Confirmer when the user did not answer in time.
var ErrNoResponse = errors.New("no response")

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Prompt is a bounded-choice question put to one user.
type Prompt struct {
	Text    string
	Options []string
	Timeout time.Duration
}

// Confirmer asks a user to pick one of the prompt's options. Implementations
// return ErrNoResponse once the timeout passes.
type Confirmer interface {
	Confirm(ctx context.Context, to domain.Requester, p Prompt) (string, error)
}

// Mirror receives every committed application state. Publishing is best effort.
type Mirror interface {
	Publish(ctx context.Context, app domain.Application) error
}

// Archiver is implemented by mirrors that can hide a row without dropping it.
type Archiver interface {
	Archive(ctx context.Context, id string, hidden bool) error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Notify(context.Context, domain.Notification) error { return nil }
func (Noop) Publish(context.Context, domain.Application) error { return nil }
func (Noop) Archive(context.Context, string, bool) error       { return nil }

// Log writes notifications to a zerolog logger. It is the default sink when
// no chat bridge is configured.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, n domain.Notification) error {
	ev := l.Logger.Info().
		Str("kind", string(n.Kind)).
		Str("audience", string(n.Audience))
	if n.Recipient.AccountID != "" {
		ev = ev.Str("recipient", n.Recipient.AccountID)
	}
	if n.ApplicationID != "" {
		ev = ev.Str("application", n.ApplicationID)
	}
	if n.Status != "" {
		ev = ev.Str("status", string(n.Status))
	}
	if len(n.Fields) > 0 {
		ev = ev.Interface("fields", n.Fields)
	}
	ev.Msg(n.Message)
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
