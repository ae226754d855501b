// Package bot implements the chat commands on top of the lifecycle engine.
// It is transport neutral: a chat bridge, the CLI and the HTTP server all
// call the same handlers and receive plain results plus outbound
// notifications.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dreamie/internal/domain"
	"dreamie/internal/engine"
	"dreamie/internal/engine/auth"
	"dreamie/internal/metrics"
	"dreamie/internal/notify"
)

var (
	// ErrAbandoned means the requester stopped answering. Nothing was saved.
	ErrAbandoned = errors.New("application abandoned: no response")
	// ErrNoOpenPlot refuses requesters who cannot time travel and have no
	// plot opening soon.
	ErrNoOpenPlot = errors.New("no open plot within the countdown")
	// ErrAborted means the user answered no at a confirmation step.
	ErrAborted = errors.New("aborted")
	// ErrNoConfirmer is returned by interactive commands on a non-interactive transport.
	ErrNoConfirmer = errors.New("interactive confirmation not available")
	// ErrBadQuery rejects search arguments that name nothing.
	ErrBadQuery = errors.New("bad search query")
)

const (
	answerYes = "yes"
	answerNo  = "no"
)

var yesNo = []string{answerYes, answerNo}

// Timeouts bound each interactive step.
type Timeouts struct {
	TimeTravel time.Duration
	OpenPlot   time.Duration
	Slot       time.Duration
	Confirm    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		TimeTravel: 200 * time.Second,
		OpenPlot:   200 * time.Second,
		Slot:       600 * time.Second,
		Confirm:    200 * time.Second,
	}
}

type Bot struct {
	Engine    engine.Engine
	Notifier  notify.Notifier
	Confirmer notify.Confirmer
	Timeouts  Timeouts
	Log       zerolog.Logger
}

func New(e engine.Engine, n notify.Notifier, c notify.Confirmer) *Bot {
	return &Bot{
		Engine:    e,
		Notifier:  n,
		Confirmer: c,
		Timeouts:  DefaultTimeouts(),
		Log:       zerolog.Nop(),
	}
}

// Kind extends engine.Kind with the interactive outcomes.
func Kind(err error) engine.ErrorKind {
	switch {
	case errors.Is(err, ErrNoOpenPlot):
		return engine.KindPolicy
	case errors.Is(err, ErrAbandoned), errors.Is(err, ErrAborted), errors.Is(err, ErrNoConfirmer), errors.Is(err, ErrBadQuery):
		return engine.KindValidation
	}
	return engine.Kind(err)
}

// Apply runs the interactive application flow. Nothing is persisted until
// the requester confirms the last step.
func (b *Bot) Apply(ctx context.Context, who domain.Requester, villager string) (domain.Application, error) {
	if b.Confirmer == nil {
		return domain.Application{}, ErrNoConfirmer
	}
	v, err := b.Engine.Precheck(ctx, who.AccountID, villager)
	if err != nil {
		return domain.Application{}, err
	}
	opts := engine.CreateOptions{Requester: who, Villager: v.Name}

	tt, err := b.ask(ctx, who, notify.Prompt{
		Text:    "Are you willing to time travel in order to make the process quicker?",
		Options: yesNo,
		Timeout: b.Timeouts.TimeTravel,
	})
	if err != nil {
		return domain.Application{}, err
	}
	opts.CanTimeTravel = tt == answerYes
	if !opts.CanTimeTravel {
		plot, err := b.ask(ctx, who, notify.Prompt{
			Text:    fmt.Sprintf("Will you have an open plot within %d hours?", int(b.Engine.Countdown().Hours())),
			Options: yesNo,
			Timeout: b.Timeouts.OpenPlot,
		})
		if err != nil {
			return domain.Application{}, err
		}
		if plot != answerYes {
			return domain.Application{}, ErrNoOpenPlot
		}
	}

	slots := make([]string, domain.WindowCount)
	lines := []string{"Which time slot is the best choice to contact you? All times are UTC."}
	for i := range slots {
		slots[i] = strconv.Itoa(i + 1)
		lines = append(lines, fmt.Sprintf("Slot %d: %s", i+1, domain.AvailabilityWindow(i+1)))
	}
	slot, err := b.ask(ctx, who, notify.Prompt{
		Text:    strings.Join(lines, "\n"),
		Options: slots,
		Timeout: b.Timeouts.Slot,
	})
	if err != nil {
		return domain.Application{}, err
	}
	if opts.Window, err = domain.ParseWindow(slot); err != nil {
		return domain.Application{}, engine.ErrInvalidWindow
	}

	ok, err := b.ask(ctx, who, notify.Prompt{
		Text:    fmt.Sprintf("Please confirm to create a new application for %s.", v.Name),
		Options: yesNo,
		Timeout: b.Timeouts.Confirm,
	})
	if err != nil {
		return domain.Application{}, err
	}
	if ok != answerYes {
		return domain.Application{}, ErrAborted
	}
	return b.Submit(ctx, opts)
}

// Submit creates an application from answers collected elsewhere and sends
// the created notices.
func (b *Bot) Submit(ctx context.Context, opts engine.CreateOptions) (domain.Application, error) {
	app, err := b.Engine.Create(ctx, opts)
	if err != nil {
		return domain.Application{}, err
	}
	b.send(ctx, createdNotices(app)...)
	return app, nil
}

// ask returns the chosen option, lower-cased. A timeout becomes ErrAbandoned.
func (b *Bot) ask(ctx context.Context, who domain.Requester, p notify.Prompt) (string, error) {
	answer, err := b.Confirmer.Confirm(ctx, who, p)
	if errors.Is(err, notify.ErrNoResponse) || errors.Is(err, context.DeadlineExceeded) {
		return "", ErrAbandoned
	}
	if err != nil {
		return "", err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	for _, opt := range p.Options {
		if answer == strings.ToLower(opt) {
			return answer, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not one of %s", ErrAborted, answer, strings.Join(p.Options, "/"))
}

// confirm asks a yes/no question when a Confirmer is wired. Without one the
// caller already made an explicit choice.
func (b *Bot) confirm(ctx context.Context, who domain.Actor, text string) error {
	if b.Confirmer == nil {
		return nil
	}
	answer, err := b.ask(ctx, domain.Requester{AccountID: who.AccountID, Name: who.Name}, notify.Prompt{
		Text:    text,
		Options: yesNo,
		Timeout: b.Timeouts.Confirm,
	})
	if err != nil {
		return err
	}
	if answer != answerYes {
		return ErrAborted
	}
	return nil
}

// Act applies one action and sends the follow-up notices.
func (b *Bot) Act(ctx context.Context, actor domain.Actor, id string, action domain.Action, force bool) (domain.Application, error) {
	app, err := b.Engine.Transition(ctx, engine.TransitionOptions{ID: id, Action: action, Actor: actor, Force: force})
	if err != nil {
		return domain.Application{}, err
	}
	resolved, rerr := b.Engine.ResolveActor(ctx, actor)
	if rerr != nil {
		resolved = actor
	}
	b.send(ctx, notices(app, action, resolved, int(b.Engine.Countdown().Hours()))...)
	return app, nil
}

// Status lists the caller's open applications.
func (b *Bot) Status(ctx context.Context, who domain.Requester) ([]domain.Application, error) {
	return b.Engine.OpenFor(ctx, who.AccountID)
}

// Ready marks the caller's application READY after a confirmation. An empty
// id picks the only open application.
func (b *Bot) Ready(ctx context.Context, who domain.Actor, id string) (domain.Application, error) {
	app, err := b.Engine.ResolveOpen(ctx, who.AccountID, id)
	if err != nil {
		return domain.Application{}, err
	}
	if err := b.confirm(ctx, who, fmt.Sprintf("Please confirm that you have an open plot ready to receive your dreamie. Application: %s", app.ID)); err != nil {
		return domain.Application{}, err
	}
	return b.Act(ctx, who, app.ID, domain.ActionMarkReady, false)
}

// Cancel withdraws an application after a confirmation. The owner may omit
// the id; staff must give one.
func (b *Bot) Cancel(ctx context.Context, who domain.Actor, id string) (domain.Application, error) {
	app, err := b.Engine.ResolveOpen(ctx, who.AccountID, id)
	if err != nil {
		return domain.Application{}, err
	}
	if err := b.confirm(ctx, who, fmt.Sprintf("Please confirm to cancel application %s.", app.ID)); err != nil {
		return domain.Application{}, err
	}
	return b.Act(ctx, who, app.ID, domain.ActionCancel, false)
}

// Review approves, or rejects when denied is set.
func (b *Bot) Review(ctx context.Context, staff domain.Actor, id string, denied bool) (domain.Application, error) {
	action := domain.ActionApprove
	if denied {
		action = domain.ActionDeny
	}
	return b.Act(ctx, staff, id, action, false)
}

func (b *Bot) Claim(ctx context.Context, staff domain.Actor, id string) (domain.Application, error) {
	return b.Act(ctx, staff, id, domain.ActionClaim, false)
}

func (b *Bot) Found(ctx context.Context, staff domain.Actor, id string) (domain.Application, error) {
	return b.Act(ctx, staff, id, domain.ActionFind, false)
}

func (b *Bot) Close(ctx context.Context, staff domain.Actor, id string, force bool) (domain.Application, error) {
	return b.Act(ctx, staff, id, domain.ActionCloseOut, force)
}

// List returns one application, or every open one oldest first. Staff only.
func (b *Bot) List(ctx context.Context, staff domain.Actor, id string) ([]domain.Application, error) {
	if err := b.requireStaff(ctx, staff, "list applications"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) != "" {
		app, err := b.Engine.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return []domain.Application{app}, nil
	}
	apps, err := b.Engine.Search(ctx, engine.Filter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	return domain.ByCreation(apps), nil
}

// Search takes "status <status>" or "name <text>"; a bare word is tried as a
// status first and then as a name. Staff only.
func (b *Bot) Search(ctx context.Context, staff domain.Actor, args ...string) ([]domain.Application, error) {
	f, err := ParseSearch(args)
	if err != nil {
		return nil, err
	}
	return b.Find(ctx, staff, f)
}

// Find runs a structured search, oldest first. Staff only.
func (b *Bot) Find(ctx context.Context, staff domain.Actor, f engine.Filter) ([]domain.Application, error) {
	if err := b.requireStaff(ctx, staff, "search applications"); err != nil {
		return nil, err
	}
	apps, err := b.Engine.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	return domain.ByCreation(apps), nil
}

// View returns one application to its owner or to staff.
func (b *Bot) View(ctx context.Context, who domain.Actor, id string) (domain.Application, error) {
	app, err := b.Engine.Get(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if who.Owns(app) {
		return app, nil
	}
	if err := b.requireStaff(ctx, who, "view applications"); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// ParseSearch turns command arguments into a filter.
func ParseSearch(args []string) (engine.Filter, error) {
	if len(args) == 0 {
		return engine.Filter{}, fmt.Errorf("%w: search needs a status or a name", ErrBadQuery)
	}
	switch strings.ToLower(args[0]) {
	case "status":
		if len(args) < 2 {
			return engine.Filter{}, fmt.Errorf("%w: search status needs a value", ErrBadQuery)
		}
		st, err := parseStatusAlias(args[1])
		if err != nil {
			return engine.Filter{}, err
		}
		return engine.Filter{Status: st}, nil
	case "name":
		if len(args) < 2 {
			return engine.Filter{}, fmt.Errorf("%w: search name needs a value", ErrBadQuery)
		}
		return engine.Filter{Name: strings.Join(args[1:], " ")}, nil
	}
	if st, err := parseStatusAlias(args[0]); err == nil && len(args) == 1 {
		return engine.Filter{Status: st}, nil
	}
	return engine.Filter{Name: strings.Join(args, " ")}, nil
}

func parseStatusAlias(s string) (domain.Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reject", "denied":
		return domain.StatusRejected, nil
	case "close":
		return domain.StatusClosed, nil
	}
	st, err := domain.ParseStatus(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	return st, nil
}

// Summary counts applications per status. Staff only.
func (b *Bot) Summary(ctx context.Context, staff domain.Actor) (engine.Summary, error) {
	if err := b.requireStaff(ctx, staff, "view the summary"); err != nil {
		return engine.Summary{}, err
	}
	return b.Engine.Summary(ctx)
}

// ToggleLock flips the queue lock after a confirmation and returns the new state.
func (b *Bot) ToggleLock(ctx context.Context, staff domain.Actor) (bool, error) {
	if err := b.requireStaff(ctx, staff, "lock the queue"); err != nil {
		return false, err
	}
	locked, err := b.Engine.Locked(ctx)
	if err != nil {
		return false, err
	}
	next := !locked
	if err := b.confirm(ctx, staff, fmt.Sprintf("The queue is currently %sed. Confirm to %s it.", lockWord(locked), lockWord(next))); err != nil {
		return locked, err
	}
	return next, b.SetLock(ctx, staff, next)
}

// SetLock sets the queue lock without asking.
func (b *Bot) SetLock(ctx context.Context, staff domain.Actor, locked bool) error {
	if err := b.Engine.SetLocked(ctx, staff, locked); err != nil {
		return err
	}
	resolved, err := b.Engine.ResolveActor(ctx, staff)
	if err != nil {
		resolved = staff
	}
	b.send(ctx, domain.Notification{
		Kind:     domain.NotifyStaffActivity,
		Audience: domain.AudienceLog,
		Message:  fmt.Sprintf("%s has %sed the application queue.", resolved.Name, lockWord(locked)),
		Fields:   map[string]string{"locked": strconv.FormatBool(locked)},
	})
	return nil
}

// Archive hides or shows an application's sheet row and tells the log
// channel. Staff only.
func (b *Bot) Archive(ctx context.Context, staff domain.Actor, id string, hidden bool) (domain.Application, error) {
	app, err := b.Engine.Archive(ctx, staff, id, hidden)
	if err != nil {
		return domain.Application{}, err
	}
	verb := "archived"
	if !hidden {
		verb = "unarchived"
	}
	b.send(ctx, domain.Notification{
		Kind:          domain.NotifyStaffActivity,
		Audience:      domain.AudienceLog,
		ApplicationID: app.ID,
		Status:        app.Status,
		Message:       fmt.Sprintf("The sheet row of application %s was %s.", app.ID, verb),
		Fields:        map[string]string{"hidden": strconv.FormatBool(hidden)},
	})
	return app, nil
}

// Events tails the audit log. Staff only.
func (b *Bot) Events(ctx context.Context, staff domain.Actor, after int64, limit int) ([]domain.Event, error) {
	if err := b.requireStaff(ctx, staff, "read the audit log"); err != nil {
		return nil, err
	}
	return b.Engine.ListEvents(ctx, after, limit)
}

// Roster lists runtime-granted staff. Staff only.
func (b *Bot) Roster(ctx context.Context, staff domain.Actor) ([]domain.StaffMember, error) {
	if err := b.requireStaff(ctx, staff, "list staff"); err != nil {
		return nil, err
	}
	if b.Engine.DB == nil {
		return nil, nil
	}
	return b.Engine.Repo.ListStaff(ctx)
}

func lockWord(locked bool) string {
	if locked {
		return "lock"
	}
	return "unlock"
}

func (b *Bot) requireStaff(ctx context.Context, actor domain.Actor, what string) error {
	resolved, err := b.Engine.ResolveActor(ctx, actor)
	if err != nil {
		return err
	}
	if !resolved.Staff {
		return auth.ForbiddenError{Action: what, Reason: "staff only"}
	}
	return nil
}

// send delivers best effort; the change is already committed.
func (b *Bot) send(ctx context.Context, notes ...domain.Notification) {
	if b.Notifier == nil {
		return
	}
	for _, n := range notes {
		if err := b.Notifier.Notify(ctx, n); err != nil {
			metrics.NotificationFailures.WithLabelValues("notifier").Inc()
			b.Log.Warn().Err(err).Str("kind", string(n.Kind)).Str("audience", string(n.Audience)).Str("application", n.ApplicationID).Msg("notification failed")
		}
	}
}
