package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dreamie/internal/catalog"
	"dreamie/internal/domain"
	"dreamie/internal/engine/auth"
	"dreamie/internal/events"
	"dreamie/internal/ident"
	"dreamie/internal/metrics"
	"dreamie/internal/notify"
	"dreamie/internal/repo"
	"dreamie/internal/store"
)

// Options are the lifecycle policy knobs.
type Options struct {
	// RequestLimit caps open applications per requester.
	RequestLimit int
	// Cooldown is how long a rejection blocks new applications.
	Cooldown time.Duration
	// Countdown is how long a READY application stays open.
	Countdown time.Duration
}

func DefaultOptions() Options {
	return Options{
		RequestLimit: 1,
		Cooldown:     14 * 24 * time.Hour,
		Countdown:    72 * time.Hour,
	}
}

type Engine struct {
	Store   *store.Store
	Catalog *catalog.Catalog
	IDs     ident.Generator
	Auth    auth.Authorizer
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Mirror  notify.Mirror
	Options Options
	Now     func() time.Time
	Log     zerolog.Logger
}

func New(st *store.Store, cat *catalog.Catalog, conn *sql.DB, opts Options) Engine {
	return Engine{
		Store:   st,
		Catalog: cat,
		Auth:    auth.Roster{Repo: repo.Repo{DB: conn}},
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Events:  events.Writer{DB: conn},
		Mirror:  notify.Noop{},
		Options: opts,
		Now:     time.Now,
		Log:     zerolog.Nop(),
	}
}

// now is truncated to the second because the record file keeps no more.
func (e Engine) now() time.Time {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	return t.UTC().Truncate(time.Second)
}

// CreateOptions are the answers collected from a requester.
type CreateOptions struct {
	Requester     domain.Requester
	Villager      string
	Window        domain.AvailabilityWindow
	CanTimeTravel bool
}

// Create validates and persists a new PENDING application.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Application, error) {
	app, err := e.create(ctx, opts)
	metrics.ApplicationsCreated.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		e.logFailure(err, "create", "")
	}
	return app, err
}

func (e Engine) create(ctx context.Context, opts CreateOptions) (domain.Application, error) {
	opts.Requester.AccountID = strings.TrimSpace(opts.Requester.AccountID)
	if opts.Requester.AccountID == "" {
		return domain.Application{}, ErrMissingRequester
	}
	if !opts.Window.Valid() {
		return domain.Application{}, ErrInvalidWindow
	}
	villager, err := e.resolveVillager(opts.Villager)
	if err != nil {
		return domain.Application{}, err
	}
	if err := e.ensureUnlocked(ctx); err != nil {
		return domain.Application{}, err
	}

	var app domain.Application
	err = e.Store.Update(ctx, func(tx *store.Tx) error {
		now := e.now()
		if err := e.precheck(tx.All(), opts.Requester.AccountID, villager, now); err != nil {
			return err
		}
		id, err := e.IDs.Generate(tx.Exists)
		if err != nil {
			return fmt.Errorf("assign application id: %w", err)
		}
		app = domain.Application{
			ID:                 id,
			Requester:          opts.Requester,
			Villager:           villager,
			Status:             domain.StatusPending,
			CanTimeTravel:      opts.CanTimeTravel,
			AvailabilityWindow: opts.Window,
			CreatedAt:          now,
		}
		if err := tx.Insert(app); err != nil {
			return err
		}
		tx.OnCommit(func() {
			e.audit(ctx, events.TypeApplicationCreated, events.KindApplication, app.ID, app.Requester.AccountID, events.EventPayload{
				"villager":        app.Villager.Name,
				"window":          app.AvailabilityWindow.String(),
				"can_time_travel": app.CanTimeTravel,
			})
		})
		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}
	e.Log.Info().Str("application", app.ID).Str("requester", app.Requester.AccountID).Str("villager", app.Villager.Name).Msg("application created")
	e.publish(ctx, app)
	return app, nil
}

// Precheck runs the create gates without persisting anything, so interactive
// callers can refuse early. Create runs them again under the store lock.
func (e Engine) Precheck(ctx context.Context, requesterID, villagerName string) (domain.Villager, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return domain.Villager{}, ErrMissingRequester
	}
	villager, err := e.resolveVillager(villagerName)
	if err != nil {
		return domain.Villager{}, err
	}
	if err := e.ensureUnlocked(ctx); err != nil {
		return domain.Villager{}, err
	}
	apps, err := e.Store.LoadAll(ctx)
	if err != nil {
		return domain.Villager{}, err
	}
	if err := e.precheck(domain.ByCreation(apps), requesterID, villager, e.now()); err != nil {
		return domain.Villager{}, err
	}
	return villager, nil
}

func (e Engine) resolveVillager(name string) (domain.Villager, error) {
	if e.Catalog == nil {
		return domain.Villager{}, fmt.Errorf("%w: villager catalog not loaded", ErrUnknownVillager)
	}
	return e.Catalog.Resolve(name)
}

func (e Engine) limit() int {
	if e.Options.RequestLimit <= 0 {
		return DefaultOptions().RequestLimit
	}
	return e.Options.RequestLimit
}

func (e Engine) cooldown() time.Duration {
	if e.Options.Cooldown <= 0 {
		return DefaultOptions().Cooldown
	}
	return e.Options.Cooldown
}

// Countdown is the READY-to-CLOSED deadline length.
func (e Engine) Countdown() time.Duration {
	if e.Options.Countdown <= 0 {
		return DefaultOptions().Countdown
	}
	return e.Options.Countdown
}

func (e Engine) precheck(apps []domain.Application, requesterID string, villager domain.Villager, now time.Time) error {
	var mine []domain.Application
	for _, app := range apps {
		if app.Requester.AccountID == requesterID {
			mine = append(mine, app)
		}
	}
	open := 0
	for _, app := range mine {
		if !app.Status.IsOpen() {
			continue
		}
		if app.SameVillager(villager.Name) {
			return &PrecheckError{
				Err:    ErrDuplicateRequest,
				Reason: fmt.Sprintf("you already have an open request for %s (%s)", villager.Name, app.ID),
			}
		}
		open++
	}
	if open >= e.limit() {
		return &PrecheckError{
			Err:    ErrLimitExceeded,
			Reason: fmt.Sprintf("you already have %d open request(s); the limit is %d", open, e.limit()),
		}
	}
	for _, app := range mine {
		if app.Status != domain.StatusRejected {
			continue
		}
		rejectedAt := app.LastModifiedAt
		if rejectedAt.IsZero() {
			rejectedAt = app.CreatedAt
		}
		until := rejectedAt.Add(e.cooldown())
		if now.Before(until) {
			return &PrecheckError{
				Err:    ErrCooldownActive,
				Reason: fmt.Sprintf("request %s was rejected; you can apply again after %s", app.ID, until.Format(time.RFC1123)),
			}
		}
	}
	return nil
}

// TransitionOptions name one lifecycle action.
type TransitionOptions struct {
	ID     string
	Action domain.Action
	Actor  domain.Actor
	// Force lets staff close an application that is not READY yet.
	Force bool
}

// Transition applies one action and returns the updated application.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Application, error) {
	app, err := e.transition(ctx, opts)
	metrics.Transitions.WithLabelValues(string(opts.Action), resultLabel(err)).Inc()
	if err != nil {
		e.logFailure(err, string(opts.Action), opts.ID)
	}
	return app, err
}

func (e Engine) transition(ctx context.Context, opts TransitionOptions) (domain.Application, error) {
	id, err := NormalizeID(opts.ID)
	if err != nil {
		return domain.Application{}, err
	}
	r, ok := transitions[opts.Action]
	if !ok {
		return domain.Application{}, fmt.Errorf("%w: %q", ErrUnknownAction, opts.Action)
	}
	actor, err := e.ResolveActor(ctx, opts.Actor)
	if err != nil {
		return domain.Application{}, err
	}
	if opts.Force && !actor.Staff {
		return domain.Application{}, auth.ForbiddenError{Action: string(opts.Action), Reason: "force is staff only"}
	}

	var updated domain.Application
	err = e.Store.Update(ctx, func(tx *store.Tx) error {
		app, ok := tx.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := r.authorize(opts.Action, actor, app); err != nil {
			return err
		}
		if err := r.allows(opts.Action, app.Status, opts.Force); err != nil {
			return err
		}
		from := app.Status
		app.Status = r.to
		app.LastModifiedAt = e.now()
		if r.stamps(actor, app) {
			app.AssignedStaff = actor.Name
			app.AssignedStaffID = actor.AccountID
		}
		if err := tx.Put(app); err != nil {
			return err
		}
		updated = app
		tx.OnCommit(func() {
			e.audit(ctx, events.TypeApplicationTransitioned, events.KindApplication, app.ID, actor.AccountID, events.EventPayload{
				"action": string(opts.Action),
				"from":   string(from),
				"to":     string(app.Status),
				"force":  opts.Force,
			})
		})
		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}
	e.Log.Info().Str("application", updated.ID).Str("action", string(opts.Action)).Str("actor", actor.AccountID).Str("status", string(updated.Status)).Msg("application transitioned")
	e.publish(ctx, updated)
	return updated, nil
}

// NormalizeID upper-cases id and checks its shape.
func NormalizeID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !ident.Valid(id) {
		return "", fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return id, nil
}

// ResolveActor fills Staff and the display handle from the Authorizer. The
// system actor passes through untouched.
func (e Engine) ResolveActor(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	if actor.System {
		return domain.SystemActor, nil
	}
	actor.AccountID = strings.TrimSpace(actor.AccountID)
	if actor.AccountID == "" {
		return actor, auth.ForbiddenError{Action: "act", Reason: "unknown actor"}
	}
	if e.Auth != nil {
		staff, err := e.Auth.IsStaff(ctx, actor.AccountID)
		if err != nil {
			return actor, fmt.Errorf("resolve staff role: %w", err)
		}
		actor.Staff = staff
		if staff {
			handle, err := e.Auth.ResolveActor(ctx, actor.AccountID)
			if err != nil {
				return actor, fmt.Errorf("resolve staff handle: %w", err)
			}
			if handle != "" {
				actor.Name = handle
			}
		}
	}
	if actor.Name == "" {
		actor.Name = actor.AccountID
	}
	return actor, nil
}

// Locked reports whether new applications are refused.
func (e Engine) Locked(ctx context.Context) (bool, error) {
	if e.DB == nil {
		return false, nil
	}
	v, err := e.Repo.GetSetting(ctx, repo.SettingQueueLocked)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (e Engine) ensureUnlocked(ctx context.Context) error {
	locked, err := e.Locked(ctx)
	if err != nil {
		return fmt.Errorf("read queue lock: %w", err)
	}
	if locked {
		return &PrecheckError{Err: ErrQueueLocked, Reason: "the request queue is closed right now; try again later"}
	}
	return nil
}

// SetLocked opens or closes intake. Staff only.
func (e Engine) SetLocked(ctx context.Context, actor domain.Actor, locked bool) error {
	actor, err := e.requireStaff(ctx, actor, "lock the queue")
	if err != nil {
		return err
	}
	if e.DB == nil {
		return errors.New("settings database not configured")
	}
	evtType := events.TypeQueueUnlocked
	if locked {
		evtType = events.TypeQueueLocked
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SetSettingTx(ctx, tx, repo.SettingQueueLocked, strconv.FormatBool(locked), actor.AccountID, e.now()); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, evtType, events.KindQueue, "", actor.AccountID, nil)
	})
	if err != nil {
		return err
	}
	e.Log.Info().Bool("locked", locked).Str("actor", actor.AccountID).Msg("queue lock changed")
	return nil
}

// GrantStaff adds a runtime staff member. Staff only.
func (e Engine) GrantStaff(ctx context.Context, actor domain.Actor, accountID, handle string) (domain.StaffMember, error) {
	actor, err := e.requireStaff(ctx, actor, "grant staff")
	if err != nil {
		return domain.StaffMember{}, err
	}
	m := domain.StaffMember{
		AccountID: strings.TrimSpace(accountID),
		Handle:    strings.TrimSpace(handle),
		GrantedBy: actor.AccountID,
		GrantedAt: e.now().Format(time.RFC3339),
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.GrantStaffTx(ctx, tx, m); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.TypeStaffGranted, events.KindStaff, m.AccountID, actor.AccountID, events.EventPayload{"handle": m.Handle})
	})
	if err != nil {
		return domain.StaffMember{}, err
	}
	return e.Repo.GetStaff(ctx, m.AccountID)
}

// RevokeStaff removes a runtime staff member. Staff from the static list
// cannot be revoked here.
func (e Engine) RevokeStaff(ctx context.Context, actor domain.Actor, accountID string) error {
	actor, err := e.requireStaff(ctx, actor, "revoke staff")
	if err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.RevokeStaffTx(ctx, tx, accountID); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.TypeStaffRevoked, events.KindStaff, accountID, actor.AccountID, nil)
	})
}

func (e Engine) requireStaff(ctx context.Context, actor domain.Actor, what string) (domain.Actor, error) {
	actor, err := e.ResolveActor(ctx, actor)
	if err != nil {
		return actor, err
	}
	if !actor.Staff {
		return actor, auth.ForbiddenError{Action: what, Reason: "staff only"}
	}
	return actor, nil
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if e.DB == nil {
		return errors.New("settings database not configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.DB == nil {
		w.DB = e.DB
	}
	w.Now = e.now
	return w
}

// audit records an event after the store commit. A failure here never undoes
// the committed change.
func (e Engine) audit(ctx context.Context, evtType, kind, entityID, actorID string, payload events.EventPayload) {
	if e.DB == nil && e.Events.DB == nil {
		return
	}
	if err := e.writer().Record(ctx, evtType, kind, entityID, actorID, payload); err != nil {
		metrics.NotificationFailures.WithLabelValues("audit").Inc()
		e.Log.Warn().Err(err).Str("event", evtType).Str("entity", entityID).Msg("audit append failed")
	}
}

func (e Engine) publish(ctx context.Context, app domain.Application) {
	if e.Mirror == nil {
		return
	}
	if err := e.Mirror.Publish(ctx, app); err != nil {
		metrics.NotificationFailures.WithLabelValues("mirror").Inc()
		e.Log.Warn().Err(err).Str("application", app.ID).Msg("mirror publish failed")
	}
	e.archiveFinished(ctx, app)
}

func (e Engine) logFailure(err error, op, id string) {
	switch Kind(err) {
	case KindStoreUnavailable, KindInternal:
		e.Log.Error().Err(err).Str("op", op).Str("application", id).Msg("operation failed")
	default:
		e.Log.Debug().Err(err).Str("op", op).Str("application", id).Msg("operation refused")
	}
}
