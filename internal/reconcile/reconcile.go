// Package reconcile runs the periodic scan: per-status change reports on
// every tick, and the READY countdown (expiry plus reminders) on every Nth tick.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dreamie/internal/domain"
	"dreamie/internal/engine"
	"dreamie/internal/events"
	"dreamie/internal/metrics"
	"dreamie/internal/notify"
)

// DefaultThresholds are the reminder points before a countdown deadline.
var DefaultThresholds = []time.Duration{6 * time.Hour, 3 * time.Hour, time.Hour}

// DefaultReportStatuses are the non-terminal statuses reported on change.
var DefaultReportStatuses = []domain.Status{
	domain.StatusPending,
	domain.StatusApproved,
	domain.StatusProcessing,
	domain.StatusFound,
	domain.StatusReady,
}

type Options struct {
	Interval time.Duration
	// CountdownEvery runs the countdown on ticks 0, N, 2N...
	CountdownEvery int
	Thresholds     []time.Duration
	ReportStatuses []domain.Status
}

func DefaultOptions() Options {
	return Options{
		Interval:       15 * time.Minute,
		CountdownEvery: 4,
		Thresholds:     DefaultThresholds,
		ReportStatuses: DefaultReportStatuses,
	}
}

type reminderKey struct {
	requester string
	app       string
	threshold time.Duration
}

// Job holds the last-seen snapshots and the reminder de-dup set. Both live
// only in memory and reset on restart.
type Job struct {
	Engine   engine.Engine
	Notifier notify.Notifier
	Options  Options
	Now      func() time.Time
	Log      zerolog.Logger

	mu       sync.Mutex
	ticks    int
	lastSeen map[domain.Status]map[string]string
	reminded map[reminderKey]bool
}

func New(e engine.Engine, n notify.Notifier, opts Options) *Job {
	return &Job{
		Engine:   e,
		Notifier: n,
		Options:  opts,
		Log:      zerolog.Nop(),
	}
}

// TickReport summarizes one tick.
type TickReport struct {
	RunID     string   `json:"run_id"`
	Tick      int      `json:"tick"`
	Countdown bool     `json:"countdown"`
	Reports   int      `json:"reports"`
	Expired   []string `json:"expired,omitempty"`
	Reminders int      `json:"reminders"`
	Failures  int      `json:"failures"`
}

func (j *Job) now() time.Time {
	switch {
	case j.Now != nil:
		return j.Now().UTC()
	case j.Engine.Now != nil:
		return j.Engine.Now().UTC()
	}
	return time.Now().UTC()
}

func (j *Job) every() int {
	if j.Options.CountdownEvery <= 0 {
		return DefaultOptions().CountdownEvery
	}
	return j.Options.CountdownEvery
}

func (j *Job) thresholds() []time.Duration {
	ts := j.Options.Thresholds
	if len(ts) == 0 {
		ts = DefaultThresholds
	}
	out := append([]time.Duration(nil), ts...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (j *Job) statuses() []domain.Status {
	if len(j.Options.ReportStatuses) == 0 {
		return DefaultReportStatuses
	}
	return j.Options.ReportStatuses
}

// Run ticks immediately and then every Interval until ctx is done.
func (j *Job) Run(ctx context.Context) error {
	interval := j.Options.Interval
	if interval <= 0 {
		interval = DefaultOptions().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := j.Tick(ctx); err != nil {
			j.Log.Error().Err(err).Msg("reconcile tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scan. Ticks never overlap. An error means the store could
// not be read; per-record failures are counted in the report instead.
func (j *Job) Tick(ctx context.Context) (TickReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastSeen == nil {
		j.lastSeen = map[domain.Status]map[string]string{}
		j.reminded = map[reminderKey]bool{}
	}
	rep := TickReport{RunID: uuid.NewString(), Tick: j.ticks}
	rep.Countdown = j.ticks%j.every() == 0
	j.ticks++
	metrics.ReconcileTicks.Inc()
	log := j.Log.With().Str("run", rep.RunID).Int("tick", rep.Tick).Logger()

	if err := j.report(ctx, &rep, log); err != nil {
		return rep, err
	}
	if rep.Countdown {
		if err := j.countdown(ctx, &rep, log); err != nil {
			return rep, err
		}
	}
	if len(rep.Expired) > 0 || rep.Reminders > 0 || rep.Failures > 0 {
		w := j.Engine.Events
		w.Now = j.now
		if w.DB != nil {
			err := w.Record(ctx, events.TypeReconcileRun, events.KindReconcile, rep.RunID, domain.SystemLabel, events.EventPayload{
				"tick":      rep.Tick,
				"expired":   rep.Expired,
				"reminders": rep.Reminders,
				"failures":  rep.Failures,
			})
			if err != nil {
				log.Warn().Err(err).Msg("audit append failed")
			}
		}
	}
	log.Debug().Int("reports", rep.Reports).Int("expired", len(rep.Expired)).Int("reminders", rep.Reminders).Msg("reconcile tick done")
	return rep, nil
}

func (j *Job) report(ctx context.Context, rep *TickReport, log zerolog.Logger) error {
	for _, st := range j.statuses() {
		apps, err := j.Engine.Search(ctx, engine.Filter{Status: st})
		if err != nil {
			return fmt.Errorf("search %s: %w", st, err)
		}
		current := make(map[string]string, len(apps))
		for id, app := range apps {
			current[id] = describe(app)
		}
		previous := j.lastSeen[st]
		added, removed := diff(previous, current)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		fields := map[string]string{
			"count":   strconv.Itoa(len(current)),
			"added":   strings.Join(added, ","),
			"removed": strings.Join(removed, ","),
		}
		for id, line := range current {
			fields[id] = line
		}
		n := domain.Notification{
			Kind:     domain.NotifyStatusReport,
			Audience: domain.AudienceLog,
			Status:   st,
			Message:  fmt.Sprintf("%s applications: %d", st, len(current)),
			Fields:   fields,
		}
		if err := j.send(ctx, n); err != nil {
			// keep the old snapshot so the change is reported again next tick
			rep.Failures++
			log.Warn().Err(err).Str("status", string(st)).Msg("status report failed")
			continue
		}
		j.lastSeen[st] = current
		rep.Reports++
		metrics.StatusReports.Inc()
	}
	return nil
}

func (j *Job) countdown(ctx context.Context, rep *TickReport, log zerolog.Logger) error {
	ready, err := j.Engine.Search(ctx, engine.Filter{Status: domain.StatusReady})
	if err != nil {
		return fmt.Errorf("search ready: %w", err)
	}
	now := j.now()
	countdown := j.Engine.Countdown()
	live := make(map[string]bool, len(ready))
	for _, app := range domain.ByCreation(ready) {
		live[app.ID] = true
		deadline := Deadline(app, countdown)
		if !now.Before(deadline) {
			j.expire(ctx, app, rep, log)
			continue
		}
		j.remind(ctx, app, deadline.Sub(now), rep, log)
	}
	for k := range j.reminded {
		if !live[k.app] {
			delete(j.reminded, k)
		}
	}
	return nil
}

// Deadline is when a READY application is closed automatically.
func Deadline(app domain.Application, countdown time.Duration) time.Time {
	start := app.LastModifiedAt
	if start.IsZero() {
		start = app.CreatedAt
	}
	return start.Add(countdown)
}

func (j *Job) expire(ctx context.Context, app domain.Application, rep *TickReport, log zerolog.Logger) {
	closed, err := j.Engine.Transition(ctx, engine.TransitionOptions{
		ID:     app.ID,
		Action: domain.ActionExpire,
		Actor:  domain.SystemActor,
	})
	if err != nil {
		rep.Failures++
		log.Warn().Err(err).Str("application", app.ID).Msg("countdown expiry failed")
		return
	}
	rep.Expired = append(rep.Expired, closed.ID)
	metrics.ReconcileExpired.Inc()
	notes := []domain.Notification{
		{
			Kind:          domain.NotifyExpired,
			Audience:      domain.AudienceRequester,
			Recipient:     closed.Requester,
			ApplicationID: closed.ID,
			Status:        closed.Status,
			Message:       fmt.Sprintf("Your request %s for %s was closed because the countdown ran out.", closed.ID, closed.Villager.Name),
		},
		{
			Kind:          domain.NotifyExpired,
			Audience:      domain.AudienceLog,
			ApplicationID: closed.ID,
			Status:        closed.Status,
			Message:       fmt.Sprintf("%s closed by %s after the countdown", closed.ID, domain.SystemLabel),
			Fields:        map[string]string{"requester": closed.Requester.Name, "villager": closed.Villager.Name},
		},
	}
	for _, n := range notes {
		if err := j.send(ctx, n); err != nil {
			rep.Failures++
			log.Warn().Err(err).Str("application", closed.ID).Str("audience", string(n.Audience)).Msg("expiry notification failed")
		}
	}
}

// remind sends the tightest crossed threshold once. Looser thresholds are
// marked sent with it so a late first scan does not fire all three.
func (j *Job) remind(ctx context.Context, app domain.Application, remaining time.Duration, rep *TickReport, log zerolog.Logger) {
	thresholds := j.thresholds()
	var tightest time.Duration
	for _, t := range thresholds {
		if remaining <= t {
			tightest = t
			break
		}
	}
	if tightest == 0 {
		return
	}
	key := reminderKey{requester: app.Requester.AccountID, app: app.ID, threshold: tightest}
	if j.reminded[key] {
		return
	}
	n := domain.Notification{
		Kind:          domain.NotifyReminder,
		Audience:      domain.AudienceRequester,
		Recipient:     app.Requester,
		ApplicationID: app.ID,
		Status:        app.Status,
		Message: fmt.Sprintf("Your request %s for %s closes in %s. Please contact staff if you are still waiting.",
			app.ID, app.Villager.Name, roundRemaining(remaining)),
		Fields: map[string]string{"threshold_minutes": strconv.Itoa(int(tightest.Minutes()))},
	}
	if err := j.send(ctx, n); err != nil {
		rep.Failures++
		log.Warn().Err(err).Str("application", app.ID).Msg("reminder failed")
		return
	}
	for _, t := range thresholds {
		if t >= tightest {
			j.reminded[reminderKey{requester: key.requester, app: key.app, threshold: t}] = true
		}
	}
	rep.Reminders++
	metrics.RemindersSent.WithLabelValues(strconv.Itoa(int(tightest.Minutes()))).Inc()
}

func (j *Job) send(ctx context.Context, n domain.Notification) error {
	if j.Notifier == nil {
		return nil
	}
	if err := j.Notifier.Notify(ctx, n); err != nil {
		metrics.NotificationFailures.WithLabelValues("notifier").Inc()
		return err
	}
	return nil
}

func describe(app domain.Application) string {
	return fmt.Sprintf("%s | %s | %s", app.Requester.Name, app.Villager.Name, app.AvailabilityWindow)
}

func diff(previous, current map[string]string) (added, removed []string) {
	for id, line := range current {
		if old, ok := previous[id]; !ok || old != line {
			added = append(added, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func roundRemaining(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	return d.Truncate(time.Minute).String()
}
