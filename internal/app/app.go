// Package app wires the configured stores, engine, notifiers and jobs into
// one handle shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"dreamie/internal/bot"
	"dreamie/internal/catalog"
	"dreamie/internal/config"
	"dreamie/internal/db"
	"dreamie/internal/engine"
	"dreamie/internal/engine/auth"
	"dreamie/internal/logging"
	"dreamie/internal/migrate"
	"dreamie/internal/notify"
	"dreamie/internal/reconcile"
	"dreamie/internal/repo"
	"dreamie/internal/store"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Store     *store.Store
	Catalog   *catalog.Catalog
	Engine    engine.Engine
	Notifier  notify.Notifier
	Bot       *bot.Bot
	Reconcile *reconcile.Job
	Log       zerolog.Logger
}

// Open migrates the audit database, opens the record file and loads the
// villager catalog. The bot starts without a Confirmer; interactive callers
// set one.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if applied, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	} else if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("applied migrations")
	}

	storeLog := logging.Component(log, "store")
	st, err := store.Open(cfg.RecordPath(), store.Options{TimeLayout: cfg.TimeFormat, Logger: &storeLog})
	if err != nil {
		conn.Close()
		return nil, err
	}
	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		conn.Close()
		return nil, err
	}

	e := engine.New(st, cat, conn, cfg.EngineOptions())
	e.Auth = auth.Roster{Repo: repo.Repo{DB: conn}, Static: auth.ParseStatic(cfg.Staff)}
	e.Log = logging.Component(log, "engine")
	if cfg.MirrorURL != "" {
		e.Mirror = notify.WebhookMirror{
			Webhook:    notify.Webhook{URL: cfg.MirrorURL, Secret: cfg.WebhookToken},
			TimeLayout: cfg.TimeFormat,
		}
	}

	n := Notifier(cfg, log)
	b := bot.New(e, n, nil)
	b.Log = logging.Component(log, "bot")

	job := reconcile.New(e, n, cfg.ReconcileOptions())
	job.Log = logging.Component(log, "reconcile")

	return &App{
		Config:    cfg,
		DB:        conn,
		Store:     st,
		Catalog:   cat,
		Engine:    e,
		Notifier:  n,
		Bot:       b,
		Reconcile: job,
		Log:       log,
	}, nil
}

// Notifier always logs and also forwards to the chat bridge when one is set.
func Notifier(cfg *config.Config, log zerolog.Logger) notify.Notifier {
	sinks := notify.Multi{notify.Log{Logger: logging.Component(log, "notify")}}
	if cfg.NotifyURL != "" {
		sinks = append(sinks, notify.WebhookNotifier{
			Webhook: notify.Webhook{URL: cfg.NotifyURL, Secret: cfg.WebhookToken},
		})
	}
	return sinks
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
