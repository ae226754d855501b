package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dreamie/internal/app"
	"dreamie/internal/bot"
	"dreamie/internal/config"
	"dreamie/internal/db"
	"dreamie/internal/domain"
	"dreamie/internal/engine"
	"dreamie/internal/logging"
	"dreamie/internal/server"
)

func initCmd() *cobra.Command {
	var staff []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace with a default dreamie.yml and villager list",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := v.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg, err := config.Load(config.NewViper(), workspace)
			if err != nil {
				return err
			}
			cfg.Staff = staff
			doc := *cfg
			doc.Workspace = ""
			data, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			names := cfg.CatalogPath()
			if _, err := os.Stat(names); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(names, []byte("# one villager name per line\n"), 0o644); err != nil {
					return err
				}
			}
			fmt.Printf("Initialized %s (villagers in %s)\n", path, filepath.Base(names))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&staff, "staff", nil, "staff entries as account[:handle]")
	return cmd
}

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <villager>",
		Short: "File a new application; asks a few questions first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Bot.Apply(ctx, currentRequester(), strings.Join(args, " "))
				if err != nil {
					return explain(err)
				}
				return printApplication(created)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show your open applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				apps, err := a.Bot.Status(ctx, currentRequester())
				if err != nil {
					return err
				}
				return printApplications(apps)
			})
		},
	}
}

func readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready [id]",
		Short: "Tell staff your plot is open for a FOUND villager",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Bot.Ready(ctx, currentActor(), optionalArg(args))
				if err != nil {
					return explain(err)
				}
				return printApplication(updated)
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel an open application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Bot.Cancel(ctx, currentActor(), optionalArg(args))
				if err != nil {
					return explain(err)
				}
				return printApplication(updated)
			})
		},
	}
}

func reviewCmd() *cobra.Command {
	var deny bool
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve (or with --deny reject) a pending application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Bot.Review(ctx, currentActor(), args[0], deny)
				if err != nil {
					return explain(err)
				}
				return printApplication(updated)
			})
		},
	}
	cmd.Flags().BoolVar(&deny, "deny", false, "reject instead of approve")
	return cmd
}

// staffAction builds the single-id staff commands.
func staffAction(use, short string, run func(context.Context, *bot.Bot, domain.Actor, string) (domain.Application, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := run(ctx, a.Bot, currentActor(), args[0])
				if err != nil {
					return explain(err)
				}
				return printApplication(updated)
			})
		},
	}
}

func claimCmd() *cobra.Command {
	return staffAction("claim", "Start searching for the villager", func(ctx context.Context, b *bot.Bot, staff domain.Actor, id string) (domain.Application, error) {
		return b.Claim(ctx, staff, id)
	})
}

func foundCmd() *cobra.Command {
	return staffAction("found", "Mark the villager as found", func(ctx context.Context, b *bot.Bot, staff domain.Actor, id string) (domain.Application, error) {
		return b.Found(ctx, staff, id)
	})
}

func closeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a READY application once the villager moved in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				updated, err := a.Bot.Close(ctx, currentActor(), args[0], force)
				if err != nil {
					return explain(err)
				}
				return printApplication(updated)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "close an application that is not READY yet")
	return cmd
}

func archiveCmd() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Hide an application's sheet row (--show to unhide)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				archived, err := a.Bot.Archive(ctx, currentActor(), args[0], !show)
				if err != nil {
					return explain(err)
				}
				return printApplication(archived)
			})
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "unhide the row instead")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [id]",
		Short: "List open applications, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				apps, err := a.Bot.List(ctx, currentActor(), optionalArg(args))
				if err != nil {
					return explain(err)
				}
				if len(args) == 1 && len(apps) == 1 {
					return printApplication(apps[0])
				}
				return printApplications(apps)
			})
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search (status <STATUS> | name <text>)",
		Short: "Search applications by status or requester name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				apps, err := a.Bot.Search(ctx, currentActor(), args...)
				if err != nil {
					return explain(err)
				}
				return printApplications(apps)
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count applications per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Bot.Summary(ctx, currentActor())
				if err != nil {
					return explain(err)
				}
				return printSummary(s)
			})
		},
	}
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Toggle whether new applications are accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				locked, err := a.Bot.ToggleLock(ctx, currentActor())
				if err != nil {
					return explain(err)
				}
				if locked {
					fmt.Println("The application queue is locked.")
				} else {
					fmt.Println("The application queue is open.")
				}
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var once bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Send status reports, reminders and expire READY applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if interval > 0 {
					a.Reconcile.Options.Interval = interval
				}
				if !once {
					err := a.Reconcile.Run(ctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				rep, err := a.Reconcile.Tick(ctx)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("tick %d: %d reports, %d expired, %d reminders, %d failures\n",
					rep.Tick, rep.Reports, len(rep.Expired), rep.Reminders, rep.Failures)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override the configured tick interval")
	return cmd
}

func logCmd() *cobra.Command {
	var after int64
	var n int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Tail the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Bot.Events(ctx, currentActor(), after, n)
				if err != nil {
					return explain(err)
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				return printTable(table.Row{"#", "Time", "Type", "Entity", "Actor", "Payload"}, rows, items)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events with a larger id")
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "staff", Short: "Manage the runtime staff roster"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staff granted at runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				members, err := a.Bot.Roster(ctx, currentActor())
				if err != nil {
					return explain(err)
				}
				rows := make([]table.Row, 0, len(members))
				for _, m := range members {
					rows = append(rows, table.Row{m.AccountID, m.Handle, m.GrantedBy, m.GrantedAt})
				}
				return printTable(table.Row{"Account", "Handle", "Granted By", "Granted At"}, rows, members)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <account> [handle]",
		Short: "Grant staff",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handle := ""
				if len(args) == 2 {
					handle = args[1]
				}
				m, err := a.Engine.GrantStaff(ctx, currentActor(), args[0], handle)
				if err != nil {
					return explain(err)
				}
				return printJSON(m)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <account>",
		Short: "Revoke staff granted at runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return explain(a.Engine.RevokeStaff(ctx, currentActor(), args[0]))
			})
		},
	})
	return cmd
}

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage API keys for integrations"}
	var owner, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key; the plaintext is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, plain, err := a.Engine.CreateAPIKey(ctx, currentActor(), owner, name)
				if err != nil {
					return explain(err)
				}
				if v.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "account_id": key.AccountID, "key": plain})
				}
				fmt.Printf("%s\nkey id %s for %s; store it now, it is not shown again\n", plain, key.ID, key.AccountID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&owner, "for", "", "account to issue for (staff only)")
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.APIKeys(ctx, currentActor(), all)
				if err != nil {
					return explain(err)
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.AccountID, k.Name, k.CreatedAt})
				}
				return printTable(table.Row{"ID", "Account", "Name", "Created"}, rows, keys)
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "every account's keys (staff only)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return explain(a.Engine.RevokeAPIKey(ctx, currentActor(), args[0]))
			})
		},
	})
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting account and whether it is staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, err := a.Engine.ResolveActor(ctx, currentActor())
				if err != nil {
					return explain(err)
				}
				return printJSON(actor)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var basePath string
	var devLogin, noReconcile bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reconcile loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" && !cfg.LegacyHeaders {
				return fmt.Errorf("%s_JWT_SECRET is required when legacy headers are off", config.EnvPrefix)
			}
			if devLogin && cfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login needs %s_JWT_SECRET", config.EnvPrefix)
			}
			log := logging.New(os.Stderr, cfg.LogPretty)
			ctx := cmd.Context()
			a, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Bot:      a.Bot,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.JWTSecret,
					AllowLegacyActorHeader: cfg.LegacyHeaders,
					DevLogin:               devLogin,
				},
				Log: logging.Component(log, "http"),
			})
			if err != nil {
				return err
			}
			if !noReconcile {
				go func() {
					if err := a.Reconcile.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error().Err(err).Msg("reconcile loop stopped")
					}
				}()
			}
			log.Info().Str("addr", cfg.ListenAddr).Str("base_path", basePath).Msg("serving Dreamie API (OpenAPI at openapi.json, Swagger UI at /docs)")
			return server.Serve(ctx, cfg.ListenAddr, handler)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local testing only)")
	cmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "do not run the reconcile loop in this process")
	bindFlag(cmd, "listen_addr", "addr")
	return cmd
}

// explain rewrites refusals in the words the requester should see.
func explain(err error) error {
	var pre *engine.PrecheckError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bot.ErrAbandoned):
		return errors.New("no answer in time; nothing was filed")
	case errors.Is(err, bot.ErrNoOpenPlot):
		return errors.New("an open plot is required unless you can time travel")
	case errors.As(err, &pre) && pre.Reason != "":
		return errors.New(pre.Reason)
	}
	return err
}
