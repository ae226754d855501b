package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dreamie/internal/app"
	"dreamie/internal/config"
	"dreamie/internal/domain"
	"dreamie/internal/engine"
	"dreamie/internal/logging"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "dreamie",
	Short: "Dreamie villager adoption desk",
	Long: `Dreamie tracks villager adoption requests from filing to move-in.
Core concepts:
- Application: one request for one villager, identified by a six character id.
- Lifecycle: PENDING -> APPROVED -> PROCESSING -> FOUND -> READY -> CLOSED, with CANCEL and REJECTED as exits.
- Staff: accounts listed in the config or granted at runtime; only staff approve, claim, find and close.
- Countdown: a READY application closes itself once the countdown runs out; reminders go out before that.
- Record file: requests.jsonl in the workspace is the source of truth; .dreamie/ holds the audit log.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "account acting on this command")
	flags.String("actor-name", "", "display name of the acting account")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Bool("log-pretty", false, "human readable logs on stderr")
	_ = v.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = v.BindPFlag("json", flags.Lookup("json"))
	_ = v.BindPFlag("actor-id", flags.Lookup("actor-id"))
	_ = v.BindPFlag("actor-name", flags.Lookup("actor-name"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_pretty", flags.Lookup("log-pretty"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(foundCmd())
	rootCmd.AddCommand(closeCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, v.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	logging.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}

// withApp opens the workspace for one command. Prompts read from stdin.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, cfg.LogPretty)
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Bot.Confirmer = newConsole(os.Stdin, os.Stdout)
	return fn(ctx, a)
}

func currentActor() domain.Actor {
	return domain.Actor{
		AccountID: strings.TrimSpace(v.GetString("actor-id")),
		Name:      strings.TrimSpace(v.GetString("actor-name")),
	}
}

func currentRequester() domain.Requester {
	a := currentActor()
	if a.Name == "" {
		a.Name = a.AccountID
	}
	return domain.Requester{AccountID: a.AccountID, Name: a.Name}
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func printJSON(out any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printApplications(apps []domain.Application) error {
	if v.GetBool("json") {
		if apps == nil {
			apps = []domain.Application{}
		}
		return printJSON(apps)
	}
	if len(apps) == 0 {
		fmt.Println("No applications found.")
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Requester", "Villager", "Status", "Time Travel", "Slot", "Created", "Staff"})
	for _, app := range apps {
		tw.AppendRow(table.Row{
			app.ID,
			app.Requester.Name,
			app.Villager.Name,
			app.Status,
			app.CanTimeTravel,
			app.AvailabilityWindow,
			app.CreatedAt.UTC().Format(time.DateTime),
			app.AssignedStaff,
		})
	}
	tw.Render()
	return nil
}

func printApplication(app domain.Application) error {
	if v.GetBool("json") {
		return printJSON(app)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Request Id", app.ID},
		{"Name", app.Requester.Name},
		{"Villager", app.Villager.Name},
		{"Link", app.Villager.Link},
		{"Status", app.Status},
		{"Time-Travel", app.CanTimeTravel},
		{"Available Time(UTC)", app.AvailabilityWindow},
		{"Created Time(UTC)", app.CreatedAt.UTC().Format(time.DateTime)},
	})
	if !app.LastModifiedAt.IsZero() {
		tw.AppendRow(table.Row{"Last Modified(UTC)", app.LastModifiedAt.UTC().Format(time.DateTime)})
	}
	if app.AssignedStaff != "" {
		tw.AppendRow(table.Row{"Staff", app.AssignedStaff})
	}
	tw.Render()
	return nil
}

func printSummary(s engine.Summary) error {
	if v.GetBool("json") {
		return printJSON(s)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Status", "Applications"})
	for _, c := range s.Counts {
		tw.AppendRow(table.Row{c.Status, c.String()})
	}
	tw.AppendFooter(table.Row{"Total", s.Total})
	tw.Render()
	return nil
}

func printTable(header table.Row, rows []table.Row, raw any) error {
	if v.GetBool("json") {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// bindFlag lets a command flag override one config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
