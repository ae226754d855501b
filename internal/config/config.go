package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dreamie/internal/engine"
	"dreamie/internal/reconcile"
	"dreamie/internal/store"
)

// EnvPrefix is prepended to every environment key, e.g. DREAMIE_REQUEST_LIMIT.
const EnvPrefix = "DREAMIE"

// FileName is the optional per-workspace config file.
const FileName = "dreamie.yml"

// Config is the resolved configuration. Precedence, lowest first: defaults,
// dreamie.yml, .env, process environment, flags bound into the viper instance.
type Config struct {
	Workspace     string        `yaml:"workspace,omitempty"`
	RecordFile    string        `yaml:"record_file"`
	VillagerNames string        `yaml:"villager_names"`
	TimeFormat    string        `yaml:"time_format"`
	RequestLimit  int           `yaml:"request_limit"`
	CooldownDays  int           `yaml:"cooldown_days"`
	CountdownHrs  int           `yaml:"countdown_hours"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	// CountdownEvery runs the READY countdown every Nth reconcile tick.
	CountdownEvery int      `yaml:"countdown_every"`
	Staff          []string `yaml:"staff"`

	NotifyURL    string `yaml:"notify_url"`
	MirrorURL    string `yaml:"mirror_url"`
	WebhookToken string `yaml:"webhook_secret"`

	ListenAddr    string `yaml:"listen_addr"`
	JWTSecret     string `yaml:"jwt_secret"`
	LegacyHeaders bool   `yaml:"legacy_headers"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

var defaults = map[string]any{
	"workspace":       ".",
	"record_file":     "requests.jsonl",
	"villager_names":  "villagers.txt",
	"time_format":     store.DefaultTimeLayout,
	"request_limit":   1,
	"cooldown_days":   14,
	"countdown_hours": 72,
	"tick_interval":   "15m",
	"countdown_every": 4,
	"staff":           "",
	"notify_url":      "",
	"mirror_url":      "",
	"webhook_secret":  "",
	"listen_addr":     ":8080",
	"jwt_secret":      "",
	"legacy_headers":  true,
	"log_level":       "info",
	"log_pretty":      false,
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// NewViper returns a viper instance with defaults and env binding in place.
// Callers may bind cobra flags into it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves configuration for workspace. A missing dreamie.yml or .env
// is fine; a malformed one is not.
func Load(v *viper.Viper, workspace string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if workspace == "" {
		workspace = v.GetString("workspace")
	}
	if err := loadDotEnv(filepath.Join(workspace, ".env")); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(Path(workspace))
	switch {
	case err == nil:
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merge %s: %w", FileName, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	cfg := fromViper(v)
	cfg.Workspace = workspace
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates a standalone config document over the defaults.
func FromYAML(data []byte) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, err
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv fills unset environment variables from path, if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Workspace:      v.GetString("workspace"),
		RecordFile:     v.GetString("record_file"),
		VillagerNames:  v.GetString("villager_names"),
		TimeFormat:     v.GetString("time_format"),
		RequestLimit:   v.GetInt("request_limit"),
		CooldownDays:   v.GetInt("cooldown_days"),
		CountdownHrs:   v.GetInt("countdown_hours"),
		TickInterval:   v.GetDuration("tick_interval"),
		CountdownEvery: v.GetInt("countdown_every"),
		Staff:          stringList(v.Get("staff")),
		NotifyURL:      v.GetString("notify_url"),
		MirrorURL:      v.GetString("mirror_url"),
		WebhookToken:   v.GetString("webhook_secret"),
		ListenAddr:     v.GetString("listen_addr"),
		JWTSecret:      v.GetString("jwt_secret"),
		LegacyHeaders:  v.GetBool("legacy_headers"),
		LogLevel:       strings.ToLower(v.GetString("log_level")),
		LogPretty:      v.GetBool("log_pretty"),
	}
}

// stringList accepts a YAML list or a comma separated env value.
func stringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the lifecycle cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RecordFile) == "" {
		return fmt.Errorf("config.record_file is required")
	}
	if strings.TrimSpace(c.TimeFormat) == "" {
		return fmt.Errorf("config.time_format is required")
	}
	if err := store.CheckLayout(c.TimeFormat); err != nil {
		return fmt.Errorf("config.time_format: %w", err)
	}
	if c.RequestLimit <= 0 {
		return fmt.Errorf("config.request_limit must be positive")
	}
	if c.CooldownDays <= 0 {
		return fmt.Errorf("config.cooldown_days must be positive")
	}
	if c.CountdownHrs <= 0 {
		return fmt.Errorf("config.countdown_hours must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config.tick_interval must be a positive duration")
	}
	if c.CountdownEvery <= 0 {
		return fmt.Errorf("config.countdown_every must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("config.log_level must be one of debug, info, warn, error, fatal, panic")
	}
	for _, s := range c.Staff {
		if strings.HasPrefix(s, ":") {
			return fmt.Errorf("staff entry %q has no account id", s)
		}
	}
	return nil
}

// RecordPath resolves the record file against the workspace.
func (c *Config) RecordPath() string { return c.resolve(c.RecordFile) }

// CatalogPath resolves the villager catalog against the workspace.
func (c *Config) CatalogPath() string { return c.resolve(c.VillagerNames) }

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// EngineOptions maps the policy knobs.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		RequestLimit: c.RequestLimit,
		Cooldown:     time.Duration(c.CooldownDays) * 24 * time.Hour,
		Countdown:    time.Duration(c.CountdownHrs) * time.Hour,
	}
}

// ReconcileOptions maps the scan schedule.
func (c *Config) ReconcileOptions() reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.Interval = c.TickInterval
	opts.CountdownEvery = c.CountdownEvery
	return opts
}
