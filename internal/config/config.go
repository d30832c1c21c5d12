package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/h1v3-io/deskbridge/internal/cleanup"
	"github.com/h1v3-io/deskbridge/internal/identity"
	"github.com/h1v3-io/deskbridge/internal/notify"
	"github.com/h1v3-io/deskbridge/internal/scheduler"
)

// EnvPrefix prefixes every environment variable, e.g. DESKBRIDGE_API_PORT.
const EnvPrefix = "DESKBRIDGE"

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"slack.bot_token":       "SLACK_BOT_TOKEN",
	"slack.default_channel": "SLACK_CHANNEL_ID",
	"slack.identity_map":    "SLACK_IDENTITY_MAP",
	"slack.known_bot_ids":   "SLACK_KNOWN_BOT_IDS",
	"slack.signing_secret":  "SLACK_SIGNING_SECRET",
	"api.port":              "PORT",
}

// Config is the top-level deskbridge configuration.
type Config struct {
	Slack   SlackConfig
	Webhook WebhookConfig
	Cleanup CleanupConfig
	API     APIConfig
	Logging LoggingConfig
}

// SlackConfig holds Slack workspace settings.
type SlackConfig struct {
	BotToken            string
	DefaultChannel      string
	IdentityMap         string // "ext:U…,ext:U…"
	KnownBotIDs         []string
	SigningSecret       string
	APIURL              string
	FollowActiveChannel bool
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	Secret        string
	BearerToken   string
	InferCreation bool
	Layout        string
	Timezone      string
}

// CleanupConfig holds cleanup settings.
type CleanupConfig struct {
	HistoryLimit int
	DeleteRate   float64 // deletes per second, 0 = unpaced
	Schedule     string  // cron spec, empty disables scheduled cleanups
	Channels     []string
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string
	Port int
	Key  string
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("slack.follow_active_channel", false)
	v.SetDefault("webhook.infer_creation", true)
	v.SetDefault("webhook.layout", string(notify.LayoutBlocks))
	v.SetDefault("cleanup.history_limit", cleanup.DefaultLimit)
	v.SetDefault("cleanup.delete_rate", 0)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 5000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
}

// BindEnv wires DESKBRIDGE_* variables and the legacy names onto v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
}

// NewViper returns a viper instance with defaults and env bindings applied.
// When path is non-empty the file is read as well; its format follows the
// extension (yaml, json, toml).
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from the optional file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from v without validating it.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Slack: SlackConfig{
			BotToken:            strings.TrimSpace(v.GetString("slack.bot_token")),
			DefaultChannel:      strings.TrimSpace(v.GetString("slack.default_channel")),
			IdentityMap:         identityMapString(v),
			KnownBotIDs:         stringList(v, "slack.known_bot_ids"),
			SigningSecret:       v.GetString("slack.signing_secret"),
			APIURL:              v.GetString("slack.api_url"),
			FollowActiveChannel: v.GetBool("slack.follow_active_channel"),
		},
		Webhook: WebhookConfig{
			Secret:        v.GetString("webhook.secret"),
			BearerToken:   v.GetString("webhook.bearer_token"),
			InferCreation: v.GetBool("webhook.infer_creation"),
			Layout:        v.GetString("webhook.layout"),
			Timezone:      strings.TrimSpace(v.GetString("webhook.timezone")),
		},
		Cleanup: CleanupConfig{
			HistoryLimit: v.GetInt("cleanup.history_limit"),
			DeleteRate:   v.GetFloat64("cleanup.delete_rate"),
			Schedule:     strings.TrimSpace(v.GetString("cleanup.schedule")),
			Channels:     stringList(v, "cleanup.channels"),
		},
		API: APIConfig{
			Host: v.GetString("api.host"),
			Port: v.GetInt("api.port"),
			Key:  v.GetString("api.key"),
		},
		Logging: LoggingConfig{
			Level:     v.GetString("logging.level"),
			Format:    v.GetString("logging.format"),
			AddSource: v.GetBool("logging.add_source"),
		},
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required (SLACK_BOT_TOKEN)")
	}
	if _, err := c.Mapping(); err != nil {
		errs = append(errs, fmt.Sprintf("slack.identity_map: %v", err))
	}

	if _, err := notify.ParseLayout(c.Webhook.Layout); err != nil {
		errs = append(errs, fmt.Sprintf("webhook.layout: %v", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("webhook.timezone: %v", err))
	}
	if c.Webhook.Secret != "" && c.Webhook.BearerToken != "" {
		errs = append(errs, "webhook.secret and webhook.bearer_token are mutually exclusive")
	}

	if c.Cleanup.HistoryLimit < 1 || c.Cleanup.HistoryLimit > cleanup.MaxLimit {
		errs = append(errs, fmt.Sprintf("cleanup.history_limit must be between 1 and %d", cleanup.MaxLimit))
	}
	if c.Cleanup.DeleteRate < 0 {
		errs = append(errs, "cleanup.delete_rate must not be negative")
	}
	if c.Cleanup.Schedule != "" {
		if err := scheduler.ValidateSchedule(c.Cleanup.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("cleanup.schedule: %v", err))
		}
		if len(c.CleanupChannels()) == 0 {
			errs = append(errs, "cleanup.schedule needs cleanup.channels or slack.default_channel")
		}
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("unknown logging.format: %s", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Mapping parses the static identity mapping.
func (c *Config) Mapping() (identity.Mapping, error) {
	return identity.ParseMapping(c.Slack.IdentityMap)
}

// Layout returns the parsed notification layout.
func (c *Config) Layout() notify.Layout {
	l, err := notify.ParseLayout(c.Webhook.Layout)
	if err != nil {
		return notify.LayoutBlocks
	}
	return l
}

// Location returns the zone creation times are displayed in. Empty or
// "Local" means the host zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Webhook.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Webhook.Timezone)
	if err != nil {
		return nil, errors.New("unknown time zone " + c.Webhook.Timezone)
	}
	return loc, nil
}

// CleanupChannels returns the channels scheduled cleanups run against.
func (c *Config) CleanupChannels() []string {
	if len(c.Cleanup.Channels) > 0 {
		return c.Cleanup.Channels
	}
	if c.Slack.DefaultChannel != "" {
		return []string{c.Slack.DefaultChannel}
	}
	return nil
}

// stringList reads a list setting given either as a YAML list or as a
// comma- or space-separated string.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// identityMapString accepts the mapping as "ext:U…" pairs or as a table and
// normalizes it to the pair form.
func identityMapString(v *viper.Viper) string {
	raw := v.Get("slack.identity_map")
	if _, ok := raw.(map[string]any); !ok {
		return v.GetString("slack.identity_map")
	}
	m := v.GetStringMapString("slack.identity_map")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+m[k])
	}
	return strings.Join(pairs, ",")
}
