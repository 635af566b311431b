package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config is the root unibox configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally reachable base URL, used for OAuth
	// redirect defaults and the relay origin.
	PublicURL       string        `yaml:"public_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// URL is a Postgres DSN. Empty selects the in-memory store.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	DefaultUser string         `yaml:"default_user"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type OAuthConfig struct {
	// AppOrigin is the only origin relay envelopes are posted to and
	// accepted from. Defaults to the origin of server.public_url.
	AppOrigin      string              `yaml:"app_origin"`
	ConnectTimeout time.Duration       `yaml:"connect_timeout"`
	Slack          OAuthProviderConfig `yaml:"slack"`
	Discord        OAuthProviderConfig `yaml:"discord"`
}

type OAuthProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Configured reports whether both client credentials are present.
func (p OAuthProviderConfig) Configured() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

type SyncConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	// Limit caps messages fetched per channel per run.
	Limit   int               `yaml:"limit"`
	Slack   SlackSyncConfig   `yaml:"slack"`
	Discord DiscordSyncConfig `yaml:"discord"`
}

type SlackSyncConfig struct {
	// Channels lists conversation ids to read. Empty lists every public
	// channel the token can see.
	Channels []string `yaml:"channels"`
}

type DiscordSyncConfig struct {
	BotToken   string   `yaml:"bot_token"`
	ChannelIDs []string `yaml:"channel_ids"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

type RateLimitConfig struct {
	// ExchangePerMinute bounds credential exchange calls per user.
	ExchangePerMinute float64 `yaml:"exchange_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads the configuration file at path, merging includes, and
// applies defaults and validation. A .env file next to the config is
// loaded first so ${VAR} references can resolve from it.
func Load(path string) (*Config, error) {
	loadDotEnv(path)
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if dir := filepath.Dir(configPath); dir != "." {
		candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			// Existing environment variables win over the file.
			_ = godotenv.Load(candidate)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Auth.DefaultUser == "" {
		cfg.Auth.DefaultUser = "local"
	}
	if cfg.OAuth.AppOrigin == "" {
		cfg.OAuth.AppOrigin = originOf(cfg.Server.PublicURL)
	}
	if cfg.OAuth.ConnectTimeout == 0 {
		cfg.OAuth.ConnectTimeout = 120 * time.Second
	}
	if cfg.OAuth.Slack.RedirectURL == "" {
		cfg.OAuth.Slack.RedirectURL = cfg.Server.PublicURL + "/oauth/slack/callback"
	}
	if cfg.OAuth.Discord.RedirectURL == "" {
		cfg.OAuth.Discord.RedirectURL = cfg.Server.PublicURL + "/oauth/discord/callback"
	}
	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = "*/5 * * * *"
	}
	if cfg.Sync.Limit == 0 {
		cfg.Sync.Limit = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.RateLimit.ExchangePerMinute == 0 {
		cfg.RateLimit.ExchangePerMinute = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url must be an absolute URL"))
	}
	if u, err := url.Parse(c.OAuth.AppOrigin); err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
		errs = append(errs, fmt.Errorf("oauth.app_origin must be a scheme://host origin"))
	}
	if c.OAuth.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("oauth.connect_timeout must be positive"))
	}
	for name, p := range map[string]OAuthProviderConfig{"slack": c.OAuth.Slack, "discord": c.OAuth.Discord} {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			errs = append(errs, fmt.Errorf("oauth.%s requires both client_id and client_secret", name))
		}
	}
	if c.Sync.Enabled {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
		}
	}
	if c.Sync.Limit < 0 {
		errs = append(errs, fmt.Errorf("sync.limit must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampling_rate must be between 0 and 1"))
	}
	if c.RateLimit.ExchangePerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}
