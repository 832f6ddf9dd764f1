// Package config loads the bot's settings from a YAML file with
// environment overrides for secrets and deployment-specific values.
package config

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the complete configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Steam   SteamConfig   `yaml:"steam"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig is the HTTP surface. SignalSecret is the bearer token the
// signal endpoints require. Insecure serves unsigned interactions and
// unauthenticated signals; it is for local development only.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SignalSecret string        `yaml:"signal_secret"`
	Insecure     bool          `yaml:"insecure"`
}

type DiscordConfig struct {
	AppID            string          `yaml:"app_id"`
	BotToken         string          `yaml:"bot_token"`
	PublicKey        string          `yaml:"public_key"`
	APIBase          string          `yaml:"api_base"`
	AuthorizeURL     string          `yaml:"authorize_url"`
	PrivacyURL       string          `yaml:"privacy_url"`
	FreshWindow      time.Duration   `yaml:"fresh_window"`
	NotFoundBackoffs []time.Duration `yaml:"not_found_backoffs"`
}

type SteamConfig struct {
	APIKey          string        `yaml:"api_key"`
	APIBase         string        `yaml:"api_base"`
	StoreBase       string        `yaml:"store_base"`
	SpyBase         string        `yaml:"spy_base"`
	LibraryTTL      time.Duration `yaml:"library_ttl"`
	AchievementsTTL time.Duration `yaml:"achievements_ttl"`
	GameTTL         time.Duration `yaml:"game_ttl"`
	LocalCacheMB    int           `yaml:"local_cache_mb"`
	Concurrency     int           `yaml:"concurrency"`
	WarmOnStart     bool          `yaml:"warm_on_start"`
}

type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// PlanConfig is the attempt cadence.
type PlanConfig struct {
	FastInterval time.Duration `yaml:"fast_interval"`
	FastUntil    time.Duration `yaml:"fast_until"`
	SlowInterval time.Duration `yaml:"slow_interval"`
	Grace        time.Duration `yaml:"grace"`
}

type EngineConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	TokenValidity time.Duration `yaml:"token_validity"`
	DeleteAfter   time.Duration `yaml:"delete_after"`
	CountdownTick time.Duration `yaml:"countdown_tick"`
	PresenceTTL   time.Duration `yaml:"presence_ttl"`
	Presence      bool          `yaml:"presence"`
	RecencyWeight int           `yaml:"recency_weight"`
	Plan          PlanConfig    `yaml:"plan"`
}

// WorkerConfig drives the queue runner. PurgeInterval is how often expired
// records are deleted from a sqlite store.
type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	BatchSize     int           `yaml:"batch_size"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// env holds the variables that override file values when set.
type env struct {
	Addr             string `config:"GAMESINCOMMON_ADDR"`
	SignalSecret     string `config:"GAMESINCOMMON_SIGNAL_SECRET"`
	DiscordAppID     string `config:"DISCORD_APP_ID"`
	DiscordBotToken  string `config:"DISCORD_BOT_TOKEN"`
	DiscordPublicKey string `config:"DISCORD_PUBLIC_KEY"`
	SteamAPIKey      string `config:"STEAM_API_KEY"`
	RedisURL         string `config:"REDIS_URL"`
	LogLevel         string `config:"LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Discord: DiscordConfig{
			APIBase:          "https://discord.com/api/v10",
			AuthorizeURL:     "https://gamesincommon.example/authorize",
			PrivacyURL:       "https://gamesincommon.example/privacy",
			FreshWindow:      5 * time.Second,
			NotFoundBackoffs: []time.Duration{100 * time.Millisecond, 400 * time.Millisecond},
		},
		Steam: SteamConfig{
			APIBase:         "https://api.steampowered.com",
			StoreBase:       "https://store.steampowered.com",
			SpyBase:         "https://steamspy.com",
			LibraryTTL:      4 * time.Hour,
			AchievementsTTL: 4 * time.Hour,
			GameTTL:         24 * time.Hour,
			LocalCacheMB:    8,
			Concurrency:     8,
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "gamesincommon.db",
		},
		Engine: EngineConfig{
			Timeout:       5 * time.Minute,
			TokenValidity: 15 * time.Minute,
			DeleteAfter:   10 * time.Minute,
			CountdownTick: time.Minute,
			PresenceTTL:   60 * time.Second,
			RecencyWeight: 3,
			Plan: PlanConfig{
				FastInterval: 30 * time.Second,
				FastUntil:    2 * time.Minute,
				SlowInterval: time.Minute,
				Grace:        10 * time.Second,
			},
		},
		Worker: WorkerConfig{
			Concurrency:   8,
			BatchSize:     32,
			PollInterval:  time.Second,
			TaskTimeout:   time.Minute,
			PurgeInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode parses YAML into cfg, rejecting unknown fields. An empty document
// leaves cfg unchanged.
func Decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := jlconfig.FromEnv().To(&e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.Server.Addr, e.Addr)
	override(&c.Server.SignalSecret, e.SignalSecret)
	override(&c.Discord.AppID, e.DiscordAppID)
	override(&c.Discord.BotToken, e.DiscordBotToken)
	override(&c.Discord.PublicKey, e.DiscordPublicKey)
	override(&c.Steam.APIKey, e.SteamAPIKey)
	override(&c.Logging.Level, e.LogLevel)
	if e.RedisURL != "" {
		c.Store.RedisURL = e.RedisURL
		c.Store.Backend = BackendRedis
	}
	return nil
}

// Validate checks internal consistency. It does not require credentials;
// see RequireCredentials.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Store.Backend {
	case BackendSQLite:
		check(c.Store.Path != "", "store.path is required for the sqlite backend")
	case BackendRedis:
		check(c.Store.RedisURL != "", "store.redis_url is required for the redis backend")
	default:
		check(false, "store.backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Store.Backend)
	}

	e := c.Engine
	check(e.Timeout > 0, "engine.timeout must be positive")
	check(e.TokenValidity > e.Timeout, "engine.token_validity must exceed engine.timeout")
	check(e.DeleteAfter > 0 && e.DeleteAfter < e.TokenValidity, "engine.delete_after must be positive and below engine.token_validity")
	check(e.CountdownTick > 0, "engine.countdown_tick must be positive")
	check(e.PresenceTTL > 0, "engine.presence_ttl must be positive")
	check(e.RecencyWeight >= 0, "engine.recency_weight must not be negative")
	check(e.Plan.FastInterval > 0 && e.Plan.SlowInterval > 0, "engine.plan intervals must be positive")
	check(e.Plan.FastUntil >= 0, "engine.plan.fast_until must not be negative")
	check(e.Plan.Grace > 0, "engine.plan.grace must be positive")
	check(e.Timeout+e.Plan.Grace < e.TokenValidity, "the final attempt must run before engine.token_validity")

	if k := c.Discord.PublicKey; k != "" {
		raw, err := hex.DecodeString(k)
		check(err == nil && len(raw) == ed25519.PublicKeySize, "discord.public_key must be a hex-encoded ed25519 public key")
	}
	check(c.Discord.FreshWindow >= 0, "discord.fresh_window must not be negative")
	for i, b := range c.Discord.NotFoundBackoffs {
		check(b > 0, "discord.not_found_backoffs[%d] must be positive", i)
	}

	check(c.Steam.LibraryTTL > 0 && c.Steam.AchievementsTTL > 0 && c.Steam.GameTTL > 0, "steam cache ttls must be positive")
	check(c.Steam.LocalCacheMB >= 0, "steam.local_cache_mb must not be negative")

	check(c.Worker.Concurrency > 0, "worker.concurrency must be positive")
	check(c.Worker.BatchSize > 0, "worker.batch_size must be positive")
	check(c.Worker.PollInterval > 0, "worker.poll_interval must be positive")
	check(c.Worker.PurgeInterval > 0, "worker.purge_interval must be positive")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	check(c.Logging.Format == "text" || c.Logging.Format == "json", "logging.format must be text or json, got %q", c.Logging.Format)

	return errors.Join(errs...)
}

// RequireCredentials checks the secrets needed to serve: the chat platform
// and game library credentials, the platform key that signs interactions and
// the signal secret. Server.Insecure waives the last two.
func (c *Config) RequireCredentials() error {
	var missing []string
	if !c.Server.Insecure {
		if c.Discord.PublicKey == "" {
			missing = append(missing, "DISCORD_PUBLIC_KEY")
		}
		if c.Server.SignalSecret == "" {
			missing = append(missing, "GAMESINCOMMON_SIGNAL_SECRET")
		}
	}
	if c.Discord.AppID == "" {
		missing = append(missing, "DISCORD_APP_ID")
	}
	if c.Discord.BotToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}
	if c.Steam.APIKey == "" {
		missing = append(missing, "STEAM_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out.Server.SignalSecret = mask(c.Server.SignalSecret)
	out.Discord.BotToken = mask(c.Discord.BotToken)
	out.Steam.APIKey = mask(c.Steam.APIKey)
	if c.Store.RedisURL != "" {
		out.Store.RedisURL = redactURL(c.Store.RedisURL)
	}
	out.Discord.NotFoundBackoffs = append([]time.Duration(nil), c.Discord.NotFoundBackoffs...)
	return &out
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "****" + raw[at:]
}
