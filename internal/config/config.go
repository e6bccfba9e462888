// Package config provides YAML-based configuration loading for helpbot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides. Nested keys are
// separated by a double underscore, e.g. HELPBOT_CHAT__DISCORD__BOT_TOKEN.
const EnvPrefix = "HELPBOT_"

// Config is the top-level helpbot configuration, loaded from helpbot.yaml.
type Config struct {
	Timezone string         `yaml:"timezone"`
	Database DatabaseConfig `yaml:"database"`
	Chat     ChatConfig     `yaml:"chat"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	Expiry   ExpiryConfig   `yaml:"expiry"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds connection settings for the dispatch table.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ChatConfig selects and configures the chat platform adapter.
type ChatConfig struct {
	Platform        string        `yaml:"platform"` // "discord", "slack" or "" (HTTP only)
	Discord         DiscordConfig `yaml:"discord"`
	Slack           SlackConfig   `yaml:"slack"`
	IgnoreChannels  []string      `yaml:"ignore_channels"`
	Workers         int           `yaml:"workers"`
	PerChannelLists bool          `yaml:"per_channel_lists"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken  string `yaml:"app_token"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// AdvisoryConfig configures the task-name plausibility provider.
type AdvisoryConfig struct {
	Provider   string `yaml:"provider"` // "none", "claude" or "openai"
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ExpiryConfig configures the expired-record sweep.
type ExpiryConfig struct {
	Schedule      string `yaml:"schedule"`
	RunTimeoutSec int    `yaml:"run_timeout_sec"`
}

// HTTPConfig configures the JSON API and metrics endpoint.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "auto", "json" or "console"
}

// Load reads a YAML config file from path and returns a validated Config.
// Environment variables prefixed with EnvPrefix override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays HELPBOT_* environment variables onto the parsed file.
func (c *Config) applyEnv() error {
	k := koanf.New(".")
	provider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", c, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("config: apply env: %w", err)
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "dispatch.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "helpbot"
		}
	}
	if c.Chat.Workers == 0 {
		c.Chat.Workers = 8
	}
	if c.Advisory.Provider == "" {
		c.Advisory.Provider = "none"
	}
	if c.Advisory.TimeoutSec == 0 {
		c.Advisory.TimeoutSec = 3
	}
	if c.Advisory.Model == "" {
		switch c.Advisory.Provider {
		case "claude":
			c.Advisory.Model = "claude-3-5-haiku-latest"
		case "openai":
			c.Advisory.Model = "gpt-4o-mini"
		}
	}
	if c.Expiry.Schedule == "" {
		c.Expiry.Schedule = "@hourly"
	}
	if c.Expiry.RunTimeoutSec == 0 {
		c.Expiry.RunTimeoutSec = 60
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	switch c.Chat.Platform {
	case "":
	case "discord":
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	case "slack":
		if c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.bot_token is required")
		}
		if c.Chat.Slack.AppToken == "" {
			errs = append(errs, "chat.slack.app_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported (discord, slack)", c.Chat.Platform))
	}
	if c.Chat.Workers < 0 {
		errs = append(errs, "chat.workers must be positive")
	}
	switch c.Advisory.Provider {
	case "none":
	case "claude", "openai":
		if c.Advisory.APIKey == "" {
			errs = append(errs, fmt.Sprintf("advisory.api_key is required for provider %q", c.Advisory.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("advisory.provider %q is not supported (none, claude, openai)", c.Advisory.Provider))
	}
	if c.Advisory.TimeoutSec < 0 {
		errs = append(errs, "advisory.timeout_sec must be positive")
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (auto, json, console)", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the configured timezone. Parse has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// AdvisoryTimeout returns the advisory call timeout.
func (c *Config) AdvisoryTimeout() time.Duration {
	return time.Duration(c.Advisory.TimeoutSec) * time.Second
}

// ExpiryRunTimeout returns the per-sweep deadline.
func (c *Config) ExpiryRunTimeout() time.Duration {
	return time.Duration(c.Expiry.RunTimeoutSec) * time.Second
}
