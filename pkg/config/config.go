// Package config loads bot configuration from an optional YAML file
// with environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/laundmo/gh-linker-bot/pkg/channels/discord"
	"github.com/laundmo/gh-linker-bot/pkg/channels/slack"
)

// GitHubConfig configures the GitHub API client.
type GitHubConfig struct {
	// Token raises the rate limit and allows private repos. Optional.
	Token string `yaml:"token" env:"GITHUB_TOKEN"`
}

// LinkerConfig tunes link expansion and the delete-reaction window.
type LinkerConfig struct {
	// DeleteEmojis are the reactions that let the author remove a bot
	// reply. Defaults to the trashcan.
	DeleteEmojis []string `yaml:"delete_emojis" env:"LINKER_DELETE_EMOJIS" envSeparator:","`

	// DeleteTimeout bounds how long the delete reaction stays armed.
	DeleteTimeout time.Duration `yaml:"delete_timeout" env:"LINKER_DELETE_TIMEOUT"`

	// Snippets toggles file-snippet expansion globally.
	Snippets bool `yaml:"snippets" env:"LINKER_SNIPPETS"`
}

// GatewayConfig configures the diagnostics HTTP API.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled" env:"GATEWAY_ENABLED"`
	Host    string `yaml:"host" env:"GATEWAY_HOST"`
	Port    int    `yaml:"port" env:"GATEWAY_PORT"`
	// APIKey guards all endpoints when set.
	APIKey string `yaml:"api_key" env:"GATEWAY_API_KEY"`
}

// CronConfig configures scheduled maintenance.
type CronConfig struct {
	// CacheEvict is a cron expression for snippet cache eviction.
	CacheEvict string `yaml:"cache_evict" env:"CRON_CACHE_EVICT"`
	// DedupPrune is a cron expression for pruning old dedup rows.
	DedupPrune string `yaml:"dedup_prune" env:"CRON_DEDUP_PRUNE"`
	// DedupRetention is how long dedup rows are kept.
	DedupRetention time.Duration `yaml:"dedup_retention" env:"CRON_DEDUP_RETENTION"`
}

// Config is the root configuration.
type Config struct {
	// DataDir holds guild settings and the SQLite database.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// Console enables the local REPL channel.
	Console bool `yaml:"console" env:"CONSOLE"`

	Discord discord.Config `yaml:"discord" envPrefix:"DISCORD_"`
	Slack   slack.Config   `yaml:"slack" envPrefix:"SLACK_"`
	GitHub  GitHubConfig   `yaml:"github"`
	Linker  LinkerConfig   `yaml:"linker"`
	Gateway GatewayConfig  `yaml:"gateway"`
	Cron    CronConfig     `yaml:"cron"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		Discord:  discord.DefaultConfig(),
		Linker: LinkerConfig{
			DeleteTimeout: 5 * time.Minute,
			Snippets:      true,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8201,
		},
		Cron: CronConfig{
			CacheEvict:     "*/15 * * * *",
			DedupPrune:     "0 4 * * *",
			DedupRetention: 7 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (missing file is fine when path came from the default), then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Run on env alone.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "GHLINKER_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Discord.Token == "" && c.Slack.BotToken == "" && !c.Console {
		return fmt.Errorf("config: no channel configured (need discord token, slack tokens, or console)")
	}
	if c.Slack.BotToken != "" && c.Slack.AppToken == "" {
		return fmt.Errorf("config: slack requires both bot_token and app_token")
	}
	if c.Linker.DeleteTimeout <= 0 {
		return fmt.Errorf("config: linker delete_timeout must be positive")
	}
	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("config: gateway port %d out of range", c.Gateway.Port)
	}
	return nil
}
