// Package config holds environment backed configuration for the agent process.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all environment backed configuration.
type Config struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// OpenCode. BaseURL defaults to llm.DefaultBaseURL.
	BaseURL         string        `env:"OPENCODE_BASE_URL" envDefault:"https://opencode.ai/zen/v1"`
	APIKey          string        `env:"OPENCODE_API_KEY"`
	ValidateTimeout time.Duration `env:"OPENCODE_VALIDATE_TIMEOUT" envDefault:"10s"`

	// Entry store
	StoragePath string `env:"STORAGE_PATH" envDefault:"data/entries.yaml"`

	// Setup wizard
	SetupSkip bool `env:"SETUP_SKIP" envDefault:"false"`

	// Telegram
	TelegramSecret        string `env:"TELEGRAM_SECRET"`
	TelegramOnlineMessage string `env:"TELEGRAM_ONLINE_MESSAGE" envDefault:"Agent is online."`
	TelegramMainChatID    int64  `env:"TELEGRAM_MAIN_CHAT_ID"`
	UserID                int64  `env:"USER_ID"`
}

// Load reads an optional .env file then parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment into a Config.
func Parse() (*Config, error) {
	return ParseWithOptions(env.Options{})
}

// ParseWithOptions is Parse with explicit env options, mostly for tests.
func ParseWithOptions(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the env tags cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("OPENCODE_BASE_URL must not be empty")
	}
	if c.ValidateTimeout <= 0 {
		return fmt.Errorf("OPENCODE_VALIDATE_TIMEOUT must be positive, got %s", c.ValidateTimeout)
	}
	return nil
}

// TelegramEnabled reports whether a bot token is configured.
func (c *Config) TelegramEnabled() bool {
	return strings.TrimSpace(c.TelegramSecret) != ""
}
