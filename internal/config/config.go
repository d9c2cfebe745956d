package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is loaded from an optional YAML file, then overridden by
// environment variables.
type Config struct {
	BotToken string `yaml:"bot_token" envconfig:"BOT_TOKEN"`

	// Forward proxy for all profile polling. Required: polling without it
	// is refused as a configuration error.
	ProxyURL   string   `yaml:"proxy_url" envconfig:"PROXY_URL"`
	SessionIDs []string `yaml:"session_ids" envconfig:"SESSION_IDS"`

	MinCheckInterval   int `yaml:"min_check_interval" envconfig:"MIN_CHECK_INTERVAL"` // seconds
	MaxCheckInterval   int `yaml:"max_check_interval" envconfig:"MAX_CHECK_INTERVAL"` // seconds
	MaxRetries         int `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	MaxChecksPerMinute int `yaml:"max_checks_per_minute" envconfig:"MAX_CHECKS_PER_MINUTE"`

	GenerateScreenshots bool   `yaml:"generate_screenshots" envconfig:"GENERATE_SCREENSHOTS"`
	BadgePath           string `yaml:"badge_path" envconfig:"BADGE_PATH"`

	RedisURL      string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	// Accounts registered into the store at startup, on top of whatever the
	// store already holds. YAML only.
	Accounts []AccountEntry `yaml:"accounts" ignored:"true"`
}

// AccountEntry names one account to watch and the chat to notify.
type AccountEntry struct {
	Username string `yaml:"username"`
	ChatID   int64  `yaml:"chat_id"`
}

// Load reads the config file at path, applies env overrides and validates
// the result. Precedence is defaults, then file, then env. A missing file
// is an error when required is set; otherwise it is skipped so the default
// path works without a file present. Callers pass required for an
// operator-supplied path, where silently ignoring a typo would drop their
// whole file.
func Load(path string, required bool) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if required || !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		MinCheckInterval: 300,
		MaxCheckInterval: 600,
		MaxRetries:       3,
		BadgePath:        "assets/bluetick.png",
		RedisURL:         "localhost:6379",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required")
	}
	if c.MinCheckInterval <= 0 {
		return fmt.Errorf("min_check_interval must be positive")
	}
	if c.MaxCheckInterval < c.MinCheckInterval {
		return fmt.Errorf("max_check_interval must be >= min_check_interval")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.MinCheckInterval) * time.Second
}

func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.MaxCheckInterval) * time.Second
}
