// Package config loads engine configuration from a YAML file, environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultPath is read when CONFIG_PATH is unset and the file exists.
const DefaultPath = "./safeguard.yaml"

// Config is the root configuration.
type Config struct {
	Environment string        `yaml:"environment" env:"SAFEGUARD_ENV" env-default:"development"`
	Store       StoreConfig   `yaml:"store"`
	LLM         LLMConfig     `yaml:"llm"`
	Log         LogConfig     `yaml:"log"`
	Roster      RosterConfig  `yaml:"roster"`
	Review      ReviewConfig  `yaml:"review"`
	Notify      NotifyConfig  `yaml:"notify"`
	Session     SessionConfig `yaml:"session"`
}

// StoreConfig selects the case store.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn"    env:"STORE_DSN"    env-default:"./data/safeguard.db"`
}

// LLMConfig configures the report generation gateway.
type LLMConfig struct {
	Provider    string        `yaml:"provider"    env:"LLM_PROVIDER"    env-default:"anthropic"`
	Model       string        `yaml:"model"       env:"LLM_MODEL"`
	Profile     string        `yaml:"profile"     env:"LLM_PROFILE"     env-default:"general"`
	MaxTokens   int           `yaml:"max_tokens"  env:"LLM_MAX_TOKENS"  env-default:"4096"`
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	Timeout     time.Duration `yaml:"timeout"     env:"LLM_TIMEOUT"     env-default:"120s"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// RosterConfig points at the roster and meeting-log files.
type RosterConfig struct {
	StudentsPath string `yaml:"students_path" env:"ROSTER_STUDENTS_PATH"`
	MeetingsPath string `yaml:"meetings_path" env:"ROSTER_MEETINGS_PATH"`
}

// ReviewConfig configures the stale-case review sweep.
type ReviewConfig struct {
	Schedule   string `yaml:"schedule"    env:"REVIEW_SCHEDULE"    env-default:"0 7 * * 1-5"`
	StaleDays  int    `yaml:"stale_days"  env:"REVIEW_STALE_DAYS"  env-default:"7"`
	AlertScore int    `yaml:"alert_score" env:"REVIEW_ALERT_SCORE" env-default:"70"`
}

// NotifyConfig configures DSL alerts. Alerts go to the log when no Telegram
// token is set.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"   env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
}

// SessionConfig holds the default acting identity.
type SessionConfig struct {
	Actor string `yaml:"actor" env:"SAFEGUARD_ACTOR"`
}

var (
	drivers   = []string{"memory", "sqlite", "postgres"}
	providers = []string{"anthropic", "openai", "google"}
)

// Load reads the .env file (if present), then path, then the environment.
// Priority: ENV > YAML > defaults. When path is empty, CONFIG_PATH is used,
// falling back to DefaultPath if it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if !slices.Contains(drivers, c.Store.Driver) {
		return fmt.Errorf("store.driver %q must be one of %s", c.Store.Driver, strings.Join(drivers, ", "))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if !slices.Contains(providers, c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q must be one of %s", c.LLM.Provider, strings.Join(providers, ", "))
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be > 0 (got %d)", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2] (got %v)", c.LLM.Temperature)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be > 0 (got %s)", c.LLM.Timeout)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if _, err := cron.ParseStandard(c.Review.Schedule); err != nil {
		return fmt.Errorf("review.schedule: %w", err)
	}
	if c.Review.StaleDays <= 0 {
		return fmt.Errorf("review.stale_days must be > 0 (got %d)", c.Review.StaleDays)
	}
	if c.Review.AlertScore < 0 || c.Review.AlertScore > 100 {
		return fmt.Errorf("review.alert_score must be within [0, 100] (got %d)", c.Review.AlertScore)
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		return errors.New("notify.telegram_chat_id is required when a telegram token is set")
	}
	return nil
}

// IsProduction reports whether the environment is production or staging.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "staging"
}
