// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingToken is returned by RequireToken when no bot token is configured.
var ErrMissingToken = errors.New("TELEGRAM_BOT_TOKEN is not set")

// Config holds every setting the bot reads from the environment.
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramDebug bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`

	TablePath string `env:"TABLE_PATH" envDefault:"rental_data.csv"`
	DBPath    string `env:"DB_PATH" envDefault:"./data/rental.db"`

	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	StoreRetryAttempts int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"5"`
	StoreRetryDelay    time.Duration `env:"STORE_RETRY_DELAY" envDefault:"5s"`
	WatchTable         bool          `env:"WATCH_TABLE" envDefault:"true"`
	ResumeBaseline     bool          `env:"RESUME_BASELINE" envDefault:"false"`
	DeliveryRetention  time.Duration `env:"DELIVERY_RETENTION" envDefault:"720h"`

	// MetricsAddr enables the Prometheus endpoint when set, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads the given .env files (or ./.env when none are given) into the
// environment without overriding variables that are already set, then parses
// the environment. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.TablePath == "" {
		errs = append(errs, errors.New("TABLE_PATH must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.StoreRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1, got %d", c.StoreRetryAttempts))
	}
	if c.StoreRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("STORE_RETRY_DELAY must be positive, got %s", c.StoreRetryDelay))
	}
	if c.DeliveryRetention <= 0 {
		errs = append(errs, fmt.Errorf("DELIVERY_RETENTION must be positive, got %s", c.DeliveryRetention))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireToken fails when no bot token is configured. Only commands that
// talk to Telegram need one.
func (c Config) RequireToken() error {
	if c.TelegramToken == "" {
		return ErrMissingToken
	}
	return nil
}
