// Package config loads trainer settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tdawg5587/tradesim1/internal/indicator"
	"github.com/tdawg5587/tradesim1/internal/logger"
	"github.com/tdawg5587/tradesim1/internal/market"
	"github.com/tdawg5587/tradesim1/internal/session"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Market
	TickInterval  time.Duration `envconfig:"TICK_INTERVAL" default:"3s"`
	StartPrice    float64       `envconfig:"START_PRICE" default:"100"`
	Seed          int64         `envconfig:"SEED" default:"0"`
	HistorySize   int           `envconfig:"HISTORY_SIZE" default:"50"`
	LevelLifetime time.Duration `envconfig:"LEVEL_LIFETIME" default:"300s"`
	BaseVolume    float64       `envconfig:"BASE_VOLUME" default:"1000"`

	// Chart overlays, "TYPE:PERIOD,..." over SMA, EMA and RSI
	IndicatorSpecs string `envconfig:"INDICATORS" default:"EMA:9,EMA:21,RSI:14"`

	// Session
	DebugMode bool `envconfig:"DEBUG_MODE" default:"true"`

	// Surfaces
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Optional sinks, disabled when empty
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	JournalPath   string `envconfig:"JOURNAL_PATH"`
	WebhookURL    string `envconfig:"WEBHOOK_URL"`

	// Command guard
	CommandTOTPSecret string  `envconfig:"COMMAND_TOTP_SECRET"`
	CommandRate       float64 `envconfig:"COMMAND_RATE" default:"20"`
	CommandBurst      int     `envconfig:"COMMAND_BURST" default:"10"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval))
	}
	if c.HistorySize < 2 {
		errs = append(errs, fmt.Errorf("HISTORY_SIZE must be at least 2, got %d", c.HistorySize))
	}
	if err := c.Market().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.CommandRate <= 0 || c.CommandBurst <= 0 {
		errs = append(errs, fmt.Errorf("COMMAND_RATE and COMMAND_BURST must be positive"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := indicator.ParseSpecs(c.IndicatorSpecs); err != nil {
		errs = append(errs, fmt.Errorf("INDICATORS: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level returns the parsed log level. Validate guarantees it parses.
func (c *Config) Level() slog.Level {
	lvl, _ := logger.ParseLevel(c.LogLevel)
	return lvl
}

// Indicators returns the parsed overlay configs. Validate guarantees they
// parse.
func (c *Config) Indicators() []indicator.Config {
	cfgs, _ := indicator.ParseSpecs(c.IndicatorSpecs)
	return cfgs
}

// Market returns the generator configuration.
func (c *Config) Market() market.Config {
	cfg := market.DefaultConfig()
	cfg.StartPrice = c.StartPrice
	cfg.Seed = c.Seed
	cfg.LevelLifetime = c.LevelLifetime
	cfg.BaseVolume = c.BaseVolume
	return cfg
}

// Session returns the session configuration.
func (c *Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.Debug = c.DebugMode
	return cfg
}
