package market

import (
	"errors"
	"fmt"
	"time"
)

// Config holds configuration for the synthetic market generator.
type Config struct {
	// StartPrice is the first open. Defaults to 100.
	StartPrice float64

	// Seed for the generator's private RNG. Zero picks a time-based seed.
	Seed int64

	// LevelLifetime is how long a support/resistance level lives. Defaults to 300s.
	LevelLifetime time.Duration

	// BaseVolume is the mean volume of an unremarkable candle. Defaults to 1000.
	BaseVolume float64

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StartPrice:    100.0,
		LevelLifetime: 300 * time.Second,
		BaseVolume:    1000,
	}
}

func (c *Config) defaults() {
	if c.StartPrice == 0 {
		c.StartPrice = 100.0
	}
	if c.LevelLifetime == 0 {
		c.LevelLifetime = 300 * time.Second
	}
	if c.BaseVolume == 0 {
		c.BaseVolume = 1000
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Validate rejects configurations the generator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.StartPrice <= 0 {
		errs = append(errs, fmt.Errorf("START_PRICE must be positive, got %v", c.StartPrice))
	}
	if c.LevelLifetime <= 0 {
		errs = append(errs, fmt.Errorf("LEVEL_LIFETIME must be positive, got %s", c.LevelLifetime))
	}
	if c.BaseVolume <= 0 {
		errs = append(errs, fmt.Errorf("BASE_VOLUME must be positive, got %v", c.BaseVolume))
	}
	return errors.Join(errs...)
}
