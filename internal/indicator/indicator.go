// Package indicator computes chart overlays (SMA, EMA, RSI) over candle
// closes.
//
// Each indicator is O(1) per update and keeps only the state it needs.
// Indicators are not safe for concurrent use; Set adds the locking.
package indicator

import (
	"fmt"
	"strconv"
	"strings"
)

// Indicator is the interface for all overlays.
type Indicator interface {
	// Name returns the indicator key, e.g. "EMA_9".
	Name() string

	// Update feeds the close of a new candle.
	Update(close float64)

	// Value returns the current value. Returns 0 until Ready.
	Value() float64

	// Ready returns true when enough closes have been seen.
	Ready() bool
}

// Config specifies a single indicator.
type Config struct {
	Type   string // "SMA", "EMA", "RSI"
	Period int
}

// Key returns "TYPE_PERIOD".
func (c Config) Key() string { return c.Type + "_" + strconv.Itoa(c.Period) }

// New builds the indicator described by cfg.
func New(cfg Config) (Indicator, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("indicator %s: period must be positive", cfg.Key())
	}
	switch cfg.Type {
	case "SMA":
		return NewSMA(cfg.Period), nil
	case "EMA":
		return NewEMA(cfg.Period), nil
	case "RSI":
		return NewRSI(cfg.Period), nil
	default:
		return nil, fmt.Errorf("unknown indicator type %q", cfg.Type)
	}
}

// ParseSpecs parses "TYPE:PERIOD,TYPE:PERIOD,...", e.g. "EMA:9,RSI:14".
// An empty string yields no indicators.
func ParseSpecs(s string) ([]Config, error) {
	var configs []Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("invalid indicator spec %q", part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid indicator spec %q: %w", part, err)
		}
		cfg := Config{Type: strings.ToUpper(strings.TrimSpace(tokens[0])), Period: period}
		if _, err := New(cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
