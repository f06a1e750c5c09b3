package model

import (
	"fmt"
	"time"
)

// LevelKind tells whether a price level acts as support or resistance.
type LevelKind int

const (
	Support LevelKind = iota
	Resistance
)

func (k LevelKind) String() string {
	switch k {
	case Support:
		return "support"
	case Resistance:
		return "resistance"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as its name so JSON consumers see
// "support"/"resistance" rather than an integer.
func (k LevelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *LevelKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "support":
		*k = Support
	case "resistance":
		*k = Resistance
	default:
		return fmt.Errorf("unknown level kind %q", b)
	}
	return nil
}

// KindFor classifies a level price relative to the current price: levels
// below price are support, levels at or above are resistance.
func KindFor(levelPrice, currentPrice float64) LevelKind {
	if levelPrice < currentPrice {
		return Support
	}
	return Resistance
}

// PriceLevel is a support or resistance line that biases price movement
// and volume while it is active.
type PriceLevel struct {
	Price     float64   `json:"price"`
	Kind      LevelKind `json:"kind"`
	Strength  int       `json:"strength"` // 1..5
	Touches   int       `json:"touches"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Age returns how long the level has existed at time now.
func (l *PriceLevel) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt)
}

// Expired reports whether the level is inactive or older than lifetime.
func (l *PriceLevel) Expired(now time.Time, lifetime time.Duration) bool {
	return !l.Active || l.Age(now) > lifetime
}
