package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is the symbol every synthetic candle is published under.
const Instrument = "SIM"

// Candle represents one OHLCV sample of the synthetic instrument.
// Prices are decimals rounded to 2 places. A Candle is never mutated after
// the generator returns it.
type Candle struct {
	Seq    int64           `json:"seq"` // 1-based production sequence
	TS     time.Time       `json:"ts"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Valid reports whether the OHLC invariant holds:
// high >= max(open, close) and low <= min(open, close).
func (c *Candle) Valid() bool {
	top := decimal.Max(c.Open, c.Close)
	bottom := decimal.Min(c.Open, c.Close)
	return c.High.GreaterThanOrEqual(top) && c.Low.LessThanOrEqual(bottom)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
