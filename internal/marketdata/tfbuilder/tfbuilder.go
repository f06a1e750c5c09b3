// Package tfbuilder resamples the base candle stream into coarser
// timeframes. Buckets are aligned to Unix time: bucket = ts - ts%tf.
package tfbuilder

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tdawg5587/tradesim1/internal/model"
)

// MaxTF bounds the timeframes Resample accepts.
const MaxTF = time.Hour

// Builder folds candles into forming buckets of one timeframe. Not safe
// for concurrent use.
type Builder struct {
	tf      int64 // seconds
	bucket  int64
	candle  model.Candle
	started bool

	// OnTFCandle, if set, is called with each finalized bucket.
	OnTFCandle func(c model.Candle)
}

// New creates a builder for tf, which must be a whole number of seconds
// between 1s and MaxTF.
func New(tf time.Duration) (*Builder, error) {
	if err := ValidateTF(tf); err != nil {
		return nil, err
	}
	return &Builder{tf: int64(tf / time.Second)}, nil
}

// ValidateTF reports whether tf can be used as a timeframe.
func ValidateTF(tf time.Duration) error {
	if tf < time.Second || tf > MaxTF || tf%time.Second != 0 {
		return fmt.Errorf("timeframe %s must be whole seconds between 1s and %s", tf, MaxTF)
	}
	return nil
}

// Add merges c into the forming bucket. When c falls into a later bucket
// the forming candle is finalized and returned with ok=true. Candles for
// an earlier bucket are ignored.
func (b *Builder) Add(c model.Candle) (finalized model.Candle, ok bool) {
	ts := c.TS.Unix()
	bucket := ts - (ts % b.tf)

	if b.started && bucket < b.bucket {
		return model.Candle{}, false
	}

	if b.started && bucket > b.bucket {
		finalized, ok = b.candle, true
		if b.OnTFCandle != nil {
			b.OnTFCandle(finalized)
		}
		b.started = false
	}

	if !b.started {
		b.bucket = bucket
		b.started = true
		b.candle = model.Candle{
			Seq:    c.Seq,
			TS:     time.Unix(bucket, 0).UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
		return finalized, ok
	}

	fc := &b.candle
	fc.Seq = c.Seq
	fc.High = decimal.Max(fc.High, c.High)
	fc.Low = decimal.Min(fc.Low, c.Low)
	fc.Close = c.Close
	fc.Volume += c.Volume
	return finalized, ok
}

// Forming returns the bucket still being built.
func (b *Builder) Forming() (model.Candle, bool) {
	return b.candle, b.started
}

// Resample folds candles (oldest first) into tf buckets. The last bucket
// is included even if it is still forming. Each bucket carries the Seq of
// its newest constituent.
func Resample(candles []model.Candle, tf time.Duration) ([]model.Candle, error) {
	b, err := New(tf)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(candles))
	b.OnTFCandle = func(c model.Candle) { out = append(out, c) }
	for _, c := range candles {
		b.Add(c)
	}
	if last, ok := b.Forming(); ok {
		out = append(out, last)
	}
	return out, nil
}
