package model

import "context"

// CandleSink consumes the live candle stream (e.g. a Redis publisher).
type CandleSink interface {
	// Run reads candles from candleCh until ctx is cancelled or the
	// channel is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}
