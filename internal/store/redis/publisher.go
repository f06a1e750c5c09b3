// Package redis publishes live candles and session events to Redis for
// external dashboards.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/session"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen trims the candle stream. Usually the history size.
	StreamMaxLen int64

	// MaxFailures and CoolDown configure the circuit breaker.
	MaxFailures int
	CoolDown    time.Duration
}

func (c *Config) defaults() {
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = 50
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 10 * time.Second
	}
}

// Keys names the Redis keys for one instrument.
type Keys struct {
	Latest        string // SET: newest candle
	Stream        string // XADD: trimmed candle stream
	CandleChannel string // PUBLISH: live candles
	EventChannel  string // PUBLISH: session events
}

// KeysFor returns the key layout for instrument.
func KeysFor(instrument string) Keys {
	inst := strings.ToLower(instrument)
	return Keys{
		Latest:        "candle:" + inst + ":latest",
		Stream:        "candle:" + inst,
		CandleChannel: "pub:candle:" + inst,
		EventChannel:  "pub:session:" + inst,
	}
}

// Publisher writes candles to Redis through a circuit breaker. It
// implements model.CandleSink.
type Publisher struct {
	client  *goredis.Client
	cfg     Config
	keys    Keys
	breaker *CircuitBreaker
	log     *slog.Logger

	// OnWrite, if set, receives the duration of each pipelined write.
	OnWrite func(time.Duration)
}

var _ model.CandleSink = (*Publisher)(nil)

// New creates a publisher and pings the server.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := NewWithClient(client, cfg)
	p.log.Info("connected", slog.String("addr", cfg.Addr))
	return p, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	cfg.defaults()
	return &Publisher{
		client:  client,
		cfg:     cfg,
		keys:    KeysFor(model.Instrument),
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.CoolDown),
		log:     slog.Default().With(slog.String("component", "redis")),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker so callers can observe transitions.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// Keys returns the key layout in use.
func (p *Publisher) Keys() Keys { return p.keys }

// Run writes candles from ch until ctx is cancelled or ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishCandle(ctx, c); err != nil && err != ErrCircuitOpen {
				p.log.Warn("candle publish failed",
					slog.Int64("seq", c.Seq),
					slog.String("error", err.Error()))
			}
		}
	}
}

// RunEvents publishes session events from ch until ctx is cancelled or ch
// is closed.
func (p *Publisher) RunEvents(ctx context.Context, ch <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishEvent(ctx, ev); err != nil && err != ErrCircuitOpen {
				p.log.Warn("event publish failed",
					slog.String("type", string(ev.Type)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// PublishCandle sets the latest candle, appends it to the trimmed stream
// and publishes it, in one pipeline.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	data := string(c.JSON())
	return p.breaker.Execute(func() error {
		start := time.Now()
		pipe := p.client.Pipeline()
		pipe.Set(ctx, p.keys.Latest, data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.keys.Stream,
			MaxLen: p.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, p.keys.CandleChannel, data)
		_, err := pipe.Exec(ctx)
		if p.OnWrite != nil {
			p.OnWrite(time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("candle %d pipeline: %w", c.Seq, err)
		}
		return nil
	})
}

// PublishEvent publishes a session event as JSON.
func (p *Publisher) PublishEvent(ctx context.Context, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return p.breaker.Execute(func() error {
		return p.client.Publish(ctx, p.keys.EventChannel, data).Err()
	})
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
