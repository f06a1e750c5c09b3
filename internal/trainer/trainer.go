// Package trainer runs the tick pipeline: market generator → bounded
// candle history → breakout check → live subscribers. It is the single
// writer of the candle history; the session is shared with the command
// layer.
package trainer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tdawg5587/tradesim1/internal/indicator"
	"github.com/tdawg5587/tradesim1/internal/market"
	"github.com/tdawg5587/tradesim1/internal/marketdata/bus"
	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/ringbuf"
	"github.com/tdawg5587/tradesim1/internal/session"
)

// Config holds the pipeline settings.
type Config struct {
	// Interval between candles. Defaults to 3s.
	Interval time.Duration

	// HistorySize is the capacity of the candle history. Defaults to 50.
	HistorySize int

	// SubscriberBuffer is the channel size handed to each subscriber.
	// Defaults to 64.
	SubscriberBuffer int

	// Indicators are the chart overlays computed over closes.
	Indicators []indicator.Config

	Market  market.Config
	Session session.Config
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = 3 * time.Second
	}
	if c.HistorySize == 0 {
		c.HistorySize = 50
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Trainer owns the generator, the candle history and the session.
type Trainer struct {
	cfg     Config
	log     *slog.Logger
	gen     *market.Generator
	history *ringbuf.Ring[model.Candle]
	ind     *indicator.Set
	sess    *session.Session
	bus     *bus.FanOut[model.Candle]
	events  *bus.FanOut[session.Event]

	// pubMu orders history appends against Subscribe so a new subscriber
	// sees every candle exactly once: in its snapshot or on its channel.
	pubMu sync.Mutex

	// OnCandle, if set, is called for every candle produced by Step.
	OnCandle func(c model.Candle, breakout bool)

	// OnCommand, if set, is called with every outcome from Dispatch.
	OnCommand func(session.Outcome)

	// OnEvent, if set, is called synchronously for every session event
	// before it is broadcast.
	OnEvent func(session.Event)
}

// New builds a trainer. The session prices trades off the candle history.
func New(cfg Config) *Trainer {
	cfg.defaults()
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}

	t := &Trainer{
		cfg:     cfg,
		log:     cfg.Logger.With(slog.String("component", "trainer")),
		gen:     market.New(cfg.Market),
		history: ringbuf.New[model.Candle](cfg.HistorySize),
		ind:     indicator.NewSet(cfg.Indicators),
		bus:     newCandleBus(cfg.SubscriberBuffer),
		events:  bus.New[session.Event](cfg.SubscriberBuffer),
	}
	t.events.Name = "events"
	t.sess = session.New(historySource{t.history}, cfg.Session)
	t.sess.OnEvent = t.publishEvent
	return t
}

// Warmup fills the history with n candles without breakout detection or
// publishing, so the chart is not empty at startup.
func (t *Trainer) Warmup(n int) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	for i := 0; i < n; i++ {
		c := t.gen.Tick()
		t.history.Push(c)
		t.ind.Update(c)
	}
	t.log.Info("history warmed up",
		slog.Int("candles", t.history.Len()),
		slog.Int("indicators", t.ind.Len()))
}

// Step produces one candle, appends it to the history, runs breakout
// detection and publishes it. It reports whether a breakout was recorded.
func (t *Trainer) Step() (model.Candle, bool) {
	c := t.gen.Tick()

	t.pubMu.Lock()
	t.history.Push(c)
	prev, cur, ok := t.history.LastTwo()
	t.bus.Publish(c)
	t.pubMu.Unlock()
	t.ind.Update(c)

	breakout := ok && t.sess.OnCandle(prev, cur)

	t.log.Debug("candle",
		slog.Int64("seq", c.Seq),
		slog.String("open", c.Open.String()),
		slog.String("high", c.High.String()),
		slog.String("low", c.Low.String()),
		slog.String("close", c.Close.String()),
		slog.Int64("volume", c.Volume))

	if t.OnCandle != nil {
		t.OnCandle(c, breakout)
	}
	return c, breakout
}

// Run ticks every Interval until ctx is cancelled. Ticks are skipped while
// the session is paused.
func (t *Trainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	defer t.events.Close()
	defer t.bus.Close()

	t.log.Info("ticker started", slog.Duration("interval", t.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			t.log.Info("ticker stopped")
			return nil
		case <-ticker.C:
			if t.sess.Paused() {
				continue
			}
			t.Step()
		}
	}
}

// Subscribe returns the current history snapshot and a channel carrying
// every later candle. Call cancel to unsubscribe.
func (t *Trainer) Subscribe() (history []model.Candle, ch <-chan model.Candle, cancel func()) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	ch, cancel = t.bus.Subscribe()
	return t.history.Snapshot(), ch, cancel
}

// SubscribeEvents returns a channel of session events.
func (t *Trainer) SubscribeEvents() (<-chan session.Event, func()) {
	return t.events.Subscribe()
}

func (t *Trainer) publishEvent(ev session.Event) {
	if t.OnEvent != nil {
		t.OnEvent(ev)
	}
	t.events.Publish(ev)
}

// Bus exposes the fan-out for saturation reporting.
func (t *Trainer) Bus() *bus.FanOut[model.Candle] { return t.bus }

// Session returns the trade session commands are sent to.
func (t *Trainer) Session() *session.Session { return t.sess }

// History returns a copy of the bounded candle history, oldest first.
func (t *Trainer) History() []model.Candle { return t.history.Snapshot() }

// Latest returns the newest candle.
func (t *Trainer) Latest() (model.Candle, bool) { return t.history.Last() }

// Levels returns the active support/resistance levels.
func (t *Trainer) Levels() []model.PriceLevel { return t.gen.Levels() }

// Indicators returns the ready overlay values keyed by name.
func (t *Trainer) Indicators() map[string]float64 { return t.ind.Values() }

// Market returns the generator's current parameters.
func (t *Trainer) Market() market.State { return t.gen.State() }

// Status is everything a display layer needs for one frame.
type Status struct {
	Session    session.Snapshot   `json:"session"`
	Market     market.State       `json:"market"`
	Levels     []model.PriceLevel `json:"levels"`
	Latest     *model.Candle      `json:"latest,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Status returns a combined read-only view.
func (t *Trainer) Status() Status {
	st := Status{
		Session:    t.sess.Snapshot(),
		Market:     t.gen.State(),
		Levels:     t.gen.Levels(),
		Indicators: t.ind.Values(),
	}
	if c, ok := t.history.Last(); ok {
		st.Latest = &c
	}
	return st
}

func newCandleBus(size int) *bus.FanOut[model.Candle] {
	b := bus.New[model.Candle](size)
	b.Name = "candles"
	return b
}

// historySource adapts the candle history to session.PriceSource.
type historySource struct {
	ring *ringbuf.Ring[model.Candle]
}

func (h historySource) LatestClose() (decimal.Decimal, bool) {
	c, ok := h.ring.Last()
	if !ok {
		return decimal.Decimal{}, false
	}
	return c.Close, true
}

// Dispatch runs a named session command and reports the outcome to
// OnCommand.
func (t *Trainer) Dispatch(command, arg string) (session.Outcome, error) {
	out, err := t.sess.Dispatch(command, arg)
	if t.OnCommand != nil {
		t.OnCommand(out)
	}
	return out, err
}
