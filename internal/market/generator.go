// Package market generates the synthetic candle stream the trainer runs on.
//
// Each Tick draws a trend move plus noise, bends it around nearby
// support/resistance levels, derives wicks and volume, and ages the level set.
// All randomness comes from one seeded *rand.Rand so runs are reproducible.
package market

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/ringbuf"
)

const (
	closeHistorySize = 100

	influenceRadiusPct = 0.02
	touchRadiusPct     = 0.005
	pushScale          = 0.1
	volumeScale        = 0.5
	maxVolumeMult      = 5.0

	trendFlipProb       = 0.05
	strongLevelVolMult  = 2.0
	minCandleVolume     = 100
	maxLevels           = 8
	newLevelProb        = 0.1
	initialLevelSpread  = 0.10
	bodyVolumeThreshold = 0.5
)

// State is a read-only view of the generator's evolving parameters.
type State struct {
	Price         float64 `json:"price"`
	Trend         int     `json:"trend"` // +1 up, -1 down
	TrendStrength float64 `json:"trend_strength"`
	Volatility    float64 `json:"volatility"`
	Candles       int64   `json:"candles"`
}

// Generator owns the market state. Tick is the only writer; the read
// accessors may be called from other goroutines.
type Generator struct {
	cfg Config
	rng *rand.Rand
	now func() time.Time

	mu            sync.Mutex
	price         float64
	trend         int
	trendStrength float64
	volatility    float64
	closes        *ringbuf.Ring[float64]
	levels        []model.PriceLevel // sorted by price ascending
	seq           int64
}

// New creates a generator and seeds its initial level set.
func New(cfg Config) *Generator {
	cfg.defaults()

	g := &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		now:    cfg.Clock,
		price:  cfg.StartPrice,
		closes: ringbuf.New[float64](closeHistorySize),
	}

	g.trend = 1
	if g.rng.Intn(2) == 0 {
		g.trend = -1
	}
	g.trendStrength = g.uniform(0.1, 0.3)
	g.volatility = g.uniform(0.5, 2.0)
	g.seedLevels()
	return g
}

// Tick produces the next candle and advances the market.
func (g *Generator) Tick() model.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.maintainLevels(now)

	baseMove := float64(g.trend) * g.trendStrength * g.uniform(0.5, 1.5)
	randomMove := g.uniform(-g.volatility, g.volatility)

	open := g.price
	closePrice := open + baseMove + randomMove

	inf := g.influence(closePrice, now, true)
	closePrice = inf.price

	high := math.Max(open, closePrice) + g.uniform(0, g.volatility*0.5)
	low := math.Min(open, closePrice) - g.uniform(0, g.volatility*0.5)
	high = g.influence(high, now, false).price
	low = g.influence(low, now, false).price

	g.maybeFlip(inf.volumeMult)

	o := round2(open)
	c := round2(closePrice)
	h := decimal.Max(round2(high), o, c)
	l := decimal.Min(round2(low), o, c)

	hf, _ := h.Float64()
	lf, _ := l.Float64()
	of, _ := o.Float64()
	cf, _ := c.Float64()
	volume := g.volume(of, hf, lf, cf, inf.volumeMult)

	g.price = cf
	g.closes.Push(cf)
	g.seq++

	return model.Candle{
		Seq:    g.seq,
		TS:     now,
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: volume,
	}
}

// State returns the current market parameters.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Price:         g.price,
		Trend:         g.trend,
		TrendStrength: g.trendStrength,
		Volatility:    g.volatility,
		Candles:       g.seq,
	}
}

// maybeFlip reverses the trend with probability trendFlipProb, halved when
// the close sat on strong levels, and redraws strength and volatility.
func (g *Generator) maybeFlip(volumeMult float64) bool {
	p := trendFlipProb
	if volumeMult > strongLevelVolMult {
		p /= 2
	}
	if g.rng.Float64() >= p {
		return false
	}
	g.trend *= -1
	g.trendStrength = g.uniform(0.1, 0.3)
	g.volatility = g.uniform(0.5, 2.0)
	return true
}

// volume synthesises candle volume from range, body and level proximity.
func (g *Generator) volume(open, high, low, closePrice, proximityMult float64) int64 {
	v := g.uniform(0.5, 1.5) * g.cfg.BaseVolume

	if g.volatility > 0 {
		rangeFactor := 1 + ((high-low)/g.volatility-1)*0.5
		v *= math.Max(0.3, rangeFactor)

		if math.Abs(closePrice-open) > g.volatility*bodyVolumeThreshold {
			v *= 1.5
		}
	}

	v *= proximityMult
	v *= g.uniform(0.8, 1.2)
	if v < minCandleVolume {
		v = minCandleVolume
	}
	return int64(v)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func round2(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
