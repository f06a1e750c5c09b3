package market

import (
	"math"
	"sort"
	"time"

	"github.com/tdawg5587/tradesim1/internal/model"
)

// influenceResult is what a level pass does to one candidate price.
type influenceResult struct {
	price      float64
	volumeMult float64
}

// Levels returns the levels that are active at the clock's current time,
// sorted by price ascending. The returned slice is a copy.
func (g *Generator) Levels() []model.PriceLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levelsAt(g.now())
}

// LevelsAt is Levels evaluated at an explicit time.
func (g *Generator) LevelsAt(now time.Time) []model.PriceLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levelsAt(now)
}

func (g *Generator) levelsAt(now time.Time) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(g.levels))
	for _, l := range g.levels {
		if !l.Expired(now, g.cfg.LevelLifetime) {
			out = append(out, l)
		}
	}
	return out
}

// seedLevels places 4-6 levels within ±10% of the start price.
func (g *Generator) seedLevels() {
	now := g.now()
	n := 4 + g.rng.Intn(3)
	for i := 0; i < n; i++ {
		p := g.price * (1 + g.uniform(-initialLevelSpread, initialLevelSpread))
		g.levels = append(g.levels, model.PriceLevel{
			Price:     p,
			Kind:      model.KindFor(p, g.price),
			Strength:  2 + g.rng.Intn(4),
			CreatedAt: now,
			Active:    true,
		})
	}
	g.sortLevels()
}

// maintainLevels drops expired levels and occasionally adds a new one
// inside the recorded close range.
func (g *Generator) maintainLevels(now time.Time) {
	kept := g.levels[:0]
	for _, l := range g.levels {
		if !l.Expired(now, g.cfg.LevelLifetime) {
			kept = append(kept, l)
		}
	}
	changed := len(kept) != len(g.levels)
	g.levels = kept

	if g.rng.Float64() < newLevelProb && len(g.levels) < maxLevels {
		if lo, hi, ok := g.closeRange(); ok {
			p := g.uniform(lo, hi)
			g.levels = append(g.levels, model.PriceLevel{
				Price:     p,
				Kind:      model.KindFor(p, g.price),
				Strength:  2 + g.rng.Intn(3),
				CreatedAt: now,
				Active:    true,
			})
			changed = true
		}
	}

	if changed {
		g.sortLevels()
	}
}

// closeRange returns the min and max of the recorded closes. ok is false
// when there is no history or the range is zero.
func (g *Generator) closeRange() (lo, hi float64, ok bool) {
	closes := g.closes.Snapshot()
	if len(closes) == 0 {
		return 0, 0, false
	}
	lo, hi = closes[0], closes[0]
	for _, c := range closes[1:] {
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	if hi-lo <= 0 {
		return 0, 0, false
	}
	return lo, hi, true
}

// influence bends target toward/away from nearby levels. Resistance above
// the target pushes it down, support below pushes it up. When touch is set
// levels close enough to the current price count a touch.
func (g *Generator) influence(target float64, now time.Time, touch bool) influenceResult {
	res := influenceResult{price: target, volumeMult: 1}

	radius := g.price * influenceRadiusPct
	if radius <= 0 {
		return res
	}
	touchRadius := g.price * touchRadiusPct

	for i := range g.levels {
		l := &g.levels[i]
		if l.Expired(now, g.cfg.LevelLifetime) {
			continue
		}
		d := math.Abs(l.Price - target)
		if d >= radius {
			continue
		}

		weight := 1 - d/radius
		push := weight * float64(l.Strength) * pushScale
		switch {
		case l.Kind == model.Resistance && l.Price > target:
			res.price -= push
		case l.Kind == model.Support && l.Price < target:
			res.price += push
		}
		res.volumeMult += weight * float64(l.Strength) * volumeScale

		if touch && d < touchRadius {
			l.Touches++
		}
	}

	if res.volumeMult > maxVolumeMult {
		res.volumeMult = maxVolumeMult
	}
	return res
}

func (g *Generator) sortLevels() {
	sort.Slice(g.levels, func(i, j int) bool {
		return g.levels[i].Price < g.levels[j].Price
	})
}
