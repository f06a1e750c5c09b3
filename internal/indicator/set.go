package indicator

import (
	"sync"

	"github.com/tdawg5587/tradesim1/internal/model"
)

// Set is a group of indicators fed from the same candle stream. It is safe
// for one writer and many readers.
type Set struct {
	mu   sync.RWMutex
	inds []Indicator
}

// NewSet builds a set from cfgs. Configs that New rejects are skipped;
// validate with ParseSpecs first.
func NewSet(cfgs []Config) *Set {
	s := &Set{}
	for _, cfg := range cfgs {
		ind, err := New(cfg)
		if err != nil {
			continue
		}
		s.inds = append(s.inds, ind)
	}
	return s
}

// Update feeds c's close to every indicator.
func (s *Set) Update(c model.Candle) {
	price := c.Close.InexactFloat64()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range s.inds {
		ind.Update(price)
	}
}

// Values returns the ready indicators keyed by name. Nil when none are
// ready.
func (s *Set) Values() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out map[string]float64
	for _, ind := range s.inds {
		if !ind.Ready() {
			continue
		}
		if out == nil {
			out = make(map[string]float64, len(s.inds))
		}
		out[ind.Name()] = ind.Value()
	}
	return out
}

// Len returns the number of indicators in the set.
func (s *Set) Len() int { return len(s.inds) }
