package session

// Snapshot is a point-in-time copy of the session for display layers.
type Snapshot struct {
	State          State     `json:"state"`
	Debug          bool      `json:"debug"`
	Paused         bool      `json:"paused"`
	Breakout       *Breakout `json:"breakout,omitempty"`
	Trade          *Trade    `json:"trade,omitempty"`
	Totals         Totals    `json:"totals"`
	ReactionTimes  []float64 `json:"reaction_times_ms"`
	AvgReactionMs  float64   `json:"avg_reaction_ms"`
	SuccessRatePct float64   `json:"success_rate_pct"`
}

// Snapshot returns a copy of the whole session state taken under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:         s.state(),
		Debug:         s.debug,
		Paused:        s.paused,
		Totals:        s.totals,
		ReactionTimes: s.reactions.Snapshot(),
		AvgReactionMs: s.meanReaction(),
	}
	if s.breakout != nil {
		b := *s.breakout
		snap.Breakout = &b
	}
	if s.trade != nil {
		t := *s.trade
		snap.Trade = &t
	}

	breakouts := s.totals.Breakouts
	if breakouts < 1 {
		breakouts = 1
	}
	snap.SuccessRatePct = float64(s.totals.Entries) / float64(breakouts) * 100
	return snap
}
