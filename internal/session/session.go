// Package session implements the trade-reaction state machine: breakout
// detection on the candle stream, trade entry/cancel/exit commands and
// scoring.
//
// The ticker and the user-input layer both call into a Session. Every
// read-modify-write runs under one mutex covering the whole session state,
// so a breakout being recorded and an Enter checking for it can never
// interleave.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/ringbuf"
)

const defaultReactionHistory = 1000

// PriceSource supplies the latest close used to price entries and exits.
type PriceSource interface {
	LatestClose() (decimal.Decimal, bool)
}

// State is the position of the session in its lifecycle.
type State int

const (
	Idle State = iota
	BreakoutPending
	InTrade
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BreakoutPending:
		return "breakout_pending"
	case InTrade:
		return "in_trade"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Breakout is a pending breakout that has not been reacted to yet.
type Breakout struct {
	DetectedAt time.Time       `json:"detected_at"`
	CandleSeq  int64           `json:"candle_seq"`
	High       decimal.Decimal `json:"high"`
	PrevHigh   decimal.Decimal `json:"prev_high"`
}

// Trade is the currently open trade.
type Trade struct {
	Kind       EntryKind       `json:"kind"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EnteredAt  time.Time       `json:"entered_at"`
}

// Totals are the session statistics cleared by ResetStatistics.
type Totals struct {
	Breakouts  int `json:"breakouts"`
	Entries    int `json:"entries"` // entries made against a pending breakout
	Trades     int `json:"trades"`
	Profitable int `json:"profitable"`
	Wins       int `json:"wins"`
	Score      int `json:"score"`
}

// Config holds construction options for a Session.
type Config struct {
	// Debug starts the session in debug mode (entry without a breakout).
	Debug bool

	// ReactionHistory bounds the reaction-time series. Defaults to 1000.
	ReactionHistory int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// DefaultConfig returns the startup configuration: debug mode on.
func DefaultConfig() Config {
	return Config{Debug: true, ReactionHistory: defaultReactionHistory}
}

// Session is the mutex-guarded trade session.
type Session struct {
	prices PriceSource
	now    func() time.Time
	log    *slog.Logger

	mu          sync.Mutex
	breakout    *Breakout
	trade       *Trade
	totals      Totals
	reactions   *ringbuf.Ring[float64] // milliseconds
	reactionSum float64
	debug       bool
	paused      bool
	eventSeq    uint64 // next Event.Seq to hand out

	// Delivery of events in Seq order. turn is the Seq whose OnEvent call
	// may run next.
	emitMu sync.Mutex
	emitCv *sync.Cond
	turn   uint64

	// OnEvent, if set, is called after each state-changing operation with
	// the session lock released, one event at a time in Seq order. It may
	// read session state but must not issue commands, and must not block
	// for long.
	OnEvent func(Event)
}

// New creates a session in the Idle state that prices trades from prices.
func New(prices PriceSource, cfg Config) *Session {
	if cfg.ReactionHistory <= 0 {
		cfg.ReactionHistory = defaultReactionHistory
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Session{
		prices:    prices,
		now:       cfg.Clock,
		log:       cfg.Logger.With(slog.String("component", "session")),
		reactions: ringbuf.New[float64](cfg.ReactionHistory),
		debug:     cfg.Debug,
	}
	s.emitCv = sync.NewCond(&s.emitMu)
	return s
}

// OnCandle checks the two newest candles for a breakout. A breakout is
// recorded only when cur.High exceeds prev.High and none is pending.
// It reports whether a new breakout was recorded.
func (s *Session) OnCandle(prev, cur model.Candle) bool {
	s.mu.Lock()
	if !cur.High.GreaterThan(prev.High) || s.breakout != nil {
		s.mu.Unlock()
		return false
	}

	b := Breakout{
		DetectedAt: s.now(),
		CandleSeq:  cur.Seq,
		High:       cur.High,
		PrevHigh:   prev.High,
	}
	s.breakout = &b
	s.totals.Breakouts++
	ev := Event{Seq: s.nextSeq(), Type: EventBreakout, At: b.DetectedAt, Breakout: &b}
	s.mu.Unlock()

	s.log.Info("breakout detected",
		slog.String("high", cur.High.String()),
		slog.String("prev_high", prev.High.String()),
		slog.Int64("seq", cur.Seq))
	s.emit(ev)
	return true
}

// Enter opens a trade at the latest close. It is rejected while a trade is
// open, and in normal mode when no breakout is pending. Apart from the
// in-trade rejection, any pending breakout is cleared whether or not the
// entry succeeds.
func (s *Session) Enter(kind EntryKind) Outcome {
	s.mu.Lock()

	if s.trade != nil {
		s.mu.Unlock()
		return s.reject(CmdEnter, "already in trade")
	}

	pending := s.breakout
	s.breakout = nil

	if pending == nil && !s.debug {
		s.mu.Unlock()
		return s.reject(CmdEnter, "no breakout to react to")
	}

	price, ok := s.prices.LatestClose()
	if !ok {
		s.mu.Unlock()
		return s.reject(CmdEnter, "no market data yet")
	}

	t := Trade{Kind: kind, EntryPrice: price, EnteredAt: s.now()}
	s.trade = &t

	ev := Event{Seq: s.nextSeq(), Type: EventEntered, At: t.EnteredAt, Trade: &t}
	if pending != nil {
		s.totals.Entries++
		if !s.debug {
			ms := float64(t.EnteredAt.Sub(pending.DetectedAt)) / float64(time.Millisecond)
			s.recordReaction(ms)
			ev.ReactionMs = ms
			ev.Reacted = true
		}
	}
	s.mu.Unlock()

	msg := fmt.Sprintf("entered %s at %s", kind, price)
	if ev.Reacted {
		msg += fmt.Sprintf(" (reaction %.0fms)", ev.ReactionMs)
	}
	s.emit(ev)
	return s.accept(CmdEnter, msg)
}

// Cancel abandons the current setup: the open trade and any pending
// breakout are cleared without scoring.
func (s *Session) Cancel() Outcome {
	s.mu.Lock()
	hadTrade := s.trade != nil
	s.trade = nil
	s.breakout = nil
	var ev Event
	if hadTrade {
		ev = Event{Seq: s.nextSeq(), Type: EventCancelled, At: s.now()}
	}
	s.mu.Unlock()

	if hadTrade {
		s.emit(ev)
	}
	return s.accept(CmdCancel, "trade cancelled")
}

// Exit closes the open trade and scores it against the latest close.
func (s *Session) Exit(result ExitResult) Outcome {
	s.mu.Lock()

	if s.trade == nil {
		s.mu.Unlock()
		return s.reject(CmdExit, "not in trade")
	}

	t := *s.trade
	exitPrice, ok := s.prices.LatestClose()
	if !ok {
		exitPrice = t.EntryPrice
	}

	move := PriceMove(t.EntryPrice, exitPrice)
	delta := ScoreDelta(t.EntryPrice, exitPrice, result)

	s.totals.Trades++
	s.totals.Score += delta
	if move > 0 {
		s.totals.Wins++
		if result == Profit {
			s.totals.Profitable++
		}
	}
	s.trade = nil
	ev := Event{
		Seq:        s.nextSeq(),
		Type:       EventExited,
		At:         s.now(),
		Trade:      &t,
		Result:     result,
		ExitPrice:  exitPrice,
		ScoreDelta: delta,
	}
	s.mu.Unlock()

	s.emit(ev)
	return s.accept(CmdExit, fmt.Sprintf("exited %s at %s (score %+d)", result, exitPrice, delta))
}

// TogglePause flips the paused flag. Pausing stops the ticker only;
// commands keep working.
func (s *Session) TogglePause() Outcome {
	s.mu.Lock()
	s.paused = !s.paused
	paused := s.paused
	s.mu.Unlock()

	if paused {
		return s.accept(CmdPause, "paused")
	}
	return s.accept(CmdPause, "resumed")
}

// ToggleDebug flips debug mode. Pending state is left alone.
func (s *Session) ToggleDebug() Outcome {
	s.mu.Lock()
	s.debug = !s.debug
	debug := s.debug
	s.mu.Unlock()

	if debug {
		return s.accept(CmdDebug, "debug mode on")
	}
	return s.accept(CmdDebug, "debug mode off")
}

// ResetStatistics zeroes every counter and clears the reaction series.
// The open trade and pending breakout are kept.
func (s *Session) ResetStatistics() Outcome {
	s.mu.Lock()
	s.totals = Totals{}
	s.reactions.Reset()
	s.reactionSum = 0
	s.mu.Unlock()

	return s.accept(CmdReset, "statistics reset")
}

// Paused reports whether the ticker should skip ticks.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	switch {
	case s.trade != nil:
		return InTrade
	case s.breakout != nil:
		return BreakoutPending
	default:
		return Idle
	}
}

// recordReaction appends a reaction time and keeps the running sum in step
// with evictions. Caller holds the lock.
func (s *Session) recordReaction(ms float64) {
	s.reactionSum += ms
	if old, evicted := s.reactions.Push(ms); evicted {
		s.reactionSum -= old
	}
}

// meanReaction returns the mean of the stored reaction times. Caller holds the lock.
func (s *Session) meanReaction() float64 {
	n := s.reactions.Len()
	if n == 0 {
		return 0
	}
	return s.reactionSum / float64(n)
}

// nextSeq hands out the next event sequence number. Caller holds the lock.
func (s *Session) nextSeq() uint64 {
	seq := s.eventSeq
	s.eventSeq++
	return seq
}

// emit delivers ev once every event with a lower Seq has been delivered.
// Every Seq handed out by nextSeq must reach emit exactly once.
func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	for s.turn != ev.Seq {
		s.emitCv.Wait()
	}
	s.emitMu.Unlock()

	if s.OnEvent != nil {
		s.OnEvent(ev)
	}

	s.emitMu.Lock()
	s.turn++
	s.emitCv.Broadcast()
	s.emitMu.Unlock()
}
