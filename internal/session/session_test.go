package session

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdawg5587/tradesim1/internal/model"
)

// fakePrices is a settable PriceSource.
type fakePrices struct {
	mu    sync.Mutex
	close decimal.Decimal
	ok    bool
}

func (f *fakePrices) LatestClose() (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.close, f.ok
}

func (f *fakePrices) set(v string) {
	f.mu.Lock()
	f.close = decimal.RequireFromString(v)
	f.ok = true
	f.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSession(debug bool) (*Session, *fakePrices, *fakeClock) {
	prices := &fakePrices{}
	prices.set("100.00")
	clk := &fakeClock{t: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	s := New(prices, Config{Debug: debug, Clock: clk.Now})
	return s, prices, clk
}

func candle(seq int64, high string) model.Candle {
	h := decimal.RequireFromString(high)
	return model.Candle{Seq: seq, Open: h, High: h, Low: h, Close: h}
}

func TestSession_InitialState(t *testing.T) {
	s := New(&fakePrices{}, DefaultConfig())
	snap := s.Snapshot()

	assert.Equal(t, Idle, snap.State)
	assert.True(t, snap.Debug, "sessions start in debug mode")
	assert.False(t, snap.Paused)
	assert.Nil(t, snap.Breakout)
	assert.Nil(t, snap.Trade)
	assert.Equal(t, Totals{}, snap.Totals)
}

func TestSession_BreakoutDetection(t *testing.T) {
	s, _, _ := newTestSession(false)

	assert.False(t, s.OnCandle(candle(1, "101"), candle(2, "100")), "lower high is not a breakout")
	assert.False(t, s.OnCandle(candle(2, "100"), candle(3, "100")), "equal high is not a breakout")
	assert.Equal(t, Idle, s.State())

	assert.True(t, s.OnCandle(candle(3, "100"), candle(4, "100.01")))
	assert.Equal(t, BreakoutPending, s.State())
	assert.Equal(t, 1, s.Snapshot().Totals.Breakouts)
}

func TestSession_SinglePendingBreakout(t *testing.T) {
	s, _, _ := newTestSession(false)

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	for i := int64(2); i < 10; i++ {
		assert.False(t, s.OnCandle(candle(i, "101"), candle(i+1, "105")), "repeat breakout while pending")
	}
	assert.Equal(t, 1, s.Snapshot().Totals.Breakouts)

	// Reacting clears it; the next qualifying candle counts again.
	require.True(t, s.Enter(Long).Accepted)
	require.True(t, s.OnCandle(candle(20, "100"), candle(21, "101")))
	assert.Equal(t, 2, s.Snapshot().Totals.Breakouts)
}

func TestSession_EnterNormalModeRequiresBreakout(t *testing.T) {
	s, _, _ := newTestSession(false)

	out := s.Enter(Long)
	assert.False(t, out.Accepted)
	assert.Equal(t, "no breakout to react to", out.Message)
	assert.Equal(t, Idle, s.State())
}

func TestSession_EnterDebugModeUnconditional(t *testing.T) {
	s, _, _ := newTestSession(true)

	out := s.Enter(Short)
	require.True(t, out.Accepted, out.String())
	snap := s.Snapshot()
	assert.Equal(t, InTrade, snap.State)
	assert.Equal(t, Short, snap.Trade.Kind)
	assert.True(t, snap.Trade.EntryPrice.Equal(decimal.RequireFromString("100")))
	assert.Empty(t, snap.ReactionTimes, "debug entries never record reaction time")
}

func TestSession_EntryGuard(t *testing.T) {
	s, prices, _ := newTestSession(true)

	require.True(t, s.Enter(Long).Accepted)
	before := s.Snapshot()

	prices.set("105")
	out := s.Enter(Long)
	assert.False(t, out.Accepted)
	assert.Equal(t, "already in trade", out.Message)
	assert.Equal(t, before, s.Snapshot(), "rejected entry leaves state unchanged")
}

func TestSession_EntryGuardKeepsPendingBreakout(t *testing.T) {
	s, _, _ := newTestSession(true)

	require.True(t, s.Enter(Long).Accepted)
	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))

	assert.False(t, s.Enter(Long).Accepted)
	assert.NotNil(t, s.Snapshot().Breakout, "in-trade rejection is a full no-op")
}

func TestSession_FailedEntryClearsBreakout(t *testing.T) {
	s, prices, _ := newTestSession(false)
	prices.mu.Lock()
	prices.ok = false
	prices.mu.Unlock()

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	out := s.Enter(Long)
	assert.False(t, out.Accepted)
	assert.Equal(t, Idle, s.State(), "breakout windows are single-shot")
}

func TestSession_ReactionTimeNormalMode(t *testing.T) {
	s, _, clk := newTestSession(false)

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	clk.Advance(350 * time.Millisecond)
	require.True(t, s.Enter(BreakoutChase).Accepted)

	snap := s.Snapshot()
	require.Len(t, snap.ReactionTimes, 1)
	assert.InDelta(t, 350.0, snap.ReactionTimes[0], 1e-6)
	assert.InDelta(t, 350.0, snap.AvgReactionMs, 1e-6)
	assert.Equal(t, 1, snap.Totals.Entries)
	assert.InDelta(t, 100.0, snap.SuccessRatePct, 1e-9)
	assert.Nil(t, snap.Breakout, "entry clears the pending breakout")

	require.True(t, s.Cancel().Accepted)
	require.True(t, s.OnCandle(candle(2, "100"), candle(3, "101")))
	clk.Advance(150 * time.Millisecond)
	require.True(t, s.Enter(Long).Accepted)

	snap = s.Snapshot()
	assert.Equal(t, []float64{350, 150}, snap.ReactionTimes)
	assert.InDelta(t, 250.0, snap.AvgReactionMs, 1e-6)
}

func TestSession_ReactionTimeNotRecordedInDebug(t *testing.T) {
	s, _, clk := newTestSession(true)

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	clk.Advance(200 * time.Millisecond)
	require.True(t, s.Enter(Long).Accepted)

	snap := s.Snapshot()
	assert.Empty(t, snap.ReactionTimes)
	assert.Zero(t, snap.AvgReactionMs)
	assert.Equal(t, 1, snap.Totals.Entries, "entry still counts against the breakout")
}

func TestSession_ReactionHistoryBounded(t *testing.T) {
	prices := &fakePrices{}
	prices.set("100")
	clk := &fakeClock{t: time.Now()}
	s := New(prices, Config{Debug: false, ReactionHistory: 2, Clock: clk.Now})

	for i, ms := range []time.Duration{100, 200, 600} {
		require.True(t, s.OnCandle(candle(int64(i), "100"), candle(int64(i+1), "101")))
		clk.Advance(ms * time.Millisecond)
		require.True(t, s.Enter(Long).Accepted)
		require.True(t, s.Cancel().Accepted)
	}

	snap := s.Snapshot()
	assert.Equal(t, []float64{200, 600}, snap.ReactionTimes)
	assert.InDelta(t, 400.0, snap.AvgReactionMs, 1e-6)
}

func TestSession_ExitScoring(t *testing.T) {
	cases := []struct {
		name       string
		exitPrice  string
		result     ExitResult
		delta      int
		wins       int
		profitable int
	}{
		{"profit up", "101", Profit, 1, 1, 1},
		{"loss label price up", "101", Loss, 1, 1, 0},
		{"profit label price down", "99", Profit, -1, 0, 0},
		{"loss down", "99", Loss, -1, 0, 0},
		{"flat", "100", Profit, 0, 0, 0},
		{"breakeven up", "101", Breakeven, 0, 1, 0},
		{"breakeven down", "99", Breakeven, 0, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, prices, _ := newTestSession(true)
			require.True(t, s.Enter(Long).Accepted)

			prices.set(tc.exitPrice)
			out := s.Exit(tc.result)
			require.True(t, out.Accepted, out.String())

			snap := s.Snapshot()
			assert.Equal(t, Idle, snap.State)
			assert.Equal(t, 1, snap.Totals.Trades)
			assert.Equal(t, tc.delta, snap.Totals.Score)
			assert.Equal(t, tc.wins, snap.Totals.Wins)
			assert.Equal(t, tc.profitable, snap.Totals.Profitable)
		})
	}
}

func TestSession_ExitNotInTrade(t *testing.T) {
	s, _, _ := newTestSession(true)

	out := s.Exit(Profit)
	assert.False(t, out.Accepted)
	assert.Equal(t, "not in trade", out.Message)
	assert.Equal(t, Totals{}, s.Snapshot().Totals)
}

func TestSession_Cancel(t *testing.T) {
	s, _, _ := newTestSession(true)

	assert.True(t, s.Cancel().Accepted, "cancel is valid from Idle")

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	require.True(t, s.Enter(Long).Accepted)
	require.True(t, s.OnCandle(candle(2, "100"), candle(3, "101")))
	require.True(t, s.Cancel().Accepted)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Trade)
	assert.Nil(t, snap.Breakout)
	assert.Equal(t, 2, snap.Totals.Breakouts, "cancel leaves counters alone")
	assert.Equal(t, 0, snap.Totals.Trades)
}

func TestSession_TogglesAndReset(t *testing.T) {
	s, _, _ := newTestSession(false)

	assert.Equal(t, "paused", s.TogglePause().Message)
	assert.True(t, s.Paused())
	assert.Equal(t, "resumed", s.TogglePause().Message)
	assert.False(t, s.Paused())

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	assert.Equal(t, "debug mode on", s.ToggleDebug().Message)
	assert.Equal(t, BreakoutPending, s.State(), "debug toggle keeps pending state")

	require.True(t, s.Enter(Long).Accepted)
	require.True(t, s.ResetStatistics().Accepted)

	snap := s.Snapshot()
	assert.Equal(t, Totals{}, snap.Totals)
	assert.Empty(t, snap.ReactionTimes)
	assert.Equal(t, InTrade, snap.State, "reset keeps the open trade")
}

func TestSession_Events(t *testing.T) {
	s, prices, clk := newTestSession(false)

	var events []Event
	s.OnEvent = func(ev Event) { events = append(events, ev) }

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	clk.Advance(time.Second)
	require.True(t, s.Enter(Long).Accepted)
	prices.set("102")
	require.True(t, s.Exit(Profit).Accepted)
	s.Cancel() // nothing open: no event

	require.Len(t, events, 3)
	assert.Equal(t, EventBreakout, events[0].Type)
	assert.Equal(t, EventEntered, events[1].Type)
	assert.True(t, events[1].Reacted)
	assert.InDelta(t, 1000.0, events[1].ReactionMs, 1e-6)
	assert.Equal(t, EventExited, events[2].Type)
	assert.Equal(t, 1, events[2].ScoreDelta)
	assert.True(t, events[2].ExitPrice.Equal(decimal.RequireFromString("102")))
}

func TestSession_ConcurrentCommandsAndCandles(t *testing.T) {
	s, _, _ := newTestSession(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 2000; i++ {
			s.OnCandle(candle(i, "100"), candle(i+1, "101"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			s.Enter(Long)
			s.Exit(Profit)
		}
	}()
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State, "every entry was followed by an exit")
	assert.LessOrEqual(t, snap.Totals.Entries, snap.Totals.Breakouts)
	assert.Equal(t, snap.Totals.Entries, snap.Totals.Trades)
	assert.LessOrEqual(t, len(snap.ReactionTimes), snap.Totals.Entries)
}

func TestSession_EventsDeliveredInTransitionOrder(t *testing.T) {
	s, prices, _ := newTestSession(false)

	var (
		mu      sync.Mutex
		order   []EventType
		seqs    []uint64
		started = make(chan struct{})
	)
	s.OnEvent = func(ev Event) {
		if ev.Type == EventBreakout {
			close(started)
			// hold the breakout delivery while commands race past it
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, ev.Type)
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-started
		assert.Equal(t, BreakoutPending, s.State(), "state readable from inside a delivery")
		assert.True(t, s.Enter(Long).Accepted)
		prices.set("101")
		assert.True(t, s.Exit(Profit).Accepted)
	}()

	require.True(t, s.OnCandle(candle(1, "100"), candle(2, "101")))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventBreakout, EventEntered, EventExited}, order)
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
}
