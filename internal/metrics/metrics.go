package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/session"
)

// Metrics holds all Prometheus metrics for the trainer.
type Metrics struct {
	CandlesTotal   prometheus.Counter
	CandleVolume   prometheus.Histogram
	Price          prometheus.Gauge
	ActiveLevels   prometheus.Gauge
	BreakoutsTotal prometheus.Counter

	// Session
	CommandsTotal *prometheus.CounterVec // labels: command, outcome
	TradesTotal   *prometheus.CounterVec // labels: result
	ReactionTime  prometheus.Histogram
	Score         prometheus.Gauge

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	WSClients            prometheus.Gauge

	// Sinks
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	JournalWriteDur          prometheus.Histogram
	NotificationsTotal       *prometheus.CounterVec // labels: status
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_candles_total",
			Help: "Total candles generated",
		}),
		CandleVolume: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainer_candle_volume",
			Help:    "Synthetic volume per candle",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		Price: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_price",
			Help: "Latest close",
		}),
		ActiveLevels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_active_levels",
			Help: "Active support/resistance levels",
		}),
		BreakoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_breakouts_total",
			Help: "Breakouts recorded by the session",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_commands_total",
			Help: "Session commands by name and outcome",
		}, []string{"command", "outcome"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_trades_total",
			Help: "Completed trades by exit result",
		}, []string{"result"}),
		ReactionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainer_reaction_time_seconds",
			Help:    "Time from breakout to entry",
			Buckets: []float64{0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		Score: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_score",
			Help: "Running session score",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_fanout_drops_total",
			Help: "Candles dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trainer_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainer_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainer_journal_write_duration_seconds",
			Help:    "SQLite trade journal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_notifications_total",
			Help: "Alerts sent by status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.CandleVolume,
		m.Price,
		m.ActiveLevels,
		m.BreakoutsTotal,
		m.CommandsTotal,
		m.TradesTotal,
		m.ReactionTime,
		m.Score,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.WSClients,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.JournalWriteDur,
		m.NotificationsTotal,
	)

	return m
}

// ObserveCandle records one generated candle and the level count after it.
func (m *Metrics) ObserveCandle(c model.Candle, activeLevels int) {
	m.CandlesTotal.Inc()
	m.CandleVolume.Observe(float64(c.Volume))
	m.Price.Set(c.Close.InexactFloat64())
	m.ActiveLevels.Set(float64(activeLevels))
}

// ObserveOutcome counts a session command.
func (m *Metrics) ObserveOutcome(o session.Outcome) {
	outcome := "accepted"
	if !o.Accepted {
		outcome = "rejected"
	}
	m.CommandsTotal.WithLabelValues(o.Command, outcome).Inc()
	if o.Accepted && o.Command == session.CmdReset {
		m.Score.Set(0)
	}
}

// ObserveEvent folds a session event into the session metrics.
func (m *Metrics) ObserveEvent(ev session.Event) {
	switch ev.Type {
	case session.EventBreakout:
		m.BreakoutsTotal.Inc()
	case session.EventEntered:
		if ev.Reacted && ev.ReactionMs > 0 {
			m.ReactionTime.Observe(ev.ReactionMs / 1000)
		}
	case session.EventExited:
		m.TradesTotal.WithLabelValues(ev.Result.String()).Inc()
		m.Score.Add(float64(ev.ScoreDelta))
	}
}

// FanoutDrop counts a candle dropped for subscriber id.
func (m *Metrics) FanoutDrop(id int) {
	m.FanoutDropsTotal.WithLabelValues(strconv.Itoa(id)).Inc()
}
