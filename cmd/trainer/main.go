// Command trainer runs the scalp trainer: a procedural candle feed with
// support/resistance levels, breakout detection and a trade-reaction
// session, served over REST and WebSocket.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/tdawg5587/tradesim1/config"
	"github.com/tdawg5587/tradesim1/internal/api"
	"github.com/tdawg5587/tradesim1/internal/gateway"
	"github.com/tdawg5587/tradesim1/internal/logger"
	"github.com/tdawg5587/tradesim1/internal/marketdata/bus"
	"github.com/tdawg5587/tradesim1/internal/metrics"
	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/notification"
	"github.com/tdawg5587/tradesim1/internal/session"
	redisstore "github.com/tdawg5587/tradesim1/internal/store/redis"
	sqlitestore "github.com/tdawg5587/tradesim1/internal/store/sqlite"
	"github.com/tdawg5587/tradesim1/internal/trainer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.Init(api.ServiceName, cfg.Level())
	log.Info("starting",
		slog.Duration("tick_interval", cfg.TickInterval),
		slog.Float64("start_price", cfg.StartPrice),
		slog.Int64("seed", cfg.Seed),
		slog.Bool("debug_mode", cfg.DebugMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics and health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(3 * cfg.TickInterval)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Trainer ----
	tr := trainer.New(trainer.Config{
		Interval:    cfg.TickInterval,
		HistorySize: cfg.HistorySize,
		Indicators:  cfg.Indicators(),
		Market:      cfg.Market(),
		Session:     cfg.Session(),
		Logger:      log,
	})
	tr.Warmup(cfg.HistorySize)

	tr.OnCandle = func(c model.Candle, _ bool) {
		prom.ObserveCandle(c, len(tr.Levels()))
		health.SetLastCandleTime(c.TS)
	}
	tr.OnCommand = func(o session.Outcome) {
		prom.ObserveOutcome(o)
		health.SetPaused(tr.Session().Paused())
	}
	tr.OnEvent = prom.ObserveEvent
	tr.Bus().OnDrop = prom.FanoutDrop
	go reportSaturation(ctx, tr.Bus(), prom)

	// ---- Optional Redis publisher ----
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(ctx, redisstore.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			StreamMaxLen: int64(cfg.HistorySize),
		})
		if err != nil {
			log.Warn("redis disabled", slog.String("error", err.Error()))
		} else {
			defer pub.Close()
			rdb = pub.Client()
			health.EnableRedis()
			pub.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Warn("redis circuit breaker",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}

			_, candles, stopCandles := tr.Subscribe()
			defer stopCandles()
			events, stopEvents := tr.SubscribeEvents()
			defer stopEvents()
			go pub.Run(ctx, candles)
			go pub.RunEvents(ctx, events)
			keys := pub.Keys()
			log.Info("publishing to redis",
				slog.String("stream", keys.Stream),
				slog.String("candles", keys.CandleChannel),
				slog.String("events", keys.EventChannel))
		}
	}

	// ---- Optional trade journal ----
	var journal *sqlitestore.Journal
	if cfg.JournalPath != "" {
		if dir := filepath.Dir(cfg.JournalPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Error("journal dir", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		journal, err = sqlitestore.Open(cfg.JournalPath)
		if err != nil {
			log.Error("journal open failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer journal.Close()
		health.EnableJournal()
		journal.OnWrite = func(d time.Duration) { prom.JournalWriteDur.Observe(d.Seconds()) }

		events, stopEvents := tr.SubscribeEvents()
		defer stopEvents()
		go journal.Run(ctx, events)
	}

	// ---- Liveness checks ----
	if rdb != nil || journal != nil {
		var db *sql.DB
		if journal != nil {
			db = journal.DB()
		}
		health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)
	}

	// ---- Alerts ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
	}
	alertEvents, stopAlerts := tr.SubscribeEvents()
	defer stopAlerts()
	go notification.Run(ctx, notifier, alertEvents, func(err error) {
		status := "sent"
		if err != nil {
			status = "failed"
		}
		prom.NotificationsTotal.WithLabelValues(status).Inc()
	})

	// ---- WebSocket hub ----
	limiter := rate.NewLimiter(rate.Limit(cfg.CommandRate), cfg.CommandBurst)
	hub := gateway.NewHub(tr)
	hub.Limiter = limiter
	if cfg.CommandTOTPSecret != "" {
		hub.VerifyCode = api.TOTPVerifier(cfg.CommandTOTPSecret)
	}
	hub.OnClients = func(n int) { prom.WSClients.Set(float64(n)) }
	go hub.Run(ctx)

	// ---- REST API ----
	opts := api.Options{
		Health:         health,
		WS:             http.HandlerFunc(hub.ServeWS),
		CommandLimiter: limiter,
		TOTPSecret:     cfg.CommandTOTPSecret,
		Logger:         log,
	}
	if journal != nil {
		opts.Journal = journal
	}
	apiSrv := api.NewServer(cfg.HTTPAddr, api.NewHandler(tr, opts))
	apiSrv.Start()

	// ---- Ticker ----
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("trainer stopped", slog.String("error", err.Error()))
		}
	}()

	// ---- Wait for shutdown signal ----
	sig := <-sigCh
	log.Info("shutdown signal received", slog.String("signal", sig.String()))
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Warn("api shutdown", slog.String("error", err.Error()))
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", slog.String("error", err.Error()))
	}

	st := tr.Session().Snapshot()
	log.Info("shutdown complete",
		slog.Int("score", st.Totals.Score),
		slog.Int("trades", st.Totals.Trades),
		slog.Float64("avg_reaction_ms", st.AvgReactionMs))
}

// reportSaturation samples the candle fan-out's subscriber channels.
func reportSaturation(ctx context.Context, fo *bus.FanOut[model.Candle], prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fo.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("candles_" + strconv.Itoa(i)).Set(pct)
				}
			}
		}
	}
}
