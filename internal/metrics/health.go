package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCandleTime time.Time
	StaleAfter     time.Duration // zero disables the staleness check
	Paused         bool
	ResumedAt      time.Time // staleness is measured from here after a pause

	RedisEnabled   bool
	RedisConnected bool
	JournalEnabled bool
	JournalOK      bool

	// Liveness probe results
	RedisLatencyMs   float64
	JournalLatencyMs float64
	LastCheckAt      time.Time
	StartedAt        time.Time
}

// Report is the JSON body served by /healthz.
type Report struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	LastCandleTime   string  `json:"last_candle_time"`
	CandleAge        string  `json:"candle_age"`
	Paused           bool    `json:"paused"`
	RedisEnabled     bool    `json:"redis_enabled"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	JournalEnabled   bool    `json:"journal_enabled"`
	JournalOK        bool    `json:"journal_ok"`
	JournalLatencyMs float64 `json:"journal_latency_ms"`
	LastCheckAt      string  `json:"last_check_at"`
}

// NewHealthStatus returns a default health status. Candles older than
// staleAfter mark the trainer degraded unless the session is paused.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		StaleAfter: staleAfter,
		StartedAt:  time.Now(),
	}
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaused(v bool) {
	h.mu.Lock()
	if h.Paused && !v {
		h.ResumedAt = time.Now()
	}
	h.Paused = v
	h.mu.Unlock()
}

func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

func (h *HealthStatus) EnableJournal() {
	h.mu.Lock()
	h.JournalEnabled = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the SQLite journal and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are
// skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckJournal(probeCtx, sqlDB)
		}
	}

	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report evaluates the current status.
func (h *HealthStatus) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	overall := "healthy"

	stale := false
	if h.StaleAfter > 0 && !h.Paused {
		ref := h.LastCandleTime
		if ref.IsZero() {
			ref = h.StartedAt
		}
		if h.ResumedAt.After(ref) {
			ref = h.ResumedAt
		}
		stale = now.Sub(ref) > h.StaleAfter
	}
	redisDown := h.RedisEnabled && !h.RedisConnected
	journalDown := h.JournalEnabled && !h.JournalOK

	if stale || redisDown || journalDown {
		overall = "degraded"
	}
	if stale && (redisDown || journalDown) {
		overall = "unhealthy"
	}

	candleAge := ""
	lastCandle := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = now.Sub(h.LastCandleTime).Round(time.Millisecond).String()
		lastCandle = h.LastCandleTime.Format(time.RFC3339)
	}
	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	return Report{
		Status:           overall,
		Uptime:           now.Sub(h.StartedAt).Round(time.Second).String(),
		LastCandleTime:   lastCandle,
		CandleAge:        candleAge,
		Paused:           h.Paused,
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalEnabled:   h.JournalEnabled,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LastCheckAt:      lastCheck,
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report()

	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  slog.Default().With(slog.String("component", "metrics")),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
