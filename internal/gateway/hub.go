// Package gateway streams the trainer over WebSocket: a history snapshot
// on connect, then live candles, session events and status frames.
// Clients may send session commands back over the same socket.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/session"
	"github.com/tdawg5587/tradesim1/internal/trainer"
)

// Source is the trainer surface the hub needs.
type Source interface {
	History() []model.Candle
	Subscribe() ([]model.Candle, <-chan model.Candle, func())
	SubscribeEvents() (<-chan session.Event, func())
	Status() trainer.Status
	Dispatch(command, arg string) (session.Outcome, error)
}

// Hub tracks WebSocket clients and fans trainer output out to them.
type Hub struct {
	src Source
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[*Client]struct{}

	ready     chan struct{}
	readyOnce sync.Once
	started   time.Time

	Latency *LatencyTracker
	Replay  *ReplayBuffer

	// Limiter, if set, throttles commands across all clients.
	Limiter *rate.Limiter

	// VerifyCode, if set, must accept a command's "totp" field before the
	// command is dispatched.
	VerifyCode func(code string) bool

	// MetricsInterval between "metrics" frames. Zero disables them.
	MetricsInterval time.Duration

	// OnClients, if set, is called with the client count after each
	// connect or disconnect.
	OnClients func(n int)
}

// NewHub creates a hub for src.
func NewHub(src Source) *Hub {
	return &Hub{
		src:             src,
		log:             slog.Default().With(slog.String("component", "gateway")),
		now:             time.Now,
		clients:         make(map[*Client]struct{}),
		ready:           make(chan struct{}),
		started:         time.Now(),
		Latency:         NewLatencyTracker(10000),
		Replay:          NewReplayBuffer(500),
		MetricsInterval: 2 * time.Second,
	}
}

// Ready is closed once Run has subscribed to the trainer.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run forwards trainer output to clients until ctx is cancelled or the
// candle stream closes.
func (h *Hub) Run(ctx context.Context) {
	_, candles, cancelCandles := h.src.Subscribe()
	defer cancelCandles()
	events, cancelEvents := h.src.SubscribeEvents()
	defer cancelEvents()
	h.readyOnce.Do(func() { close(h.ready) })

	var metricsC <-chan time.Time
	if h.MetricsInterval > 0 {
		ticker := time.NewTicker(h.MetricsInterval)
		defer ticker.Stop()
		metricsC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candles:
			if !ok {
				return
			}
			h.broadcastCandle(c)
			h.broadcastStatus()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			h.broadcast(marshalEnvelope(ChannelEvent, ev, h.now(), 0))
			h.broadcastStatus()
		case <-metricsC:
			h.broadcast(marshalEnvelope(ChannelMetrics, h.collectMetrics(), h.now(), 0))
		}
	}
}

// Register adds conn as a client, queues its snapshot and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := newClient(h, conn)

	h.mu.Lock()
	hist := h.src.History()
	if n := len(hist); n > 0 {
		c.minSeq = hist[n-1].Seq
	}
	snap := Snapshot{Candles: make([]json.RawMessage, len(hist)), Status: h.src.Status()}
	for i := range hist {
		snap.Candles[i] = hist[i].JSON()
	}
	c.enqueue(marshalEnvelope(ChannelSnapshot, snap, h.now(), c.minSeq))
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastCandle sends a candle to every client that has not already
// received it in its snapshot.
func (h *Hub) broadcastCandle(c model.Candle) {
	now := h.now()
	if lat := now.Sub(c.TS); lat >= 0 {
		h.Latency.Record(float64(lat.Microseconds()) / 1000.0)
	}

	env := buildEnvelope(ChannelCandle, c.JSON(), now, c.Seq)
	h.Replay.Push(c.Seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if c.Seq <= client.minSeq {
			continue
		}
		client.enqueue(env)
	}
}

func (h *Hub) broadcastStatus() {
	h.broadcast(marshalEnvelope(ChannelStatus, h.src.Status(), h.now(), 0))
}

func (h *Hub) broadcast(env []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.enqueue(env)
	}
}

// Metrics is the payload of periodic "metrics" frames.
type Metrics struct {
	Clients     int     `json:"clients"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`
}

func (h *Hub) collectMetrics() Metrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := Metrics{
		Clients:     h.ClientCount(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(time.Since(h.started).Seconds()),
	}
	m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
	return m
}
