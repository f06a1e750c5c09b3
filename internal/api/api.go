// Package api serves the trainer's REST surface: read-only views of the
// candle history, levels and session, and a command endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tdawg5587/tradesim1/internal/metrics"
	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/session"
	"github.com/tdawg5587/tradesim1/internal/store/sqlite"
	"github.com/tdawg5587/tradesim1/internal/trainer"
)

const (
	DefaultTimeout      = 10 * time.Second
	ServiceName         = "scalp-trainer"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
	TOTPHeaderKey       = "X-TOTP"
	defaultTradesLimit  = 20
	maxTradesLimit      = 500
)

// Trainer is the trainer surface the API reads from and commands.
type Trainer interface {
	History() []model.Candle
	Levels() []model.PriceLevel
	Status() trainer.Status
	Dispatch(command, arg string) (session.Outcome, error)
}

// TradeJournal lists completed trades.
type TradeJournal interface {
	Recent(ctx context.Context, limit int) ([]sqlite.TradeRecord, error)
}

// HealthReporter reports dependency health.
type HealthReporter interface {
	Report() metrics.Report
}

// Options are the optional collaborators of a Handler.
type Options struct {
	Journal TradeJournal   // nil disables /trades
	Health  HealthReporter // nil reports a bare "ok"
	WS      http.Handler   // nil disables /ws

	// CommandLimiter throttles POST /commands. nil disables throttling.
	CommandLimiter *rate.Limiter

	// TOTPSecret, if set, requires a valid X-TOTP code on commands.
	TOTPSecret string

	Logger *slog.Logger
}

// Handler handles HTTP requests using gin.
type Handler struct {
	trainer Trainer
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates an API handler.
func NewHandler(tr Trainer, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		trainer: tr,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "api")),
	}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	v1 := router.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/candles", h.GetCandles)
	v1.GET("/levels", h.GetLevels)
	v1.GET("/session", h.GetSession)
	v1.GET("/trades", h.GetTrades)

	cmds := v1.Group("/commands")
	if h.opts.CommandLimiter != nil {
		cmds.Use(rateLimitMiddleware(h.opts.CommandLimiter))
	}
	if h.opts.TOTPSecret != "" {
		cmds.Use(totpMiddleware(h.opts.TOTPSecret, time.Now))
	}
	cmds.POST("/:name", h.PostCommand)

	if h.opts.WS != nil {
		router.GET("/ws", gin.WrapH(h.opts.WS))
	}
	return router
}

// Server runs the API over net/http so it can be shut down gracefully.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer wraps the handler's routes in an http.Server on addr.
func NewServer(addr string, h *Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: h.logger,
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
