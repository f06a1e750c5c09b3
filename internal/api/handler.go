package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tdawg5587/tradesim1/internal/logger"
	"github.com/tdawg5587/tradesim1/internal/marketdata/tfbuilder"
	"github.com/tdawg5587/tradesim1/internal/session"
)

// Health handles GET /api/v1/health.
func (h *Handler) Health(c *gin.Context) {
	if h.opts.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
		return
	}
	rep := h.opts.Health.Report()
	code := http.StatusOK
	if rep.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, rep)
}

// GetCandles handles GET /api/v1/candles?limit=N&tf=D, returning the newest
// N candles oldest first. tf (e.g. "15s", "1m") resamples the history
// before the limit is applied. Without limit the whole history is returned.
func (h *Handler) GetCandles(c *gin.Context) {
	candles := h.trainer.History()

	if raw := c.Query("tf"); raw != "" {
		tf, err := time.ParseDuration(raw)
		if err != nil {
			h.badRequest(c, "tf must be a duration such as 15s or 1m")
			return
		}
		if candles, err = tfbuilder.Resample(candles, tf); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequest(c, "limit must be a positive integer")
			return
		}
		if n < len(candles) {
			candles = candles[len(candles)-n:]
		}
	}
	c.JSON(http.StatusOK, candles)
}

// GetLevels handles GET /api/v1/levels.
func (h *Handler) GetLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.trainer.Levels())
}

// GetSession handles GET /api/v1/session.
func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.trainer.Status())
}

// GetTrades handles GET /api/v1/trades?limit=N.
func (h *Handler) GetTrades(c *gin.Context) {
	if h.opts.Journal == nil {
		c.JSON(http.StatusNotFound, errorBody(c, "trade journal disabled"))
		return
	}

	limit := defaultTradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTradesLimit {
			h.badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxTradesLimit))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	trades, err := h.opts.Journal.Recent(ctx, limit)
	if err != nil {
		h.logger.Error("journal query failed",
			append([]any{slog.String("error", err.Error())}, logger.LogWithTrace(c.Request.Context())...)...)
		c.JSON(http.StatusInternalServerError, errorBody(c, "internal server error"))
		return
	}
	c.JSON(http.StatusOK, trades)
}

type commandRequest struct {
	Arg string `json:"arg"`
}

// PostCommand handles POST /api/v1/commands/:name. The argument comes from
// the JSON body {"arg": "..."} or the ?arg= query parameter.
// Accepted commands return 200; guard rejections 409; bad input 400.
func (h *Handler) PostCommand(c *gin.Context) {
	arg := c.Query("arg")
	if c.Request.ContentLength > 0 {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid body: "+err.Error())
			return
		}
		if req.Arg != "" {
			arg = req.Arg
		}
	}

	out, err := h.trainer.Dispatch(c.Param("name"), arg)
	switch {
	case errors.Is(err, session.ErrUnknownCommand):
		c.JSON(http.StatusNotFound, errorBody(c, err.Error()))
	case err != nil:
		h.badRequest(c, err.Error())
	case !out.Accepted:
		c.JSON(http.StatusConflict, out)
	default:
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	h.logger.Debug("bad request",
		append([]any{slog.String("path", c.FullPath()), slog.String("error", msg)},
			logger.LogWithTrace(c.Request.Context())...)...)
	c.JSON(http.StatusBadRequest, errorBody(c, msg))
}
