package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/tdawg5587/tradesim1/internal/logger"
)

// requestIDMiddleware tags each request with an ID, echoed in the
// response header and carried in the request context for logging.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))
		c.Next()
	}
}

func accessLogMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		attrs = append(attrs, logger.LogWithTrace(c.Request.Context())...)
		log.Debug("request", attrs...)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-TOTP")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(c, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// totpMiddleware requires a current TOTP code for secret in X-TOTP.
func totpMiddleware(secret string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.GetHeader(TOTPHeaderKey))
		if code == "" || !validAt(code, secret, now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(c, "missing or invalid TOTP code"))
			return
		}
		c.Next()
	}
}

// TOTPVerifier returns a check for codes generated from secret, for
// surfaces outside the gin router.
func TOTPVerifier(secret string) func(code string) bool {
	return func(code string) bool {
		code = strings.TrimSpace(code)
		return code != "" && validAt(code, secret, time.Now())
	}
}

// validAt accepts the code for t's 30s window or one window either side.
func validAt(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	return err == nil && ok
}

func errorBody(c *gin.Context, msg string) gin.H {
	body := gin.H{"error": msg}
	if id, ok := c.Get(RequestIDContextKey); ok {
		body["request_id"] = id
	}
	return body
}
