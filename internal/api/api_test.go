package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tdawg5587/tradesim1/internal/metrics"
	"github.com/tdawg5587/tradesim1/internal/model"
	"github.com/tdawg5587/tradesim1/internal/session"
	"github.com/tdawg5587/tradesim1/internal/store/sqlite"
	"github.com/tdawg5587/tradesim1/internal/trainer"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

// MockTrainer implements Trainer for testing.
type MockTrainer struct {
	mock.Mock
}

func (m *MockTrainer) History() []model.Candle {
	return m.Called().Get(0).([]model.Candle)
}

func (m *MockTrainer) Levels() []model.PriceLevel {
	return m.Called().Get(0).([]model.PriceLevel)
}

func (m *MockTrainer) Status() trainer.Status {
	return m.Called().Get(0).(trainer.Status)
}

func (m *MockTrainer) Dispatch(command, arg string) (session.Outcome, error) {
	args := m.Called(command, arg)
	return args.Get(0).(session.Outcome), args.Error(1)
}

// MockJournal implements TradeJournal for testing.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Recent(ctx context.Context, limit int) ([]sqlite.TradeRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]sqlite.TradeRecord), args.Error(1)
}

type fixedHealth metrics.Report

func (f fixedHealth) Report() metrics.Report { return metrics.Report(f) }

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestCandles(count int) []model.Candle {
	candles := make([]model.Candle, count)
	base := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	for i := range candles {
		p := decimal.NewFromInt(int64(100 + i))
		candles[i] = model.Candle{
			Seq:    int64(i + 1),
			TS:     base.Add(time.Duration(i) * 3 * time.Second),
			Open:   p,
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: 1000,
		}
	}
	return candles
}

func newRouter(tr Trainer, opts Options) *gin.Engine {
	opts.Logger = quietLogger()
	return NewHandler(tr, opts).SetupRoutes()
}

func do(r http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetCandles(t *testing.T) {
	tr := &MockTrainer{}
	tr.On("History").Return(createTestCandles(5))
	r := newRouter(tr, Options{})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		wantFirst int64
	}{
		{"all", "", http.StatusOK, 5, 1},
		{"limit", "?limit=2", http.StatusOK, 2, 4},
		{"limit above size", "?limit=50", http.StatusOK, 5, 1},
		{"resampled", "?tf=15s", http.StatusOK, 1, 5},
		{"resampled and limited", "?tf=3s&limit=1", http.StatusOK, 1, 5},
		{"bad tf", "?tf=soon", http.StatusBadRequest, 0, 0},
		{"tf out of range", "?tf=2h", http.StatusBadRequest, 0, 0},
		{"zero", "?limit=0", http.StatusBadRequest, 0, 0},
		{"garbage", "?limit=abc", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, http.MethodGet, "/api/v1/candles"+tt.query, "", nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var got []model.Candle
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Len(t, got, tt.wantCount)
			assert.Equal(t, tt.wantFirst, got[0].Seq)
		})
	}
}

func TestGetLevelsAndSession(t *testing.T) {
	tr := &MockTrainer{}
	tr.On("Levels").Return([]model.PriceLevel{{Price: 101.5, Kind: model.Resistance, Strength: 3, Active: true}})
	tr.On("Status").Return(trainer.Status{Session: session.Snapshot{State: session.BreakoutPending}})
	r := newRouter(tr, Options{})

	rec := do(r, http.MethodGet, "/api/v1/levels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resistance"`)

	rec = do(r, http.MethodGet, "/api/v1/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"breakout_pending"`)
	tr.AssertExpectations(t)
}

func TestPostCommand(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCmd  string
		wantArg  string
		outcome  session.Outcome
		err      error
		wantCode int
	}{
		{
			name: "accepted with body", path: "/api/v1/commands/enter", body: `{"arg":"long"}`,
			wantCmd: "enter", wantArg: "long",
			outcome:  session.Outcome{Command: "enter", Accepted: true, Message: "entered long at 100"},
			wantCode: http.StatusOK,
		},
		{
			name: "arg from query", path: "/api/v1/commands/exit?arg=profit",
			wantCmd: "exit", wantArg: "profit",
			outcome:  session.Outcome{Command: "exit", Message: "not in trade"},
			wantCode: http.StatusConflict,
		},
		{
			name: "bad arg", path: "/api/v1/commands/enter?arg=sideways",
			wantCmd: "enter", wantArg: "sideways",
			outcome:  session.Outcome{Command: "enter"},
			err:      fmt.Errorf("%w: %q", session.ErrUnknownKind, "sideways"),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown command", path: "/api/v1/commands/fly",
			wantCmd: "fly",
			outcome:  session.Outcome{Command: "fly"},
			err:      fmt.Errorf("%w: %q", session.ErrUnknownCommand, "fly"),
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &MockTrainer{}
			tr.On("Dispatch", tt.wantCmd, tt.wantArg).Return(tt.outcome, tt.err)
			r := newRouter(tr, Options{})

			rec := do(r, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			tr.AssertExpectations(t)
		})
	}
}

func TestPostCommand_InvalidBody(t *testing.T) {
	tr := &MockTrainer{}
	r := newRouter(tr, Options{})

	rec := do(r, http.MethodPost, "/api/v1/commands/enter", `{"arg":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	tr.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestPostCommand_RateLimited(t *testing.T) {
	tr := &MockTrainer{}
	tr.On("Dispatch", "pause", "").Return(session.Outcome{Command: "pause", Accepted: true}, nil)
	r := newRouter(tr, Options{CommandLimiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/commands/pause", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/v1/commands/pause", "", nil).Code)
	tr.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestPostCommand_TOTP(t *testing.T) {
	tr := &MockTrainer{}
	tr.On("Dispatch", "reset", "").Return(session.Outcome{Command: "reset", Accepted: true}, nil)
	r := newRouter(tr, Options{TOTPSecret: testTOTPSecret})

	rec := do(r, http.MethodPost, "/api/v1/commands/reset", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/commands/reset", "", map[string]string{TOTPHeaderKey: "000000x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code, err := totp.GenerateCode(testTOTPSecret, time.Now())
	require.NoError(t, err)
	rec = do(r, http.MethodPost, "/api/v1/commands/reset", "", map[string]string{TOTPHeaderKey: code})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTOTPVerifier(t *testing.T) {
	verify := TOTPVerifier(testTOTPSecret)
	code, err := totp.GenerateCode(testTOTPSecret, time.Now())
	require.NoError(t, err)

	assert.True(t, verify(code))
	assert.True(t, verify(" "+code+" "))
	assert.False(t, verify(""))
	assert.False(t, verify("abcdef"))
}

func TestGetTrades(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := newRouter(&MockTrainer{}, Options{})
		assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/trades", "", nil).Code)
	})

	t.Run("default limit", func(t *testing.T) {
		j := &MockJournal{}
		j.On("Recent", mock.Anything, defaultTradesLimit).Return([]sqlite.TradeRecord{{ID: 7, Kind: "long"}}, nil)
		r := newRouter(&MockTrainer{}, Options{Journal: j})

		rec := do(r, http.MethodGet, "/api/v1/trades", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":7`)
		j.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		r := newRouter(&MockTrainer{}, Options{Journal: &MockJournal{}})
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/trades?limit=9999", "", nil).Code)
	})

	t.Run("journal error", func(t *testing.T) {
		j := &MockJournal{}
		j.On("Recent", mock.Anything, 5).Return([]sqlite.TradeRecord(nil), errors.New("disk gone"))
		r := newRouter(&MockTrainer{}, Options{Journal: j})
		assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/v1/trades?limit=5", "", nil).Code)
	})
}

func TestHealth(t *testing.T) {
	r := newRouter(&MockTrainer{}, Options{})
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/health", "", nil).Code)

	r = newRouter(&MockTrainer{}, Options{Health: fixedHealth{Status: "degraded"}})
	rec := do(r, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newRouter(&MockTrainer{}, Options{})

	rec := do(r, http.MethodGet, "/api/v1/health", "", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeaderKey), 36, "generated uuid")

	rec = do(r, http.MethodGet, "/api/v1/health", "", map[string]string{RequestIDHeaderKey: "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeaderKey))
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(&MockTrainer{}, Options{})
	rec := do(r, http.MethodOptions, "/api/v1/commands/enter", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
