package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.TickInterval)
	assert.Equal(t, 100.0, cfg.StartPrice)
	assert.Equal(t, 50, cfg.HistorySize)
	assert.Equal(t, 300*time.Second, cfg.LevelLifetime)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.JournalPath)
	assert.Equal(t, slog.LevelInfo, cfg.Level())

	inds := cfg.Indicators()
	require.Len(t, inds, 3)
	assert.Equal(t, "EMA_9", inds[0].Key())
	assert.Equal(t, "RSI_14", inds[2].Key())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("SEED", "42")
	t.Setenv("DEBUG_MODE", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.False(t, cfg.DebugMode)
	assert.False(t, cfg.Session().Debug)
	assert.Equal(t, int64(42), cfg.Market().Seed)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORY_SIZE", "1")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("INDICATORS", "MACD:12")
	t.Setenv("START_PRICE", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTORY_SIZE")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "INDICATORS")
	assert.Contains(t, err.Error(), "START_PRICE")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "JOURNAL_PATH", "WEBHOOK_URL", "COMMAND_TOTP_SECRET"} {
		t.Setenv(k, "")
	}
}
