package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "NUM_WORKERS", "BATCH_SIZE", "METRICS_ADDR",
		"KITE_TICKER_URL", "KITE_MODE", "KITE_TOKENS",
		"TICKER_AUTO_RECONNECT", "TICKER_MAX_RETRIES",
		"TICKER_CONNECT_TIMEOUT_SECS", "TICKER_RECONNECT_MAX_DELAY_SECS",
		"CLICKHOUSE_HOST", "CLICKHOUSE_PORT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 5, cfg.App.NumWorkers)
	assert.Equal(t, 1000, cfg.App.BatchSize)
	assert.Equal(t, ":8080", cfg.App.MetricsAddr)

	assert.Equal(t, "wss://ws.kite.trade", cfg.Kite.TickerURL)
	assert.Equal(t, "quote", cfg.Kite.Mode)
	assert.Empty(t, cfg.Kite.Tokens)

	assert.True(t, cfg.Ticker.AutoReconnect)
	assert.Equal(t, 300, cfg.Ticker.MaxRetries)
	assert.Equal(t, 7*time.Second, cfg.Ticker.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.Ticker.ReconnectMaxDelay)

	assert.Equal(t, "localhost", cfg.ClickHouse.Host)
	assert.Equal(t, 9000, cfg.ClickHouse.Port)
	assert.False(t, cfg.ClickHouse.Debug)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("NUM_WORKERS", "8")
	t.Setenv("KITE_API_KEY", "test_api_key")
	t.Setenv("KITE_ACCESS_TOKEN", "test_access_token")
	t.Setenv("KITE_TOKENS", "408065, 256265,738561")
	t.Setenv("KITE_MODE", "full")
	t.Setenv("TICKER_AUTO_RECONNECT", "false")
	t.Setenv("TICKER_MAX_RETRIES", "50")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8, cfg.App.NumWorkers)
	assert.Equal(t, "test_api_key", cfg.Kite.APIKey)
	assert.Equal(t, "test_access_token", cfg.Kite.AccessToken)
	assert.Equal(t, []uint32{408065, 256265, 738561}, cfg.Kite.Tokens)
	assert.Equal(t, "full", cfg.Kite.Mode)
	assert.False(t, cfg.Ticker.AutoReconnect)
	assert.Equal(t, 50, cfg.Ticker.MaxRetries)
	assert.Equal(t, "ch.internal", cfg.ClickHouse.Host)
	assert.True(t, cfg.ClickHouse.Debug)
}

func TestLoadRejectsInvalidTokens(t *testing.T) {
	t.Setenv("KITE_TOKENS", "408065,not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KITE_TOKENS")
	assert.Contains(t, err.Error(), "not-a-number")
}

func TestParseTokensSkipsEmptyEntries(t *testing.T) {
	tokens, err := parseTokens("408065,,256265, ")
	require.NoError(t, err)
	assert.Equal(t, []uint32{408065, 256265}, tokens)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("NUM_WORKERS", "not-an-int")
	t.Setenv("TICKER_AUTO_RECONNECT", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.App.NumWorkers)
	assert.True(t, cfg.Ticker.AutoReconnect)
}
