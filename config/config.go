package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		NumWorkers  int
		BufferSize  int
		BatchSize   int
		FlushSecs   int
		MetricsAddr string
	}

	Kite struct {
		APIKey       string
		APISecret    string
		AccessToken  string
		RequestToken string
		TickerURL    string
		Tokens       []uint32
		Mode         string
	}

	Ticker struct {
		AutoReconnect     bool
		MaxRetries        int
		ConnectTimeout    time.Duration
		ReconnectMaxDelay time.Duration
		EventBuffer       int
	}

	ClickHouse struct {
		Host            string
		Port            int
		User            string
		Password        string
		Database        string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime time.Duration
		QueryTimeout    time.Duration
		Debug           bool
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// App settings
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.NumWorkers = getEnvAsIntOrDefault("NUM_WORKERS", 5)
	cfg.App.BufferSize = getEnvAsIntOrDefault("BUFFER_SIZE", 1000)
	cfg.App.BatchSize = getEnvAsIntOrDefault("BATCH_SIZE", 1000)
	cfg.App.FlushSecs = getEnvAsIntOrDefault("FLUSH_SECS", 5)
	cfg.App.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":8080")

	// Kite settings
	cfg.Kite.APIKey = os.Getenv("KITE_API_KEY")
	cfg.Kite.APISecret = os.Getenv("KITE_API_SECRET")
	cfg.Kite.AccessToken = os.Getenv("KITE_ACCESS_TOKEN")
	cfg.Kite.RequestToken = os.Getenv("KITE_REQUEST_TOKEN")
	cfg.Kite.TickerURL = getEnvOrDefault("KITE_TICKER_URL", "wss://ws.kite.trade")
	cfg.Kite.Mode = getEnvOrDefault("KITE_MODE", "quote")

	tokens, err := parseTokens(os.Getenv("KITE_TOKENS"))
	if err != nil {
		return nil, fmt.Errorf("invalid KITE_TOKENS: %w", err)
	}
	cfg.Kite.Tokens = tokens

	// Ticker settings
	cfg.Ticker.AutoReconnect = getEnvAsBoolOrDefault("TICKER_AUTO_RECONNECT", true)
	cfg.Ticker.MaxRetries = getEnvAsIntOrDefault("TICKER_MAX_RETRIES", 300)
	cfg.Ticker.ConnectTimeout = time.Duration(getEnvAsIntOrDefault("TICKER_CONNECT_TIMEOUT_SECS", 7)) * time.Second
	cfg.Ticker.ReconnectMaxDelay = time.Duration(getEnvAsIntOrDefault("TICKER_RECONNECT_MAX_DELAY_SECS", 60)) * time.Second
	cfg.Ticker.EventBuffer = getEnvAsIntOrDefault("TICKER_EVENT_BUFFER", 1000)

	// ClickHouse settings
	cfg.ClickHouse.Host = getEnvOrDefault("CLICKHOUSE_HOST", "localhost")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.MaxOpenConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_OPEN_CONNS", 10)
	cfg.ClickHouse.MaxIdleConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_IDLE_CONNS", 5)
	cfg.ClickHouse.ConnMaxLifetime = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_CONN_MAX_LIFETIME_MINS", 60)) * time.Minute
	cfg.ClickHouse.QueryTimeout = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_QUERY_TIMEOUT_SECS", 30)) * time.Second
	cfg.ClickHouse.Debug = cfg.App.Environment != "production"

	return cfg, nil
}

// parseTokens reads a comma-separated instrument token list.
func parseTokens(raw string) ([]uint32, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	tokens := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", part, err)
		}
		tokens = append(tokens, uint32(v))
	}
	return tokens, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
