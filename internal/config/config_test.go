package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"TELEGRAM_BOT_TOKEN", "ALLOWED_USER_IDS", "WEBHOOK_MODE", "WEBHOOK_URL", "PORT", "APP_ENV", "LOG_LEVEL",
	"STORAGE_BACKEND", "DATABASE_URL", "CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "CLICKHOUSE_DATABASE",
	"CLICKHOUSE_USER", "CLICKHOUSE_PASSWORD", "CLICKHOUSE_USE_TLS", "CHART_LOOKUP_URL",
	"CHART_LOOKUP_TIMEOUT", "CHART_LOOKUP_ENABLED", "CHART_CACHE_SIZE", "SESSION_TTL", "CONTENT_FILE",
}

// clearEnv blanks every variable the loader reads, restoring them after the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://bazibot@localhost/bazibot")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Empty(t, cfg.AllowedUserIDs)
	assert.False(t, cfg.WebhookMode)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, "postgres://bazibot@localhost/bazibot", cfg.DatabaseURL)
	assert.Equal(t, "https://www.mingli.ru/", cfg.ChartLookupURL)
	assert.Equal(t, 10*time.Second, cfg.ChartLookupTimeout)
	assert.True(t, cfg.ChartLookupEnabled)
	assert.Equal(t, 1024, cfg.ChartCacheSize)
	assert.Zero(t, cfg.SessionTTL)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadFromEnv_DevelopmentDefaultsToMemory(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("ALLOWED_USER_IDS", "1, 2,3,")
	t.Setenv("WEBHOOK_MODE", "true")
	t.Setenv("WEBHOOK_URL", "https://bot.example.com/")
	t.Setenv("STORAGE_BACKEND", "ClickHouse")
	t.Setenv("CLICKHOUSE_HOST", "ch")
	t.Setenv("CLICKHOUSE_USE_TLS", "true")
	t.Setenv("CHART_LOOKUP_TIMEOUT", "3s")
	t.Setenv("CHART_LOOKUP_ENABLED", "false")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, cfg.AllowedUserIDs)
	assert.Equal(t, "https://bot.example.com", cfg.WebhookURL)
	assert.Equal(t, BackendClickHouse, cfg.StorageBackend)
	assert.Equal(t, "ch", cfg.ClickHouseHost)
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
	assert.True(t, cfg.ClickHouseUseTLS)
	assert.Equal(t, 3*time.Second, cfg.ChartLookupTimeout)
	assert.False(t, cfg.ChartLookupEnabled)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing token", map[string]string{}, "TELEGRAM_BOT_TOKEN is required"},
		{"bad user id", map[string]string{"ALLOWED_USER_IDS": "1,abc"}, "invalid user ID"},
		{"webhook without url", map[string]string{"WEBHOOK_MODE": "true"}, "WEBHOOK_URL is required"},
		{"production without backend", map[string]string{"STORAGE_BACKEND": ""}, "STORAGE_BACKEND is required"},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mongo"}, "unknown STORAGE_BACKEND"},
		{"postgres without dsn", map[string]string{"STORAGE_BACKEND": "postgres"}, "DATABASE_URL is required"},
		{"clickhouse without host", map[string]string{"STORAGE_BACKEND": "clickhouse"}, "CLICKHOUSE_HOST is required"},
		{"bad clickhouse port", map[string]string{"STORAGE_BACKEND": "clickhouse", "CLICKHOUSE_HOST": "h", "CLICKHOUSE_PORT": "x"}, "invalid CLICKHOUSE_PORT"},
		{"bad timeout", map[string]string{"CHART_LOOKUP_TIMEOUT": "soon"}, "invalid CHART_LOOKUP_TIMEOUT"},
		{"negative ttl", map[string]string{"SESSION_TTL": "-1h"}, "must not be negative"},
		{"bad cache size", map[string]string{"CHART_CACHE_SIZE": "big"}, "invalid CHART_CACHE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.name != "missing token" {
				t.Setenv("TELEGRAM_BOT_TOKEN", "token")
			}
			t.Setenv("STORAGE_BACKEND", BackendMemory)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
