package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64 // empty means the bot is public

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	AppEnv   string
	LogLevel string

	StorageBackend string

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Postgres configuration
	DatabaseURL string

	// Chart lookup
	ChartLookupURL     string
	ChartLookupTimeout time.Duration
	ChartLookupEnabled bool
	ChartCacheSize     int

	SessionTTL  time.Duration
	ContentFile string // optional override of the embedded content table
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	// Allowed User IDs (optional)
	if allowedIDsStr := os.Getenv("ALLOWED_USER_IDS"); allowedIDsStr != "" {
		for _, idStr := range strings.Split(allowedIDsStr, ",") {
			idStr = strings.TrimSpace(idStr)
			if idStr == "" {
				continue
			}
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
			}
			config.AllowedUserIDs = append(config.AllowedUserIDs, id)
		}
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = strings.TrimSuffix(os.Getenv("WEBHOOK_URL"), "/")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = getEnv("PORT", "8080")
	config.AppEnv = getEnv("APP_ENV", "production")
	config.LogLevel = getEnv("LOG_LEVEL", "info")

	// Sessions must survive restarts, so only development falls back to memory
	defaultBackend := ""
	if config.IsDevelopment() {
		defaultBackend = BackendMemory
	}
	config.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", defaultBackend))
	switch config.StorageBackend {
	case "":
		return nil, fmt.Errorf("STORAGE_BACKEND is required outside development (memory, postgres or clickhouse)")
	case BackendMemory:
	case BackendPostgres:
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is postgres")
		}
	case BackendClickHouse:
		if err := loadClickHouse(config); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (want memory, postgres or clickhouse)", config.StorageBackend)
	}

	config.ChartLookupURL = getEnv("CHART_LOOKUP_URL", "https://www.mingli.ru/")
	var err error
	if config.ChartLookupTimeout, err = getDuration("CHART_LOOKUP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	config.ChartLookupEnabled = getEnv("CHART_LOOKUP_ENABLED", "true") == "true"
	if config.ChartCacheSize, err = getInt("CHART_CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if config.SessionTTL, err = getDuration("SESSION_TTL", 0); err != nil {
		return nil, err
	}
	config.ContentFile = os.Getenv("CONTENT_FILE")

	return config, nil
}

func loadClickHouse(config *Config) error {
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_BACKEND is clickhouse")
	}

	port, err := getInt("CLICKHOUSE_PORT", 9000) // Default ClickHouse native port
	if err != nil {
		return err
	}
	config.ClickHousePort = port

	config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
	config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

// IsDevelopment reports whether the app runs in a local environment
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
