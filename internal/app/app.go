package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bazibot/internal/bot"
	"bazibot/internal/chart"
	"bazibot/internal/config"
	"bazibot/internal/content"
	"bazibot/internal/conversation"
	"bazibot/internal/metrics"
	"bazibot/internal/storage"
	"bazibot/internal/storage/ch"
	"bazibot/internal/storage/pg"
	"bazibot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	db       storage.Storage
	engine   *conversation.Engine
	bot      *bot.Bot
	server   *http.Server

	// ctx bounds webhook update processing
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	logger.Info("Starting BaZi bot...",
		zap.String("env", cfg.AppEnv),
		zap.String("storage", cfg.StorageBackend),
		zap.Bool("webhook_mode", cfg.WebhookMode),
	)

	if err := app.initMetrics(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initEngine(); err != nil {
		return nil, err
	}
	if err := app.initBot(); err != nil {
		return nil, err
	}
	app.initHTTPServer()

	return app, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func (a *App) initMetrics() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = m
	return nil
}

// initDatabase opens the configured storage backend
func (a *App) initDatabase() error {
	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	db, err := openStorage(ctx, a.config, a.logger)
	if err != nil {
		return err
	}

	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		logger.Info("Connecting to Postgres")
		db, err := pg.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return db, nil
	case config.BackendClickHouse:
		logger.Info("Connecting to ClickHouse",
			zap.String("host", cfg.ClickHouseHost),
			zap.Int("port", cfg.ClickHousePort),
			zap.String("database", cfg.ClickHouseDatabase),
			zap.String("user", cfg.ClickHouseUser),
			zap.Bool("tls", cfg.ClickHouseUseTLS),
		)
		db, err := ch.NewClickHouseDB(
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		return db, nil
	default:
		logger.Warn("Using in-memory storage; profiles are lost on restart")
		return stubs.NewMockDB(), nil
	}
}

// initEngine wires content, the chart resolver and the conversation engine
func (a *App) initEngine() error {
	var (
		provider *content.Provider
		err      error
	)
	if a.config.ContentFile != "" {
		provider, err = content.LoadFile(a.config.ContentFile)
	} else {
		provider, err = content.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}

	lookup := chart.NewMingliResolver(chart.Config{
		URL:     a.config.ChartLookupURL,
		Timeout: a.config.ChartLookupTimeout,
		Enabled: a.config.ChartLookupEnabled,
	}, &http.Client{}, a.logger.Named("chart"), a.metrics)

	resolver, err := chart.NewCachedResolver(lookup, a.config.ChartCacheSize, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create chart cache: %w", err)
	}

	a.engine = conversation.New(a.db, resolver, provider, conversation.Options{
		SessionTTL: a.config.SessionTTL,
		Logger:     a.logger.Named("conversation"),
		Metrics:    a.metrics,
	})
	return nil
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.engine, a.db, a.config.AllowedUserIDs, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if len(a.config.AllowedUserIDs) > 0 {
		a.logger.Info("Bot restricted to allowed users", zap.Int64s("allowed_users", a.config.AllowedUserIDs))
	}

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for health checks, metrics,
// the webhook and the Mini App API
func (a *App) initHTTPServer() {
	mode := "polling"
	if a.config.WebhookMode {
		mode = "webhook"
	}

	router := newRouter(a.logger, a.registry, mode, a.handleWebhook)
	bot.NewHTTPServer(a.bot, a.config.IsDevelopment()).RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

func newRouter(logger *zap.Logger, gatherer prometheus.Gatherer, mode string, webhook http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "BaZi bot is running (mode: %s)", mode)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))
	// Webhook endpoint (only used in webhook mode)
	r.Post("/telegram-webhook", webhook)
	return r
}

func (a *App) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		a.logger.Warn("Error decoding webhook update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Process update in background to respond quickly to Telegram
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.bot.HandleUpdate(a.ctx, update)
	}()

	w.WriteHeader(http.StatusOK)
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(a.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the bot and blocks until ctx is cancelled
func (a *App) RunContext(ctx context.Context) error {
	pollingDone := make(chan struct{})
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		close(pollingDone)
	} else {
		go func() {
			defer close(pollingDone)
			if err := a.bot.Start(ctx); err != nil {
				a.logger.Error("Polling stopped with error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("Shutting down...")
	<-pollingDone
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer a.logger.Sync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let in-flight webhook updates finish before closing storage
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("Timed out waiting for in-flight updates")
	}
	a.cancel()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}
