// Package main provides the entrypoint for the SiteMend API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/api"
	"github.com/sitemend/sitemend/internal/api/middleware"
	"github.com/sitemend/sitemend/internal/configstore"
	"github.com/sitemend/sitemend/internal/database"
	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/mailer"
	"github.com/sitemend/sitemend/internal/notify"
	"github.com/sitemend/sitemend/internal/orchestrator"
	"github.com/sitemend/sitemend/internal/safety"
	"github.com/sitemend/sitemend/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "sitemend-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SiteMend API")

	port := getEnvOrDefault("APP_PORT", "8080")
	env := getEnvOrDefault("APP_ENV", "development")
	otlpEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Initialize config store and safety gate
	configStore := configstore.NewStore(configstore.StoreConfig{
		Repository: configstore.NewPostgresRepository(pool),
		Logger:     log,
	})
	safetyService := safety.NewService(safety.ServiceConfig{
		Store:  configStore,
		Logger: log,
	})
	log.Info().Msg("safety service initialized")

	// Initialize job orchestrator over Pub/Sub
	queue, err := orchestrator.NewPubSubQueue(ctx, orchestrator.PubSubQueueConfig{
		ProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", "sitemend-local"),
		TopicName: getEnvOrDefault("PUBSUB_TOPIC", "diagnostic-jobs"),
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub queue")
	}
	defer queue.Close() //nolint:errcheck // best effort cleanup

	orchestratorService := orchestrator.NewService(orchestrator.ServiceConfig{
		Queue:  queue,
		Events: orchestrator.NewPostgresEventLog(pool),
		Safety: safetyService,
		Logger: log,
	})
	log.Info().Msg("orchestrator initialized")

	// Initialize mail provider and notification pipeline
	mailMetrics, err := middleware.NewProviderMetrics("mail-provider")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mail provider metrics")
	}

	mailConfig := mailer.DefaultConfig(
		getEnvOrDefault("MAIL_PROVIDER_URL", "http://localhost:8025"),
		os.Getenv("MAIL_PROVIDER_API_KEY"),
		getEnvOrDefault("MAIL_FROM_ADDRESS", "alerts@sitemend.io"),
	)
	mailConfig.Metrics = mailMetrics
	mailClient := mailer.NewHTTPMailer(mailConfig, log)

	notifyService := notify.NewService(notify.ServiceConfig{
		Repository: notify.NewPostgresRepository(pool),
		Mailer:     mailClient,
		Logger:     log,
	})
	log.Info().Msg("notification service initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		NotifyService: notifyService,
		SafetyService: safetyService,
		ConfigStore:   configStore,
		Runs:          diagnose.NewPostgresRepository(pool),
		Orchestrator:  orchestratorService,
		PingDB:        pool.Ping,
		MailHealth:    mailClient.Health,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
