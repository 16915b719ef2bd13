// Package api provides the HTTP control-plane API for SiteMend.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/api/handler"
	"github.com/sitemend/sitemend/internal/api/middleware"
	"github.com/sitemend/sitemend/internal/configstore"
	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/mailer"
	"github.com/sitemend/sitemend/internal/notify"
	"github.com/sitemend/sitemend/internal/orchestrator"
	"github.com/sitemend/sitemend/internal/safety"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	NotifyService *notify.Service
	SafetyService *safety.Service
	ConfigStore   *configstore.Store
	Runs          diagnose.Repository
	Orchestrator  *orchestrator.Service

	// PingDB checks database connectivity for readiness; optional.
	PingDB func(ctx context.Context) error

	// MailHealth reports the mail provider circuit; optional.
	MailHealth func() mailer.Health
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sitemend-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		PingDB:     cfg.PingDB,
		MailHealth: cfg.MailHealth,
	})
	eventsHandler := handler.NewEventsHandler(cfg.NotifyService)
	safetyHandler := handler.NewSafetyHandler(cfg.SafetyService, cfg.ConfigStore)
	diagnosticsHandler := handler.NewDiagnosticsHandler(cfg.Runs, cfg.Orchestrator)

	// Create rate limit middleware for different endpoint categories
	ingestRateLimit := middleware.RateLimitByIP(middleware.IngestRateLimit)     // 120 req/min
	adminRateLimit := middleware.RateLimitByIP(middleware.AdminRateLimit)       // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Event ingestion
		r.With(ingestRateLimit).Post("/events", eventsHandler.IngestEvent)

		// Site diagnostics and orchestration status
		r.Route("/sites/{siteId}", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Post("/diagnostics", diagnosticsHandler.StartDiagnostics)
			r.Get("/runs/{runId}", diagnosticsHandler.GetRun)
			r.Get("/orchestrations/{orchestrationId}", diagnosticsHandler.GetOrchestrationStatus)
		})

		// Admin endpoints - operational safety controls
		r.Route("/admin/safety", func(r chi.Router) {
			r.Use(adminRateLimit)
			r.Route("/kill-switches", func(r chi.Router) {
				r.Get("/", safetyHandler.GetKillSwitch)
				r.Post("/", safetyHandler.ActivateKillSwitch)
				r.Delete("/", safetyHandler.DeactivateKillSwitch)
			})
			r.Route("/mode", func(r chi.Router) {
				r.Get("/", safetyHandler.GetSystemMode)
				r.Put("/", safetyHandler.SetSystemMode)
			})
			r.Get("/check", safetyHandler.CheckSafety)
			r.Get("/audit", safetyHandler.ListAudit)
		})
	})

	return r
}
