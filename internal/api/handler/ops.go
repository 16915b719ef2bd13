package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sitemend/sitemend/internal/api/models"
	"github.com/sitemend/sitemend/internal/api/response"
	"github.com/sitemend/sitemend/internal/mailer"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string

	// pingDB checks database connectivity; nil skips the check.
	pingDB func(ctx context.Context) error

	// mailHealth reports the mail provider circuit; nil skips it.
	mailHealth func() mailer.Health
}

// OpsHandlerConfig holds configuration for the OpsHandler.
type OpsHandlerConfig struct {
	Version    string
	BuildTime  string
	PingDB     func(ctx context.Context) error
	MailHealth func() mailer.Health
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:    cfg.Version,
		buildTime:  cfg.BuildTime,
		pingDB:     cfg.PingDB,
		mailHealth: cfg.MailHealth,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check including
// database connectivity.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.pingDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pingDB(ctx); err != nil {
			health.Status = models.HealthStatusFail
			health.Details = map[string]interface{}{"database": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem and provider
// status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := models.Timestamp(time.Now())
	status := models.SystemStatus{
		Status: models.HealthStatusOK,
		Time:   now,
	}

	dbStatus := models.SubsystemStatus{Name: "postgres", Status: models.HealthStatusOK}
	if h.pingDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pingDB(ctx); err != nil {
			detail := err.Error()
			dbStatus.Status = models.HealthStatusFail
			dbStatus.Detail = &detail
			status.Status = models.HealthStatusDegraded
		}
	}
	status.Subsystems = append(status.Subsystems, dbStatus)

	if h.mailHealth != nil {
		health := h.mailHealth()
		provider := models.ProviderStatus{
			Provider:      "mail",
			Status:        models.HealthStatusOK,
			LastSuccessAt: timestampPtr(health.LastSuccessAt),
			LastFailureAt: timestampPtr(health.LastFailureAt),
		}
		if !health.Healthy() {
			provider.Status = models.HealthStatusDegraded
			if health.LastError != "" {
				message := health.LastError
				provider.Message = &message
			}
			status.Status = models.HealthStatusDegraded
		}
		status.Providers = append(status.Providers, provider)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}
