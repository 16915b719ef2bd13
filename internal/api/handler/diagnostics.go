package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitemend/sitemend/internal/api/models"
	"github.com/sitemend/sitemend/internal/api/response"
	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/orchestrator"
)

// DiagnosticsHandler exposes diagnostic runs and orchestration control
// for a site.
type DiagnosticsHandler struct {
	runs         diagnose.Repository
	orchestrator *orchestrator.Service
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler.
func NewDiagnosticsHandler(runs diagnose.Repository, orch *orchestrator.Service) *DiagnosticsHandler {
	return &DiagnosticsHandler{runs: runs, orchestrator: orch}
}

// StartDiagnostics handles POST /v1/sites/{siteId}/diagnostics -
// dispatch one diagnostic job per requested service and return without
// waiting for completion.
func (h *DiagnosticsHandler) StartDiagnostics(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteId")
	if siteID == "" {
		response.BadRequest(w, r, "siteId is required", nil)
		return
	}

	var input models.StartDiagnosticsRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if len(input.Services) == 0 {
		response.BadRequest(w, r, "services must not be empty", []models.FieldError{
			{Field: "services", Message: "at least one service is required", Code: "required"},
		})
		return
	}

	runID, jobIDs, err := h.orchestrator.RunAsyncOrchestration(r.Context(), siteID, input.Domain, input.Services, input.Params)
	if err != nil {
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			response.SafetyBlocked(w, r, blocked.Reason)
			return
		}
		response.InternalError(w, r, "failed to dispatch diagnostics")
		return
	}

	location := fmt.Sprintf("/v1/sites/%s/orchestrations/%s", siteID, runID)
	response.Accepted(w, r, location, models.StartDiagnosticsResponse{
		OrchestrationID: runID,
		JobIDs:          jobIDs,
	})
}

// GetOrchestrationStatus handles
// GET /v1/sites/{siteId}/orchestrations/{orchestrationId}.
func (h *DiagnosticsHandler) GetOrchestrationStatus(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteId")
	orchestrationID := chi.URLParam(r, "orchestrationId")
	if siteID == "" || orchestrationID == "" {
		response.BadRequest(w, r, "siteId and orchestrationId are required", nil)
		return
	}

	status, err := h.orchestrator.GetRunStatus(r.Context(), siteID, orchestrationID)
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		response.NotFound(w, r, "orchestration not found")
		return
	}
	if err != nil {
		response.InternalError(w, r, "failed to load orchestration status")
		return
	}

	response.JSON(w, r, http.StatusOK, models.OrchestrationStatus{
		OrchestrationID: status.RunID,
		SiteID:          status.SiteID,
		Status:          status.Status,
		TotalJobs:       status.TotalJobs,
		Completed:       status.Completed,
		Failed:          status.Failed,
	})
}

// GetRun handles GET /v1/sites/{siteId}/runs/{runId} - one diagnostic
// run with its stage results.
func (h *DiagnosticsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteId")
	runID := chi.URLParam(r, "runId")
	if siteID == "" || runID == "" {
		response.BadRequest(w, r, "siteId and runId are required", nil)
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, diagnose.ErrRunNotFound) {
		response.NotFound(w, r, "diagnostic run not found")
		return
	}
	if err != nil {
		response.InternalError(w, r, "failed to load diagnostic run")
		return
	}
	// Run ids are globally unique; the site segment guards against
	// link-sharing across tenants.
	if run.SiteID != siteID {
		response.NotFound(w, r, "diagnostic run not found")
		return
	}

	response.JSON(w, r, http.StatusOK, toDiagnosticRun(run))
}

func toDiagnosticRun(run *diagnose.Run) models.DiagnosticRun {
	out := models.DiagnosticRun{
		ID:         run.ID,
		RequestID:  run.RequestID,
		Service:    run.Service,
		SiteID:     run.SiteID,
		Status:     string(run.Status),
		StartedAt:  models.Timestamp(run.StartedAt),
		DurationMs: run.Duration.Milliseconds(),
		Stages:     make([]models.StageResult, 0, len(run.Stages)),
	}
	if !run.FinishedAt.IsZero() {
		finishedAt := models.Timestamp(run.FinishedAt)
		out.FinishedAt = &finishedAt
	}
	for _, stage := range run.Stages {
		out.Stages = append(out.Stages, models.StageResult{
			Stage:        string(stage.Stage),
			Status:       string(stage.Status),
			Message:      stage.Message,
			Bucket:       string(stage.Bucket),
			SuggestedFix: stage.SuggestedFix,
			Details:      stage.Details,
			DurationMs:   stage.Duration.Milliseconds(),
		})
	}
	return out
}
