package models

// StageResult is one stage of a diagnostic run.
type StageResult struct {
	Stage        string                 `json:"stage"`
	Status       string                 `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Bucket       string                 `json:"bucket,omitempty"`
	SuggestedFix string                 `json:"suggestedFix,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	DurationMs   int64                  `json:"durationMs"`
}

// DiagnosticRun is the body of GET /v1/sites/{siteId}/runs/{runId}.
type DiagnosticRun struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"requestId"`
	Service    string        `json:"service"`
	SiteID     string        `json:"siteId"`
	Status     string        `json:"status"`
	Stages     []StageResult `json:"stages"`
	StartedAt  Timestamp     `json:"startedAt"`
	FinishedAt *Timestamp    `json:"finishedAt,omitempty"`
	DurationMs int64         `json:"durationMs"`
}

// StartDiagnosticsRequest is the body of POST /v1/sites/{siteId}/diagnostics.
type StartDiagnosticsRequest struct {
	Services []string               `json:"services" validate:"required,min=1"`
	Domain   string                 `json:"domain,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// StartDiagnosticsResponse acknowledges an accepted orchestration.
type StartDiagnosticsResponse struct {
	OrchestrationID string   `json:"orchestrationId"`
	JobIDs          []string `json:"jobIds"`
}

// OrchestrationStatus is the body of
// GET /v1/sites/{siteId}/orchestrations/{orchestrationId}.
type OrchestrationStatus struct {
	OrchestrationID string `json:"orchestrationId"`
	SiteID          string `json:"siteId"`
	Status          string `json:"status"`
	TotalJobs       int    `json:"totalJobs"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
}
