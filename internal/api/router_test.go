package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitemend/sitemend/internal/api"
	"github.com/sitemend/sitemend/internal/api/models"
	"github.com/sitemend/sitemend/internal/configstore"
	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/notify"
	"github.com/sitemend/sitemend/internal/orchestrator"
	"github.com/sitemend/sitemend/internal/safety"
)

// stubQueue accepts every publish without a broker.
type stubQueue struct{}

func (stubQueue) Publish(context.Context, *orchestrator.Job) (string, error) { return "m1", nil }
func (stubQueue) Close() error                                               { return nil }

// stubMailer records sends in memory.
type stubMailer struct{ sent int }

func (m *stubMailer) Send(context.Context, string, string, string, string) (string, error) {
	m.sent++
	return "msg-1", nil
}

type testEnv struct {
	router  http.Handler
	runs    *diagnose.InMemoryRepository
	notify  *notify.InMemoryRepository
	mailer  *stubMailer
	safety  *safety.Service
	store   *configstore.Store
	pingErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	env := &testEnv{
		runs:   diagnose.NewInMemoryRepository(),
		notify: notify.NewInMemoryRepository(),
		mailer: &stubMailer{},
	}
	env.notify.AddRecipient(notify.Recipient{WebsiteID: "site-1", Address: "owner@example.com", Enabled: true})

	env.store = configstore.NewStore(configstore.StoreConfig{
		Repository: configstore.NewInMemoryRepository(),
		Logger:     logger,
	})
	env.safety = safety.NewService(safety.ServiceConfig{Store: env.store, Logger: logger})

	notifyService := notify.NewService(notify.ServiceConfig{
		Repository: env.notify,
		Mailer:     env.mailer,
		Logger:     logger,
	})

	orch := orchestrator.NewService(orchestrator.ServiceConfig{
		Queue:  stubQueue{},
		Events: orchestrator.NewInMemoryEventLog(),
		Logger: logger,
		Safety: env.safety,
	})

	env.router = api.NewRouter(api.RouterConfig{
		Version:       "test",
		BuildTime:     "2026-01-01T00:00:00Z",
		Logger:        logger,
		NotifyService: notifyService,
		SafetyService: env.safety,
		ConfigStore:   env.store,
		Runs:          env.runs,
		Orchestrator:  orch,
		PingDB:        func(context.Context) error { return env.pingErr },
	})
	return env
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/ops/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.pingErr = errors.New("connection refused")
	w = doJSON(t, env.router, http.MethodGet, "/v1/ops/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/ops/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.NotEmpty(t, status.Subsystems)
}

func TestRouter_IngestEvent(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/events", models.IngestEventRequest{
		WebsiteID: "site-1",
		EventType: "diagnostic_failed",
		Severity:  "warning",
		Title:     "Checkout diagnostics failed",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp models.IngestEventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.EventID)
	assert.Equal(t, 1, resp.DeliveriesSent)
	assert.Equal(t, 1, env.mailer.sent)
}

func TestRouter_IngestEvent_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/events", models.IngestEventRequest{
		EventType: "diagnostic_failed",
		Severity:  "shouting",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.NotEmpty(t, problem.TraceID)
	assert.NotEmpty(t, problem.Errors)
}

func TestRouter_StartDiagnostics(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/sites/site-1/diagnostics", models.StartDiagnosticsRequest{
		Services: []string{"http-diagnostics"},
		Domain:   "shop.example.com",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get("Location"))

	var resp models.StartDiagnosticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrchestrationID)
	assert.Len(t, resp.JobIDs, 1)

	// Dispatched but nothing consumed yet: status is running.
	statusPath := "/v1/sites/site-1/orchestrations/" + resp.OrchestrationID
	w = doJSON(t, env.router, http.MethodGet, statusPath, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.OrchestrationStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 1, status.TotalJobs)

	// The same orchestration id under another site is not exposed.
	w = doJSON(t, env.router, http.MethodGet, "/v1/sites/other-site/orchestrations/"+resp.OrchestrationID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_StartDiagnostics_BlockedByKillSwitch(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.safety.ActivateGlobalKillSwitch(context.Background(), "ops@sitemend.io", "incident"))

	w := doJSON(t, env.router, http.MethodPost, "/v1/sites/site-1/diagnostics", models.StartDiagnosticsRequest{
		Services: []string{"http-diagnostics"},
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeSafetyBlocked, problem.Type)
	assert.Equal(t, "Global kill switch is active", problem.Detail)
}

func TestRouter_GetRun(t *testing.T) {
	env := newTestEnv(t)

	runner := diagnose.NewRunner(diagnose.RunnerConfig{
		Repository: env.runs,
		Logger:     zerolog.Nop(),
	})
	ctx := context.Background()
	runner.Start(ctx, diagnose.StartInput{Service: "http-diagnostics", SiteID: "site-1"})
	runner.PassStage(ctx, diagnose.StageResolveConfig, "resolved", nil)
	runner.PassStage(ctx, diagnose.StageConnectivity, "reachable", nil)
	runner.PassStage(ctx, diagnose.StageResponseValidation, "valid", nil)
	run := runner.Finish(ctx)

	w := doJSON(t, env.router, http.MethodGet, "/v1/sites/site-1/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.DiagnosticRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "pass", got.Status)
	assert.Len(t, got.Stages, 3)

	// Same run under a different site id is not exposed.
	w = doJSON(t, env.router, http.MethodGet, "/v1/sites/other-site/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GetRun_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/sites/site-1/runs/run_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_KillSwitchLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/admin/safety/kill-switches", models.KillSwitchRequest{
		Scope:  models.KillSwitchScopeService,
		Target: "dns-fixer",
		Actor:  "ops@sitemend.io",
		Reason: "provider incident",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var state models.KillSwitchState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Enabled)
	assert.Equal(t, "dns-fixer", state.Target)

	w = doJSON(t, env.router, http.MethodGet, "/v1/admin/safety/kill-switches?scope=service&target=dns-fixer", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Enabled)

	w = doJSON(t, env.router, http.MethodDelete, "/v1/admin/safety/kill-switches", models.KillSwitchRequest{
		Scope:  models.KillSwitchScopeService,
		Target: "dns-fixer",
		Actor:  "ops@sitemend.io",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Enabled)

	// Two writes, two audit rows.
	w = doJSON(t, env.router, http.MethodGet, "/v1/admin/safety/audit", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var audit models.AuditListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	assert.Len(t, audit.Records, 2)
}

func TestRouter_KillSwitch_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodPost, "/v1/admin/safety/kill-switches", models.KillSwitchRequest{
		Scope: "service",
		Actor: "ops@sitemend.io",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
}

func TestRouter_SystemMode(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/admin/safety/mode", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var mode models.SystemModeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mode))
	assert.Equal(t, "normal", mode.Mode)

	w = doJSON(t, env.router, http.MethodPut, "/v1/admin/safety/mode", models.SystemModeRequest{
		Mode:   "observe_only",
		Actor:  "ops@sitemend.io",
		Reason: "maintenance window",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mode))
	assert.Equal(t, "observe_only", mode.Mode)

	w = doJSON(t, env.router, http.MethodPut, "/v1/admin/safety/mode", models.SystemModeRequest{
		Mode:  "panic",
		Actor: "ops@sitemend.io",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_SafetyCheck(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.safety.ActivateSiteKillSwitch(context.Background(), "site-9", "ops@sitemend.io", "owner request"))

	w := doJSON(t, env.router, http.MethodGet, "/v1/admin/safety/check?service=dns-fixer&siteId=site-9", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var check models.SafetyCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.False(t, check.Allowed)
	assert.Contains(t, check.Reason, "site-9")

	w = doJSON(t, env.router, http.MethodGet, "/v1/admin/safety/check?service=dns-fixer&siteId=site-1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.True(t, check.Allowed)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/ops/health", nil)

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := doJSON(t, env.router, http.MethodGet, "/v1/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
