package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/orchestrator"
)

func runCheck(t *testing.T, params map[string]interface{}) *diagnose.Run {
	t.Helper()

	runner := diagnose.NewRunner(diagnose.RunnerConfig{
		Repository: diagnose.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	checker := NewHTTPChecker(DefaultConfig())
	job := &orchestrator.Job{
		ID:      "job_test",
		Service: "http-diagnostics",
		SiteID:  "site-1",
		Params:  params,
	}

	run, err := runner.Instrument(context.Background(), diagnose.StartInput{
		Service:   job.Service,
		SiteID:    job.SiteID,
		RequestID: job.ID,
		Config:    job.Params,
	}, func(ctx context.Context) error {
		return checker.Check(ctx, job, runner)
	})
	if err != nil {
		t.Fatalf("check returned error: %v", err)
	}
	return run
}

func stageStatus(t *testing.T, run *diagnose.Run, stage diagnose.Stage) diagnose.StageStatus {
	t.Helper()
	result := run.StageByName(stage)
	if result == nil {
		t.Fatalf("run has no stage %s", stage)
	}
	return result.Status
}

func TestHTTPChecker_HealthySite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	run := runCheck(t, map[string]interface{}{"site_url": server.URL})

	if run.Status != diagnose.RunPass {
		t.Errorf("expected pass, got %s", run.Status)
	}
	for _, stage := range diagnose.DefaultStages() {
		if got := stageStatus(t, run, stage); got != diagnose.StagePass {
			t.Errorf("stage %s: expected pass, got %s", stage, got)
		}
	}
}

func TestHTTPChecker_MissingSiteURL(t *testing.T) {
	run := runCheck(t, map[string]interface{}{})

	if run.Status != diagnose.RunFail {
		t.Errorf("expected fail, got %s", run.Status)
	}
	if got := stageStatus(t, run, diagnose.StageResolveConfig); got != diagnose.StageFail {
		t.Errorf("resolve_config: expected fail, got %s", got)
	}
	if got := stageStatus(t, run, diagnose.StageConnectivity); got != diagnose.StageSkipped {
		t.Errorf("connectivity: expected skipped, got %s", got)
	}
	if got := stageStatus(t, run, diagnose.StageResponseValidation); got != diagnose.StageSkipped {
		t.Errorf("response_validation: expected skipped, got %s", got)
	}
}

func TestHTTPChecker_InvalidSiteURL(t *testing.T) {
	run := runCheck(t, map[string]interface{}{"site_url": "ftp://example.com/files"})

	if got := stageStatus(t, run, diagnose.StageResolveConfig); got != diagnose.StageFail {
		t.Errorf("resolve_config: expected fail, got %s", got)
	}
}

func TestHTTPChecker_NotFoundClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer server.Close()

	run := runCheck(t, map[string]interface{}{"site_url": server.URL})

	if run.Status != diagnose.RunFail {
		t.Errorf("expected fail, got %s", run.Status)
	}
	result := run.StageByName(diagnose.StageResponseValidation)
	if result.Status != diagnose.StageFail {
		t.Fatalf("response_validation: expected fail, got %s", result.Status)
	}
	if result.Bucket != diagnose.BucketWrongEndpoint {
		t.Errorf("expected bucket %s, got %s", diagnose.BucketWrongEndpoint, result.Bucket)
	}
	if result.SuggestedFix == "" {
		t.Error("expected a suggested fix")
	}
}

func TestHTTPChecker_HTMLWhereJSONExpected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>app shell</body></html>"))
	}))
	defer server.Close()

	run := runCheck(t, map[string]interface{}{"site_url": server.URL, "expect_json": true})

	result := run.StageByName(diagnose.StageResponseValidation)
	if result.Status != diagnose.StageFail {
		t.Fatalf("response_validation: expected fail, got %s", result.Status)
	}
	if result.Bucket != diagnose.BucketHTMLAppShell {
		t.Errorf("expected bucket %s, got %s", diagnose.BucketHTMLAppShell, result.Bucket)
	}
}

func TestHTTPChecker_UnreachableSite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	server.Close() // refuse all connections

	run := runCheck(t, map[string]interface{}{"site_url": server.URL})

	if got := stageStatus(t, run, diagnose.StageConnectivity); got != diagnose.StageFail {
		t.Errorf("connectivity: expected fail, got %s", got)
	}
	if got := stageStatus(t, run, diagnose.StageResponseValidation); got != diagnose.StageSkipped {
		t.Errorf("response_validation: expected skipped, got %s", got)
	}
}

func TestHTTPChecker_CustomExpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	run := runCheck(t, map[string]interface{}{
		"site_url": server.URL,
		// JSON-decoded numbers arrive as float64.
		"expected_status": float64(http.StatusAccepted),
	})

	if run.Status != diagnose.RunPass {
		t.Errorf("expected pass with custom expected status, got %s", run.Status)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register("http-diagnostics", NewHTTPChecker(DefaultConfig()))
	registry.Register("dns-fixer", CheckerFunc(func(context.Context, *orchestrator.Job, *diagnose.Runner) error {
		return nil
	}))

	if _, ok := registry.Resolve("http-diagnostics"); !ok {
		t.Error("expected http-diagnostics to resolve")
	}
	if _, ok := registry.Resolve("nonexistent"); ok {
		t.Error("expected nonexistent service to be unregistered")
	}

	services := registry.Services()
	if len(services) != 2 || services[0] != "dns-fixer" || services[1] != "http-diagnostics" {
		t.Errorf("unexpected service list: %v", services)
	}
}
