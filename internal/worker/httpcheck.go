package worker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/orchestrator"
)

// HTTPChecker probes a site over HTTP in three stages: resolve the
// configured endpoint, establish connectivity, and validate the
// response against the expectations in the job params.
//
// Recognised job params:
//
//	site_url        (string, required) endpoint to probe
//	expected_status (number, default 200)
//	expect_json     (bool) fail on HTML responses when set
type HTTPChecker struct {
	client         *http.Client
	userAgent      string
	maxBodySnippet int
}

var _ Checker = (*HTTPChecker)(nil)

// NewHTTPChecker creates an HTTP site checker.
func NewHTTPChecker(cfg Config) *HTTPChecker {
	cfg = cfg.withDefaults()
	return &HTTPChecker{
		client:         &http.Client{Timeout: cfg.CheckTimeout},
		userAgent:      cfg.UserAgent,
		maxBodySnippet: cfg.MaxBodySnippet,
	}
}

// Check implements Checker.
func (c *HTTPChecker) Check(ctx context.Context, job *orchestrator.Job, runner *diagnose.Runner) error {
	target, expectedStatus, expectJSON, ok := c.resolveConfig(ctx, job, runner)
	if !ok {
		runner.SkipStage(ctx, diagnose.StageConnectivity, "configuration unresolved")
		runner.SkipStage(ctx, diagnose.StageResponseValidation, "configuration unresolved")
		return nil
	}

	resp, ok := c.connect(ctx, target, runner)
	if !ok {
		runner.SkipStage(ctx, diagnose.StageResponseValidation, "request never completed")
		return nil
	}
	defer resp.Body.Close()

	c.validateResponse(ctx, resp, expectedStatus, expectJSON, runner)
	return nil
}

// resolveConfig validates the job params and extracts the probe target.
func (c *HTTPChecker) resolveConfig(ctx context.Context, job *orchestrator.Job, runner *diagnose.Runner) (target string, expectedStatus int, expectJSON, ok bool) {
	rawURL, _ := job.Params["site_url"].(string)
	if rawURL == "" {
		runner.FailStage(ctx, diagnose.StageResolveConfig, "no site URL configured", map[string]interface{}{
			"error_text": "job params missing site_url",
		})
		return "", 0, false, false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		runner.FailStage(ctx, diagnose.StageResolveConfig, "site URL is not a valid http(s) endpoint", map[string]interface{}{
			"error_text": "invalid site_url: " + rawURL,
		})
		return "", 0, false, false
	}

	expectedStatus = http.StatusOK
	// JSON numbers decode as float64.
	if v, found := job.Params["expected_status"].(float64); found && v > 0 {
		expectedStatus = int(v)
	}
	expectJSON, _ = job.Params["expect_json"].(bool)

	runner.PassStage(ctx, diagnose.StageResolveConfig, "configuration resolved", map[string]interface{}{
		"site_url":        parsed.String(),
		"expected_status": expectedStatus,
	})
	return parsed.String(), expectedStatus, expectJSON, true
}

// connect performs the probe request. Transport failures (DNS, timeouts,
// refused connections) fail the connectivity stage.
func (c *HTTPChecker) connect(ctx context.Context, target string, runner *diagnose.Runner) (*http.Response, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		runner.FailStage(ctx, diagnose.StageConnectivity, "could not build probe request", map[string]interface{}{
			"error_text": err.Error(),
		})
		return nil, false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		runner.FailStage(ctx, diagnose.StageConnectivity, "request to site failed", map[string]interface{}{
			"error_text": err.Error(),
		})
		return nil, false
	}

	runner.PassStage(ctx, diagnose.StageConnectivity, "site reachable", map[string]interface{}{
		"http_status": resp.StatusCode,
	})
	return resp, true
}

// validateResponse checks the response against the job expectations.
func (c *HTTPChecker) validateResponse(ctx context.Context, resp *http.Response, expectedStatus int, expectJSON bool, runner *diagnose.Runner) {
	contentType := resp.Header.Get("Content-Type")
	snippet := c.readSnippet(resp.Body)

	if resp.StatusCode != expectedStatus {
		runner.FailStage(ctx, diagnose.StageResponseValidation, "unexpected response status", map[string]interface{}{
			"http_status":  resp.StatusCode,
			"content_type": contentType,
			"body_snippet": snippet,
		})
		return
	}

	if expectJSON && respondsWithHTML(contentType, snippet) {
		runner.FailStage(ctx, diagnose.StageResponseValidation, "expected JSON but received an HTML page", map[string]interface{}{
			"http_status":  resp.StatusCode,
			"content_type": contentType,
			"body_snippet": snippet,
		})
		return
	}

	runner.PassStage(ctx, diagnose.StageResponseValidation, "response matches expectations", map[string]interface{}{
		"http_status":  resp.StatusCode,
		"content_type": contentType,
	})
}

// readSnippet captures a bounded prefix of the response body.
func (c *HTTPChecker) readSnippet(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, int64(c.maxBodySnippet)))
	if err != nil {
		return ""
	}
	return string(data)
}

// respondsWithHTML reports whether the response looks like an HTML page
// rather than an API payload.
func respondsWithHTML(contentType, snippet string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	trimmed := strings.ToLower(strings.TrimSpace(snippet))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html")
}
