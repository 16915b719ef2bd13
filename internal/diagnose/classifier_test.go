package diagnose_test

import (
	"testing"

	"github.com/sitemend/sitemend/internal/diagnose"
)

func TestClassify_PriorityOrder(t *testing.T) {
	tests := []struct {
		name     string
		evidence diagnose.Evidence
		want     diagnose.FailureBucket
	}{
		{
			name:     "timeout error text wins over status",
			evidence: diagnose.Evidence{"error": "request timed out after 30s", "http_status": 404},
			want:     diagnose.BucketTimeout,
		},
		{
			name:     "connection reset is a timeout",
			evidence: diagnose.Evidence{"error": "read tcp: connection reset by peer"},
			want:     diagnose.BucketTimeout,
		},
		{
			name:     "deadline exceeded is a timeout",
			evidence: diagnose.Evidence{"error": "context deadline exceeded"},
			want:     diagnose.BucketTimeout,
		},
		{
			name:     "dns resolution failure",
			evidence: diagnose.Evidence{"error": "getaddrinfo ENOTFOUND shop.example.com"},
			want:     diagnose.BucketDNS,
		},
		{
			name:     "certificate failure is dns bucket",
			evidence: diagnose.Evidence{"error": "x509: certificate has expired"},
			want:     diagnose.BucketDNS,
		},
		{
			name:     "404 regardless of html body",
			evidence: diagnose.Evidence{"http_status": 404, "content_type": "text/html", "body": "<html>not here</html>"},
			want:     diagnose.BucketWrongEndpoint,
		},
		{
			name:     "401 is auth",
			evidence: diagnose.Evidence{"http_status": 401},
			want:     diagnose.BucketAuth,
		},
		{
			name:     "403 is auth",
			evidence: diagnose.Evidence{"http_status": 403},
			want:     diagnose.BucketAuth,
		},
		{
			name:     "301 is redirect",
			evidence: diagnose.Evidence{"http_status": 301},
			want:     diagnose.BucketRedirect,
		},
		{
			name:     "399 is redirect",
			evidence: diagnose.Evidence{"http_status": 399},
			want:     diagnose.BucketRedirect,
		},
		{
			name:     "200 with html content type is app shell",
			evidence: diagnose.Evidence{"http_status": 200, "content_type": "text/html; charset=utf-8"},
			want:     diagnose.BucketHTMLAppShell,
		},
		{
			name:     "200 with html-looking body is app shell",
			evidence: diagnose.Evidence{"http_status": 200, "body": "<!DOCTYPE html><html><head>"},
			want:     diagnose.BucketHTMLAppShell,
		},
		{
			name:     "html body without status needs html content type too",
			evidence: diagnose.Evidence{"body": "<html></html>"},
			want:     diagnose.BucketUnknown,
		},
		{
			name:     "html body with html content type and no status",
			evidence: diagnose.Evidence{"body": "<html></html>", "content_type": "text/html"},
			want:     diagnose.BucketHTMLAppShell,
		},
		{
			name:     "error text mentioning unauthorized",
			evidence: diagnose.Evidence{"error": "request was unauthorized"},
			want:     diagnose.BucketAuth,
		},
		{
			name:     "error text mentioning not found",
			evidence: diagnose.Evidence{"error": "resource not found"},
			want:     diagnose.BucketWrongEndpoint,
		},
		{
			name:     "error text mentioning redirect",
			evidence: diagnose.Evidence{"error": "too many redirects"},
			want:     diagnose.BucketRedirect,
		},
		{
			name:     "json parse error with angle bracket",
			evidence: diagnose.Evidence{"error": "invalid character '<' looking for beginning of value"},
			want:     diagnose.BucketHTMLAppShell,
		},
		{
			name:     "json parse error mentioning doctype",
			evidence: diagnose.Evidence{"error": "unexpected token in JSON: doctype"},
			want:     diagnose.BucketHTMLAppShell,
		},
		{
			name:     "empty evidence is unknown",
			evidence: diagnose.Evidence{},
			want:     diagnose.BucketUnknown,
		},
		{
			name:     "nil evidence is unknown",
			evidence: nil,
			want:     diagnose.BucketUnknown,
		},
		{
			name:     "unmatched error text is unknown",
			evidence: diagnose.Evidence{"error": "boom"},
			want:     diagnose.BucketUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diagnose.Classify(tt.evidence)
			if got.Bucket != tt.want {
				t.Errorf("Classify() bucket = %q, want %q", got.Bucket, tt.want)
			}
			if got.SuggestedFix == "" {
				t.Error("Classify() returned empty suggested fix")
			}
		})
	}
}

func TestClassify_StatusAliases(t *testing.T) {
	// Status may arrive under different key names and numeric types.
	for _, e := range []diagnose.Evidence{
		{"http_status": 404},
		{"HTTP_STATUS": 404},
		{"statusCode": float64(404)},
		{"status": int64(404)},
	} {
		got := diagnose.Classify(e)
		if got.Bucket != diagnose.BucketWrongEndpoint {
			t.Errorf("Classify(%v) bucket = %q, want %q", e, got.Bucket, diagnose.BucketWrongEndpoint)
		}
	}
}

func TestClassify_FixMatchesBucket(t *testing.T) {
	got := diagnose.Classify(diagnose.Evidence{"http_status": 401})
	if got.SuggestedFix != diagnose.SuggestedFix(diagnose.BucketAuth) {
		t.Error("suggested fix does not match bucket's fixed remediation string")
	}
}
