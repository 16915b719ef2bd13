package diagnose

import (
	"fmt"
	"strings"
)

// FailureBucket is one category in the fixed failure taxonomy.
type FailureBucket string

// Failure buckets, in classification priority order.
const (
	BucketTimeout       FailureBucket = "timeout"
	BucketDNS           FailureBucket = "dns"
	BucketWrongEndpoint FailureBucket = "wrong_endpoint_404"
	BucketAuth          FailureBucket = "auth_401_403"
	BucketRedirect      FailureBucket = "redirect_3xx"
	BucketHTMLAppShell  FailureBucket = "html_200_app_shell"
	BucketUnknown       FailureBucket = "unknown"
)

// Classification is the result of classifying failure evidence.
type Classification struct {
	Bucket       FailureBucket `json:"bucket"`
	SuggestedFix string        `json:"suggested_fix"`
}

// suggestedFixes maps each bucket to its fixed remediation hint.
var suggestedFixes = map[FailureBucket]string{
	BucketTimeout:       "The endpoint did not respond in time. Check that the site is reachable and not overloaded, and raise the connector timeout if the site is simply slow.",
	BucketDNS:           "The hostname could not be resolved or the TLS certificate was rejected. Verify the domain spelling, DNS records, and that the certificate is valid and not expired.",
	BucketWrongEndpoint: "The endpoint returned 404. The configured path is likely wrong for this platform; verify the API base path in the connector settings.",
	BucketAuth:          "The endpoint rejected the credentials (401/403). Re-enter the API key or application password and confirm the account has API access.",
	BucketRedirect:      "The endpoint redirected the request. Update the configured URL to the final destination (check http vs https and www vs apex domain).",
	BucketHTMLAppShell:  "The endpoint returned an HTML page instead of API data. The URL points at the browser application shell; point the connector at the API endpoint instead.",
	BucketUnknown:       "The failure did not match a known pattern. Inspect the raw response details and contact support with the run id if it persists.",
}

// SuggestedFix returns the fixed remediation hint for a bucket.
func SuggestedFix(bucket FailureBucket) string {
	if fix, ok := suggestedFixes[bucket]; ok {
		return fix
	}
	return suggestedFixes[BucketUnknown]
}

// Evidence is a loosely-shaped bag of failure evidence. Any subset of
// fields may be absent; values are extracted by aliased key lookup.
type Evidence map[string]interface{}

// Aliases for evidence fields, matched case-insensitively.
var (
	statusAliases      = []string{"http_status", "httpstatus", "status_code", "statuscode", "status"}
	contentTypeAliases = []string{"content_type", "contenttype", "content-type"}
	errorTextAliases   = []string{"error", "error_text", "errortext", "error_message", "message"}
	bodyAliases        = []string{"body", "body_snippet", "response_body", "snippet", "response"}
)

// lookup returns the first value whose key case-insensitively matches one
// of the aliases.
func (e Evidence) lookup(aliases []string) (interface{}, bool) {
	for _, alias := range aliases {
		for k, v := range e {
			if strings.EqualFold(k, alias) {
				return v, true
			}
		}
	}
	return nil, false
}

// HTTPStatus extracts the HTTP status code, if present.
func (e Evidence) HTTPStatus() (int, bool) {
	v, ok := e.lookup(statusAliases)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// ContentType extracts the response content type, if present.
func (e Evidence) ContentType() (string, bool) {
	return e.lookupString(contentTypeAliases)
}

// ErrorText extracts the error text, if present.
func (e Evidence) ErrorText() (string, bool) {
	return e.lookupString(errorTextAliases)
}

// BodySnippet extracts the response body snippet, if present.
func (e Evidence) BodySnippet() (string, bool) {
	return e.lookupString(bodyAliases)
}

func (e Evidence) lookupString(aliases []string) (string, bool) {
	v, ok := e.lookup(aliases)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	case error:
		return s.Error(), true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

var timeoutPatterns = []string{
	"timeout", "timed out", "deadline exceeded", "etimedout",
	"connection reset", "econnreset", "socket hang up",
}

var dnsPatterns = []string{
	"dns", "enotfound", "eai_again", "getaddrinfo", "no such host",
	"tls", "ssl", "certificate", "x509",
}

// Classify maps raw failure evidence to a failure bucket and remediation
// hint. It is a total function: any input, including an empty bag,
// produces a classification. First match in priority order wins.
func Classify(e Evidence) Classification {
	errText, hasErr := e.ErrorText()
	lowerErr := strings.ToLower(errText)

	if hasErr && containsAny(lowerErr, timeoutPatterns) {
		return classification(BucketTimeout)
	}
	if hasErr && containsAny(lowerErr, dnsPatterns) {
		return classification(BucketDNS)
	}

	status, hasStatus := e.HTTPStatus()
	contentType, _ := e.ContentType()
	body, _ := e.BodySnippet()
	htmlContentType := strings.Contains(strings.ToLower(contentType), "text/html")

	if hasStatus {
		switch {
		case status == 404:
			return classification(BucketWrongEndpoint)
		case status == 401 || status == 403:
			return classification(BucketAuth)
		case status >= 300 && status < 400:
			return classification(BucketRedirect)
		case status == 200 && (htmlContentType || looksLikeHTML(body)):
			return classification(BucketHTMLAppShell)
		}
	} else if htmlContentType && looksLikeHTML(body) {
		// Without a status code an HTML body alone is not enough; the
		// content type must also indicate HTML.
		return classification(BucketHTMLAppShell)
	}

	if hasErr {
		switch {
		case containsAny(lowerErr, []string{"unauthorized", "forbidden", "auth", "credential", "401", "403"}):
			return classification(BucketAuth)
		case strings.Contains(lowerErr, "not found") || strings.Contains(lowerErr, "404"):
			return classification(BucketWrongEndpoint)
		case strings.Contains(lowerErr, "redirect") || strings.Contains(lowerErr, "moved"):
			return classification(BucketRedirect)
		case isJSONParseOfHTML(lowerErr):
			return classification(BucketHTMLAppShell)
		}
	}

	return classification(BucketUnknown)
}

func classification(bucket FailureBucket) Classification {
	return Classification{Bucket: bucket, SuggestedFix: SuggestedFix(bucket)}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// looksLikeHTML reports whether a body snippet looks like an HTML document.
func looksLikeHTML(body string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") ||
		strings.Contains(trimmed, "<html")
}

// isJSONParseOfHTML reports whether an error message is a JSON parse
// failure caused by an HTML response.
func isJSONParseOfHTML(lowerErr string) bool {
	if !strings.Contains(lowerErr, "json") && !strings.Contains(lowerErr, "unexpected token") &&
		!strings.Contains(lowerErr, "invalid character") {
		return false
	}
	return strings.Contains(lowerErr, "<") || strings.Contains(lowerErr, "doctype")
}
