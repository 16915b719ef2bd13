package notify

import (
	"fmt"
	"html"
	"strings"
)

// Message is a rendered notification ready to hand to a mail provider.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// severityTag prefixes subjects so severity is visible before opening.
func severityTag(s Severity) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[Warning]"
	default:
		return "[Info]"
	}
}

// RenderMessage selects a template by event type and renders the event
// into it. Unrecognised event types fall back to a generic template so
// an unmapped type still produces a readable notification.
func RenderMessage(event *Event) Message {
	switch event.EventType {
	case "diagnostic_failed":
		return renderDiagnosticFailed(event)
	case "diagnostic_recovered":
		return renderRecovered(event)
	case "kill_switch_activated":
		return renderKillSwitch(event)
	default:
		return renderGeneric(event)
	}
}

func renderDiagnosticFailed(event *Event) Message {
	subject := fmt.Sprintf("%s Diagnostics failed for %s", severityTag(event.Severity), event.WebsiteID)
	if event.Title != "" {
		subject = fmt.Sprintf("%s %s", severityTag(event.Severity), event.Title)
	}

	bucket, _ := event.Payload["failure_bucket"].(string)
	fix, _ := event.Payload["suggested_fix"].(string)

	var text strings.Builder
	fmt.Fprintf(&text, "Diagnostics failed for site %s.\n\n", event.WebsiteID)
	if event.Summary != "" {
		fmt.Fprintf(&text, "%s\n\n", event.Summary)
	}
	if bucket != "" {
		fmt.Fprintf(&text, "Failure category: %s\n", bucket)
	}
	if fix != "" {
		fmt.Fprintf(&text, "Suggested fix: %s\n", fix)
	}

	var htmlBody strings.Builder
	fmt.Fprintf(&htmlBody, "<h2>Diagnostics failed for site %s</h2>", html.EscapeString(event.WebsiteID))
	if event.Summary != "" {
		fmt.Fprintf(&htmlBody, "<p>%s</p>", html.EscapeString(event.Summary))
	}
	if bucket != "" {
		fmt.Fprintf(&htmlBody, "<p><strong>Failure category:</strong> %s</p>", html.EscapeString(bucket))
	}
	if fix != "" {
		fmt.Fprintf(&htmlBody, "<p><strong>Suggested fix:</strong> %s</p>", html.EscapeString(fix))
	}

	return Message{Subject: subject, HTML: htmlBody.String(), Text: text.String()}
}

func renderRecovered(event *Event) Message {
	subject := fmt.Sprintf("%s Site %s has recovered", severityTag(event.Severity), event.WebsiteID)
	text := fmt.Sprintf("Site %s is passing diagnostics again.\n", event.WebsiteID)
	if event.Summary != "" {
		text += "\n" + event.Summary + "\n"
	}
	htmlBody := fmt.Sprintf("<h2>Site %s has recovered</h2>", html.EscapeString(event.WebsiteID))
	if event.Summary != "" {
		htmlBody += fmt.Sprintf("<p>%s</p>", html.EscapeString(event.Summary))
	}
	return Message{Subject: subject, HTML: htmlBody, Text: text}
}

func renderKillSwitch(event *Event) Message {
	scope, _ := event.Payload["scope"].(string)
	if scope == "" {
		scope = "unknown scope"
	}
	subject := fmt.Sprintf("%s Kill switch activated (%s)", severityTag(event.Severity), scope)
	text := fmt.Sprintf("A kill switch was activated: %s.\n", scope)
	if event.Summary != "" {
		text += "\n" + event.Summary + "\n"
	}
	htmlBody := fmt.Sprintf("<h2>Kill switch activated</h2><p>Scope: %s</p>", html.EscapeString(scope))
	if event.Summary != "" {
		htmlBody += fmt.Sprintf("<p>%s</p>", html.EscapeString(event.Summary))
	}
	return Message{Subject: subject, HTML: htmlBody, Text: text}
}

func renderGeneric(event *Event) Message {
	title := event.Title
	if title == "" {
		title = fmt.Sprintf("Event %s for site %s", event.EventType, event.WebsiteID)
	}
	subject := fmt.Sprintf("%s %s", severityTag(event.Severity), title)

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n", title)
	if event.Summary != "" {
		fmt.Fprintf(&text, "\n%s\n", event.Summary)
	}
	fmt.Fprintf(&text, "\nSite: %s\nEvent type: %s\nSeverity: %s\n", event.WebsiteID, event.EventType, event.Severity)

	var htmlBody strings.Builder
	fmt.Fprintf(&htmlBody, "<h2>%s</h2>", html.EscapeString(title))
	if event.Summary != "" {
		fmt.Fprintf(&htmlBody, "<p>%s</p>", html.EscapeString(event.Summary))
	}
	fmt.Fprintf(&htmlBody, "<p>Site: %s<br>Event type: %s<br>Severity: %s</p>",
		html.EscapeString(event.WebsiteID), html.EscapeString(event.EventType), html.EscapeString(string(event.Severity)))

	return Message{Subject: subject, HTML: htmlBody.String(), Text: text.String()}
}
