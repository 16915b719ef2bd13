// Package notify converts operational events into deduplicated,
// throttled, quiet-hours-aware email deliveries with a full audit trail.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when a notification event is not found.
var ErrEventNotFound = errors.New("notification event not found")

// Severity orders notification events: info < warning < critical.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of the severity in the fixed total order.
// Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Meets reports whether the severity is at least the given minimum.
func (s Severity) Meets(minimum Severity) bool {
	return s.Rank() >= minimum.Rank()
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Event is one discrete operational event. Persisted once, immutable
// thereafter.
type Event struct {
	ID        string                 `json:"id"`
	WebsiteID string                 `json:"website_id"`
	EventType string                 `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Title     string                 `json:"title"`
	Summary   string                 `json:"summary,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	DedupKey  string                 `json:"dedup_key,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// DeliveryStatus is the terminal status of one delivery attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is one row per (event, recipient) pair. Created synchronously
// during event processing; the core never retries deliveries.
type Delivery struct {
	ID                string         `json:"id"`
	EventID           string         `json:"event_id"`
	Channel           string         `json:"channel"`
	Recipient         string         `json:"recipient"`
	Subject           string         `json:"subject"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            DeliveryStatus `json:"status"`
	ErrorDetail       string         `json:"error_detail,omitempty"`
	AttemptCount      int            `json:"attempt_count"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Suppression prevents redelivery of the same dedup key until it
// expires. Never explicitly deleted; expiry is a timestamp comparison.
type Suppression struct {
	WebsiteID       string    `json:"website_id"`
	DedupKey        string    `json:"dedup_key"`
	SuppressedUntil time.Time `json:"suppressed_until"`
	Reason          string    `json:"reason,omitempty"`
}

// Rule selects the minimum severity and throttle window for a
// (website, event type) pair.
type Rule struct {
	WebsiteID      string        `json:"website_id"`
	EventType      string        `json:"event_type"`
	Enabled        bool          `json:"enabled"`
	MinSeverity    Severity      `json:"min_severity"`
	ThrottleWindow time.Duration `json:"throttle_window"`
}

// Recipient is one enabled notification address for a website.
type Recipient struct {
	WebsiteID string `json:"website_id"`
	Address   string `json:"address"`
	Enabled   bool   `json:"enabled"`
}

// SiteSettings holds the per-site quiet-hours configuration. Times are
// "HH:MM" in the site's timezone; an empty window disables quiet hours.
type SiteSettings struct {
	WebsiteID       string `json:"website_id"`
	Timezone        string `json:"timezone"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
}

// ProcessResult reports what happened to one incoming event.
type ProcessResult struct {
	OK                bool   `json:"ok"`
	EventID           string `json:"event_id"`
	DeliveriesCreated int    `json:"deliveries_created"`
	DeliveriesSent    int    `json:"deliveries_sent"`
	Suppressed        bool   `json:"suppressed"`
	QuietHours        bool   `json:"quiet_hours"`
}

// Repository defines persistence for the notification pipeline.
type Repository interface {
	SaveEvent(ctx context.Context, event *Event) error
	CreateDelivery(ctx context.Context, delivery *Delivery) error

	// ActiveSuppression returns the suppression for (websiteID,
	// dedupKey) still valid at now, or nil when none exists.
	ActiveSuppression(ctx context.Context, websiteID, dedupKey string, now time.Time) (*Suppression, error)
	CreateSuppression(ctx context.Context, suppression *Suppression) error

	// ListRules returns rules matching (websiteID, eventType) in
	// priority order.
	ListRules(ctx context.Context, websiteID, eventType string) ([]Rule, error)

	// ListRecipients returns the enabled recipients for a website.
	ListRecipients(ctx context.Context, websiteID string) ([]Recipient, error)

	// SiteSettings returns the per-site settings, or nil when the site
	// has none configured.
	SiteSettings(ctx context.Context, websiteID string) (*SiteSettings, error)
}
