package models

// IngestEventRequest is the body of POST /v1/events.
type IngestEventRequest struct {
	WebsiteID string                 `json:"websiteId" validate:"required"`
	EventType string                 `json:"eventType" validate:"required"`
	Severity  string                 `json:"severity" validate:"required,oneof=info warning critical"`
	Title     string                 `json:"title" validate:"required"`
	Summary   string                 `json:"summary,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	DedupKey  string                 `json:"dedupKey,omitempty"`
}

// IngestEventResponse reports what the notification pipeline did with
// one ingested event.
type IngestEventResponse struct {
	OK                bool   `json:"ok"`
	EventID           string `json:"eventId"`
	DeliveriesCreated int    `json:"deliveriesCreated"`
	DeliveriesSent    int    `json:"deliveriesSent"`
	Suppressed        bool   `json:"suppressed"`
	QuietHours        bool   `json:"quietHours"`
}
