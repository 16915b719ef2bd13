// Package handler provides HTTP handlers for the SiteMend control-plane API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sitemend/sitemend/internal/api/models"
	"github.com/sitemend/sitemend/internal/api/response"
	"github.com/sitemend/sitemend/internal/notify"
)

// EventsHandler handles notification event ingestion.
type EventsHandler struct {
	service *notify.Service
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(service *notify.Service) *EventsHandler {
	return &EventsHandler{service: service}
}

// IngestEvent handles POST /v1/events - ingest one operational event
// into the notification pipeline.
func (h *EventsHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var input models.IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	var fieldErrors []models.FieldError
	if input.WebsiteID == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "websiteId", Message: "websiteId is required", Code: "required"})
	}
	if input.EventType == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "eventType", Message: "eventType is required", Code: "required"})
	}
	if input.Title == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "title", Message: "title is required", Code: "required"})
	}
	if input.Severity != "" && !notify.Severity(input.Severity).Valid() {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "severity", Message: "severity must be one of info, warning, critical", Code: "invalid"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid event", fieldErrors)
		return
	}

	result, err := h.service.ProcessEvent(r.Context(), notify.EventInput{
		WebsiteID: input.WebsiteID,
		EventType: input.EventType,
		Severity:  notify.Severity(input.Severity),
		Title:     input.Title,
		Summary:   input.Summary,
		Payload:   input.Payload,
		DedupKey:  input.DedupKey,
	})
	if err != nil {
		response.InternalError(w, r, "failed to process event")
		return
	}

	response.JSON(w, r, http.StatusAccepted, models.IngestEventResponse{
		OK:                result.OK,
		EventID:           result.EventID,
		DeliveriesCreated: result.DeliveriesCreated,
		DeliveriesSent:    result.DeliveriesSent,
		Suppressed:        result.Suppressed,
		QuietHours:        result.QuietHours,
	})
}
