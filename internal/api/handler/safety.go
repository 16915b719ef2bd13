package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sitemend/sitemend/internal/api/models"
	"github.com/sitemend/sitemend/internal/api/response"
	"github.com/sitemend/sitemend/internal/configstore"
	"github.com/sitemend/sitemend/internal/safety"
)

// SafetyHandler handles the admin safety endpoints: kill switches,
// system mode, dry-run checks, and the config audit trail.
type SafetyHandler struct {
	service *safety.Service
	store   *configstore.Store
}

// NewSafetyHandler creates a new SafetyHandler.
func NewSafetyHandler(service *safety.Service, store *configstore.Store) *SafetyHandler {
	return &SafetyHandler{service: service, store: store}
}

// ActivateKillSwitch handles POST /v1/admin/safety/kill-switches.
func (h *SafetyHandler) ActivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	h.setKillSwitch(w, r, true)
}

// DeactivateKillSwitch handles DELETE /v1/admin/safety/kill-switches.
func (h *SafetyHandler) DeactivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	h.setKillSwitch(w, r, false)
}

func (h *SafetyHandler) setKillSwitch(w http.ResponseWriter, r *http.Request, enable bool) {
	input, ok := h.decodeKillSwitchRequest(w, r)
	if !ok {
		return
	}

	var err error
	switch input.Scope {
	case models.KillSwitchScopeGlobal:
		if enable {
			err = h.service.ActivateGlobalKillSwitch(r.Context(), input.Actor, input.Reason)
		} else {
			err = h.service.DeactivateGlobalKillSwitch(r.Context(), input.Actor, input.Reason)
		}
	case models.KillSwitchScopeService:
		if enable {
			err = h.service.ActivateServiceKillSwitch(r.Context(), input.Target, input.Actor, input.Reason)
		} else {
			err = h.service.DeactivateServiceKillSwitch(r.Context(), input.Target, input.Actor, input.Reason)
		}
	case models.KillSwitchScopeSite:
		if enable {
			err = h.service.ActivateSiteKillSwitch(r.Context(), input.Target, input.Actor, input.Reason)
		} else {
			err = h.service.DeactivateSiteKillSwitch(r.Context(), input.Target, input.Actor, input.Reason)
		}
	}
	if err != nil {
		response.InternalError(w, r, "failed to update kill switch")
		return
	}

	response.JSON(w, r, http.StatusOK, h.killSwitchState(r, input.Scope, input.Target))
}

// GetKillSwitch handles GET /v1/admin/safety/kill-switches - inspect
// one kill switch scope selected by ?scope= and ?target=.
func (h *SafetyHandler) GetKillSwitch(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	target := r.URL.Query().Get("target")
	if !validScope(scope) {
		response.BadRequest(w, r, "scope must be one of global, service, site", nil)
		return
	}
	if scope != models.KillSwitchScopeGlobal && target == "" {
		response.BadRequest(w, r, "target is required for service and site scopes", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, h.killSwitchState(r, scope, target))
}

func (h *SafetyHandler) decodeKillSwitchRequest(w http.ResponseWriter, r *http.Request) (models.KillSwitchRequest, bool) {
	var input models.KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return input, false
	}

	var fieldErrors []models.FieldError
	if !validScope(input.Scope) {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "scope", Message: "scope must be one of global, service, site", Code: "invalid"})
	}
	if input.Scope != models.KillSwitchScopeGlobal && input.Target == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "target", Message: "target is required for service and site scopes", Code: "required"})
	}
	if input.Actor == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "actor", Message: "actor is required", Code: "required"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid kill switch request", fieldErrors)
		return input, false
	}
	return input, true
}

func (h *SafetyHandler) killSwitchState(r *http.Request, scope, target string) models.KillSwitchState {
	var state safety.KillSwitchState
	switch scope {
	case models.KillSwitchScopeGlobal:
		state = h.service.GlobalKillSwitch(r.Context())
	case models.KillSwitchScopeService:
		state = h.service.ServiceKillSwitch(r.Context(), target)
	case models.KillSwitchScopeSite:
		state = h.service.SiteKillSwitch(r.Context(), target)
	}

	out := models.KillSwitchState{
		Scope:   scope,
		Target:  target,
		Enabled: state.Enabled,
		Reason:  state.Reason,
	}
	if !state.ActivatedAt.IsZero() {
		activatedAt := models.Timestamp(state.ActivatedAt)
		out.ActivatedAt = &activatedAt
	}
	return out
}

// GetSystemMode handles GET /v1/admin/safety/mode.
func (h *SafetyHandler) GetSystemMode(w http.ResponseWriter, r *http.Request) {
	state := h.service.GetSystemMode(r.Context())
	response.JSON(w, r, http.StatusOK, systemModeResponse(state))
}

// SetSystemMode handles PUT /v1/admin/safety/mode.
func (h *SafetyHandler) SetSystemMode(w http.ResponseWriter, r *http.Request) {
	var input models.SystemModeRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.Actor == "" {
		response.BadRequest(w, r, "actor is required", []models.FieldError{
			{Field: "actor", Message: "actor is required", Code: "required"},
		})
		return
	}

	if err := h.service.SetSystemMode(r.Context(), safety.Mode(input.Mode), input.Actor, input.Reason); err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "mode", Message: "mode must be one of normal, observe_only, safe_mode", Code: "invalid"},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, systemModeResponse(h.service.GetSystemMode(r.Context())))
}

func systemModeResponse(state safety.SystemModeState) models.SystemModeResponse {
	out := models.SystemModeResponse{
		Mode:   string(state.Mode),
		Reason: state.Reason,
	}
	if !state.ChangedAt.IsZero() {
		changedAt := models.Timestamp(state.ChangedAt)
		out.ChangedAt = &changedAt
	}
	return out
}

// CheckSafety handles GET /v1/admin/safety/check - dry-run the gate for
// a (service, site) pair without dispatching anything.
func (h *SafetyHandler) CheckSafety(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	requiresChanges, _ := strconv.ParseBool(query.Get("requiresChanges"))

	result := h.service.PerformSafetyCheck(r.Context(), safety.CheckInput{
		ServiceName:     query.Get("service"),
		SiteID:          query.Get("siteId"),
		RequiresChanges: requiresChanges,
	})

	response.JSON(w, r, http.StatusOK, models.SafetyCheckResponse{
		Allowed:  result.Allowed,
		Reason:   result.Reason,
		Mode:     string(result.Mode),
		SafeMode: result.SafeMode,
	})
}

// ListAudit handles GET /v1/admin/safety/audit - the config audit trail,
// newest first. Optional filters: ?targetType=, ?targetId=, ?limit=.
func (h *SafetyHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	records, err := h.store.ListAudit(r.Context(), query.Get("targetType"), query.Get("targetId"), limit)
	if err != nil {
		response.InternalError(w, r, "failed to list audit records")
		return
	}

	out := models.AuditListResponse{Records: make([]models.AuditRecord, 0, len(records))}
	for _, record := range records {
		out.Records = append(out.Records, models.AuditRecord{
			ID:         record.ID,
			Action:     record.Action,
			Actor:      record.Actor,
			TargetType: record.TargetType,
			TargetID:   record.TargetID,
			OldValue:   record.OldValue,
			NewValue:   record.NewValue,
			Reason:     record.Reason,
			CreatedAt:  models.Timestamp(record.CreatedAt),
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}

func validScope(scope string) bool {
	switch scope {
	case models.KillSwitchScopeGlobal, models.KillSwitchScopeService, models.KillSwitchScopeSite:
		return true
	}
	return false
}
