package models

// Kill switch scopes accepted by the admin safety endpoints.
const (
	KillSwitchScopeGlobal  = "global"
	KillSwitchScopeService = "service"
	KillSwitchScopeSite    = "site"
)

// KillSwitchRequest is the body of POST/DELETE
// /v1/admin/safety/kill-switches.
type KillSwitchRequest struct {
	Scope string `json:"scope" validate:"required,oneof=global service site"`

	// Target is the service name or site id; unused for global.
	Target string `json:"target,omitempty"`
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// KillSwitchState describes one kill switch scope.
type KillSwitchState struct {
	Scope       string     `json:"scope"`
	Target      string     `json:"target,omitempty"`
	Enabled     bool       `json:"enabled"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt *Timestamp `json:"activatedAt,omitempty"`
}

// SystemModeRequest is the body of PUT /v1/admin/safety/mode.
type SystemModeRequest struct {
	Mode   string `json:"mode" validate:"required,oneof=normal observe_only safe_mode"`
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// SystemModeResponse is the current system mode.
type SystemModeResponse struct {
	Mode      string     `json:"mode"`
	Reason    string     `json:"reason,omitempty"`
	ChangedAt *Timestamp `json:"changedAt,omitempty"`
}

// SafetyCheckResponse is the result of a dry-run safety check.
type SafetyCheckResponse struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Mode     string `json:"mode"`
	SafeMode bool   `json:"safeMode"`
}

// AuditRecord is one config audit log row.
type AuditRecord struct {
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	Actor      string      `json:"actor"`
	TargetType string      `json:"targetType"`
	TargetID   string      `json:"targetId,omitempty"`
	OldValue   interface{} `json:"oldValue,omitempty"`
	NewValue   interface{} `json:"newValue,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  Timestamp   `json:"createdAt"`
}

// AuditListResponse is the body of GET /v1/admin/safety/audit.
type AuditListResponse struct {
	Records []AuditRecord `json:"records"`
}
