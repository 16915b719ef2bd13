// Package safety provides the kill-switch and system-mode gate consulted
// before any work is dispatched.
package safety

import (
	"fmt"
	"time"
)

// Mode is an operating mode for the whole system.
type Mode string

// System modes.
const (
	// ModeNormal is regular operation.
	ModeNormal Mode = "normal"

	// ModeObserveOnly runs checks but blocks mutating actions.
	ModeObserveOnly Mode = "observe_only"

	// ModeSafe is reported to callers so they can degrade behavior; it
	// does not block dispatch by itself.
	ModeSafe Mode = "safe_mode"
)

// KillSwitchState is the state of one kill switch scope.
type KillSwitchState struct {
	Enabled     bool      `json:"enabled"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// SystemModeState is the global system mode.
type SystemModeState struct {
	Mode      Mode      `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// CheckInput describes the action a caller wants to perform.
type CheckInput struct {
	// ServiceName, when set, additionally checks the per-service switch.
	ServiceName string

	// SiteID, when set, additionally checks the per-site switch.
	SiteID string

	// RequiresChanges marks actions that mutate the target site;
	// observe-only mode blocks these.
	RequiresChanges bool
}

// CheckResult is the outcome of a safety check. A denial is a normal
// result with a human-readable reason, not an error.
type CheckResult struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Mode     Mode   `json:"mode"`
	SafeMode bool   `json:"safe_mode"`
}

// Config store keys and audit target types.
const (
	keyGlobalKillSwitch = "kill_switch:global"
	keySystemMode       = "system_mode"

	targetKillSwitch = "kill_switch"
	targetSystemMode = "system_mode"
)

func serviceKillSwitchKey(service string) string {
	return fmt.Sprintf("kill_switch:service:%s", service)
}

func siteKillSwitchKey(siteID string) string {
	return fmt.Sprintf("kill_switch:site:%s", siteID)
}
