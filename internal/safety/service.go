package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/configstore"
)

// ServiceConfig holds configuration for the safety gate.
type ServiceConfig struct {
	Store  *configstore.Store
	Logger zerolog.Logger

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Service is the safety gate: process-wide kill switches (global,
// per-service, per-site) plus the global system mode, all backed by the
// audited config store.
//
// Reads across the scopes checked by PerformSafetyCheck are not
// transactional; a switch flipped mid-check can race with a dispatch
// decision. Kill switches are a best-effort emergency brake, and the
// check stays cheap enough to run on every dispatch.
type Service struct {
	store  *configstore.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new safety gate service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: cfg.Store, logger: cfg.Logger, now: now}
}

// PerformSafetyCheck evaluates, in order, the global kill switch, the
// service kill switch, the site kill switch, and (only for actions that
// require changes) observe-only mode. The first tripped condition
// short-circuits with a reason. Safe mode never blocks; it is reported
// so callers can degrade behavior.
func (s *Service) PerformSafetyCheck(ctx context.Context, input CheckInput) CheckResult {
	mode := s.GetSystemMode(ctx)
	result := CheckResult{
		Allowed:  true,
		Mode:     mode.Mode,
		SafeMode: mode.Mode == ModeSafe,
	}

	if state := s.killSwitch(ctx, keyGlobalKillSwitch); state.Enabled {
		result.Allowed = false
		result.Reason = "Global kill switch is active"
		return result
	}

	if input.ServiceName != "" {
		if state := s.killSwitch(ctx, serviceKillSwitchKey(input.ServiceName)); state.Enabled {
			result.Allowed = false
			result.Reason = fmt.Sprintf("Kill switch for service %q is active", input.ServiceName)
			return result
		}
	}

	if input.SiteID != "" {
		if state := s.killSwitch(ctx, siteKillSwitchKey(input.SiteID)); state.Enabled {
			result.Allowed = false
			result.Reason = fmt.Sprintf("Kill switch for site %q is active", input.SiteID)
			return result
		}
	}

	if input.RequiresChanges && mode.Mode == ModeObserveOnly {
		result.Allowed = false
		result.Reason = "System is in observe-only mode; actions that require changes are blocked"
		return result
	}

	return result
}

// ActivateGlobalKillSwitch enables the global kill switch.
func (s *Service) ActivateGlobalKillSwitch(ctx context.Context, actor, reason string) error {
	return s.setKillSwitch(ctx, keyGlobalKillSwitch, "global", true, actor, reason)
}

// DeactivateGlobalKillSwitch disables the global kill switch.
func (s *Service) DeactivateGlobalKillSwitch(ctx context.Context, actor, reason string) error {
	return s.setKillSwitch(ctx, keyGlobalKillSwitch, "global", false, actor, reason)
}

// ActivateServiceKillSwitch enables the kill switch for one service.
func (s *Service) ActivateServiceKillSwitch(ctx context.Context, service, actor, reason string) error {
	return s.setKillSwitch(ctx, serviceKillSwitchKey(service), "service:"+service, true, actor, reason)
}

// DeactivateServiceKillSwitch disables the kill switch for one service.
func (s *Service) DeactivateServiceKillSwitch(ctx context.Context, service, actor, reason string) error {
	return s.setKillSwitch(ctx, serviceKillSwitchKey(service), "service:"+service, false, actor, reason)
}

// ActivateSiteKillSwitch enables the kill switch for one site.
func (s *Service) ActivateSiteKillSwitch(ctx context.Context, siteID, actor, reason string) error {
	return s.setKillSwitch(ctx, siteKillSwitchKey(siteID), "site:"+siteID, true, actor, reason)
}

// DeactivateSiteKillSwitch disables the kill switch for one site.
func (s *Service) DeactivateSiteKillSwitch(ctx context.Context, siteID, actor, reason string) error {
	return s.setKillSwitch(ctx, siteKillSwitchKey(siteID), "site:"+siteID, false, actor, reason)
}

// setKillSwitch is idempotent but always writes, so the audit history
// records every activation attempt.
func (s *Service) setKillSwitch(ctx context.Context, key, target string, enabled bool, actor, reason string) error {
	state := KillSwitchState{Enabled: enabled, Reason: reason}
	action := "kill_switch_deactivated"
	if enabled {
		state.ActivatedAt = s.now()
		action = "kill_switch_activated"
	}

	err := s.store.SetJSON(ctx, configstore.WriteInput{
		Key:        key,
		Value:      state,
		Action:     action,
		Actor:      actor,
		TargetType: targetKillSwitch,
		TargetID:   target,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("set kill switch %s: %w", target, err)
	}

	if enabled {
		s.logger.Warn().
			Str("target", target).
			Str("actor", actor).
			Str("reason", reason).
			Msg("kill switch activated")
	} else {
		s.logger.Info().
			Str("target", target).
			Str("actor", actor).
			Str("reason", reason).
			Msg("kill switch deactivated")
	}
	return nil
}

// GlobalKillSwitch returns the current global kill switch state.
func (s *Service) GlobalKillSwitch(ctx context.Context) KillSwitchState {
	return s.killSwitch(ctx, keyGlobalKillSwitch)
}

// ServiceKillSwitch returns the kill switch state for one service.
func (s *Service) ServiceKillSwitch(ctx context.Context, service string) KillSwitchState {
	return s.killSwitch(ctx, serviceKillSwitchKey(service))
}

// SiteKillSwitch returns the kill switch state for one site.
func (s *Service) SiteKillSwitch(ctx context.Context, siteID string) KillSwitchState {
	return s.killSwitch(ctx, siteKillSwitchKey(siteID))
}

// killSwitch reads one switch scope. A missing key means the switch has
// never been set; a read error is logged and treated as disabled, since
// the gate is a best-effort brake and must not take the system down.
func (s *Service) killSwitch(ctx context.Context, key string) KillSwitchState {
	var state KillSwitchState
	err := s.store.GetJSON(ctx, key, &state)
	if err != nil && !errors.Is(err, configstore.ErrKeyNotFound) {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to read kill switch state")
		return KillSwitchState{}
	}
	return state
}

// SetSystemMode changes the global system mode.
func (s *Service) SetSystemMode(ctx context.Context, mode Mode, actor, reason string) error {
	switch mode {
	case ModeNormal, ModeObserveOnly, ModeSafe:
	default:
		return fmt.Errorf("unknown system mode %q", mode)
	}

	state := SystemModeState{Mode: mode, Reason: reason, ChangedAt: s.now()}
	err := s.store.SetJSON(ctx, configstore.WriteInput{
		Key:        keySystemMode,
		Value:      state,
		Action:     "system_mode_changed",
		Actor:      actor,
		TargetType: targetSystemMode,
		TargetID:   "global",
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("set system mode: %w", err)
	}

	evt := s.logger.Info()
	if mode != ModeNormal {
		evt = s.logger.Warn()
	}
	evt.
		Str("mode", string(mode)).
		Str("actor", actor).
		Str("reason", reason).
		Msg("system mode changed")
	return nil
}

// GetSystemMode returns the current system mode, defaulting to normal
// when it has never been set or cannot be read.
func (s *Service) GetSystemMode(ctx context.Context) SystemModeState {
	var state SystemModeState
	err := s.store.GetJSON(ctx, keySystemMode, &state)
	if err != nil {
		if !errors.Is(err, configstore.ErrKeyNotFound) {
			s.logger.Error().Err(err).Msg("failed to read system mode")
		}
		return SystemModeState{Mode: ModeNormal}
	}
	if state.Mode == "" {
		state.Mode = ModeNormal
	}
	return state
}
