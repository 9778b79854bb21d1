// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package killswitch implements the Kill Switch Actuator and State
// Machine (components F and G, spec §4.F-G): it asserts/retracts a
// host-wide network block through a primary/fallback firewall backend
// and persists a crash-surviving state machine with a bounded,
// automatic self-restore.
package killswitch

import (
	"fmt"
	"path/filepath"
	"time"
)

// StateMachine owns the persisted kill-switch state and the actuator
// that makes it real. One StateMachine value is owned by the agent
// loop across ticks; it holds no globals (spec §9).
type StateMachine struct {
	statePath string
	actuator  *Actuator
	enabled   bool // config: killswitch.enabled
}

// New builds a StateMachine rooted at baseDir, honoring the config's
// killswitch.enabled gate.
func New(baseDir string, enabled bool) *StateMachine {
	return &StateMachine{
		statePath: filepath.Join(baseDir, "killswitch-state.toml"),
		actuator:  NewActuator(),
		enabled:   enabled,
	}
}

func (sm *StateMachine) load() (*State, error) {
	return LoadState(sm.statePath)
}

// Status returns the persisted kill-switch state, for the operator
// surface's `killswitch status` verb.
func (sm *StateMachine) Status() (*State, error) {
	return sm.load()
}

func (sm *StateMachine) save(s *State) error {
	return SaveState(sm.statePath, s)
}

func nowMs(now time.Time) int64 {
	return now.UnixMilli()
}

// EnableManual transitions Off -> Manual(On). Manual engagement never
// auto-restores (spec invariant: EnabledMode=Manual => no deadline).
func (sm *StateMachine) EnableManual(eff Effector, now time.Time) error {
	if !sm.enabled {
		return fmt.Errorf("killswitch: disabled by configuration, refusing enable_manual")
	}
	if _, err := sm.actuator.EnableRules(eff); err != nil {
		return fmt.Errorf("enable_manual: assert rules: %w", err)
	}
	s := &State{
		Enabled:     true,
		KeepLocked:  false,
		EnabledMode: ModeManual,
		EnabledAtMs: nowMs(now),
	}
	return sm.save(s)
}

// EnableAuto transitions Off -> Auto(On), called by the Response
// Engine when a Red incident and auto_trigger policy require
// enforcement. Never invoked when killswitch.enabled=false or
// mode=Learning (spec invariants 3, 4) — the caller is responsible for
// that gate; this method only refuses when configuration disables the
// switch outright.
func (sm *StateMachine) EnableAuto(eff Effector, incidentID string, failsafeMinutes uint64, now time.Time) error {
	if !sm.enabled {
		return fmt.Errorf("killswitch: disabled by configuration, refusing enable_auto")
	}
	if _, err := sm.actuator.EnableRules(eff); err != nil {
		return fmt.Errorf("enable_auto: assert rules: %w", err)
	}
	enabledAt := nowMs(now)
	s := &State{
		Enabled:            true,
		KeepLocked:         false,
		EnabledMode:        ModeAutoRedOnly,
		EnabledAtMs:        enabledAt,
		FailsafeDeadlineMs: enabledAt + int64(failsafeMinutes)*60_000,
		LastIncidentID:     incidentID,
	}
	return sm.save(s)
}

// DisableWithReason transitions On -> Off. Rules are retracted before
// the persisted state is cleared, so a crash between the two leaves
// the state on-disk describing a superset of the real rule set —
// corrected by ReconcileOnStartup.
func (sm *StateMachine) DisableWithReason(eff Effector, reason string, incidentID string) error {
	if _, err := sm.actuator.DisableRules(eff); err != nil {
		return fmt.Errorf("disable_with_reason(%s): retract rules: %w", reason, err)
	}
	return sm.save(&State{})
}

// SetKeepLocked updates only the keep_locked field.
func (sm *StateMachine) SetKeepLocked(keepLocked bool) error {
	s, err := sm.load()
	if err != nil {
		return err
	}
	s.KeepLocked = keepLocked
	return sm.save(s)
}

// ShouldAutoRestore reports whether s is engaged in AutoRedOnly mode,
// not pinned by keep_locked, and past its failsafe deadline.
func ShouldAutoRestore(s *State, now time.Time) bool {
	return s.Enabled && !s.KeepLocked && s.EnabledMode == ModeAutoRedOnly && nowMs(now) >= s.FailsafeDeadlineMs
}

// PollFailsafe is invoked on every agent tick: if the persisted state
// should auto-restore, it performs a reason-coded disable.
func (sm *StateMachine) PollFailsafe(eff Effector, now time.Time) error {
	s, err := sm.load()
	if err != nil {
		return err
	}
	if !ShouldAutoRestore(s, now) {
		return nil
	}
	return sm.DisableWithReason(eff, "failsafe_expired", s.LastIncidentID)
}

// ReconcileOnStartup resolves any divergence between persisted state
// and the actual firewall rule set in favor of the safe direction
// (spec §4.G table).
func (sm *StateMachine) ReconcileOnStartup(eff Effector, now time.Time) error {
	if !sm.enabled {
		if _, err := sm.actuator.DisableRules(eff); err != nil {
			return fmt.Errorf("reconcile_on_startup: killswitch disabled by config, retract rules: %w", err)
		}
		return sm.save(&State{})
	}

	s, err := sm.load()
	if err != nil {
		return err
	}
	status, err := sm.actuator.RulesStatus(eff)
	if err != nil {
		return fmt.Errorf("reconcile_on_startup: query rule status: %w", err)
	}

	switch {
	case !s.Enabled && !status.RulesPresent:
		return nil
	case !s.Enabled && status.RulesPresent:
		if _, err := sm.actuator.DisableRules(eff); err != nil {
			return fmt.Errorf("reconcile_on_startup: cleanup stray rules: %w", err)
		}
		return nil
	case s.Enabled && ShouldAutoRestore(s, now):
		return sm.DisableWithReason(eff, "failsafe_startup", s.LastIncidentID)
	case s.Enabled && status.RulesPresent:
		return nil
	case s.Enabled && !status.RulesPresent:
		if _, err := sm.actuator.EnableRules(eff); err != nil {
			return fmt.Errorf("reconcile_on_startup: re-assert rules: %w", err)
		}
		return nil
	}
	return nil
}
