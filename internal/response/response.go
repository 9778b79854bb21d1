// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package response implements the Response Engine (component D, spec
// §4.D): the severity-driven policy dispatcher that turns Incidents
// into enforcement actions and persists them.
package response

import (
	"log"
	"time"

	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
	"github.com/aidefender/agent-core/internal/incidentstore"
	"github.com/aidefender/agent-core/internal/killswitch"
)

// Engine dispatches incidents to the kill switch and incident store.
type Engine struct {
	cfg    *config.Config
	sm     *killswitch.StateMachine
	store  *incidentstore.Store
	eff    killswitch.Effector
	logger *log.Logger
	now    func() time.Time
}

// New builds a Response Engine.
func New(cfg *config.Config, sm *killswitch.StateMachine, store *incidentstore.Store, eff killswitch.Effector, logger *log.Logger) *Engine {
	return &Engine{cfg: cfg, sm: sm, store: store, eff: eff, logger: logger, now: time.Now}
}

// Handle processes one incident per spec §4.D's numbered steps,
// always persisting last regardless of the path taken.
func (e *Engine) Handle(inc event.Incident) {
	sev := event.Green
	for _, f := range inc.Findings {
		sev = event.Max(sev, f.Severity)
	}
	inc.Severity = sev
	e.logf("incident %s severity=%s", inc.IncidentID, sev)

	if sev == event.Red {
		e.handleRed(&inc)
	}

	if err := e.store.StoreIncident(inc); err != nil {
		e.logf("incident %s: persist failed: %v", inc.IncidentID, err)
	}
}

func (e *Engine) handleRed(inc *event.Incident) {
	inc.ActionsTaken = append(inc.ActionsTaken,
		"process_termination_not_implemented",
		"quarantine_not_implemented",
	)

	if !e.cfg.KillSwitch.Enabled {
		inc.ActionsTaken = append(inc.ActionsTaken, "killswitch_skipped_disabled_by_config")
		return
	}
	if e.cfg.Mode == config.ModeLearning {
		inc.ActionsTaken = append(inc.ActionsTaken, "killswitch_skipped_learning_mode")
		return
	}
	if !e.cfg.KillSwitch.AutoTrigger {
		inc.ActionsTaken = append(inc.ActionsTaken, "killswitch_skipped_auto_trigger_disabled")
		return
	}

	err := e.sm.EnableAuto(e.eff, inc.IncidentID, e.cfg.KillSwitch.FailsafeMinutes, e.now())
	if err != nil {
		inc.ActionsTaken = append(inc.ActionsTaken, "killswitch_enable_auto_failed")
		e.logf("incident %s: enable_auto failed: %v", inc.IncidentID, err)
		return
	}
	inc.ActionsTaken = append(inc.ActionsTaken, "killswitch_enable_auto", "killswitch_failsafe_deadline_set")
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
