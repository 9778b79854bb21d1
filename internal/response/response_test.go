// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package response

import (
	"path/filepath"
	"testing"

	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
	"github.com/aidefender/agent-core/internal/incidentstore"
	"github.com/aidefender/agent-core/internal/killswitch"
)

// noopEffector answers every command with empty output, which the
// firewall backends read as "no rule with this name exists yet".
type noopEffector struct{}

func (noopEffector) Run(name string, args ...string) ([]byte, error) { return nil, nil }

func redIncident() event.Incident {
	return event.NewIncident([]event.Finding{{
		RuleID: "R009", Severity: event.Red, Description: "chain",
		Evidence: []event.Evidence{event.NoteEvidence("x")}, TMs: 1000,
	}}, 1000)
}

func containsAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func TestRedIncidentTriggersAutoEnable(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeStrict
	sm := killswitch.New(dir, true)
	store := incidentstore.New(dir)
	e := New(cfg, sm, store, noopEffector{}, nil)

	inc := redIncident()
	e.Handle(inc)

	recent, err := store.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 persisted incident, got %d", len(recent))
	}
	if !containsAction(recent[0].ActionsTaken, "killswitch_enable_auto") {
		t.Errorf("expected killswitch_enable_auto in actions_taken, got %v", recent[0].ActionsTaken)
	}
	if !containsAction(recent[0].ActionsTaken, "killswitch_failsafe_deadline_set") {
		t.Errorf("expected killswitch_failsafe_deadline_set in actions_taken, got %v", recent[0].ActionsTaken)
	}
}

// S6 Learning mode withholds enforcement.
func TestLearningModeWithholdsEnforcement(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeLearning
	sm := killswitch.New(dir, true)
	store := incidentstore.New(dir)
	e := New(cfg, sm, store, noopEffector{}, nil)

	e.Handle(redIncident())

	recent, err := store.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if !containsAction(recent[0].ActionsTaken, "killswitch_skipped_learning_mode") {
		t.Errorf("expected killswitch_skipped_learning_mode, got %v", recent[0].ActionsTaken)
	}

	s, err := killswitch.LoadState(filepath.Join(dir, "killswitch-state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled {
		t.Error("expected firewall state to remain untouched in Learning mode")
	}
}

func TestKillSwitchDisabledSkipsEnforcement(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeStrict
	cfg.KillSwitch.Enabled = false
	sm := killswitch.New(dir, false)
	store := incidentstore.New(dir)
	e := New(cfg, sm, store, noopEffector{}, nil)

	e.Handle(redIncident())

	recent, err := store.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if !containsAction(recent[0].ActionsTaken, "killswitch_skipped_disabled_by_config") {
		t.Errorf("expected killswitch_skipped_disabled_by_config, got %v", recent[0].ActionsTaken)
	}
}

func TestNonRedIncidentPersistsWithoutKillswitchActions(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	sm := killswitch.New(dir, true)
	store := incidentstore.New(dir)
	e := New(cfg, sm, store, noopEffector{}, nil)

	inc := event.NewIncident([]event.Finding{{
		RuleID: "R001", Severity: event.Yellow, Description: "untrusted read",
		Evidence: []event.Evidence{event.NoteEvidence("x")}, TMs: 1000,
	}}, 1000)
	e.Handle(inc)

	recent, err := store.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent[0].ActionsTaken) != 0 {
		t.Errorf("expected no actions_taken for a non-Red incident, got %v", recent[0].ActionsTaken)
	}
}
