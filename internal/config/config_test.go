// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	contents := `
mode = "strict"
correlation_window_seconds = 30

[killswitch]
enabled = true
auto_trigger = false
failsafe_minutes = 5
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.CorrelationWindowSeconds != 30 {
		t.Errorf("correlation_window_seconds = %d, want 30", cfg.CorrelationWindowSeconds)
	}
	if cfg.KillSwitch.AutoTrigger {
		t.Error("expected auto_trigger=false to be honored")
	}
	if cfg.KillSwitch.FailsafeMinutes != 5 {
		t.Errorf("failsafe_minutes = %d, want 5", cfg.KillSwitch.FailsafeMinutes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeLearning {
		t.Errorf("mode = %s, want %s", cfg.Mode, ModeLearning)
	}
	if cfg.KillSwitch.FailsafeMinutes != 10 {
		t.Errorf("failsafe_minutes = %d, want 10", cfg.KillSwitch.FailsafeMinutes)
	}
}

func TestLoadLegacyStrictModeUpgrade(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	contents := `
[safety]
strict_mode = true
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeStrict {
		t.Errorf("mode = %s, want %s (upgraded from safety.strict_mode)", cfg.Mode, ModeStrict)
	}

	// The normalized file should have been rewritten without the legacy key.
	rewritten, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if contains(string(rewritten), "strict_mode") {
		t.Errorf("expected rewritten config to drop legacy safety.strict_mode key, got:\n%s", rewritten)
	}
	if reloaded, err := Load(cfgPath); err != nil || reloaded.Mode != ModeStrict {
		t.Errorf("expected rewritten config to reload as mode=strict, got %+v, err=%v", reloaded, err)
	}

	// A timestamped backup of the original file should exist.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	foundBackup := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".toml" && e.Name() != "config.toml" {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Error("expected a backup file of the pre-upgrade config")
	}
}

func TestLoadLegacyTopLevelFailsafeMinutes(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	contents := `
failsafe_minutes = 45
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KillSwitch.FailsafeMinutes != 45 {
		t.Errorf("failsafe_minutes = %d, want 45 (migrated from legacy top-level field)", cfg.KillSwitch.FailsafeMinutes)
	}
}

func TestLoadInvalidModeDemotedToLearning(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(cfgPath, []byte(`mode = "paranoid"`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeLearning {
		t.Errorf("mode = %s, want %s for an unrecognized mode value", cfg.Mode, ModeLearning)
	}
}

func TestLoadThreatFeedAutoRefreshForcedOffWhenEndpointsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	contents := `
[threat_feed]
auto_refresh = true
refresh_interval_minutes = 60
timeout_seconds = 10
endpoints = ["http://insecure.example.com"]
allowlist_domains = ["insecure.example.com"]
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ThreatFeed.AutoRefresh {
		t.Error("expected auto_refresh to be forced false for a non-HTTPS endpoint")
	}
}

func TestLoadThreatFeedAutoRefreshAllowedWhenValid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	contents := `
[threat_feed]
auto_refresh = true
refresh_interval_minutes = 60
timeout_seconds = 10
endpoints = ["https://feed.example.com"]
allowlist_domains = ["feed.example.com"]
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.ThreatFeed.AutoRefresh {
		t.Error("expected auto_refresh to remain true for a valid pinned HTTPS endpoint")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
