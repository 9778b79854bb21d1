// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package threatfeed

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aidefender/agent-core/internal/config"
)

func signedBundle(t *testing.T, bundleID string, priv ed25519.PrivateKey) (payload, sig []byte) {
	t.Helper()
	b := Bundle{
		Version: 1, BundleID: bundleID, CreatedAtS: 1_700_000_000, RulesVersion: 1,
		Rules: []Rule{{RuleID: "R009", Enabled: true, SeverityFloor: "Yellow"}},
	}
	payload, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	sig = ed25519.Sign(priv, payload)
	return payload, sig
}

func TestImportThenLoadCurrentRoundTrips(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	payload, sig := signedBundle(t, "11111111-1111-1111-1111-111111111111", priv)
	bundlePath := filepath.Join(srcDir, "bundle.json")
	sigPath := filepath.Join(srcDir, "bundle.sig")
	if err := os.WriteFile(bundlePath, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sigPath, sig, 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(baseDir, pub, "1.0.0")
	if err := m.Import(bundlePath, sigPath); err != nil {
		t.Fatalf("import: %v", err)
	}
	b, err := m.LoadCurrent()
	if err != nil {
		t.Fatalf("load_current: %v", err)
	}
	if b.BundleID != "11111111-1111-1111-1111-111111111111" || b.RulesVersion != 1 {
		t.Errorf("unexpected bundle: %+v", b)
	}
}

func TestLoadCurrentFallsBackToLastKnownGood(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	payload, sig := signedBundle(t, "22222222-2222-2222-2222-222222222222", priv)
	bundlePath := filepath.Join(srcDir, "bundle.json")
	sigPath := filepath.Join(srcDir, "bundle.sig")
	os.WriteFile(bundlePath, payload, 0o644)
	os.WriteFile(sigPath, sig, 0o644)

	m := New(baseDir, pub, "1.0.0")
	if err := m.Import(bundlePath, sigPath); err != nil {
		t.Fatal(err)
	}

	// Corrupt the installed (current) bundle in place.
	if err := os.WriteFile(m.bundlePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := m.LoadCurrent()
	if err != nil {
		t.Fatalf("expected fallback to last-known-good, got %v", err)
	}
	if b.BundleID != "22222222-2222-2222-2222-222222222222" {
		t.Errorf("bundle_id = %s, want last-known-good id", b.BundleID)
	}
}

func TestAutoRefreshEligibilityRequiresActiveLicense(t *testing.T) {
	cfg := config.ThreatFeedConfig{
		AutoRefresh: true, RefreshIntervalMinutes: 60, TimeoutSeconds: 10,
		Endpoints: []string{"https://feed.example.com"}, AllowlistDomains: []string{"feed.example.com"},
	}
	if AutoRefreshEligibility(cfg, false) {
		t.Error("expected ineligibility without an active license")
	}
	if !AutoRefreshEligibility(cfg, true) {
		t.Error("expected eligibility with a valid pinned HTTPS endpoint and active license")
	}
}

func TestAutoRefreshEligibilityRejectsUnpinnedHost(t *testing.T) {
	cfg := config.ThreatFeedConfig{
		AutoRefresh: true, RefreshIntervalMinutes: 60, TimeoutSeconds: 10,
		Endpoints: []string{"https://evil.example.com"}, AllowlistDomains: []string{"feed.example.com"},
	}
	if AutoRefreshEligibility(cfg, true) {
		t.Error("expected ineligibility for a host absent from allowlist_domains")
	}
}

func TestSchedulerSetsNextDueAndHoldsUntilDue(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	m := New(t.TempDir(), pub, "1.0.0")
	s := NewScheduler(m)

	cfg := config.ThreatFeedConfig{
		AutoRefresh: true, RefreshIntervalMinutes: 60, TimeoutSeconds: 1,
		Endpoints: []string{"https://feed.example.com"}, AllowlistDomains: []string{"feed.example.com"},
	}
	now := time.Unix(1_700_000_000, 0)

	s.Tick(cfg, true, now)
	if !s.state.Set {
		t.Fatal("expected next_due to be set on first eligible tick")
	}
	firstDue := s.state.NextDueMs

	// Not yet due.
	s.Tick(cfg, true, now.Add(time.Minute))
	if s.state.NextDueMs != firstDue {
		t.Error("expected next_due to remain unchanged before it's due")
	}
}

func TestSchedulerClearsNextDueWhenIneligible(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	m := New(t.TempDir(), pub, "1.0.0")
	s := NewScheduler(m)

	eligible := config.ThreatFeedConfig{
		AutoRefresh: true, RefreshIntervalMinutes: 60, TimeoutSeconds: 1,
		Endpoints: []string{"https://feed.example.com"}, AllowlistDomains: []string{"feed.example.com"},
	}
	now := time.Unix(1_700_000_000, 0)
	s.Tick(eligible, true, now)
	if !s.state.Set {
		t.Fatal("expected eligible tick to arm the scheduler")
	}

	s.Tick(config.ThreatFeedConfig{AutoRefresh: false}, true, now.Add(time.Minute))
	if s.state.Set {
		t.Error("expected ineligible tick to clear next_due")
	}
}
