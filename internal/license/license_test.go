// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package license

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSignedLicense(t *testing.T, dir string, ent Entitlement, pub ed25519.PublicKey, priv ed25519.PrivateKey) (string, string) {
	t.Helper()
	payload, err := json.Marshal(ent)
	if err != nil {
		t.Fatal(err)
	}
	sig := ed25519.Sign(priv, payload)

	jsonPath := filepath.Join(dir, "license.json")
	sigPath := filepath.Join(dir, "license.sig")
	if err := os.WriteFile(jsonPath, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sigPath, sig, 0o644); err != nil {
		t.Fatal(err)
	}
	return jsonPath, sigPath
}

func TestInstallActivateStatusYieldsProActive(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	ent := Entitlement{
		Version: 1, LicenseID: "11111111-1111-1111-1111-111111111111",
		UserID: "alice", Plan: "pro", Seats: 5, IssuedAtS: 1_700_000_000,
	}
	jsonPath, sigPath := writeSignedLicense(t, srcDir, ent, pub, priv)

	m := New(baseDir, pub)
	if err := m.Install(jsonPath, sigPath); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := m.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	st, err := m.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != ProActive {
		t.Errorf("state = %s, want ProActive", st.State)
	}
}

func TestDeactivateYieldsProInvalid(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	ent := Entitlement{
		Version: 1, LicenseID: "22222222-2222-2222-2222-222222222222",
		UserID: "alice", Plan: "pro", Seats: 1, IssuedAtS: 1_700_000_000,
	}
	jsonPath, sigPath := writeSignedLicense(t, srcDir, ent, pub, priv)

	m := New(baseDir, pub)
	if err := m.Install(jsonPath, sigPath); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Activate(); err != nil {
		t.Fatal(err)
	}
	st, err := m.Deactivate()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != ProInvalid {
		t.Errorf("state = %s, want ProInvalid", st.State)
	}
	if st.Reason == "" {
		t.Error("expected a reason for the deactivated-on-this-device status")
	}
}

func TestNoArtifactsYieldsCommunity(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	m := New(t.TempDir(), pub)
	st, err := m.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Community {
		t.Errorf("state = %s, want Community", st.State)
	}
}

func TestExpiredLicenseYieldsProExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	past := time.Now().Add(-time.Hour).Unix()
	ent := Entitlement{
		Version: 1, LicenseID: "33333333-3333-3333-3333-333333333333",
		UserID: "alice", Plan: "pro", Seats: 1, IssuedAtS: 1_700_000_000, ExpiresAtS: &past,
	}
	jsonPath, sigPath := writeSignedLicense(t, srcDir, ent, pub, priv)

	m := New(baseDir, pub)
	if err := m.Install(jsonPath, sigPath); err != nil {
		t.Fatal(err)
	}
	st, err := m.Activate()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != ProExpired {
		t.Errorf("state = %s, want ProExpired", st.State)
	}
}

func TestInvalidSignatureYieldsProInvalid(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	_, otherPriv, _ := ed25519.GenerateKey(nil)
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	ent := Entitlement{
		Version: 1, LicenseID: "44444444-4444-4444-4444-444444444444",
		UserID: "alice", Plan: "pro", Seats: 1, IssuedAtS: 1_700_000_000,
	}
	// Signed with the wrong key.
	jsonPath, sigPath := writeSignedLicense(t, srcDir, ent, pub, otherPriv)

	m := New(baseDir, pub)
	if err := m.Install(jsonPath, sigPath); err == nil {
		t.Fatal("expected install to reject a signature from an unrelated key")
	}
}
