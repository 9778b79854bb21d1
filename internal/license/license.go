// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package license implements the License Manager (component I, spec
// §4.I): install, activate, deactivate, and status derivation for a
// signed license entitlement, plus the device-scoped activation
// record that ties a license to a single host.
package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/aidefender/agent-core/internal/atomicfile"
	"github.com/aidefender/agent-core/internal/verify"
)

// State is the license's derived status.
type State string

const (
	Community State = "Community"
	ProActive State = "ProActive"
	ProExpired State = "ProExpired"
	ProInvalid State = "ProInvalid"
)

// Entitlement is the signed license payload (spec §3).
type Entitlement struct {
	Version     int      `json:"version"`
	LicenseID   string   `json:"license_id"`
	UserID      string   `json:"user_id"`
	Plan        string   `json:"plan"`
	Seats       int      `json:"seats"`
	IssuedAtS   int64    `json:"issued_at_s"`
	ExpiresAtS  *int64   `json:"expires_at_s,omitempty"`
	Features    []string `json:"features,omitempty"`
	Issuer      string   `json:"issuer,omitempty"`
}

// Validate checks the entitlement's schema fields per spec §4.I.
func (e *Entitlement) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("license: unsupported version %d", e.Version)
	}
	if _, err := uuid.Parse(e.LicenseID); err != nil {
		return fmt.Errorf("license: invalid license_id: %w", err)
	}
	if e.Plan != "pro" {
		return fmt.Errorf("license: unsupported plan %q", e.Plan)
	}
	if e.Seats < 1 {
		return fmt.Errorf("license: seats must be >= 1, got %d", e.Seats)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("license: user_id must be non-empty")
	}
	if e.IssuedAtS == 0 {
		return fmt.Errorf("license: issued_at_s must be non-zero")
	}
	return nil
}

// Activation is the local device-scoped activation record.
type Activation struct {
	DeviceID         string `toml:"device_id"`
	ActivatedAtS     int64  `toml:"activated_at_s"`
	LicenseID        string `toml:"license_id"`
	LastVerifiedAtS  int64  `toml:"last_verified_at_s"`
}

// Status is the externally visible license status (also the on-disk
// status.toml record).
type Status struct {
	State          State  `toml:"state"`
	LicenseID      string `toml:"license_id,omitempty"`
	Plan           string `toml:"plan,omitempty"`
	Seats          int    `toml:"seats,omitempty"`
	ExpiresS       int64  `toml:"expires_s,omitempty"`
	LastVerifiedS  int64  `toml:"last_verified_s,omitempty"`
	CheckedS       int64  `toml:"checked_s"`
	Reason         string `toml:"reason,omitempty"`
}

// Manager operates on the license artifacts under a base directory.
type Manager struct {
	dir          string // baseDir/license
	verifyingKey []byte
	now          func() time.Time
}

// New builds a Manager rooted at baseDir/license.
func New(baseDir string, verifyingKey []byte) *Manager {
	return &Manager{
		dir:          filepath.Join(baseDir, "license"),
		verifyingKey: verifyingKey,
		now:          time.Now,
	}
}

func (m *Manager) jsonPath() string       { return filepath.Join(m.dir, "license.json") }
func (m *Manager) sigPath() string        { return filepath.Join(m.dir, "license.sig") }
func (m *Manager) activationPath() string { return filepath.Join(m.dir, "activation.json") }
func (m *Manager) statusPath() string     { return filepath.Join(m.dir, "status.toml") }

// Install verifies the signature and schema of the given artifacts,
// copies them atomically into place, and writes a ProInvalid status
// ("activation required"). Install never auto-activates.
func (m *Manager) Install(jsonPath, sigPath string) error {
	payload, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("license install: read %s: %w", jsonPath, err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("license install: read %s: %w", sigPath, err)
	}
	var ent Entitlement
	if err := verifyAndParse(payload, sig, m.verifyingKey, &ent); err != nil {
		return fmt.Errorf("license install: %w", err)
	}

	if err := atomicfile.Write(m.jsonPath(), payload); err != nil {
		return fmt.Errorf("license install: write license.json: %w", err)
	}
	if err := atomicfile.Write(m.sigPath(), sig); err != nil {
		return fmt.Errorf("license install: write license.sig: %w", err)
	}

	return m.writeStatus(&Status{
		State:     ProInvalid,
		LicenseID: ent.LicenseID,
		Plan:      ent.Plan,
		Seats:     ent.Seats,
		CheckedS:  m.now().Unix(),
		Reason:    "activation required",
	})
}

// loadEntitlement reads and verifies the installed license. A missing
// artifact yields an error wrapping os.ErrNotExist; a signature or
// schema failure yields the verification or validation error.
func (m *Manager) loadEntitlement() (*Entitlement, error) {
	payload, err := os.ReadFile(m.jsonPath())
	if err != nil {
		return nil, fmt.Errorf("no license installed: %w", err)
	}
	sig, err := os.ReadFile(m.sigPath())
	if err != nil {
		return nil, fmt.Errorf("no license signature installed: %w", err)
	}
	var ent Entitlement
	if err := verifyAndParse(payload, sig, m.verifyingKey, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

func verifyAndParse(payload, sig, key []byte, out *Entitlement) error {
	if err := verify.Verify(payload, sig, key); err != nil {
		return fmt.Errorf("signature invalid: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("schema invalid: %w", err)
	}
	return out.Validate()
}

// Activate loads and verifies the installed license; if expired, it
// writes a ProExpired status. Otherwise it creates or reuses a
// persisted device UUID and writes a fresh activation record.
func (m *Manager) Activate() (*Status, error) {
	ent, err := m.loadEntitlement()
	if err != nil {
		return m.writeStatusReturning(&Status{State: ProInvalid, CheckedS: m.now().Unix(), Reason: err.Error()})
	}

	now := m.now().Unix()
	if ent.ExpiresAtS != nil && *ent.ExpiresAtS <= now {
		return m.writeStatusReturning(&Status{
			State: ProExpired, LicenseID: ent.LicenseID, Plan: ent.Plan, Seats: ent.Seats,
			ExpiresS: *ent.ExpiresAtS, CheckedS: now,
		})
	}

	deviceID, err := m.loadOrCreateDeviceID()
	if err != nil {
		return nil, fmt.Errorf("license activate: device id: %w", err)
	}
	activation := Activation{
		DeviceID:        deviceID,
		ActivatedAtS:    now,
		LicenseID:       ent.LicenseID,
		LastVerifiedAtS: now,
	}
	data, err := json.Marshal(activation)
	if err != nil {
		return nil, fmt.Errorf("license activate: encode activation: %w", err)
	}
	if err := atomicfile.Write(m.activationPath(), data); err != nil {
		return nil, fmt.Errorf("license activate: write activation: %w", err)
	}

	st := &Status{State: ProActive, LicenseID: ent.LicenseID, Plan: ent.Plan, Seats: ent.Seats, LastVerifiedS: now, CheckedS: now}
	if ent.ExpiresAtS != nil {
		st.ExpiresS = *ent.ExpiresAtS
	}
	return m.writeStatusReturning(st)
}

// Deactivate removes the activation file, if present, and recomputes status.
func (m *Manager) Deactivate() (*Status, error) {
	if err := os.Remove(m.activationPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("license deactivate: %w", err)
	}
	return m.Status()
}

// Status computes the current license state and rewrites status.toml.
func (m *Manager) Status() (*Status, error) {
	now := m.now().Unix()

	ent, err := m.loadEntitlement()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m.writeStatusReturning(&Status{State: Community, CheckedS: now})
		}
		return m.writeStatusReturning(&Status{State: ProInvalid, CheckedS: now, Reason: err.Error()})
	}

	if ent.ExpiresAtS != nil && *ent.ExpiresAtS <= now {
		return m.writeStatusReturning(&Status{
			State: ProExpired, LicenseID: ent.LicenseID, Plan: ent.Plan, Seats: ent.Seats,
			ExpiresS: *ent.ExpiresAtS, CheckedS: now,
		})
	}

	act, err := m.loadActivation()
	if err != nil || act.LicenseID != ent.LicenseID {
		return m.writeStatusReturning(&Status{
			State: ProInvalid, LicenseID: ent.LicenseID, Plan: ent.Plan, Seats: ent.Seats,
			CheckedS: now, Reason: "not activated on this device",
		})
	}

	act.LastVerifiedAtS = now
	if data, err := json.Marshal(act); err == nil {
		_ = atomicfile.Write(m.activationPath(), data)
	}

	st := &Status{State: ProActive, LicenseID: ent.LicenseID, Plan: ent.Plan, Seats: ent.Seats, LastVerifiedS: now, CheckedS: now}
	if ent.ExpiresAtS != nil {
		st.ExpiresS = *ent.ExpiresAtS
	}
	return m.writeStatusReturning(st)
}

func (m *Manager) loadActivation() (*Activation, error) {
	data, err := os.ReadFile(m.activationPath())
	if err != nil {
		return nil, err
	}
	var act Activation
	if err := json.Unmarshal(data, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// loadOrCreateDeviceID returns the persistent device UUID at
// baseDir/device_id.txt, creating it once if absent.
func (m *Manager) loadOrCreateDeviceID() (string, error) {
	path := filepath.Join(filepath.Dir(m.dir), "device_id.txt")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := atomicfile.Write(path, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) writeStatus(s *Status) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("license: encode status: %w", err)
	}
	return atomicfile.Write(m.statusPath(), []byte(buf.String()))
}

func (m *Manager) writeStatusReturning(s *Status) (*Status, error) {
	if err := m.writeStatus(s); err != nil {
		return s, err
	}
	return s, nil
}
