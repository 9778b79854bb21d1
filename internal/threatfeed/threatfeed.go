// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package threatfeed implements the Threat Feed Manager (component J,
// spec §4.J): import, verification, scheduled HTTPS refresh with
// host-pinning, and last-known-good fallback for a signed
// threat-intelligence bundle.
package threatfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aidefender/agent-core/internal/atomicfile"
	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/verify"
)

const (
	maxBundleBytes    = 2 * 1024 * 1024
	maxSignatureBytes = 8 * 1024
	userAgentPrefix   = "AI-Defender/"
)

// Rule is one reputation/severity rule in the bundle.
type Rule struct {
	RuleID              string `json:"rule_id"`
	Enabled             bool   `json:"enabled"`
	SeverityFloor       string `json:"severity_floor"`
	SeverityCapLearning string `json:"severity_cap_learning"`
	SeverityStrict      string `json:"severity_strict"`
	Notes               string `json:"notes,omitempty"`
}

// Reputation lists of known-bad indicators.
type Reputation struct {
	DomainsBlock        []string `json:"domains_block"`
	HashesBlock         []string `json:"hashes_block"`
	WalletSpendersBlock []string `json:"wallet_spenders_block"`
}

// Bundle is the threat-feed payload (spec §3).
type Bundle struct {
	Version      int        `json:"version"`
	BundleID     string     `json:"bundle_id"`
	CreatedAtS   int64      `json:"created_at_s"`
	RulesVersion int        `json:"rules_version"`
	Reputation   Reputation `json:"reputation"`
	Rules        []Rule     `json:"rules"`
}

// Validate checks the bundle's schema per spec §4.J.
func (b *Bundle) Validate() error {
	if b.Version != 1 {
		return fmt.Errorf("threatfeed: unsupported version %d", b.Version)
	}
	if _, err := uuid.Parse(b.BundleID); err != nil {
		return fmt.Errorf("threatfeed: invalid bundle_id: %w", err)
	}
	if b.CreatedAtS == 0 {
		return fmt.Errorf("threatfeed: created_at_s must be non-zero")
	}
	if b.RulesVersion < 1 {
		return fmt.Errorf("threatfeed: rules_version must be >= 1")
	}
	for i, r := range b.Rules {
		if strings.TrimSpace(r.RuleID) == "" {
			return fmt.Errorf("threatfeed: rule %d has an empty rule_id", i)
		}
	}
	return nil
}

// Meta is the small diagnostic/bookkeeping record written alongside
// the bundle.
type Meta struct {
	LastImportedAtS int64  `json:"last_imported_at_s,omitempty"`
	LastVerifiedAtS int64  `json:"last_verified_at_s,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	LastErrorAtS    int64  `json:"last_error_at_s,omitempty"`
}

// Manager operates on the threat-feed artifacts under a base directory.
type Manager struct {
	dir          string
	verifyingKey []byte
	now          func() time.Time
	httpClient   *http.Client
	version      string
}

// New builds a Manager rooted at baseDir/threat-feed.
func New(baseDir string, verifyingKey []byte, agentVersion string) *Manager {
	return &Manager{
		dir:          filepath.Join(baseDir, "threat-feed"),
		verifyingKey: verifyingKey,
		now:          time.Now,
		version:      agentVersion,
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (m *Manager) bundlePath() string     { return filepath.Join(m.dir, "bundle.json") }
func (m *Manager) sigPath() string        { return filepath.Join(m.dir, "bundle.sig") }
func (m *Manager) lastGoodBundle() string { return filepath.Join(m.dir, "bundle.json.last-good") }
func (m *Manager) lastGoodSig() string    { return filepath.Join(m.dir, "bundle.sig.last-good") }
func (m *Manager) statePath() string      { return filepath.Join(m.dir, "state.toml") }
func (m *Manager) metaPath() string       { return filepath.Join(m.dir, "meta.json") }

// VerifyFiles verifies the signature and schema of the given artifacts
// and returns the parsed bundle.
func (m *Manager) VerifyFiles(bundlePath, sigPath string) (*Bundle, error) {
	payload, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("threatfeed: read bundle: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("threatfeed: read signature: %w", err)
	}
	return m.verifyAndParse(payload, sig)
}

func (m *Manager) verifyAndParse(payload, sig []byte) (*Bundle, error) {
	if err := verify.Verify(payload, sig, m.verifyingKey); err != nil {
		return nil, fmt.Errorf("signature invalid: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("schema invalid: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Import verifies and atomically installs bundle+signature, retains a
// last-known-good copy, and updates metadata.
func (m *Manager) Import(bundlePath, sigPath string) error {
	payload, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("threatfeed import: read bundle: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("threatfeed import: read signature: %w", err)
	}
	if _, err := m.verifyAndParse(payload, sig); err != nil {
		return fmt.Errorf("threatfeed import: %w", err)
	}
	return m.install(payload, sig)
}

func (m *Manager) install(payload, sig []byte) error {
	if err := atomicfile.Write(m.bundlePath(), payload); err != nil {
		return fmt.Errorf("threatfeed install: write bundle: %w", err)
	}
	if err := atomicfile.Write(m.sigPath(), sig); err != nil {
		return fmt.Errorf("threatfeed install: write signature: %w", err)
	}
	if err := atomicfile.Write(m.lastGoodBundle(), payload); err != nil {
		return fmt.Errorf("threatfeed install: write last-known-good bundle: %w", err)
	}
	if err := atomicfile.Write(m.lastGoodSig(), sig); err != nil {
		return fmt.Errorf("threatfeed install: write last-known-good signature: %w", err)
	}
	now := m.now().Unix()
	return m.writeMeta(&Meta{LastImportedAtS: now, LastVerifiedAtS: now})
}

// LoadCurrent attempts to verify the installed bundle, falling back to
// the last-known-good copy on any failure.
func (m *Manager) LoadCurrent() (*Bundle, error) {
	if b, err := m.VerifyFiles(m.bundlePath(), m.sigPath()); err == nil {
		return b, nil
	}
	b, err := m.VerifyFiles(m.lastGoodBundle(), m.lastGoodSig())
	if err != nil {
		return nil, fmt.Errorf("threatfeed: no valid current or last-known-good bundle: %w", err)
	}
	return b, nil
}

func (m *Manager) writeMeta(meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("threatfeed: encode metadata: %w", err)
	}
	return atomicfile.Write(m.metaPath(), data)
}

func (m *Manager) recordFailure(reason string) {
	_ = m.writeMeta(&Meta{LastError: reason, LastErrorAtS: m.now().Unix()})
}

// AutoRefreshEligibility reports whether scheduled refresh is eligible
// per spec §4.J: auto_refresh on, license active, and endpoint config
// valid.
func AutoRefreshEligibility(cfg config.ThreatFeedConfig, licenseActive bool) bool {
	if !cfg.AutoRefresh || !licenseActive {
		return false
	}
	if cfg.RefreshIntervalMinutes <= 0 || cfg.TimeoutSeconds <= 0 {
		return false
	}
	if len(cfg.Endpoints) == 0 {
		return false
	}
	for _, ep := range cfg.Endpoints {
		if !strings.HasPrefix(ep, "https://") {
			return false
		}
		host := hostOf(ep)
		if host == "" || !hostAllowlisted(host, cfg.AllowlistDomains) {
			return false
		}
	}
	return true
}

func hostOf(rawURL string) string {
	rest := strings.TrimPrefix(rawURL, "https://")
	if i := strings.IndexAny(rest, "/:"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func hostAllowlisted(host string, allowlist []string) bool {
	for _, h := range allowlist {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return true
		}
	}
	return false
}

// RefreshNow fetches bundle.json and bundle.sig from the first
// configured endpoint over HTTPS, bounded by size and timeout, and
// installs them on success. Any failure records a diagnostic without
// touching the installed bundle.
func (m *Manager) RefreshNow(cfg config.ThreatFeedConfig, licenseActive bool) error {
	if !AutoRefreshEligibility(cfg, licenseActive) {
		err := errors.New("threatfeed: refresh_now called while ineligible")
		m.recordFailure(err.Error())
		return err
	}

	endpoint := strings.TrimSuffix(cfg.Endpoints[0], "/")
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	payload, err := m.fetchBounded(endpoint+"/bundle.json", maxBundleBytes, timeout)
	if err != nil {
		m.recordFailure(fmt.Sprintf("fetch bundle: %v", err))
		return err
	}
	sig, err := m.fetchBounded(endpoint+"/bundle.sig", maxSignatureBytes, timeout)
	if err != nil {
		m.recordFailure(fmt.Sprintf("fetch signature: %v", err))
		return err
	}

	if _, err := m.verifyAndParse(payload, sig); err != nil {
		m.recordFailure(fmt.Sprintf("verify: %v", err))
		return err
	}
	if err := m.install(payload, sig); err != nil {
		m.recordFailure(fmt.Sprintf("install: %v", err))
		return err
	}
	return nil
}

func (m *Manager) fetchBounded(url string, maxBytes int64, timeout time.Duration) ([]byte, error) {
	if !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("threatfeed: refusing non-HTTPS endpoint %s", url)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentPrefix+m.version)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("threatfeed: unexpected status %d from %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("threatfeed: response from %s exceeds %d bytes", url, maxBytes)
	}
	return data, nil
}

// SchedulerState tracks the next scheduled refresh time.
type SchedulerState struct {
	NextDueMs int64 `toml:"next_due_ms"`
	Set       bool  `toml:"set"`
}

// Scheduler implements AutoRefreshScheduler.tick (spec §4.J).
type Scheduler struct {
	manager *Manager
	state   SchedulerState
}

// NewScheduler builds a Scheduler bound to manager.
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{manager: manager}
}

// Tick advances the scheduler by one agent-loop tick. If refresh is
// ineligible, next_due is cleared. Otherwise, it is set on first
// eligibility and, once due, triggers RefreshNow (ignoring its
// outcome) before being re-armed.
func (s *Scheduler) Tick(cfg config.ThreatFeedConfig, licenseActive bool, now time.Time) {
	if !AutoRefreshEligibility(cfg, licenseActive) {
		s.state = SchedulerState{}
		return
	}
	interval := time.Duration(cfg.RefreshIntervalMinutes) * time.Minute
	nowMs := now.UnixMilli()

	if !s.state.Set {
		s.state = SchedulerState{NextDueMs: now.Add(interval).UnixMilli(), Set: true}
		return
	}
	if nowMs >= s.state.NextDueMs {
		_ = s.manager.RefreshNow(cfg, licenseActive)
		s.state.NextDueMs = now.Add(interval).UnixMilli()
	}
}
