// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package config loads and normalizes the agent's TOML configuration
// file, including legacy-field upgrade and defaulting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aidefender/agent-core/internal/atomicfile"
)

// Config holds the agent's full configuration surface (spec.md §6).
type Config struct {
	Mode                     string           `toml:"mode"`
	CorrelationWindowSeconds int              `toml:"correlation_window_seconds"`
	Logging                  LoggingConfig    `toml:"logging"`
	KillSwitch               KillSwitchConfig `toml:"killswitch"`
	Allowlist                AllowlistConfig  `toml:"allowlist"`
	Protected                ProtectedConfig  `toml:"protected"`
	ThreatFeed               ThreatFeedConfig `toml:"threat_feed"`

	// Legacy fields, read during upgrade and never written back.
	Safety          LegacySafety `toml:"safety,omitempty"`
	FailsafeMinutes *uint64      `toml:"failsafe_minutes"`
}

// LegacySafety holds the pre-upgrade "safety.strict_mode" field.
type LegacySafety struct {
	StrictMode bool `toml:"strict_mode"`
}

// LoggingConfig controls log verbosity and rolling-file retention (the
// rolling file writer itself is out-of-scope plumbing; this config is
// the interface the core exposes to it).
type LoggingConfig struct {
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// KillSwitchConfig controls whether and how the kill switch may engage.
type KillSwitchConfig struct {
	Enabled         bool   `toml:"enabled"`
	AutoTrigger     bool   `toml:"auto_trigger"`
	FailsafeMinutes uint64 `toml:"failsafe_minutes"`
}

// AllowlistConfig names trusted publishers and path prefixes.
type AllowlistConfig struct {
	Publishers     []string `toml:"publishers"`
	PathsAllowlist []string `toml:"paths_allowlist"`
}

// ProtectedConfig names the leaf filenames that make a path a
// protected browser artifact.
type ProtectedConfig struct {
	ChromeTargets  []string `toml:"chrome_targets"`
	FirefoxTargets []string `toml:"firefox_targets"`
}

// ThreatFeedConfig controls the threat-feed's scheduled HTTPS refresh.
type ThreatFeedConfig struct {
	AutoRefresh            bool     `toml:"auto_refresh"`
	RefreshIntervalMinutes int      `toml:"refresh_interval_minutes"`
	Endpoints              []string `toml:"endpoints"`
	AllowlistDomains       []string `toml:"allowlist_domains"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
}

const (
	ModeLearning = "learning"
	ModeStrict   = "strict"
)

// DefaultConfig returns a Config with the defaults named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Mode:                     ModeLearning,
		CorrelationWindowSeconds: 120,
		Logging: LoggingConfig{
			Level:         "info",
			RetentionDays: 14,
		},
		KillSwitch: KillSwitchConfig{
			Enabled:         true,
			AutoTrigger:     true,
			FailsafeMinutes: 10,
		},
		Protected: ProtectedConfig{
			ChromeTargets:  []string{"Login Data", "Cookies", "Local State"},
			FirefoxTargets: []string{"logins.json", "key4.db", "cookies.sqlite"},
		},
		ThreatFeed: ThreatFeedConfig{
			AutoRefresh:            false,
			RefreshIntervalMinutes: 60,
			TimeoutSeconds:         10,
		},
	}
}

// Load reads the TOML configuration at path, applying defaults for any
// field the file does not set, then normalizing legacy fields and
// validating threat-feed endpoints. Any normalization rewrites the
// config back to path, after backing up the prior file with a
// timestamped suffix. A missing file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	rewriteNeeded := false
	defaultFailsafe := DefaultConfig().KillSwitch.FailsafeMinutes

	if _, decodeErr := toml.Decode(string(data), cfg); decodeErr != nil {
		// Invalid TOML: back up the offending file, fall through to
		// defaults, and rewrite a clean config in its place.
		if backupErr := backupFile(path); backupErr != nil {
			return nil, fmt.Errorf("parse config file %s: %w (backup also failed: %v)", path, decodeErr, backupErr)
		}
		cfg = DefaultConfig()
		rewriteNeeded = true
	} else {
		if cfg.Safety.StrictMode {
			cfg.Mode = ModeStrict
			rewriteNeeded = true
		}
		if cfg.FailsafeMinutes != nil && cfg.KillSwitch.FailsafeMinutes == defaultFailsafe {
			cfg.KillSwitch.FailsafeMinutes = *cfg.FailsafeMinutes
			rewriteNeeded = true
		}
	}
	cfg.Safety = LegacySafety{}
	cfg.FailsafeMinutes = nil

	if cfg.Mode != ModeLearning && cfg.Mode != ModeStrict {
		cfg.Mode = ModeLearning
		rewriteNeeded = true
	}

	if cfg.ThreatFeed.AutoRefresh && !validThreatFeedEndpoints(cfg.ThreatFeed) {
		cfg.ThreatFeed.AutoRefresh = false
		rewriteNeeded = true
	}

	if rewriteNeeded {
		if err := backupFile(path); err != nil {
			return cfg, fmt.Errorf("backup prior config: %w", err)
		}
		if err := Save(path, cfg); err != nil {
			return cfg, fmt.Errorf("rewrite normalized config: %w", err)
		}
	}

	return cfg, nil
}

// Save atomically writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return atomicfile.Write(path, []byte(buf.String()))
}

// backupFile copies the file at path to path.bak-<unix-timestamp>. A
// missing source file is not an error.
func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backupPath := fmt.Sprintf("%s.bak-%d", path, time.Now().Unix())
	return os.WriteFile(backupPath, data, 0o644)
}

// validThreatFeedEndpoints reports whether the threat-feed config's
// endpoint set satisfies spec.md §4.J's auto-refresh eligibility rule:
// HTTPS only, non-empty, every host pinned in allowlist_domains, and
// positive interval/timeout.
func validThreatFeedEndpoints(tf ThreatFeedConfig) bool {
	if tf.RefreshIntervalMinutes <= 0 || tf.TimeoutSeconds <= 0 {
		return false
	}
	if len(tf.Endpoints) == 0 {
		return false
	}
	for _, ep := range tf.Endpoints {
		if ep == "" || !strings.HasPrefix(ep, "https://") {
			return false
		}
		host := hostOf(ep)
		if host == "" || !hostAllowlisted(host, tf.AllowlistDomains) {
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

// IdentityFallback returns the local hostname, for use as an agent
// identity where configuration names none (mirrors the teacher's
// client_id-from-hostname default). Load does not call it.
func IdentityFallback() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname lookup failed: %w", err)
	}
	return h, nil
}

// BaseDir returns the default base directory for persisted state,
// honoring ProgramData with a documented fallback.
func BaseDir() string {
	if v := os.Getenv("ProgramData"); v != "" {
		return filepath.Join(v, "AI-Defender")
	}
	return filepath.Join(string(os.PathSeparator), "ProgramData", "AI-Defender")
}
