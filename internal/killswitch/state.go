// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package killswitch

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidefender/agent-core/internal/atomicfile"
)

// Mode identifies how the kill switch came to be engaged.
type Mode string

const (
	ModeNone        Mode = ""
	ModeManual      Mode = "Manual"
	ModeAutoRedOnly Mode = "AutoRedOnly"
)

// State is the persisted kill-switch state (spec §3 KillSwitchState).
type State struct {
	Enabled            bool   `toml:"enabled"`
	KeepLocked         bool   `toml:"keep_locked"`
	EnabledMode        Mode   `toml:"enabled_mode"`
	EnabledAtMs        int64  `toml:"enabled_at_ms"`
	FailsafeDeadlineMs int64  `toml:"failsafe_deadline_ms"`
	LastIncidentID     string `toml:"last_incident_id"`
}

// LoadState reads the persisted state from path. A missing file is not
// an error — it reports the zero (Off) state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read killswitch state %s: %w", path, err)
	}
	var s State
	if _, err := toml.Decode(string(data), &s); err != nil {
		return nil, fmt.Errorf("parse killswitch state %s: %w", path, err)
	}
	return &s, nil
}

// SaveState atomically writes s to path.
func SaveState(path string, s *State) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode killswitch state: %w", err)
	}
	return atomicfile.Write(path, []byte(buf.String()))
}
