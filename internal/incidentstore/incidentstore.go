// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package incidentstore implements the Incident Store (component E,
// spec §4.E): atomic write of incident records and mtime-ordered
// recent listing.
package incidentstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidefender/agent-core/internal/atomicfile"
	"github.com/aidefender/agent-core/internal/event"
)

// Store persists incidents as TOML records under baseDir/incidents.
type Store struct {
	dir string
}

// New builds a Store rooted at baseDir/incidents.
func New(baseDir string) *Store {
	return &Store{dir: filepath.Join(baseDir, "incidents")}
}

// record is the on-disk shape of an Incident; event.Incident's
// variant-bearing Finding/Evidence types encode directly since their
// fields are already flat structs tagged for TOML via this wrapper.
type record struct {
	IncidentID   string          `toml:"incident_id"`
	Severity     string          `toml:"severity"`
	Findings     []findingRecord `toml:"findings"`
	ActionsTaken []string        `toml:"actions_taken"`
	CreatedAtMs  int64           `toml:"created_at_ms"`
}

type findingRecord struct {
	RuleID      string           `toml:"rule_id"`
	Severity    string           `toml:"severity"`
	Description string           `toml:"description"`
	TMs         int64            `toml:"t_ms"`
	Evidence    []evidenceRecord `toml:"evidence"`
}

type evidenceRecord struct {
	Kind          string  `toml:"kind"`
	PID           int     `toml:"pid,omitempty"`
	ImagePath     string  `toml:"image_path,omitempty"`
	Publisher     string  `toml:"publisher,omitempty"`
	FilePath      string  `toml:"file_path,omitempty"`
	Access        string  `toml:"access,omitempty"`
	Target        string  `toml:"target,omitempty"`
	DestIP        string  `toml:"dest_ip,omitempty"`
	DestPort      int     `toml:"dest_port,omitempty"`
	DestHost      string  `toml:"dest_host,omitempty"`
	Protocol      string  `toml:"protocol,omitempty"`
	WindowS       int     `toml:"window_s,omitempty"`
	SensitiveFile string  `toml:"sensitive_file,omitempty"`
	DeltaS        float64 `toml:"delta_s,omitempty"`
	Message       string  `toml:"message,omitempty"`
}

func evidenceKindName(k event.EvidenceKind) string {
	switch k {
	case event.EvidenceProcess:
		return "Process"
	case event.EvidenceFile:
		return "File"
	case event.EvidenceNetwork:
		return "Network"
	case event.EvidenceCorrelation:
		return "Correlation"
	case event.EvidenceNote:
		return "Note"
	default:
		return "Unknown"
	}
}

func toRecord(inc event.Incident) record {
	r := record{
		IncidentID:   inc.IncidentID,
		Severity:     inc.Severity.String(),
		ActionsTaken: inc.ActionsTaken,
		CreatedAtMs:  inc.CreatedAtMs,
	}
	for _, f := range inc.Findings {
		fr := findingRecord{
			RuleID: f.RuleID, Severity: f.Severity.String(),
			Description: f.Description, TMs: f.TMs,
		}
		for _, ev := range f.Evidence {
			fr.Evidence = append(fr.Evidence, evidenceRecord{
				Kind: evidenceKindName(ev.Kind), PID: ev.PID, ImagePath: ev.ImagePath,
				Publisher: ev.Publisher, FilePath: ev.FilePath, Access: ev.Access.String(),
				Target: ev.Target.String(), DestIP: ev.DestIP, DestPort: ev.DestPort,
				DestHost: ev.DestHost, Protocol: ev.Protocol, WindowS: ev.WindowS,
				SensitiveFile: ev.SensitiveFile, DeltaS: ev.DeltaS, Message: ev.Message,
			})
		}
		r.Findings = append(r.Findings, fr)
	}
	return r
}

// StoreIncident creates the incidents directory if absent and
// atomically writes inc to {id}.toml.
func (s *Store) StoreIncident(inc event.Incident) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("incidentstore: create directory: %w", err)
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(toRecord(inc)); err != nil {
		return fmt.Errorf("incidentstore: encode incident: %w", err)
	}
	path := filepath.Join(s.dir, inc.IncidentID+".toml")
	return atomicfile.Write(path, []byte(buf.String()))
}

// Summary is the lightweight view returned by ListRecent.
type Summary struct {
	IncidentID   string
	Severity     string
	ActionsTaken []string
	CreatedAtMs  int64
}

// ListRecent enumerates the incidents directory, orders entries by
// mtime descending, and parses up to limit entries, tolerating
// per-entry parse/IO failures.
func (s *Store) ListRecent(limit int) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("incidentstore: list directory: %w", err)
	}

	type fileInfo struct {
		path  string
		mtime int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.dir, e.Name()), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })

	var out []Summary
	for _, f := range files {
		if len(out) >= limit {
			break
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		var r record
		if _, err := toml.Decode(string(data), &r); err != nil {
			continue
		}
		out = append(out, Summary{
			IncidentID: r.IncidentID, Severity: r.Severity,
			ActionsTaken: r.ActionsTaken, CreatedAtMs: r.CreatedAtMs,
		})
	}
	return out, nil
}
