// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package correlate implements the Correlation Engine (component C,
// spec §4.C): per-pid sliding-window state that ingests low-level OS
// events and emits findings, including the credential-exfiltration
// chain (sensitive file read followed by outbound connect).
package correlate

import (
	"fmt"

	"github.com/aidefender/agent-core/internal/allowlist"
	"github.com/aidefender/agent-core/internal/classify"
	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
)

const enumerationWindowMs = 10_000
const enumerationThreshold = 50

// procInfo is the per-pid process-info cache entry.
type procInfo struct {
	imagePath       string
	signerPublisher string
}

// sensitiveAccess is one entry in a per-pid FIFO deque of sensitive
// file accesses.
type sensitiveAccess struct {
	tMs      int64
	filePath string
	access   event.Access
	target   event.ProtectedTarget
}

// perPidState holds everything the engine tracks for a single pid.
type perPidState struct {
	proc        *procInfo
	sensitive   []sensitiveAccess
	enumeration []int64
}

// Engine owns all per-pid correlation state across ticks. A single
// Engine value must be reused across calls to Process — it holds no
// package-level globals (spec §9 "no globals").
type Engine struct {
	windowSeconds int
	classifier    *classify.Classifier
	publishers    *allowlist.Evaluator
	paths         *allowlist.Evaluator
	byPID         map[int]*perPidState
}

// New builds an Engine from configuration and a resolved path
// classifier.
func New(cfg *config.Config, classifier *classify.Classifier) *Engine {
	return &Engine{
		windowSeconds: cfg.CorrelationWindowSeconds,
		classifier:    classifier,
		publishers:    allowlist.New(cfg.Allowlist.Publishers, nil),
		paths:         allowlist.New(nil, cfg.Allowlist.PathsAllowlist),
		byPID:         make(map[int]*perPidState),
	}
}

func (e *Engine) state(pid int) *perPidState {
	s, ok := e.byPID[pid]
	if !ok {
		s = &perPidState{}
		e.byPID[pid] = s
	}
	return s
}

// windowMs returns the correlation window in milliseconds, defaulting
// to the config default if the engine was built with a non-positive
// value.
func (e *Engine) windowMs() int64 {
	w := e.windowSeconds
	if w <= 0 {
		w = config.DefaultConfig().CorrelationWindowSeconds
	}
	return int64(w) * 1000
}

func pruneSensitive(entries []sensitiveAccess, nowMs, windowMs int64) []sensitiveAccess {
	cutoff := nowMs - windowMs
	i := 0
	for i < len(entries) && entries[i].tMs < cutoff {
		i++
	}
	return entries[i:]
}

func pruneEnumeration(entries []int64, nowMs int64) []int64 {
	cutoff := nowMs - enumerationWindowMs
	i := 0
	for i < len(entries) && entries[i] < cutoff {
		i++
	}
	return entries[i:]
}

// Process ingests events in order and returns the Incidents produced,
// one per event that emitted at least one Finding.
func (e *Engine) Process(cfg *config.Config, events []event.Event) []event.Incident {
	var incidents []event.Incident
	for _, ev := range events {
		var findings []event.Finding
		switch ev.Kind {
		case event.KindProcessStart:
			e.handleProcessStart(ev)
		case event.KindFileAccess:
			findings = e.handleFileAccess(cfg, ev)
		case event.KindNetConnect:
			findings = e.handleNetConnect(cfg, ev)
		}
		if len(findings) > 0 {
			incidents = append(incidents, event.NewIncident(findings, ev.TMs))
		}
	}
	return incidents
}

func (e *Engine) handleProcessStart(ev event.Event) {
	st := e.state(ev.PID)
	st.proc = &procInfo{imagePath: ev.ImagePath, signerPublisher: ev.SignerPublisher}
}

// resolveProc returns the cached process-info for pid, synthesizing an
// entry from the event-carried image path if no ProcessStart was ever
// observed (tie-break per spec §4.C).
func (e *Engine) resolveProc(pid int, eventImagePath string) *procInfo {
	st := e.state(pid)
	if st.proc != nil {
		return st.proc
	}
	img := eventImagePath
	if img == "" {
		img = "<unknown>"
	}
	return &procInfo{imagePath: img}
}

// ruleForTarget maps a ProtectedTarget to its per-target rule ID
// (R001-R005). FirefoxKey4Db and FirefoxCookiesSqlite share R005: both
// are secondary Firefox credential-store artifacts and the spec names
// five rule IDs for six targets.
func ruleForTarget(t event.ProtectedTarget) string {
	switch t {
	case event.ChromeLoginData:
		return "R001"
	case event.ChromeCookies:
		return "R002"
	case event.ChromeLocalState:
		return "R003"
	case event.FirefoxLoginsJSON:
		return "R004"
	case event.FirefoxKey4DB, event.FirefoxCookiesSQLite:
		return "R005"
	default:
		return "R000"
	}
}

func capLearning(cfg *config.Config, sev event.Severity) event.Severity {
	if cfg.Mode == config.ModeLearning && sev > event.Yellow {
		return event.Yellow
	}
	return sev
}

func (e *Engine) handleFileAccess(cfg *config.Config, ev event.Event) []event.Finding {
	st := e.state(ev.PID)
	st.sensitive = pruneSensitive(st.sensitive, ev.TMs, e.windowMs())
	st.enumeration = pruneEnumeration(st.enumeration, ev.TMs)

	if e.paths.PathAllowlisted(ev.FilePath) {
		return nil
	}

	proc := e.resolveProc(ev.PID, ev.ImagePath)
	target := e.classifier.Classify(ev.FilePath)
	if target == event.TargetNone {
		return nil
	}

	// Pushed unconditionally: needed for later NetConnect correlation
	// even when finding emission is silenced below.
	st.sensitive = append(st.sensitive, sensitiveAccess{
		tMs: ev.TMs, filePath: ev.FilePath, access: ev.Access, target: target,
	})

	if classify.IsKnownBrowserImage(proc.imagePath) {
		return nil
	}

	var findings []event.Finding
	allowlisted := e.publishers.PublisherAllowlisted(proc.signerPublisher)

	if !allowlisted {
		findings = append(findings, event.Finding{
			RuleID:      ruleForTarget(target),
			Severity:    capLearning(cfg, event.Yellow),
			Description: fmt.Sprintf("untrusted process accessed protected artifact %s", target),
			Evidence: []event.Evidence{
				event.ProcessEvidence(ev.PID, proc.imagePath, proc.signerPublisher),
				event.FileEvidence(ev.FilePath, ev.Access, target),
			},
			TMs: ev.TMs,
		})

		if proc.signerPublisher == "" {
			findings = append(findings, event.Finding{
				RuleID:      "R008",
				Severity:    capLearning(cfg, event.Yellow),
				Description: "protected artifact accessed by a process with unknown publisher",
				Evidence: []event.Evidence{
					event.ProcessEvidence(ev.PID, proc.imagePath, proc.signerPublisher),
					event.FileEvidence(ev.FilePath, ev.Access, target),
				},
				TMs: ev.TMs,
			})
		}

		if e.classifier.IsUnderProtectedRoot(ev.FilePath) {
			st.enumeration = append(st.enumeration, ev.TMs)
			if len(st.enumeration) >= enumerationThreshold {
				findings = append(findings, event.Finding{
					RuleID:      "R007",
					Severity:    capLearning(cfg, event.Yellow),
					Description: "high-rate enumeration of protected root",
					Evidence: []event.Evidence{
						event.ProcessEvidence(ev.PID, proc.imagePath, proc.signerPublisher),
						event.FileEvidence(ev.FilePath, ev.Access, target),
					},
					TMs: ev.TMs,
				})
			}
		}
	}

	return findings
}

func (e *Engine) handleNetConnect(cfg *config.Config, ev event.Event) []event.Finding {
	st := e.state(ev.PID)
	st.sensitive = pruneSensitive(st.sensitive, ev.TMs, e.windowMs())

	if len(st.sensitive) == 0 {
		return nil
	}
	last := st.sensitive[len(st.sensitive)-1]

	proc := e.resolveProc(ev.PID, ev.ImagePath)
	if classify.IsKnownBrowserImage(proc.imagePath) {
		return nil
	}

	allowlisted := e.publishers.PublisherAllowlisted(proc.signerPublisher)
	suspicious := !allowlisted || !classify.IsKnownBrowserImage(proc.imagePath)
	if !suspicious {
		return nil
	}

	delta := ev.TMs - last.tMs
	if delta > e.windowMs() {
		return nil
	}

	findings := []event.Finding{{
		RuleID:      "R009",
		Severity:    event.Red,
		Description: "sensitive access followed by outbound connect",
		Evidence: []event.Evidence{
			event.FileEvidence(last.filePath, last.access, last.target),
			event.NetworkEvidence(ev.DestIP, ev.DestPort, ev.DestHost, ev.Protocol),
			event.CorrelationEvidence(e.windowSeconds, last.filePath, ev.DestIP, ev.DestHost, float64(delta)/1000.0),
		},
		TMs: ev.TMs,
	}}

	if ev.DestHost == "" {
		findings = append(findings, event.Finding{
			RuleID:      "R010",
			Severity:    event.Red,
			Description: "outbound connection to a direct IP / unknown host",
			Evidence: []event.Evidence{
				event.NetworkEvidence(ev.DestIP, ev.DestPort, ev.DestHost, ev.Protocol),
			},
			TMs: ev.TMs,
		})
	}

	return findings
}
