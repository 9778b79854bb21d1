// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package event defines the core data model shared by every detection
// and response component: the event stream shape, the finding/evidence
// types the Correlation Engine emits, and the Incident aggregate the
// Response Engine and Incident Store persist.
package event

import (
	"github.com/google/uuid"
)

// Kind identifies which Event variant a value holds.
type Kind int

const (
	KindProcessStart Kind = iota
	KindFileAccess
	KindNetConnect
)

// Access identifies a FileAccess event's access mode.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessDelete
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Event is a tagged union over the three low-level OS events the
// Correlation Engine ingests. Exactly one of the per-kind fields below
// is meaningful, selected by Kind.
type Event struct {
	Kind Kind
	TMs  int64 // event timestamp, milliseconds since epoch

	// ProcessStart fields.
	PID             int
	PPID            int
	ImagePath       string
	SignerPublisher string // optional; empty means unknown/unsigned

	// FileAccess fields (PID, ImagePath also apply; ImagePath optional here).
	FilePath string
	Access   Access

	// NetConnect fields (PID, ImagePath also apply; ImagePath optional here).
	DestIP   string
	DestPort int
	DestHost string // optional
	Protocol string
}

// ProcessStart constructs a ProcessStart event.
func ProcessStart(pid, ppid int, imagePath, signerPublisher string, tMs int64) Event {
	return Event{
		Kind: KindProcessStart, PID: pid, PPID: ppid,
		ImagePath: imagePath, SignerPublisher: signerPublisher, TMs: tMs,
	}
}

// FileAccessEvent constructs a FileAccess event.
func FileAccessEvent(pid int, imagePath, filePath string, access Access, tMs int64) Event {
	return Event{
		Kind: KindFileAccess, PID: pid, ImagePath: imagePath,
		FilePath: filePath, Access: access, TMs: tMs,
	}
}

// NetConnectEvent constructs a NetConnect event.
func NetConnectEvent(pid int, imagePath, destIP string, destPort int, destHost, protocol string, tMs int64) Event {
	return Event{
		Kind: KindNetConnect, PID: pid, ImagePath: imagePath,
		DestIP: destIP, DestPort: destPort, DestHost: destHost, Protocol: protocol, TMs: tMs,
	}
}

// ProtectedTarget identifies a specific browser credential/cookie
// artifact whose read by an untrusted process is a signal.
type ProtectedTarget int

const (
	TargetNone ProtectedTarget = iota
	ChromeLoginData
	ChromeCookies
	ChromeLocalState
	FirefoxLoginsJSON
	FirefoxKey4DB
	FirefoxCookiesSQLite
)

func (t ProtectedTarget) String() string {
	switch t {
	case ChromeLoginData:
		return "ChromeLoginData"
	case ChromeCookies:
		return "ChromeCookies"
	case ChromeLocalState:
		return "ChromeLocalState"
	case FirefoxLoginsJSON:
		return "FirefoxLoginsJson"
	case FirefoxKey4DB:
		return "FirefoxKey4Db"
	case FirefoxCookiesSQLite:
		return "FirefoxCookiesSqlite"
	default:
		return "None"
	}
}

// Severity is a monotone ordering: Green < Yellow < Red.
type Severity int

const (
	Green Severity = iota
	Yellow
	Red
)

func (s Severity) String() string {
	switch s {
	case Green:
		return "Green"
	case Yellow:
		return "Yellow"
	case Red:
		return "Red"
	default:
		return "Unknown"
	}
}

// Max returns the greater of two severities.
func Max(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// EvidenceKind identifies which Evidence variant a value holds.
type EvidenceKind int

const (
	EvidenceProcess EvidenceKind = iota
	EvidenceFile
	EvidenceNetwork
	EvidenceCorrelation
	EvidenceNote
)

// Evidence is a tagged union attached to a Finding.
type Evidence struct {
	Kind EvidenceKind

	// Process evidence.
	PID       int
	ImagePath string
	Publisher string

	// File evidence.
	FilePath string
	Access   Access
	Target   ProtectedTarget

	// Network evidence.
	DestIP   string
	DestPort int
	DestHost string
	Protocol string

	// Correlation evidence.
	WindowS       int
	SensitiveFile string
	DeltaS        float64

	// Note evidence.
	Message string
}

func ProcessEvidence(pid int, imagePath, publisher string) Evidence {
	return Evidence{Kind: EvidenceProcess, PID: pid, ImagePath: imagePath, Publisher: publisher}
}

func FileEvidence(filePath string, access Access, target ProtectedTarget) Evidence {
	return Evidence{Kind: EvidenceFile, FilePath: filePath, Access: access, Target: target}
}

func NetworkEvidence(destIP string, destPort int, destHost, protocol string) Evidence {
	return Evidence{Kind: EvidenceNetwork, DestIP: destIP, DestPort: destPort, DestHost: destHost, Protocol: protocol}
}

func CorrelationEvidence(windowS int, sensitiveFile, destIP, destHost string, deltaS float64) Evidence {
	return Evidence{
		Kind: EvidenceCorrelation, WindowS: windowS, SensitiveFile: sensitiveFile,
		DestIP: destIP, DestHost: destHost, DeltaS: deltaS,
	}
}

func NoteEvidence(message string) Evidence {
	return Evidence{Kind: EvidenceNote, Message: message}
}

// Finding is a single rule firing.
type Finding struct {
	RuleID      string
	Severity    Severity
	Description string
	Evidence    []Evidence
	TMs         int64
}

// Incident aggregates one or more findings produced by a single
// correlation step. Severity is the max of its findings' severities.
type Incident struct {
	IncidentID    string
	Severity      Severity
	Findings      []Finding
	ActionsTaken  []string
	CreatedAtMs   int64
}

// NewIncident creates an Incident from findings emitted together,
// computing severity as their max and stamping a fresh UUID v4.
func NewIncident(findings []Finding, nowMs int64) Incident {
	sev := Green
	for _, f := range findings {
		sev = Max(sev, f.Severity)
	}
	return Incident{
		IncidentID:  uuid.NewString(),
		Severity:    sev,
		Findings:    findings,
		CreatedAtMs: nowMs,
	}
}
