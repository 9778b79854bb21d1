// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package allowlist implements case/whitespace-insensitive publisher
// and path-prefix membership checks (component B, spec §4.B).
package allowlist

import "strings"

// Evaluator checks a publisher or path against configured allowlists.
type Evaluator struct {
	publishers []string
	paths      []string
}

// New builds an Evaluator from configured publisher names and path
// prefixes. Empty entries are ignored, matching spec.md's "non-empty
// configured prefix" wording.
func New(publishers, pathPrefixes []string) *Evaluator {
	e := &Evaluator{}
	for _, p := range publishers {
		if norm := normalize(p); norm != "" {
			e.publishers = append(e.publishers, norm)
		}
	}
	for _, p := range pathPrefixes {
		if norm := strings.ToLower(p); norm != "" {
			e.paths = append(e.paths, norm)
		}
	}
	return e
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PublisherAllowlisted reports whether publisher is non-empty and its
// trimmed, case-folded form equals any configured publisher's trimmed,
// case-folded form.
func (e *Evaluator) PublisherAllowlisted(publisher string) bool {
	norm := normalize(publisher)
	if norm == "" {
		return false
	}
	for _, p := range e.publishers {
		if p == norm {
			return true
		}
	}
	return false
}

// PathAllowlisted reports whether any configured non-empty prefix is a
// case-folded prefix of path.
func (e *Evaluator) PathAllowlisted(path string) bool {
	norm := strings.ToLower(path)
	for _, prefix := range e.paths {
		if strings.HasPrefix(norm, prefix) {
			return true
		}
	}
	return false
}
