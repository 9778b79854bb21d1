// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package eventsource defines the event-collection seam (spec §9
// "event source as an interface"): the core depends only on a
// collect_once() contract, leaving the platform-specific bookmarked
// audit-log collector trivially replaceable by an in-memory source for
// tests and the simulate verb.
package eventsource

import (
	"log"
	"sync"

	"github.com/aidefender/agent-core/internal/event"
)

// Source collects whatever events are newly available since the last call.
type Source interface {
	CollectOnce() []event.Event
}

// MemorySource is an in-memory, queue-backed Source used by tests and
// by the `simulate` operator verb.
type MemorySource struct {
	mu     sync.Mutex
	queued []event.Event
}

// NewMemorySource builds an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Inject appends events to be returned by the next CollectOnce call.
func (m *MemorySource) Inject(events ...event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, events...)
}

// CollectOnce drains and returns all queued events.
func (m *MemorySource) CollectOnce() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queued
	m.queued = nil
	return out
}

// PlatformSource is a stub for the real bookmarked host audit-log
// collector (out of scope for this core, per spec §1/§9); it logs a
// single warning the first time it is invoked and always returns an
// empty event list thereafter, matching the event-source error policy
// in spec §7 ("log once per lifetime, return empty event list").
type PlatformSource struct {
	mu         sync.Mutex
	warnedOnce bool
	logger     *log.Logger
}

// NewPlatformSource builds a PlatformSource that logs through logger.
func NewPlatformSource(logger *log.Logger) *PlatformSource {
	return &PlatformSource{logger: logger}
}

// CollectOnce always returns an empty slice; the real host audit-log
// collector is a platform-specific external collaborator not
// implemented by this core.
func (p *PlatformSource) CollectOnce() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.warnedOnce {
		p.warnedOnce = true
		if p.logger != nil {
			p.logger.Printf("event source: no platform audit-log collector wired; returning no events")
		}
	}
	return nil
}
