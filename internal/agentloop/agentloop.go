// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package agentloop implements the Agent Loop (component K, spec
// §4.K): the periodic tick that polls the failsafe, pulls events,
// drives detection and response, and lets the threat-feed scheduler
// advance.
package agentloop

import (
	"context"
	"log"
	"time"

	"github.com/aidefender/agent-core/internal/classify"
	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/correlate"
	"github.com/aidefender/agent-core/internal/eventsource"
	"github.com/aidefender/agent-core/internal/killswitch"
	"github.com/aidefender/agent-core/internal/license"
	"github.com/aidefender/agent-core/internal/response"
	"github.com/aidefender/agent-core/internal/threatfeed"
)

// TickInterval is the target agent-loop period (spec §4.K: "≈500 ms").
const TickInterval = 500 * time.Millisecond

// Loop owns every long-lived engine value the tick drives. It holds no
// globals; a single Loop value is threaded across ticks (spec §9).
type Loop struct {
	cfg       *config.Config
	engine    *correlate.Engine
	responder *response.Engine
	sm        *killswitch.StateMachine
	eff       killswitch.Effector
	source    eventsource.Source
	license   *license.Manager
	feedSched *threatfeed.Scheduler
	logger    *log.Logger
}

// New builds a Loop. strict mode is auto-demoted to Learning if
// activeRuleIDs is empty, per spec §4.K.
func New(
	cfg *config.Config,
	classifier *classify.Classifier,
	sm *killswitch.StateMachine,
	eff killswitch.Effector,
	source eventsource.Source,
	responder *response.Engine,
	lic *license.Manager,
	feedSched *threatfeed.Scheduler,
	activeRuleIDs []string,
	logger *log.Logger,
) *Loop {
	if cfg.Mode == config.ModeStrict && len(activeRuleIDs) == 0 {
		if logger != nil {
			logger.Printf("warning: strict mode requested but no active rule IDs are loaded; demoting to learning")
		}
		cfg.Mode = config.ModeLearning
	}
	return &Loop{
		cfg:       cfg,
		engine:    correlate.New(cfg, classifier),
		responder: responder,
		sm:        sm,
		eff:       eff,
		source:    source,
		license:   lic,
		feedSched: feedSched,
		logger:    logger,
	}
}

// Tick runs one iteration of the loop: poll failsafe, pull events,
// detect, respond, advance the threat-feed scheduler.
func (l *Loop) Tick(now time.Time) {
	if err := l.sm.PollFailsafe(l.eff, now); err != nil && l.logger != nil {
		l.logger.Printf("poll_failsafe: %v", err)
	}

	events := l.source.CollectOnce()
	if len(events) > 0 {
		incidents := l.engine.Process(l.cfg, events)
		for _, inc := range incidents {
			l.responder.Handle(inc)
		}
	}

	if l.feedSched != nil {
		licenseActive := false
		if l.license != nil {
			if st, err := l.license.Status(); err == nil {
				licenseActive = st.State == license.ProActive
			}
		}
		l.feedSched.Tick(l.cfg.ThreatFeed, licenseActive, now)
	}
}

// Run drives Tick on TickInterval until ctx is cancelled or stop
// receives a value — a stop signal wins over the next tick (spec §5).
func (l *Loop) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case t := <-ticker.C:
			l.Tick(t)
		}
	}
}
