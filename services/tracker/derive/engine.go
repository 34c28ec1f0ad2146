// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package derive turns validated webhook events into durable state.
//
// The engine is the single writer: Dispatch serializes all event processing
// behind one mutex, so invariant checks and the writes that depend on them
// are atomic with respect to each other. Local writes commit first; cloud
// mirroring is best effort and never fails a dispatch.
package derive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/clock"
	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	"github.com/AleutianAI/HIALocal/services/tracker/observability"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/summary"
	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
)

const (
	// completionToleranceSec is how far short of the planned duration a
	// session may stop and still count as completed.
	completionToleranceSec = 60

	// breakAutoStopToleranceSec is how early a reasonless break stop may
	// arrive and still count as the break running to term.
	breakAutoStopToleranceSec = 5
)

// Engine derives tracker state from events.
type Engine struct {
	store   storage.Store
	repl    *tsync.Replicator
	gen     summary.Generator
	clock   clock.Clock
	metrics *observability.TrackerMetrics
	logger  *slog.Logger

	// mu serializes Dispatch. Handlers read state, check invariants, and
	// write; interleaving two dispatches could admit a second active
	// session or break.
	mu sync.Mutex
}

// NewEngine wires a derivation engine.
//
// gen may be nil; summaries then always use the fallback reflection.
// repl may be nil for local-only deployments.
func NewEngine(
	store storage.Store,
	repl *tsync.Replicator,
	gen summary.Generator,
	clk clock.Clock,
	metrics *observability.TrackerMetrics,
	logger *slog.Logger,
) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if repl == nil {
		repl = tsync.NewReplicator(nil, logger, metrics)
	}
	return &Engine{
		store:   store,
		repl:    repl,
		gen:     gen,
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch processes one validated event. It returns an
// *invariant.ViolationError for transitions that are illegal in the current
// state; any other error is a dependency failure.
func (e *Engine) Dispatch(ctx context.Context, ev *datatypes.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var err error
	switch ev.Type {
	case datatypes.EventHeartbeat:
		err = e.handleHeartbeat(ctx, ev.Heartbeat, ev.Timestamp)
	case datatypes.EventSessionStart:
		err = e.handleSessionStart(ctx, ev.SessionStart, false)
	case datatypes.EventSessionStop:
		err = e.handleSessionStop(ctx, ev.SessionStop)
	case datatypes.EventBreakStart:
		err = e.handleBreakStart(ctx, ev.BreakStart)
	case datatypes.EventBreakStop:
		err = e.handleBreakStop(ctx, ev.BreakStop)
	case datatypes.EventBreakSkip:
		err = e.handleBreakSkip(ctx, ev.BreakSkip)
	case datatypes.EventBlocklistEvent:
		err = e.handleBlocklistEvent(ctx, ev.Blocklist)
	default:
		err = fmt.Errorf("unknown event_type %q", ev.Type)
	}

	if e.metrics != nil {
		outcome := "ok"
		switch {
		case invariant.IsViolation(err):
			outcome = "conflict"
		case err != nil:
			outcome = "error"
		}
		e.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
		e.metrics.EventDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
	}
	return err
}

// AcknowledgeAlerts marks every unacknowledged alert log as acknowledged and
// returns how many were flipped.
func (e *Engine) AcknowledgeAlerts(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alerts, err := e.store.UnacknowledgedAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unacknowledged alerts: %w", err)
	}
	for _, alert := range alerts {
		metadata := make(map[string]any, len(alert.Metadata)+1)
		for k, v := range alert.Metadata {
			metadata[k] = v
		}
		metadata[datatypes.MetadataAcknowledged] = true
		if err := e.store.PatchLogMetadata(ctx, alert.ID, metadata); err != nil {
			return 0, fmt.Errorf("acknowledge log %s: %w", alert.ID, err)
		}
	}
	e.repl.Mirror(ctx, tsync.AcknowledgeAlertsOp())
	if len(alerts) > 0 {
		e.logger.Info("derive.engine: acknowledged alerts", "count", len(alerts))
	}
	return len(alerts), nil
}

// RecordAlert appends an alert log unless an unacknowledged alert of the
// same type already exists. The dedup scan and the append share the dispatch
// mutex, so two concurrent watchdog passes cannot both insert.
func (e *Engine) RecordAlert(ctx context.Context, draft datatypes.LogDraft) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alerts, err := e.store.UnacknowledgedAlerts(ctx)
	if err != nil {
		return false, fmt.Errorf("list unacknowledged alerts: %w", err)
	}
	for _, alert := range alerts {
		if alert.Type == draft.Type {
			return false, nil
		}
	}
	if _, err := e.store.AppendLog(ctx, draft); err != nil {
		return false, fmt.Errorf("append %s log: %w", draft.Type, err)
	}
	e.repl.Mirror(ctx, tsync.AppendLogOp(draft, true))
	return true, nil
}

// reflect generates the session reflection, degrading to the fallback when
// no generator is wired or the provider fails.
func (e *Engine) reflect(ctx context.Context, subject string, timeline []datatypes.TimelineEvent) summary.Reflection {
	if e.gen == nil {
		return summary.Fallback()
	}
	ref, err := e.gen.Generate(ctx, subject, timeline)
	if err != nil {
		e.logger.Warn("derive.engine: summary generation failed, using fallback",
			"subject", subject, "error", err)
		return summary.Fallback()
	}
	return ref
}
