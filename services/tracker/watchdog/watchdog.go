// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watchdog detects state that went stale between events: expired
// breaks and machines that stopped sending heartbeats.
//
// The checks are idempotent and run from two places with the same semantics:
// lazily on every status read, and periodically from the background
// scheduler. Whichever runs first wins; the loser sees no work left.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/clock"
	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	"github.com/AleutianAI/HIALocal/services/tracker/observability"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// HeartbeatGapThreshold is the silence after which a machine with an active
// session or break counts as offline. Clients ping every 30 seconds; the
// extra 3 give slow requests room.
const HeartbeatGapThreshold = 33 * time.Second

// Dispatcher processes synthetic events and alerts the watchdog raises.
// Both entry points serialize behind the engine's dispatch mutex, so the
// watchdog never races a concurrent event or its own second invocation.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *datatypes.Event) error
	RecordAlert(ctx context.Context, draft datatypes.LogDraft) (bool, error)
}

// Watchdog runs the lazy state checks.
type Watchdog struct {
	store      storage.Store
	dispatcher Dispatcher
	clock      clock.Clock
	metrics    *observability.TrackerMetrics
	logger     *slog.Logger
}

// New wires a watchdog.
func New(
	store storage.Store,
	dispatcher Dispatcher,
	clk clock.Clock,
	metrics *observability.TrackerMetrics,
	logger *slog.Logger,
) *Watchdog {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunChecks performs both checks and reports whether state changed.
func (w *Watchdog) RunChecks(ctx context.Context) (bool, error) {
	changed := false

	expired, err := w.checkBreakExpiry(ctx)
	if err != nil {
		return changed, err
	}
	changed = changed || expired

	detected, err := w.checkMissedHeartbeat(ctx)
	if err != nil {
		return changed, err
	}
	return changed || detected, nil
}

// checkBreakExpiry stops a break that ran past its planned duration. The
// stop goes through the normal dispatch path, so the stored next session
// starts exactly as if the client had sent the event on time.
func (w *Watchdog) checkBreakExpiry(ctx context.Context) (bool, error) {
	b, err := invariant.ActiveBreak(ctx, w.store)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	sess, err := invariant.ActiveSession(ctx, w.store)
	if err != nil {
		return false, err
	}
	if sess != nil {
		return false, nil
	}

	elapsed := w.clock.Now().Sub(b.StartedAt).Seconds()
	if elapsed < float64(b.DurationSec) {
		return false, nil
	}

	w.logger.Info("watchdog: break expired, stopping",
		"elapsed_sec", int(elapsed),
		"duration_sec", b.DurationSec)
	err = w.dispatcher.Dispatch(ctx, &datatypes.Event{
		Type:      datatypes.EventBreakStop,
		BreakStop: &datatypes.BreakStopEvent{},
	})
	if invariant.IsViolation(err) {
		// A concurrent event already ended the break. The work is done
		// either way.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stop expired break: %w", err)
	}
	if w.metrics != nil {
		w.metrics.WatchdogDetections.WithLabelValues("break_expired").Inc()
	}
	return true, nil
}

// checkMissedHeartbeat appends a missed_heartbeat alert when the machine has
// gone silent during an active session or break. One unacknowledged alert at
// a time: repeats are suppressed until the user acknowledges.
func (w *Watchdog) checkMissedHeartbeat(ctx context.Context) (bool, error) {
	sess, err := invariant.ActiveSession(ctx, w.store)
	if err != nil {
		return false, err
	}
	b, err := invariant.ActiveBreak(ctx, w.store)
	if err != nil {
		return false, err
	}
	if sess == nil && b == nil {
		return false, nil
	}

	v, err := w.store.Variable(ctx, datatypes.VarLastHeartbeat)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query heartbeat: %w", err)
	}
	hb, err := datatypes.DecodeHeartbeatValue(v.Value)
	if err != nil {
		return false, fmt.Errorf("decode heartbeat: %w", err)
	}

	gap := w.clock.Now().Sub(hb.Timestamp)
	if gap <= HeartbeatGapThreshold {
		return false, nil
	}

	gapMinutes := gap.Minutes()
	logDraft := datatypes.LogDraft{
		Type: datatypes.LogMissedHeartbeat,
		Message: fmt.Sprintf("MISSED_HEARTBEAT: No ping for %.1fm. Check machine connectivity.",
			gapMinutes),
		Metadata: map[string]any{
			"last_seen":                    hb.Timestamp,
			"gap_minutes":                  gapMinutes,
			datatypes.MetadataAcknowledged: false,
		},
	}
	if sess != nil {
		logDraft.Session = sess.ID
	}
	inserted, err := w.dispatcher.RecordAlert(ctx, logDraft)
	if err != nil {
		return false, fmt.Errorf("record missed_heartbeat alert: %w", err)
	}
	if !inserted {
		// An unacknowledged alert already covers the gap.
		return false, nil
	}

	if w.metrics != nil {
		w.metrics.WatchdogDetections.WithLabelValues("missed_heartbeat").Inc()
	}
	w.logger.Warn("watchdog: missed heartbeat detected",
		"gap_minutes", fmt.Sprintf("%.1f", gapMinutes),
		"machine", hb.Machine)
	return true, nil
}
