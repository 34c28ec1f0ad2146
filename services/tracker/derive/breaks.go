// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package derive

import (
	"context"
	"fmt"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
)

// handleBreakStart opens the singleton break. The next session is captured
// now so the break can transition without another client round trip.
func (e *Engine) handleBreakStart(ctx context.Context, ev *datatypes.BreakStartEvent) error {
	if err := invariant.EnsureNoActiveSession(ctx, e.store); err != nil {
		return err
	}
	if err := invariant.EnsureNoActiveBreak(ctx, e.store); err != nil {
		return err
	}

	now := e.clock.Now()
	breakVal := datatypes.BreakValue{
		StartedAt:   now,
		DurationSec: ev.DurationSec,
		NextSession: ev.NextSession,
	}
	if err := e.store.UpsertVariable(ctx, datatypes.VarBreak, breakVal); err != nil {
		return fmt.Errorf("store break: %w", err)
	}

	logDraft := datatypes.LogDraft{
		Type: datatypes.LogBreakStart,
		Message: fmt.Sprintf("Break started: %s. Next session: %s",
			datatypes.FormatDuration(ev.DurationSec), ev.NextSession.Subject),
		Metadata: map[string]any{
			"duration_sec": ev.DurationSec,
			"next_subject": ev.NextSession.Subject,
		},
	}
	if _, err := e.store.AppendLog(ctx, logDraft); err != nil {
		return fmt.Errorf("append break_start log: %w", err)
	}

	e.repl.Mirror(ctx,
		tsync.UpsertVariableOp(datatypes.VarBreak, breakVal),
		tsync.AppendLogOp(logDraft, false),
	)

	e.logger.Info("derive.breaks: break started",
		"duration_sec", ev.DurationSec,
		"next_subject", ev.NextSession.Subject)
	return nil
}

// handleBreakStop ends the break.
//
// A stop with no reason arriving at (or after) the break's planned end is
// automatic: the break ran to term and the stored next session starts
// immediately. Anything else is premature; no session starts, and the
// summary slot records why the break was cut short.
func (e *Engine) handleBreakStop(ctx context.Context, ev *datatypes.BreakStopEvent) error {
	b, err := invariant.EnsureActiveBreak(ctx, e.store)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	elapsed := now.Sub(b.StartedAt).Seconds()
	automatic := ev.Reason == "" && elapsed >= float64(b.DurationSec-breakAutoStopToleranceSec)

	reason := ev.Reason
	if reason == "" {
		if automatic {
			reason = "The break ended."
		} else {
			reason = "No reason was provided."
		}
	}

	logDraft := datatypes.LogDraft{
		Type:    datatypes.LogBreakEnd,
		Message: "Break ended. Reason: " + reason,
		Metadata: map[string]any{
			"reason":          reason,
			"actual_duration": elapsed,
			"was_automatic":   automatic,
		},
	}
	if _, err := e.store.AppendLog(ctx, logDraft); err != nil {
		return fmt.Errorf("append break_end log: %w", err)
	}
	e.repl.Mirror(ctx, tsync.AppendLogOp(logDraft, false))

	if automatic {
		// The break variable still exists at this point; fromBreak skips
		// the no-active-break check for exactly this transition.
		err := e.handleSessionStart(ctx, &datatypes.SessionStartEvent{
			Subject:            b.NextSession.Subject,
			PlannedDurationSec: b.NextSession.PlannedDurationSec,
			Blocklist:          b.NextSession.Blocklist,
		}, true)
		if err != nil {
			return fmt.Errorf("start next session after break: %w", err)
		}
	} else {
		summaryVal := datatypes.SummaryValue{
			SummaryText: "The previous break was stopped prematurely. Reason: " + reason,
			StatusLabel: datatypes.SummaryMixed,
			GeneratedAt: now,
			SessionID:   datatypes.BreakSentinelSessionID,
			Subject:     b.NextSession.Subject,
		}
		if err := e.store.UpsertVariable(ctx, datatypes.VarSummary, summaryVal); err != nil {
			return fmt.Errorf("store break summary: %w", err)
		}
		e.repl.Mirror(ctx, tsync.UpsertVariableOp(datatypes.VarSummary, summaryVal))
	}

	if err := e.store.DeleteVariable(ctx, datatypes.VarBreak); err != nil {
		return fmt.Errorf("clear break: %w", err)
	}
	e.repl.Mirror(ctx, tsync.DeleteVariableOp(datatypes.VarBreak))

	e.logger.Info("derive.breaks: break stopped",
		"automatic", automatic,
		"elapsed_sec", int(elapsed),
		"reason", reason)
	return nil
}

// handleBreakSkip cuts the break short and starts the stored next session
// immediately.
func (e *Engine) handleBreakSkip(ctx context.Context, ev *datatypes.BreakSkipEvent) error {
	b, err := invariant.EnsureActiveBreak(ctx, e.store)
	if err != nil {
		return err
	}

	logDraft := datatypes.LogDraft{
		Type:    datatypes.LogBreakSkip,
		Message: "Break skipped. Starting next session: " + b.NextSession.Subject,
	}
	if _, err := e.store.AppendLog(ctx, logDraft); err != nil {
		return fmt.Errorf("append break_skip log: %w", err)
	}
	e.repl.Mirror(ctx, tsync.AppendLogOp(logDraft, false))

	err = e.handleSessionStart(ctx, &datatypes.SessionStartEvent{
		Subject:            b.NextSession.Subject,
		PlannedDurationSec: b.NextSession.PlannedDurationSec,
		Blocklist:          b.NextSession.Blocklist,
	}, true)
	if err != nil {
		return fmt.Errorf("start next session after skip: %w", err)
	}

	if err := e.store.DeleteVariable(ctx, datatypes.VarBreak); err != nil {
		return fmt.Errorf("clear break: %w", err)
	}
	e.repl.Mirror(ctx, tsync.DeleteVariableOp(datatypes.VarBreak))

	e.logger.Info("derive.breaks: break skipped", "next_subject", b.NextSession.Subject)
	return nil
}
