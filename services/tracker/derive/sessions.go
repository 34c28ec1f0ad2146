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

// handleSessionStart creates the single active session. fromBreak marks the
// automatic transition out of a break, which skips the no-active-break check
// because the break variable is cleaned up after the transition.
func (e *Engine) handleSessionStart(ctx context.Context, ev *datatypes.SessionStartEvent, fromBreak bool) error {
	if err := invariant.EnsureNoActiveSession(ctx, e.store); err != nil {
		return err
	}
	if !fromBreak {
		if err := invariant.EnsureNoActiveBreak(ctx, e.store); err != nil {
			return err
		}
	}

	now := e.clock.Now()
	draft := datatypes.SessionDraft{
		StartedAt:          now,
		PlannedDurationSec: ev.PlannedDurationSec,
		Subject:            ev.Subject,
		Status:             datatypes.StatusActive,
	}
	sess, err := e.store.CreateSession(ctx, draft)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	blocklist := ev.Blocklist
	if blocklist == nil {
		blocklist = []string{}
	}
	if err := e.store.UpsertVariable(ctx, datatypes.VarBlocklist, blocklist); err != nil {
		return fmt.Errorf("store blocklist: %w", err)
	}

	trigger := "client_request"
	if fromBreak {
		trigger = "break_end"
	}
	logDraft := datatypes.LogDraft{
		Type: datatypes.LogSessionStart,
		Message: fmt.Sprintf("Session started: %s for %s",
			ev.Subject, datatypes.FormatDuration(ev.PlannedDurationSec)),
		Metadata: map[string]any{
			"subject":              ev.Subject,
			"planned_duration_sec": ev.PlannedDurationSec,
			"triggered_by":         trigger,
		},
		Session: sess.ID,
	}
	if _, err := e.store.AppendLog(ctx, logDraft); err != nil {
		return fmt.Errorf("append session_start log: %w", err)
	}

	e.repl.Mirror(ctx,
		tsync.CreateSessionOp(draft),
		tsync.UpsertVariableOp(datatypes.VarBlocklist, blocklist),
		tsync.AppendLogOp(logDraft, true),
	)

	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(1)
	}
	e.logger.Info("derive.sessions: session started",
		"session_id", sess.ID,
		"subject", ev.Subject,
		"planned_duration_sec", ev.PlannedDurationSec,
		"triggered_by", trigger)
	return nil
}

// handleSessionStop terminates the active session. The final status is
// derived server-side: a session counts as completed when it ran to within
// a minute of its planned duration, regardless of what the client claims.
func (e *Engine) handleSessionStop(ctx context.Context, ev *datatypes.SessionStopEvent) error {
	sess, err := invariant.EnsureActiveSession(ctx, e.store)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	elapsed := now.Sub(sess.StartedAt).Seconds()
	status := datatypes.StatusAborted
	if elapsed >= float64(sess.PlannedDurationSec-completionToleranceSec) {
		status = datatypes.StatusCompleted
	}
	note := ""
	if ev.Reason != "" {
		note = "Client reason: " + ev.Reason
	}

	endLog := datatypes.LogDraft{
		Type: datatypes.LogSessionEnd,
		Message: fmt.Sprintf("Session %s. Ran for %s (Planned: %s)",
			status,
			datatypes.FormatDuration(int(elapsed)),
			datatypes.FormatDuration(sess.PlannedDurationSec)),
		Metadata: map[string]any{
			"reason":          ev.Reason,
			"actual_duration": elapsed,
			"derivation":      "server-side",
		},
		Session: sess.ID,
	}
	if _, err := e.store.AppendLog(ctx, endLog); err != nil {
		return fmt.Errorf("append session_end log: %w", err)
	}

	logs, err := e.store.LogsBySession(ctx, sess.ID, true)
	if err != nil {
		return fmt.Errorf("load session logs: %w", err)
	}
	timeline := buildTimeline(logs)

	ref := e.reflect(ctx, sess.Subject, timeline)
	summaryVal := datatypes.SummaryValue{
		SummaryText: ref.SummaryText,
		StatusLabel: ref.StatusLabel,
		GeneratedAt: now,
		SessionID:   sess.ID,
		Subject:     sess.Subject,
	}
	if err := e.store.UpsertVariable(ctx, datatypes.VarSummary, summaryVal); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	patch := datatypes.SessionPatch{
		EndedAt:  &now,
		Status:   status,
		EndNote:  note,
		Timeline: timeline,
		Summary:  ref.SummaryText,
	}
	if err := e.store.PatchSession(ctx, sess.ID, patch); err != nil {
		return fmt.Errorf("patch session: %w", err)
	}

	// The log must mirror before the patch: the patch flips the mirror's
	// active session to a terminal status, and attach-to-active resolution
	// needs that session still active.
	e.repl.Mirror(ctx,
		tsync.AppendLogOp(endLog, true),
		tsync.UpsertVariableOp(datatypes.VarSummary, summaryVal),
		tsync.PatchActiveSessionOp(patch),
	)

	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(0)
	}
	e.logger.Info("derive.sessions: session stopped",
		"session_id", sess.ID,
		"status", string(status),
		"elapsed_sec", int(elapsed),
		"planned_duration_sec", sess.PlannedDurationSec)
	return nil
}

// buildTimeline projects a session's logs into its display timeline.
func buildTimeline(logs []datatypes.Log) []datatypes.TimelineEvent {
	timeline := make([]datatypes.TimelineEvent, 0, len(logs))
	for _, l := range logs {
		t := datatypes.TimelineInfo
		switch l.Type {
		case datatypes.LogSessionStart:
			t = datatypes.TimelineStart
		case datatypes.LogSessionEnd:
			t = datatypes.TimelineEnd
		case datatypes.LogBreach:
			t = datatypes.TimelineBreach
		case datatypes.LogWarn:
			t = datatypes.TimelineWarning
		}
		timeline = append(timeline, datatypes.TimelineEvent{
			ID:          l.ID,
			Time:        l.CreatedAt,
			Type:        t,
			Description: l.Message,
		})
	}
	return timeline
}
