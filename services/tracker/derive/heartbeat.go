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
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
)

// sweepTimeout bounds a background test-session sweep.
const sweepTimeout = time.Minute

// handleHeartbeat records client liveness. The server receive time is what
// the watchdog measures against; the client's claimed timestamp is kept only
// for diagnostics.
//
// Heartbeats also piggyback the test-session sweep: stale sessions whose
// subject matches the test heuristic are cleaned up best effort, without
// ever failing the heartbeat itself.
func (e *Engine) handleHeartbeat(ctx context.Context, ev *datatypes.HeartbeatEvent, clientTimestamp string) error {
	now := e.clock.Now()
	hb := datatypes.HeartbeatValue{
		Timestamp:       now,
		ClientTimestamp: clientTimestamp,
		Machine:         ev.MachineID,
	}
	if err := e.store.UpsertVariable(ctx, datatypes.VarLastHeartbeat, hb); err != nil {
		return fmt.Errorf("store heartbeat: %w", err)
	}
	e.repl.Mirror(ctx, tsync.UpsertVariableOp(datatypes.VarLastHeartbeat, hb))

	go e.sweepTestSessions(now.Add(-datatypes.TestSessionRetention))
	return nil
}

// sweepTestSessions runs off the dispatch path so a slow sweep never delays
// event processing. It carries its own context: the triggering request may
// already be gone by the time it runs.
func (e *Engine) sweepTestSessions(olderThan time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	swept, err := e.store.SweepTestSessions(ctx, olderThan)
	if err != nil {
		e.logger.Warn("derive.heartbeat: test session sweep failed", "error", err)
		return
	}
	if swept > 0 {
		e.logger.Info("derive.heartbeat: swept stale test sessions", "count", swept)
	}
	e.repl.Mirror(ctx, tsync.SweepOp(olderThan))
}
