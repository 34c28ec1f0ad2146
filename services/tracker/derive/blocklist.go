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
	"strings"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
)

// handleBlocklistEvent records tampering with the machine-side blocklist.
// Valid with or without an active session; when one exists the log attaches
// to it so the breach shows up on the session timeline.
func (e *Engine) handleBlocklistEvent(ctx context.Context, ev *datatypes.BlocklistEvent) error {
	active, err := invariant.ActiveSession(ctx, e.store)
	if err != nil {
		return err
	}

	logType := datatypes.LogWarn
	if ev.Kind == datatypes.BlocklistViolation {
		logType = datatypes.LogBreach
	}

	label := strings.ToUpper(string(logType))
	message := label + ": Blocklist event detected."
	if len(ev.RemovedSites) > 0 {
		message = fmt.Sprintf("%s: Blocklist tampered. Removed: %s",
			label, strings.Join(ev.RemovedSites, ", "))
	}

	logDraft := datatypes.LogDraft{
		Type:    logType,
		Message: message,
		Metadata: map[string]any{
			"kind":                         string(ev.Kind),
			"removed_sites":                ev.RemovedSites,
			datatypes.MetadataAcknowledged: false,
		},
	}
	if active != nil {
		logDraft.Session = active.ID
	}
	if _, err := e.store.AppendLog(ctx, logDraft); err != nil {
		return fmt.Errorf("append blocklist log: %w", err)
	}
	e.repl.Mirror(ctx, tsync.AppendLogOp(logDraft, true))

	e.logger.Warn("derive.blocklist: blocklist event",
		"kind", string(ev.Kind),
		"removed_sites", len(ev.RemovedSites))
	return nil
}
