// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/HIALocal/services/tracker/clock"
	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/derive"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/badgerstore"
)

type harness struct {
	watchdog *Watchdog
	engine   *derive.Engine
	store    storage.Store
	clock    *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewFake(time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC))
	engine := derive.NewEngine(store, nil, nil, clk, nil, nil)
	return &harness{
		watchdog: New(store, engine, clk, nil, nil),
		engine:   engine,
		store:    store,
		clock:    clk,
	}
}

func (h *harness) startBreak(t *testing.T, durationSec int, nextSubject string) {
	t.Helper()
	err := h.engine.Dispatch(context.Background(), &datatypes.Event{
		Type: datatypes.EventBreakStart,
		BreakStart: &datatypes.BreakStartEvent{
			DurationSec: durationSec,
			NextSession: datatypes.NextSession{
				Subject:            nextSubject,
				PlannedDurationSec: 1500,
			},
		},
	})
	require.NoError(t, err)
}

func (h *harness) startSession(t *testing.T, subject string) {
	t.Helper()
	err := h.engine.Dispatch(context.Background(), &datatypes.Event{
		Type: datatypes.EventSessionStart,
		SessionStart: &datatypes.SessionStartEvent{
			Subject:            subject,
			PlannedDurationSec: 1500,
		},
	})
	require.NoError(t, err)
}

func (h *harness) heartbeat(t *testing.T) {
	t.Helper()
	err := h.engine.Dispatch(context.Background(), &datatypes.Event{
		Type:      datatypes.EventHeartbeat,
		Heartbeat: &datatypes.HeartbeatEvent{MachineID: "desktop-01"},
	})
	require.NoError(t, err)
}

func TestRunChecks_NothingToDo(t *testing.T) {
	h := newHarness(t)
	changed, err := h.watchdog.RunChecks(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBreakExpiry_StartsNextSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startBreak(t, 300, "Geometry")
	h.clock.Advance(301 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	sess, err := h.store.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Geometry", sess.Subject)
	_, err = h.store.Variable(ctx, datatypes.VarBreak)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBreakExpiry_NotYetExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startBreak(t, 300, "Geometry")
	h.clock.Advance(200 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = h.store.Variable(ctx, datatypes.VarBreak)
	assert.NoError(t, err)
}

func TestMissedHeartbeat_DetectedDuringSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startSession(t, "Algebra")
	h.heartbeat(t)
	h.clock.Advance(90 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	alerts, err := h.store.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, datatypes.LogMissedHeartbeat, alerts[0].Type)
	assert.Equal(t, "MISSED_HEARTBEAT: No ping for 1.5m. Check machine connectivity.", alerts[0].Message)
}

func TestMissedHeartbeat_WithinThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startSession(t, "Algebra")
	h.heartbeat(t)
	h.clock.Advance(30 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMissedHeartbeat_NoSessionOrBreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.heartbeat(t)
	h.clock.Advance(time.Hour)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMissedHeartbeat_DeduplicatedUntilAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startSession(t, "Algebra")
	h.heartbeat(t)
	h.clock.Advance(90 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	// Second pass finds the unacknowledged alert and stays quiet.
	h.clock.Advance(90 * time.Second)
	changed, err = h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// Acknowledging re-arms detection.
	_, err = h.engine.AcknowledgeAlerts(ctx)
	require.NoError(t, err)
	h.clock.Advance(90 * time.Second)
	changed, err = h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	alerts, err := h.store.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestMissedHeartbeat_DetectedDuringBreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.heartbeat(t)
	h.startBreak(t, 600, "Geometry")
	h.clock.Advance(60 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	alerts, err := h.store.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Empty(t, alerts[0].Session)
}

func TestRunChecks_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startBreak(t, 300, "Geometry")
	h.clock.Advance(301 * time.Second)

	changed, err := h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	// The break is gone and the next session is active; a second pass has
	// nothing left to do.
	_, err = h.store.ActiveSession(ctx)
	require.NoError(t, err)
	changed, err = h.watchdog.RunChecks(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t)

	cfg := SchedulerConfig{
		CheckInterval:     10 * time.Millisecond,
		ReconcileInterval: time.Hour,
		Enabled:           true,
	}
	s := NewScheduler(h.watchdog, nil, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	// Double start is a no-op.
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestScheduler_Disabled(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultSchedulerConfig()
	cfg.Enabled = false
	s := NewScheduler(h.watchdog, nil, nil, cfg)
	s.Start(context.Background())
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.startBreak(t, 300, "Geometry")
	h.clock.Advance(301 * time.Second)

	s := NewScheduler(h.watchdog, nil, nil, DefaultSchedulerConfig())
	s.RunNow(ctx)

	sess, err := h.store.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Geometry", sess.Subject)
}
