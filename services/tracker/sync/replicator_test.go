// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/observability"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/badgerstore"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMirror_AppliesOpsInOrder(t *testing.T) {
	cloud := newStore(t)
	r := NewReplicator(cloud, nil, observability.NewTestMetrics())
	ctx := context.Background()

	r.Mirror(ctx,
		CreateSessionOp(datatypes.SessionDraft{
			StartedAt: time.Now().UTC(), PlannedDurationSec: 1500,
			Subject: "Calculus", Status: datatypes.StatusActive,
		}),
		AppendLogOp(datatypes.LogDraft{
			Type: datatypes.LogSessionStart, Message: "Session started: Calculus for 25m 0s",
		}, true),
	)

	sess, err := cloud.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Calculus", sess.Subject)

	// The log attached to the mirror's own active session identity.
	logs, err := cloud.LogsBySession(ctx, sess.ID, true)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, datatypes.LogSessionStart, logs[0].Type)
}

func TestMirror_PatchActiveSession(t *testing.T) {
	cloud := newStore(t)
	r := NewReplicator(cloud, nil, nil)
	ctx := context.Background()

	r.Mirror(ctx, CreateSessionOp(datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 600,
		Subject: "Chemistry", Status: datatypes.StatusActive,
	}))
	ended := time.Now().UTC()
	r.Mirror(ctx, PatchActiveSessionOp(datatypes.SessionPatch{
		EndedAt: &ended, Status: datatypes.StatusCompleted,
	}))

	_, err := cloud.ActiveSession(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMirror_NilCloudIsNoop(t *testing.T) {
	r := NewReplicator(nil, nil, nil)
	// Must not panic.
	r.Mirror(context.Background(), UpsertVariableOp(datatypes.VarBlocklist, []string{}))
}

func TestMirror_FailedOpAbortsBatch(t *testing.T) {
	cloud := newStore(t)
	r := NewReplicator(cloud, nil, observability.NewTestMetrics())
	ctx := context.Background()

	// Patch with no active session fails, so the variable upsert after it
	// must not run.
	r.Mirror(ctx,
		PatchActiveSessionOp(datatypes.SessionPatch{Status: datatypes.StatusAborted}),
		UpsertVariableOp(datatypes.VarBlocklist, []string{"reddit.com"}),
	)

	_, err := cloud.Variable(ctx, datatypes.VarBlocklist)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMirror_VariableAndSweepOps(t *testing.T) {
	cloud := newStore(t)
	r := NewReplicator(cloud, nil, nil)
	ctx := context.Background()

	r.Mirror(ctx, UpsertVariableOp(datatypes.VarBlocklist, []string{"reddit.com"}))
	v, err := cloud.Variable(ctx, datatypes.VarBlocklist)
	require.NoError(t, err)
	sites, err := datatypes.DecodeBlocklist(v.Value)
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit.com"}, sites)

	r.Mirror(ctx, DeleteVariableOp(datatypes.VarBlocklist))
	_, err = cloud.Variable(ctx, datatypes.VarBlocklist)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = cloud.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC().Add(-2 * time.Hour), PlannedDurationSec: 60,
		Subject: "test session", Status: datatypes.StatusAborted,
	})
	require.NoError(t, err)
	r.Mirror(ctx, SweepOp(time.Now().UTC().Add(-time.Hour)))
	counts, err := cloud.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Sessions)
}

func TestMirror_AcknowledgeAlertsOp(t *testing.T) {
	cloud := newStore(t)
	r := NewReplicator(cloud, nil, nil)
	ctx := context.Background()

	_, err := cloud.AppendLog(ctx, datatypes.LogDraft{
		Type:    datatypes.LogBreach,
		Message: "BREACH: Blocklist event detected.",
		Metadata: map[string]any{
			datatypes.MetadataAcknowledged: false,
		},
	})
	require.NoError(t, err)

	// The op flips the receiver's own alerts by its own identities.
	r.Mirror(ctx, AcknowledgeAlertsOp())
	alerts, err := cloud.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// Nothing left: a repeat is harmless.
	r.Mirror(ctx, AcknowledgeAlertsOp())
}

func TestBootstrap_SeedsEmptyLocal(t *testing.T) {
	local := newStore(t)
	cloud := newStore(t)
	ctx := context.Background()

	_, err := cloud.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 600,
		Subject: "Biology", Status: datatypes.StatusCompleted,
	})
	require.NoError(t, err)

	s := NewSyncer(local, cloud, nil, observability.NewTestMetrics())
	require.NoError(t, s.Bootstrap(ctx))

	counts, err := local.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sessions)
}

func TestBootstrap_NeverOverwritesNonEmptyLocal(t *testing.T) {
	local := newStore(t)
	cloud := newStore(t)
	ctx := context.Background()

	existing, err := local.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 600,
		Subject: "Local truth", Status: datatypes.StatusCompleted,
	})
	require.NoError(t, err)
	_, err = cloud.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 600,
		Subject: "Cloud noise", Status: datatypes.StatusCompleted,
	})
	require.NoError(t, err)

	s := NewSyncer(local, cloud, nil, nil)
	require.NoError(t, s.Bootstrap(ctx))

	got, err := local.SessionByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Local truth", got.Subject)
	counts, err := local.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sessions)
}

func TestReconcile_InSync(t *testing.T) {
	local := newStore(t)
	cloud := newStore(t)
	s := NewSyncer(local, cloud, nil, nil)

	outcome, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, outcome)
}

func TestReconcile_LocalWins(t *testing.T) {
	local := newStore(t)
	cloud := newStore(t)
	ctx := context.Background()

	sess, err := local.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 1500,
		Subject: "Ground truth", Status: datatypes.StatusCompleted,
	})
	require.NoError(t, err)
	_, err = local.AppendLog(ctx, datatypes.LogDraft{
		Type: datatypes.LogSessionEnd, Message: "Session completed.", Session: sess.ID,
	})
	require.NoError(t, err)

	// Stale cloud content must be replaced, not merged.
	_, err = cloud.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 60,
		Subject: "Stale", Status: datatypes.StatusAborted,
	})
	require.NoError(t, err)

	s := NewSyncer(local, cloud, nil, observability.NewTestMetrics())
	outcome, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomePushed, outcome)

	sessions, total, err := cloud.ListSessions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Ground truth", sessions[0].Subject)

	// Tokens converge, so the next run is a no-op.
	outcome, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, outcome)
}

func TestReconcile_EmptyLocalBootstraps(t *testing.T) {
	local := newStore(t)
	cloud := newStore(t)
	ctx := context.Background()

	_, err := cloud.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt: time.Now().UTC(), PlannedDurationSec: 600,
		Subject: "Cloud backup", Status: datatypes.StatusCompleted,
	})
	require.NoError(t, err)

	s := NewSyncer(local, cloud, nil, nil)
	outcome, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBootstrapped, outcome)

	counts, err := local.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sessions)
}
