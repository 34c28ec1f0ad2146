// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/handlers"
	"github.com/AleutianAI/HIALocal/services/tracker/middleware"
	"github.com/AleutianAI/HIALocal/services/tracker/routes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/badgerstore"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/remote"
)

const peerKey = "peer-sync-key"

// newPeer boots a second tracker deployment in-process: in-memory store,
// real sync routes, real auth.
func newPeer(t *testing.T) (*remote.Client, storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	router := gin.New()
	routes.Setup(router, handlers.Deps{Store: store}, routes.Keys{
		Cloud: middleware.NewKeyFromString(peerKey),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	lastPeerURL = server.URL
	client, err := remote.New(remote.Config{
		BaseURL: server.URL,
		APIKey:  peerKey,
	})
	require.NoError(t, err)
	return client, store
}

// lastPeerURL is the address of the most recently booted peer.
var lastPeerURL string

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := remote.New(remote.Config{})
	assert.Error(t, err)
}

func TestSessions_RoundTrip(t *testing.T) {
	client, _ := newPeer(t)
	ctx := context.Background()

	_, err := client.ActiveSession(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sess, err := client.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt:          time.Now().UTC(),
		PlannedDurationSec: 1500,
		Subject:            "Statistics",
		Status:             datatypes.StatusActive,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	active, err := client.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)

	got, err := client.SessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Statistics", got.Subject)

	ended := time.Now().UTC()
	err = client.PatchSession(ctx, sess.ID, datatypes.SessionPatch{
		EndedAt: &ended,
		Status:  datatypes.StatusCompleted,
	})
	require.NoError(t, err)

	_, err = client.ActiveSession(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sessions, total, err := client.ListSessions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, datatypes.StatusCompleted, sessions[0].Status)

	err = client.PatchSession(ctx, "missing", datatypes.SessionPatch{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogs_RoundTrip(t *testing.T) {
	client, _ := newPeer(t)
	ctx := context.Background()

	log, err := client.AppendLog(ctx, datatypes.LogDraft{
		Type:     datatypes.LogBreach,
		Message:  "BREACH: Blocklist tampered. Removed: reddit.com",
		Metadata: map[string]any{datatypes.MetadataAcknowledged: false},
		Session:  "sess-1",
	})
	require.NoError(t, err)

	bySession, err := client.LogsBySession(ctx, "sess-1", true)
	require.NoError(t, err)
	require.Len(t, bySession, 1)

	recent, err := client.RecentLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	alerts, err := client.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	err = client.PatchLogMetadata(ctx, log.ID, map[string]any{datatypes.MetadataAcknowledged: true})
	require.NoError(t, err)
	alerts, err = client.UnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestVariables_RoundTrip(t *testing.T) {
	client, _ := newPeer(t)
	ctx := context.Background()

	_, err := client.Variable(ctx, datatypes.VarBlocklist)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, client.UpsertVariable(ctx, datatypes.VarBlocklist, []string{"reddit.com"}))
	v, err := client.Variable(ctx, datatypes.VarBlocklist)
	require.NoError(t, err)
	sites, err := datatypes.DecodeBlocklist(v.Value)
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit.com"}, sites)

	require.NoError(t, client.DeleteVariable(ctx, datatypes.VarBlocklist))
	_, err = client.Variable(ctx, datatypes.VarBlocklist)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBulk_RoundTrip(t *testing.T) {
	client, peerStore := newPeer(t)
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt:          time.Now().UTC(),
		PlannedDurationSec: 600,
		Subject:            "Physics",
		Status:             datatypes.StatusCompleted,
	})
	require.NoError(t, err)
	_, err = client.AppendLog(ctx, datatypes.LogDraft{
		Type: datatypes.LogSessionEnd, Message: "Session completed.", Session: sess.ID,
	})
	require.NoError(t, err)

	counts, err := client.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{Sessions: 1, Logs: 1}, counts)

	token, err := client.DivergenceToken(ctx)
	require.NoError(t, err)
	peerToken, err := peerStore.DivergenceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, peerToken, token)

	snap, err := client.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total())

	require.NoError(t, client.ClearAll(ctx))
	counts, err = client.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())

	require.NoError(t, client.ImportAll(ctx, snap))
	counts, err = client.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total())
}

func TestSweep_RoundTrip(t *testing.T) {
	client, _ := newPeer(t)
	ctx := context.Background()

	_, err := client.CreateSession(ctx, datatypes.SessionDraft{
		StartedAt:          time.Now().UTC().Add(-2 * time.Hour),
		PlannedDurationSec: 60,
		Subject:            "old test session",
		Status:             datatypes.StatusAborted,
	})
	require.NoError(t, err)

	count, err := client.SweepTestSessions(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuth_Rejected(t *testing.T) {
	_, _ = newPeer(t)

	bad, err := remote.New(remote.Config{
		BaseURL: lastPeerURL,
		APIKey:  "wrong-key",
	})
	require.NoError(t, err)
	_, err = bad.Counts(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
