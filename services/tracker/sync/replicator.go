// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sync replicates tracker state between the local ground-truth store
// and the best-effort cloud mirror.
//
// Replication is a fixed set of typed write operations. Record identities
// never cross the store boundary: the mirror re-creates records under its own
// identities, and session references resolve against the mirror's single
// active session.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/observability"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// =============================================================================
// Typed Write Operations
// =============================================================================

// OpKind identifies a replicated write operation.
type OpKind string

const (
	OpCreateSession      OpKind = "create_session"
	OpPatchActiveSession OpKind = "patch_active_session"
	OpAppendLog          OpKind = "append_log"
	OpUpsertVariable     OpKind = "upsert_variable"
	OpDeleteVariable     OpKind = "delete_variable"
	OpSweepTestSessions  OpKind = "sweep_test_sessions"
	OpAcknowledgeAlerts  OpKind = "acknowledge_alerts"
)

// WriteOp is one replicated write. Exactly the fields for its kind are set.
// Session identity is deliberately absent: AttachToActive marks logs that
// belong to whatever session is active on the receiving store.
type WriteOp struct {
	Kind OpKind

	SessionDraft   *datatypes.SessionDraft
	SessionPatch   *datatypes.SessionPatch
	LogDraft       *datatypes.LogDraft
	AttachToActive bool
	VariableKey    string
	VariableValue  any
	SweepOlderThan time.Time
}

// CreateSessionOp replicates a session creation.
func CreateSessionOp(draft datatypes.SessionDraft) WriteOp {
	return WriteOp{Kind: OpCreateSession, SessionDraft: &draft}
}

// PatchActiveSessionOp replicates a patch of the single active session.
func PatchActiveSessionOp(patch datatypes.SessionPatch) WriteOp {
	return WriteOp{Kind: OpPatchActiveSession, SessionPatch: &patch}
}

// AppendLogOp replicates a log append. attachToActive resolves the log's
// session reference against the receiver's active session; the draft's own
// Session field is ignored.
func AppendLogOp(draft datatypes.LogDraft, attachToActive bool) WriteOp {
	draft.Session = ""
	return WriteOp{Kind: OpAppendLog, LogDraft: &draft, AttachToActive: attachToActive}
}

// UpsertVariableOp replicates a variable upsert.
func UpsertVariableOp(key string, value any) WriteOp {
	return WriteOp{Kind: OpUpsertVariable, VariableKey: key, VariableValue: value}
}

// DeleteVariableOp replicates a variable delete.
func DeleteVariableOp(key string) WriteOp {
	return WriteOp{Kind: OpDeleteVariable, VariableKey: key}
}

// SweepOp replicates a test-session sweep.
func SweepOp(olderThan time.Time) WriteOp {
	return WriteOp{Kind: OpSweepTestSessions, SweepOlderThan: olderThan}
}

// AcknowledgeAlertsOp replicates an alert acknowledgement. Log identities
// never cross the store boundary, so the receiver flips whatever
// unacknowledged alerts it holds itself.
func AcknowledgeAlertsOp() WriteOp {
	return WriteOp{Kind: OpAcknowledgeAlerts}
}

// Apply executes the op against a store.
func (op WriteOp) Apply(ctx context.Context, store storage.Store) error {
	switch op.Kind {
	case OpCreateSession:
		_, err := store.CreateSession(ctx, *op.SessionDraft)
		return err
	case OpPatchActiveSession:
		sess, err := store.ActiveSession(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("patch active session: %w", err)
		}
		if err != nil {
			return err
		}
		return store.PatchSession(ctx, sess.ID, *op.SessionPatch)
	case OpAppendLog:
		draft := *op.LogDraft
		if op.AttachToActive {
			sess, err := store.ActiveSession(ctx)
			if err == nil {
				draft.Session = sess.ID
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		_, err := store.AppendLog(ctx, draft)
		return err
	case OpUpsertVariable:
		return store.UpsertVariable(ctx, op.VariableKey, op.VariableValue)
	case OpDeleteVariable:
		return store.DeleteVariable(ctx, op.VariableKey)
	case OpSweepTestSessions:
		_, err := store.SweepTestSessions(ctx, op.SweepOlderThan)
		return err
	case OpAcknowledgeAlerts:
		alerts, err := store.UnacknowledgedAlerts(ctx)
		if err != nil {
			return err
		}
		for _, alert := range alerts {
			metadata := make(map[string]any, len(alert.Metadata)+1)
			for k, v := range alert.Metadata {
				metadata[k] = v
			}
			metadata[datatypes.MetadataAcknowledged] = true
			if err := store.PatchLogMetadata(ctx, alert.ID, metadata); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown write op kind %q", op.Kind)
	}
}

// =============================================================================
// Replicator
// =============================================================================

// DefaultMirrorTimeout bounds a single mirror write.
const DefaultMirrorTimeout = 10 * time.Second

// Replicator mirrors committed local writes to the cloud store, best effort.
// Cloud failures are logged and counted but never surface to callers; the
// local commit already happened and stands regardless.
type Replicator struct {
	cloud   storage.Store
	logger  *slog.Logger
	metrics *observability.TrackerMetrics
	timeout time.Duration
}

// NewReplicator creates a replicator. cloud may be nil, in which case Mirror
// is a no-op (local-only deployments).
func NewReplicator(cloud storage.Store, logger *slog.Logger, metrics *observability.TrackerMetrics) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		cloud:   cloud,
		logger:  logger,
		metrics: metrics,
		timeout: DefaultMirrorTimeout,
	}
}

// Mirror applies ops to the cloud store in order. A failed op aborts the
// remainder of the batch; reconciliation repairs the gap later.
func (r *Replicator) Mirror(ctx context.Context, ops ...WriteOp) {
	if r.cloud == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, op := range ops {
		if err := op.Apply(ctx, r.cloud); err != nil {
			r.logger.Warn("sync.replicator: cloud mirror write failed",
				"op", string(op.Kind),
				"error", err)
			if r.metrics != nil {
				r.metrics.ReplicationTotal.WithLabelValues(string(op.Kind), "error").Inc()
			}
			return
		}
		if r.metrics != nil {
			r.metrics.ReplicationTotal.WithLabelValues(string(op.Kind), "ok").Inc()
		}
	}
}

// =============================================================================
// Syncer
// =============================================================================

// ReconcileOutcome reports what a reconciliation run did.
type ReconcileOutcome string

const (
	// OutcomeInSync means the divergence tokens matched; nothing changed.
	OutcomeInSync ReconcileOutcome = "in_sync"
	// OutcomeBootstrapped means an empty local store was seeded from cloud.
	OutcomeBootstrapped ReconcileOutcome = "bootstrap"
	// OutcomePushed means the cloud store was replaced with local content.
	OutcomePushed ReconcileOutcome = "pushed"
)

// Syncer runs the bulk operations between stores: startup bootstrap and
// periodic reconciliation. Local is ground truth; a divergence is always
// resolved in local's favor unless local is empty.
type Syncer struct {
	local   storage.Store
	cloud   storage.Store
	logger  *slog.Logger
	metrics *observability.TrackerMetrics
}

// NewSyncer creates a syncer. cloud may be nil; Bootstrap and Reconcile
// become no-ops.
func NewSyncer(local, cloud storage.Store, logger *slog.Logger, metrics *observability.TrackerMetrics) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{local: local, cloud: cloud, logger: logger, metrics: metrics}
}

// Bootstrap seeds an empty local store from the cloud mirror. It runs once at
// startup: a non-empty local store is ground truth and is never overwritten.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	if s.cloud == nil {
		return nil
	}
	counts, err := s.local.Counts(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: local counts: %w", err)
	}
	if counts.Total() > 0 {
		s.logger.Info("sync.syncer: local store non-empty, skipping bootstrap",
			"sessions", counts.Sessions, "logs", counts.Logs, "variables", counts.Variables)
		return nil
	}

	snap, err := s.cloud.ExportAll(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: cloud export: %w", err)
	}
	if snap.Empty() {
		s.logger.Info("sync.syncer: cloud store empty, nothing to bootstrap")
		return nil
	}
	if err := s.local.ImportAll(ctx, snap); err != nil {
		return fmt.Errorf("bootstrap: local import: %w", err)
	}
	s.logger.Info("sync.syncer: bootstrapped local store from cloud",
		"records", snap.Total())
	return nil
}

// Reconcile compares divergence tokens and repairs any divergence.
//
// Matching tokens are a no-op. When local is empty and cloud is not, cloud
// seeds local (same as Bootstrap). Otherwise local wins: the cloud store is
// cleared and re-imported from a local export.
func (s *Syncer) Reconcile(ctx context.Context) (ReconcileOutcome, error) {
	if s.cloud == nil {
		return OutcomeInSync, nil
	}
	localToken, err := s.local.DivergenceToken(ctx)
	if err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: local token: %w", err)
	}
	cloudToken, err := s.cloud.DivergenceToken(ctx)
	if err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: cloud token: %w", err)
	}
	if localToken == cloudToken {
		s.countReconcile(string(OutcomeInSync))
		return OutcomeInSync, nil
	}

	s.logger.Info("sync.syncer: stores diverged",
		"local_token", localToken, "cloud_token", cloudToken)

	localCounts, err := s.local.Counts(ctx)
	if err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: local counts: %w", err)
	}
	if localCounts.Total() == 0 {
		if err := s.Bootstrap(ctx); err != nil {
			s.countReconcile("error")
			return "", err
		}
		s.countReconcile(string(OutcomeBootstrapped))
		return OutcomeBootstrapped, nil
	}

	snap, err := s.local.ExportAll(ctx)
	if err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: local export: %w", err)
	}
	if err := s.cloud.ClearAll(ctx); err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: cloud clear: %w", err)
	}
	if err := s.cloud.ImportAll(ctx, snap); err != nil {
		s.countReconcile("error")
		return "", fmt.Errorf("reconcile: cloud import: %w", err)
	}
	s.logger.Info("sync.syncer: pushed local content to cloud",
		"records", snap.Total())
	s.countReconcile(string(OutcomePushed))
	return OutcomePushed, nil
}

func (s *Syncer) countReconcile(outcome string) {
	if s.metrics != nil {
		s.metrics.ReconcileRuns.WithLabelValues(outcome).Inc()
	}
}
