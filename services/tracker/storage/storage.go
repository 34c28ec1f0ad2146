// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the store capability interface each datastore
// (local BadgerDB, remote sync peer) implements.
//
// The derivation engine is the sole writer on the local store; the
// replication layer is the sole writer on the cloud store. Both talk through
// this interface, so reconciliation and tests can pair any two
// implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
)

// ErrNotFound is returned by point lookups when no record matches.
// Callers distinguish "absent" from dependency failure with errors.Is.
var ErrNotFound = errors.New("storage: record not found")

// Counts holds per-table record counts, used for bootstrap and divergence
// checks.
type Counts struct {
	Sessions  int `json:"sessions"`
	Logs      int `json:"logs"`
	Variables int `json:"variables"`
}

// Total returns the combined count across tables.
func (c Counts) Total() int { return c.Sessions + c.Logs + c.Variables }

// Store is the storage capability: point lookup, indexed queries, insert,
// patch, delete, counts, and bulk export/import/clear.
//
// # Description
//
// Implementations must treat all methods as independent operations; the
// engine provides its own serialization for invariant-sensitive sequences.
// Every method takes a context and surfaces failures as ordinary errors;
// absent records are ErrNotFound, never nil-with-nil-error.
type Store interface {
	// ActiveSession returns the single session with status=active, or
	// ErrNotFound.
	ActiveSession(ctx context.Context) (*datatypes.StudySession, error)

	// SessionByID returns a session by its store-native identity.
	SessionByID(ctx context.Context, id string) (*datatypes.StudySession, error)

	// CreateSession inserts a new session and returns it with identity and
	// creation time assigned.
	CreateSession(ctx context.Context, draft datatypes.SessionDraft) (*datatypes.StudySession, error)

	// PatchSession applies a partial update to a session.
	PatchSession(ctx context.Context, id string, patch datatypes.SessionPatch) error

	// ListSessions returns one page of sessions, newest first, plus the
	// total session count. Page is 1-based.
	ListSessions(ctx context.Context, page, perPage int) ([]datatypes.StudySession, int, error)

	// SweepTestSessions cascade-deletes non-active sessions matching the
	// test-session heuristic whose StartedAt is before olderThan, together
	// with their logs. Returns the number of sessions removed.
	SweepTestSessions(ctx context.Context, olderThan time.Time) (int, error)

	// AppendLog inserts an immutable log record.
	AppendLog(ctx context.Context, draft datatypes.LogDraft) (*datatypes.Log, error)

	// LogsBySession returns all logs referencing a session, ascending or
	// descending by creation time.
	LogsBySession(ctx context.Context, sessionID string, ascending bool) ([]datatypes.Log, error)

	// RecentLogs returns the newest limit logs, newest first.
	RecentLogs(ctx context.Context, limit int) ([]datatypes.Log, error)

	// UnacknowledgedAlerts returns alert-class logs (missed_heartbeat,
	// breach, warn) whose metadata.acknowledged is absent or false,
	// newest first.
	UnacknowledgedAlerts(ctx context.Context) ([]datatypes.Log, error)

	// PatchLogMetadata replaces a log's metadata map. The only legitimate
	// caller is the acknowledge operation.
	PatchLogMetadata(ctx context.Context, id string, metadata map[string]any) error

	// Variable returns the singleton variable for key, or ErrNotFound.
	Variable(ctx context.Context, key string) (*datatypes.Variable, error)

	// UpsertVariable creates or replaces the singleton variable for key.
	UpsertVariable(ctx context.Context, key string, value any) error

	// DeleteVariable removes the variable for key. Deleting an absent key
	// is not an error.
	DeleteVariable(ctx context.Context, key string) error

	// Counts returns per-table record counts.
	Counts(ctx context.Context) (Counts, error)

	// ExportAll returns the full store content.
	ExportAll(ctx context.Context) (*datatypes.Snapshot, error)

	// ImportAll bulk-inserts a snapshot, assigning fresh identities and
	// remapping log session references (dropping refs with no mapping).
	ImportAll(ctx context.Context, snap *datatypes.Snapshot) error

	// ClearAll removes every record from every table.
	ClearAll(ctx context.Context) error

	// DivergenceToken collapses row counts and latest creation timestamps
	// per table into one comparable token.
	DivergenceToken(ctx context.Context) (string, error)

	// Close releases underlying resources.
	Close() error
}
