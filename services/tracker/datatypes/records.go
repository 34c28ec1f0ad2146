// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the record types, event payloads, and validation
// rules shared across the tracker service.
//
// Records (StudySession, Log, Variable) are the durable state derived from
// the webhook event stream. Events are the validated inbound payloads; a
// malformed payload never reaches the derivation engine, so every handler can
// assume its input passed Validate().
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Session Records
// =============================================================================

// SessionStatus is the lifecycle state of a StudySession.
type SessionStatus string

const (
	// StatusActive marks the single in-progress session. At most one
	// session may hold this status at any time.
	StatusActive SessionStatus = "active"

	// StatusCompleted marks a session that ran to (approximately) its
	// planned duration. See the 60-second completion grace in derive.
	StatusCompleted SessionStatus = "completed"

	// StatusAborted marks a session stopped well short of its plan.
	StatusAborted SessionStatus = "aborted"
)

// TimelineEventType classifies a timeline entry for display.
type TimelineEventType string

const (
	TimelineStart   TimelineEventType = "START"
	TimelineEnd     TimelineEventType = "END"
	TimelineBreach  TimelineEventType = "BREACH"
	TimelineWarning TimelineEventType = "WARNING"
	TimelineInfo    TimelineEventType = "INFO"
)

// TimelineEvent is one display entry of a finished session's timeline,
// reconstructed from the session's logs at stop time.
type TimelineEvent struct {
	ID          string            `json:"id"`
	Time        time.Time         `json:"time"`
	Type        TimelineEventType `json:"type"`
	Description string            `json:"description"`
}

// StudySession represents one focus interval.
//
// # Description
//
// Created by SESSION_START with StatusActive and server-side StartedAt (the
// client's claimed timestamp is never trusted for state transitions).
// Mutated exactly once, by SESSION_STOP, which backfills EndedAt, the final
// status, the timeline, and the summary. Deleted only by the test-session
// maintenance sweep.
//
// # Fields
//
//   - ID: store-native identity. Differs between local and cloud stores.
//   - CreatedAt: store insertion time, used for ordering and sync tokens.
//   - StartedAt/EndedAt: server-observed interval bounds.
//   - PlannedDurationSec: positive planned length in seconds.
//   - Subject: non-empty study subject.
//   - Status: active, completed, or aborted.
//   - EndNote: optional client-supplied stop reason.
//   - Timeline: optional ordered display timeline (stop-time backfill).
//   - Summary: optional AI reflection text (stop-time backfill).
type StudySession struct {
	ID                 string          `json:"id"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          time.Time       `json:"started_at"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	PlannedDurationSec int             `json:"planned_duration_sec"`
	Subject            string          `json:"subject"`
	Status             SessionStatus   `json:"status"`
	EndNote            string          `json:"end_note,omitempty"`
	Timeline           []TimelineEvent `json:"timeline,omitempty"`
	Summary            string          `json:"summary,omitempty"`
}

// SessionDraft is the identity-free shape inserted by SESSION_START and
// mirrored to the cloud store (local identity stripped before mirroring).
type SessionDraft struct {
	StartedAt          time.Time     `json:"started_at"`
	PlannedDurationSec int           `json:"planned_duration_sec"`
	Subject            string        `json:"subject"`
	Status             SessionStatus `json:"status"`
}

// SessionPatch carries the SESSION_STOP backfill. Nil/zero fields are left
// untouched by the store.
type SessionPatch struct {
	EndedAt  *time.Time      `json:"ended_at,omitempty"`
	Status   SessionStatus   `json:"status,omitempty"`
	EndNote  string          `json:"end_note,omitempty"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

// =============================================================================
// Log Records
// =============================================================================

// LogType enumerates the append-only audit log vocabulary.
type LogType string

const (
	LogSessionStart    LogType = "session_start"
	LogSessionEnd      LogType = "session_end"
	LogBreakStart      LogType = "break_start"
	LogBreakEnd        LogType = "break_end"
	LogBreakSkip       LogType = "break_skip"
	LogBlocklistChange LogType = "blocklist_change"
	LogWarn            LogType = "warn"
	LogBreach          LogType = "breach"
	LogMissedHeartbeat LogType = "missed_heartbeat"
)

// AlertLogTypes are the log types surfaced as unacknowledged alerts.
var AlertLogTypes = []LogType{LogMissedHeartbeat, LogBreach, LogWarn}

// MetadataAcknowledged is the single mutable metadata sub-field on a Log.
// The acknowledge operation flips it from absent/false to true.
const MetadataAcknowledged = "acknowledged"

// Log is an immutable derived record of one event.
//
// Logs are never deleted individually; they go away only as part of the
// test-session cascade. The sole permitted mutation is
// Metadata[MetadataAcknowledged].
type Log struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      LogType        `json:"type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Session   string         `json:"session,omitempty"`
}

// LogDraft is the identity-free insert shape for a Log. Session holds the
// local session reference; mirrors to the cloud strip it, since cloud session
// identities differ.
type LogDraft struct {
	Type     LogType        `json:"type"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Session  string         `json:"session,omitempty"`
}

// Acknowledged reports whether the log's alert has been acknowledged.
func (l *Log) Acknowledged() bool {
	if l.Metadata == nil {
		return false
	}
	v, ok := l.Metadata[MetadataAcknowledged].(bool)
	return ok && v
}

// =============================================================================
// Variables
// =============================================================================

// Variable is a generic singleton key/value slot for ephemeral or derived
// state. At most one record exists per key.
type Variable struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
}

// Well-known variable keys.
const (
	VarLastHeartbeat = "lastHeartbeatAt"
	VarBlocklist     = "blocklist"
	VarSummary       = "summary"
	VarBreak         = "break"
)

// HeartbeatValue is the lastHeartbeatAt variable payload. Timestamp is
// server receive time; ClientTimestamp is the client's untrusted claim.
type HeartbeatValue struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientTimestamp string    `json:"client_timestamp"`
	Machine         string    `json:"machine"`
}

// NextSession describes the session a break transitions into.
type NextSession struct {
	Subject            string   `json:"subject"`
	PlannedDurationSec int      `json:"planned_duration_sec"`
	Blocklist          []string `json:"blocklist"`
}

// BreakValue is the singleton break state, stored under VarBreak. It may not
// coexist with an active session, and only one may exist at a time.
type BreakValue struct {
	StartedAt   time.Time   `json:"started_at"`
	DurationSec int         `json:"duration_sec"`
	NextSession NextSession `json:"next_session"`
}

// SummaryStatusLabel classifies an AI reflection.
type SummaryStatusLabel string

const (
	SummaryFocused    SummaryStatusLabel = "FOCUSED"
	SummaryDistracted SummaryStatusLabel = "DISTRACTED"
	SummaryMixed      SummaryStatusLabel = "MIXED"
)

// BreakSentinelSessionID marks a summary produced by a prematurely stopped
// break rather than a real session.
const BreakSentinelSessionID = "break-system"

// SummaryValue is the summary variable payload: the most recent reflection,
// tagged with the session it describes (or BreakSentinelSessionID).
type SummaryValue struct {
	SummaryText string             `json:"summary_text"`
	StatusLabel SummaryStatusLabel `json:"status_label"`
	GeneratedAt time.Time          `json:"generated_at"`
	SessionID   string             `json:"session_id"`
	Subject     string             `json:"subject,omitempty"`
}

// =============================================================================
// Sync Snapshot
// =============================================================================

// Snapshot is the bulk export/import payload exchanged between stores.
// Records carry their native identity and creation timestamp; importing
// stores strip both and remap session references.
type Snapshot struct {
	Sessions  []StudySession `json:"sessions"`
	Logs      []Log          `json:"logs"`
	Variables []Variable     `json:"variables"`
}

// Empty reports whether the snapshot holds no records at all.
func (s *Snapshot) Empty() bool {
	return len(s.Sessions) == 0 && len(s.Logs) == 0 && len(s.Variables) == 0
}

// Total returns the combined record count across all tables.
func (s *Snapshot) Total() int {
	return len(s.Sessions) + len(s.Logs) + len(s.Variables)
}

// =============================================================================
// Variable Value Decoding
// =============================================================================

// decodeValue re-marshals an untyped variable value into a concrete payload.
// Values arrive as map[string]any after a JSON round trip through storage.
func decodeValue(value any, out any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode variable value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode variable value: %w", err)
	}
	return nil
}

// DecodeBreakValue interprets a VarBreak value.
func DecodeBreakValue(value any) (*BreakValue, error) {
	var b BreakValue
	if err := decodeValue(value, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DecodeHeartbeatValue interprets a VarLastHeartbeat value.
func DecodeHeartbeatValue(value any) (*HeartbeatValue, error) {
	var h HeartbeatValue
	if err := decodeValue(value, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DecodeSummaryValue interprets a VarSummary value.
func DecodeSummaryValue(value any) (*SummaryValue, error) {
	var s SummaryValue
	if err := decodeValue(value, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeBlocklist interprets a VarBlocklist value.
func DecodeBlocklist(value any) ([]string, error) {
	var sites []string
	if err := decodeValue(value, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// =============================================================================
// Helpers
// =============================================================================

// TestSessionRetention is how old a test session must be before the
// maintenance sweep may delete it.
const TestSessionRetention = 30 * time.Minute

// IsTestSubject reports whether a subject matches the test-session heuristic:
// it case-insensitively contains both "test" and "session".
func IsTestSubject(subject string) bool {
	s := strings.ToLower(subject)
	return strings.Contains(s, "test") && strings.Contains(s, "session")
}

// FormatDuration renders a second count the way the client UI expects:
// "2h 5m", "25m 30s", or "45s".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
