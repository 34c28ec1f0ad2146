// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/HIALocal/pkg/validation"
)

// =============================================================================
// Inbound Event Vocabulary
// =============================================================================

// EventType discriminates inbound webhook events.
type EventType string

const (
	EventHeartbeat      EventType = "HEARTBEAT"
	EventSessionStart   EventType = "SESSION_START"
	EventSessionStop    EventType = "SESSION_STOP"
	EventBreakStart     EventType = "BREAK_START"
	EventBreakStop      EventType = "BREAK_STOP"
	EventBreakSkip      EventType = "BREAK_SKIP"
	EventBlocklistEvent EventType = "BLOCKLIST_EVENT"
)

// BlocklistEventKind distinguishes an actual breach from a warning.
type BlocklistEventKind string

const (
	BlocklistViolation BlocklistEventKind = "violation"
	BlocklistWarning   BlocklistEventKind = "warning"
)

// eventValidate is the validator instance for webhook payloads.
var eventValidate *validator.Validate

func init() {
	eventValidate = validator.New()
}

// Event is the decoded webhook envelope. Exactly one payload field is
// populated, matching Type. Timestamp is the client's claim and is never
// used for state transitions.
type Event struct {
	Type      EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`

	Heartbeat    *HeartbeatEvent    `json:"-"`
	SessionStart *SessionStartEvent `json:"-"`
	SessionStop  *SessionStopEvent  `json:"-"`
	BreakStart   *BreakStartEvent   `json:"-"`
	BreakStop    *BreakStopEvent    `json:"-"`
	BreakSkip    *BreakSkipEvent    `json:"-"`
	Blocklist    *BlocklistEvent    `json:"-"`
}

// HeartbeatEvent reports client liveness.
type HeartbeatEvent struct {
	MachineID string `json:"machine_id" validate:"required"`
}

// SessionStartEvent requests a new active session.
type SessionStartEvent struct {
	Subject            string   `json:"subject" validate:"required"`
	PlannedDurationSec int      `json:"planned_duration_sec" validate:"required,gt=0"`
	Blocklist          []string `json:"blocklist"`
}

// SessionStopEvent terminates the active session. The final status is
// derived server-side; Reason only ends up in the end note.
type SessionStopEvent struct {
	Reason string `json:"reason"`
}

// BreakStartEvent opens the singleton break between two sessions.
type BreakStartEvent struct {
	DurationSec int         `json:"duration_sec" validate:"required,gt=0"`
	NextSession NextSession `json:"next_session" validate:"required"`
}

// BreakStopEvent ends the break, automatically or prematurely.
type BreakStopEvent struct {
	Reason string `json:"reason"`
}

// BreakSkipEvent skips the break and starts the stored next session.
type BreakSkipEvent struct{}

// BlocklistEvent reports blocklist tampering or distraction warnings.
// Allowed outside active sessions too.
type BlocklistEvent struct {
	Kind         BlocklistEventKind `json:"type" validate:"required,oneof=violation warning"`
	RemovedSites []string           `json:"removed_sites"`
}

// =============================================================================
// Decoding & Validation
// =============================================================================

// DecodeEvent parses and validates a raw webhook body into an Event.
//
// # Description
//
// Decodes the envelope, dispatches on event_type, decodes the matching
// payload, and validates it. This is the transport-side contract: an Event
// returned from here is safe to hand to the derivation engine.
//
// # Inputs
//
//   - body: raw JSON webhook body.
//
// # Outputs
//
//   - *Event: decoded event with exactly one payload field set.
//   - error: non-nil for malformed JSON, unknown event_type, or a payload
//     failing validation. All of these are client errors (bad input).
func DecodeEvent(body []byte) (*Event, error) {
	var envelope struct {
		Type      EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid event body: %w", err)
	}

	ev := &Event{Type: envelope.Type, Timestamp: envelope.Timestamp}

	var payload any
	switch envelope.Type {
	case EventHeartbeat:
		ev.Heartbeat = &HeartbeatEvent{}
		payload = ev.Heartbeat
	case EventSessionStart:
		ev.SessionStart = &SessionStartEvent{}
		payload = ev.SessionStart
	case EventSessionStop:
		ev.SessionStop = &SessionStopEvent{}
		payload = ev.SessionStop
	case EventBreakStart:
		ev.BreakStart = &BreakStartEvent{}
		payload = ev.BreakStart
	case EventBreakStop:
		ev.BreakStop = &BreakStopEvent{}
		payload = ev.BreakStop
	case EventBreakSkip:
		ev.BreakSkip = &BreakSkipEvent{}
		payload = ev.BreakSkip
	case EventBlocklistEvent:
		ev.Blocklist = &BlocklistEvent{}
		payload = ev.Blocklist
	default:
		return nil, fmt.Errorf("unknown event_type %q", envelope.Type)
	}

	if err := json.Unmarshal(body, payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", envelope.Type, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate runs structural validation on the populated payload and
// normalizes free-text fields in place.
func (e *Event) Validate() error {
	var err error
	switch e.Type {
	case EventHeartbeat:
		err = eventValidate.Struct(e.Heartbeat)
		if err == nil {
			err = validation.ValidateMachineID(e.Heartbeat.MachineID)
		}
	case EventSessionStart:
		err = eventValidate.Struct(e.SessionStart)
		if err == nil {
			e.SessionStart.Subject, err = validation.SanitizeSubject(e.SessionStart.Subject)
		}
		if err == nil && e.SessionStart.Blocklist != nil {
			e.SessionStart.Blocklist, err = validation.SanitizeSites(e.SessionStart.Blocklist)
		}
	case EventSessionStop:
		err = eventValidate.Struct(e.SessionStop)
	case EventBreakStart:
		err = eventValidate.Struct(e.BreakStart)
		if err == nil {
			err = validateNextSession(e.BreakStart.NextSession)
		}
		if err == nil {
			e.BreakStart.NextSession.Subject, err = validation.SanitizeSubject(e.BreakStart.NextSession.Subject)
		}
		if err == nil && e.BreakStart.NextSession.Blocklist != nil {
			e.BreakStart.NextSession.Blocklist, err = validation.SanitizeSites(e.BreakStart.NextSession.Blocklist)
		}
	case EventBreakStop:
		err = eventValidate.Struct(e.BreakStop)
	case EventBreakSkip:
		// No fields.
	case EventBlocklistEvent:
		err = eventValidate.Struct(e.Blocklist)
	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// validateNextSession checks the embedded next-session shape of BREAK_START.
// validator's dive tags don't reach nested struct requireds the way we need
// here (empty struct passes "required"), so check explicitly.
func validateNextSession(ns NextSession) error {
	if ns.Subject == "" {
		return fmt.Errorf("next_session.subject is required")
	}
	if ns.PlannedDurationSec <= 0 {
		return fmt.Errorf("next_session.planned_duration_sec must be positive")
	}
	return nil
}
