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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_SessionStart(t *testing.T) {
	body := `{
		"event_type": "SESSION_START",
		"timestamp": "2025-11-03T09:00:00Z",
		"subject": "  Algebra  ",
		"planned_duration_sec": 1500,
		"blocklist": ["Reddit.com", "reddit.com"]
	}`
	ev, err := DecodeEvent([]byte(body))
	require.NoError(t, err)
	require.Equal(t, EventSessionStart, ev.Type)
	require.NotNil(t, ev.SessionStart)

	// Free-text fields are normalized during validation.
	assert.Equal(t, "Algebra", ev.SessionStart.Subject)
	assert.Equal(t, []string{"reddit.com"}, ev.SessionStart.Blocklist)
	assert.Equal(t, 1500, ev.SessionStart.PlannedDurationSec)
	assert.Equal(t, "2025-11-03T09:00:00Z", ev.Timestamp)
}

func TestDecodeEvent_SessionStartMissingFields(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event_type":"SESSION_START","subject":"Algebra"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"event_type":"SESSION_START","planned_duration_sec":600}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"event_type":"SESSION_START","subject":"A","planned_duration_sec":-1}`))
	assert.Error(t, err)
}

func TestDecodeEvent_Heartbeat(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event_type":"HEARTBEAT","machine_id":"macbook-pro.local"}`))
	require.NoError(t, err)
	assert.Equal(t, "macbook-pro.local", ev.Heartbeat.MachineID)

	_, err = DecodeEvent([]byte(`{"event_type":"HEARTBEAT"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"event_type":"HEARTBEAT","machine_id":"has spaces"}`))
	assert.Error(t, err)
}

func TestDecodeEvent_BreakStart(t *testing.T) {
	body := `{
		"event_type": "BREAK_START",
		"duration_sec": 300,
		"next_session": {"subject": "Geometry", "planned_duration_sec": 1500}
	}`
	ev, err := DecodeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 300, ev.BreakStart.DurationSec)
	assert.Equal(t, "Geometry", ev.BreakStart.NextSession.Subject)
}

func TestDecodeEvent_BreakStartRequiresNextSession(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event_type":"BREAK_START","duration_sec":300}`))
	assert.Error(t, err)

	body := `{"event_type":"BREAK_START","duration_sec":300,"next_session":{"subject":"G"}}`
	_, err = DecodeEvent([]byte(body))
	assert.Error(t, err)
}

func TestDecodeEvent_Blocklist(t *testing.T) {
	body := `{"event_type":"BLOCKLIST_EVENT","type":"violation","removed_sites":["reddit.com"]}`
	ev, err := DecodeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, BlocklistViolation, ev.Blocklist.Kind)
	assert.Equal(t, []string{"reddit.com"}, ev.Blocklist.RemovedSites)

	_, err = DecodeEvent([]byte(`{"event_type":"BLOCKLIST_EVENT","type":"nonsense"}`))
	assert.Error(t, err)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, err := DecodeEvent([]byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"event_type":"UNKNOWN_TYPE"}`))
	assert.Error(t, err)
}

func TestDecodeEvent_StopAndSkip(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event_type":"SESSION_STOP","reason":"tired"}`))
	require.NoError(t, err)
	assert.Equal(t, "tired", ev.SessionStop.Reason)

	ev, err = DecodeEvent([]byte(`{"event_type":"BREAK_SKIP"}`))
	require.NoError(t, err)
	assert.NotNil(t, ev.BreakSkip)

	ev, err = DecodeEvent([]byte(`{"event_type":"BREAK_STOP"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.BreakStop.Reason)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2h 5m", FormatDuration(7500))
	assert.Equal(t, "25m 0s", FormatDuration(1500))
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "0s", FormatDuration(-3))
}

func TestIsTestSubject(t *testing.T) {
	assert.True(t, IsTestSubject("Test Session"))
	assert.True(t, IsTestSubject("my TESTing session run"))
	assert.False(t, IsTestSubject("Algebra"))
	assert.False(t, IsTestSubject("test run"))
}

func TestDecodeBreakValue(t *testing.T) {
	// Storage round-trips values through JSON, so decoders must accept
	// map[string]any input.
	raw := map[string]any{
		"started_at":   "2025-11-03T09:00:00Z",
		"duration_sec": 300,
		"next_session": map[string]any{
			"subject":              "Geometry",
			"planned_duration_sec": 1500,
		},
	}
	b, err := DecodeBreakValue(raw)
	require.NoError(t, err)
	assert.Equal(t, 300, b.DurationSec)
	assert.Equal(t, "Geometry", b.NextSession.Subject)
}

func TestLogAcknowledged(t *testing.T) {
	l := &Log{}
	assert.False(t, l.Acknowledged())

	l.Metadata = map[string]any{MetadataAcknowledged: false}
	assert.False(t, l.Acknowledged())

	l.Metadata[MetadataAcknowledged] = true
	assert.True(t, l.Acknowledged())
}
