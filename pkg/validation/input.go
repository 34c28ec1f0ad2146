// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// database records, log lines, and LLM prompts. Using these validators keeps
// control characters and oversized payloads out of stored state.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MaxSubjectLength caps study subject names. Subjects end up in log
// messages, timeline descriptions, and LLM prompts; anything longer is a
// client bug.
const MaxSubjectLength = 200

// machineIDPattern matches valid machine identifiers.
// Allows: letters, digits, dots, hyphens, underscores (hostnames, MACs,
// hardware UUIDs). Max length: 64 characters.
var machineIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateMachineID validates a client machine identifier.
//
// Valid machine IDs:
//   - 1-64 characters
//   - Letters, digits, dots, hyphens, underscores
//   - Must start with a letter or digit
//
// Returns an error if the identifier is invalid.
func ValidateMachineID(id string) error {
	if id == "" {
		return fmt.Errorf("machine id cannot be empty")
	}
	if !machineIDPattern.MatchString(id) {
		return fmt.Errorf("invalid machine id format: %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores)", id)
	}
	return nil
}

// SanitizeSubject normalizes and validates a study subject name.
// Returns the trimmed subject if valid, or an error if it is empty, too
// long, or contains control characters.
//
// Use this before persisting a subject from an inbound event:
//
//	subject, err := validation.SanitizeSubject(ev.Subject)
//	if err != nil {
//	    return err
//	}
func SanitizeSubject(subject string) (string, error) {
	normalized := strings.TrimSpace(subject)
	if normalized == "" {
		return "", fmt.Errorf("subject cannot be empty")
	}
	if len(normalized) > MaxSubjectLength {
		return "", fmt.Errorf("subject too long: %d chars (max %d)", len(normalized), MaxSubjectLength)
	}
	for _, r := range normalized {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("subject contains control characters")
		}
	}
	return normalized, nil
}

// SanitizeSite normalizes a blocklist site entry. Entries are lowercased
// hostnames; anything with whitespace or control characters is rejected.
func SanitizeSite(site string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(site))
	if normalized == "" {
		return "", fmt.Errorf("site cannot be empty")
	}
	for _, r := range normalized {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", fmt.Errorf("invalid site entry: %q", site)
		}
	}
	return normalized, nil
}

// SanitizeSites normalizes a blocklist, dropping duplicates and preserving
// order. Returns an error listing all invalid entries if any fail.
func SanitizeSites(sites []string) ([]string, error) {
	out := make([]string, 0, len(sites))
	seen := make(map[string]struct{}, len(sites))
	var invalid []string
	for _, s := range sites {
		clean, err := SanitizeSite(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid sites: %v", invalid)
	}
	return out, nil
}
