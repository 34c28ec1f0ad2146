// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package invariant enforces the tracker's state machine rules: at most one
// active session, at most one active break, and never both. Every event
// handler runs its preconditions through these checks before mutating state.
package invariant

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// ViolationError reports a rejected state transition. The event was
// well-formed but illegal in the current state; callers map it to HTTP 409.
type ViolationError struct {
	Rule   string
	Detail string
}

func (e *ViolationError) Error() string {
	if e.Detail == "" {
		return e.Rule
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

// IsViolation reports whether err is (or wraps) a ViolationError.
func IsViolation(err error) bool {
	var v *ViolationError
	return errors.As(err, &v)
}

// ActiveSession returns the single active session, or nil when none exists.
func ActiveSession(ctx context.Context, store storage.Store) (*datatypes.StudySession, error) {
	sess, err := store.ActiveSession(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active session: %w", err)
	}
	return sess, nil
}

// ActiveBreak returns the current break variable value, or nil when none
// exists.
func ActiveBreak(ctx context.Context, store storage.Store) (*datatypes.BreakValue, error) {
	v, err := store.Variable(ctx, datatypes.VarBreak)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query break variable: %w", err)
	}
	b, err := datatypes.DecodeBreakValue(v.Value)
	if err != nil {
		return nil, fmt.Errorf("decode break variable: %w", err)
	}
	return b, nil
}

// EnsureNoActiveSession rejects when a session is already running.
func EnsureNoActiveSession(ctx context.Context, store storage.Store) error {
	sess, err := ActiveSession(ctx, store)
	if err != nil {
		return err
	}
	if sess != nil {
		return &ViolationError{
			Rule:   "session already active",
			Detail: fmt.Sprintf("subject %q started at %s", sess.Subject, sess.StartedAt.Format("15:04:05")),
		}
	}
	return nil
}

// EnsureActiveSession returns the running session, or a violation when none
// exists.
func EnsureActiveSession(ctx context.Context, store storage.Store) (*datatypes.StudySession, error) {
	sess, err := ActiveSession(ctx, store)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &ViolationError{Rule: "no active session"}
	}
	return sess, nil
}

// EnsureNoActiveBreak rejects when a break is already running.
func EnsureNoActiveBreak(ctx context.Context, store storage.Store) error {
	b, err := ActiveBreak(ctx, store)
	if err != nil {
		return err
	}
	if b != nil {
		return &ViolationError{Rule: "break already active"}
	}
	return nil
}

// EnsureActiveBreak returns the running break, or a violation when none
// exists.
func EnsureActiveBreak(ctx context.Context, store storage.Store) (*datatypes.BreakValue, error) {
	b, err := ActiveBreak(ctx, store)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &ViolationError{Rule: "no active break"}
	}
	return b, nil
}
