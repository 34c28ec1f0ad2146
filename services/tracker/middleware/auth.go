// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the tracker service.
//
// # Authentication Flow
//
// The tracker has three API keys, one per caller role:
//
//   - homelab: the machine-side agent posting webhook events
//   - client: the UI reading status and acknowledging alerts
//   - cloud: a peer deployment using the sync API
//
// Each middleware extracts a bearer token from the Authorization header and
// compares it in constant time against the expected key, which is held in a
// memguard enclave so it never sits in plain heap memory between requests.
//
// Failed attempts are rate limited per source IP; past the limit the caller
// gets 429 regardless of what credentials it presents.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Key Handling
// =============================================================================

// Key is an API key sealed in a memguard enclave.
type Key struct {
	enclave *memguard.Enclave
}

// NewKey seals raw into an enclave and wipes the input slice.
func NewKey(raw []byte) *Key {
	if len(raw) == 0 {
		return &Key{}
	}
	return &Key{enclave: memguard.NewEnclave(raw)}
}

// NewKeyFromString seals a string key.
func NewKeyFromString(raw string) *Key {
	if raw == "" {
		return &Key{}
	}
	return NewKey([]byte(raw))
}

// Empty reports whether no key material was configured.
func (k *Key) Empty() bool {
	return k == nil || k.enclave == nil
}

// Matches compares token against the sealed key in constant time.
func (k *Key) Matches(token string) bool {
	if k.Empty() || token == "" {
		return false
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(token)) == 1
}

// =============================================================================
// Failed-Auth Rate Limiter
// =============================================================================

const (
	// failedAuthLimit is how many failed attempts a source IP gets per
	// window before being cut off.
	failedAuthLimit = 10

	// failedAuthWindow is the sliding window for failed attempts.
	failedAuthWindow = time.Hour
)

// failLimiter tracks failed authentication attempts per source IP.
type failLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newFailLimiter() *failLimiter {
	return &failLimiter{attempts: make(map[string][]time.Time)}
}

// blocked reports whether ip has exhausted its failure budget.
func (l *failLimiter) blocked(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ip, now)) >= failedAuthLimit
}

// record notes one failed attempt for ip.
func (l *failLimiter) record(ip string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[ip] = append(l.prune(ip, now), now)
}

// prune drops attempts older than the window. Caller holds mu.
func (l *failLimiter) prune(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-failedAuthWindow)
	kept := l.attempts[ip][:0]
	for _, t := range l.attempts[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, ip)
		return nil
	}
	l.attempts[ip] = kept
	return kept
}

// =============================================================================
// Auth Middleware
// =============================================================================

// Auth validates bearer tokens against a set of accepted keys.
type Auth struct {
	limiter *failLimiter
	logger  *slog.Logger
}

// NewAuth creates the shared auth state: one failure budget across all
// protected surfaces.
func NewAuth(logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{limiter: newFailLimiter(), logger: logger}
}

// Require returns middleware that admits requests bearing any of the given
// keys. An empty key never matches, so an unconfigured surface rejects
// everything rather than becoming open.
func (a *Auth) Require(keys ...*Key) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()
		if a.limiter.blocked(ip, now) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many failed attempts",
			})
			return
		}

		token := extractBearerToken(c)
		for _, key := range keys {
			if key.Matches(token) {
				c.Next()
				return
			}
		}

		a.limiter.record(ip, now)
		a.logger.Warn("middleware.auth: rejected request", "ip", ip, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme is
// case-insensitive per RFC 7235. Returns empty string when missing or
// malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
