// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// statusPayload is the GET /v1/status response body.
type statusPayload struct {
	ActiveSession *datatypes.StudySession   `json:"active_session"`
	ActiveBreak   *datatypes.BreakValue     `json:"active_break"`
	LastHeartbeat *datatypes.HeartbeatValue `json:"last_heartbeat"`
	Logs          []datatypes.Log           `json:"logs"`
	Alerts        []datatypes.Log           `json:"alerts"`
	ServerTime    time.Time                 `json:"server_time"`
}

// Status handles GET /v1/status.
//
// The lazy watchdog checks run first, so the response always reflects
// expired breaks and heartbeat gaps even when the background scheduler
// hasn't fired yet.
func Status(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if deps.Watchdog != nil {
			if _, err := deps.Watchdog.RunChecks(ctx); err != nil {
				deps.logger().Error("handlers.status: watchdog checks failed", "error", err)
			}
		}

		payload, err := readStatus(ctx, deps.Store)
		if err != nil {
			deps.logger().Error("handlers.status: read failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status read failed"})
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

func readStatus(ctx context.Context, store storage.Store) (*statusPayload, error) {
	payload := &statusPayload{
		Logs:       []datatypes.Log{},
		Alerts:     []datatypes.Log{},
		ServerTime: time.Now().UTC(),
	}

	sess, err := invariant.ActiveSession(ctx, store)
	if err != nil {
		return nil, err
	}
	payload.ActiveSession = sess

	b, err := invariant.ActiveBreak(ctx, store)
	if err != nil {
		return nil, err
	}
	payload.ActiveBreak = b

	v, err := store.Variable(ctx, datatypes.VarLastHeartbeat)
	switch {
	case err == nil:
		hb, err := datatypes.DecodeHeartbeatValue(v.Value)
		if err != nil {
			return nil, err
		}
		payload.LastHeartbeat = hb
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if sess != nil {
		logs, err := store.LogsBySession(ctx, sess.ID, false)
		if err != nil {
			return nil, err
		}
		payload.Logs = logs
	}

	alerts, err := store.UnacknowledgedAlerts(ctx)
	if err != nil {
		return nil, err
	}
	payload.Alerts = alerts
	return payload, nil
}

// History handles GET /v1/history: finished and active sessions, newest
// first, paginated.
func History(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := queryInt(c, "page", 1)
		perPage := queryInt(c, "per_page", 20)

		sessions, total, err := deps.Store.ListSessions(c.Request.Context(), page, perPage)
		if err != nil {
			deps.logger().Error("handlers.history: list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history read failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions": sessions,
			"total":    total,
			"page":     page,
			"per_page": perPage,
		})
	}
}

// Logs handles GET /v1/logs: one session's logs (?session_id=, newest first)
// or the most recent entries across all sessions (?limit=).
func Logs(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var logs []datatypes.Log
		var err error
		if sessionID := c.Query("session_id"); sessionID != "" {
			logs, err = deps.Store.LogsBySession(c.Request.Context(), sessionID, false)
		} else {
			logs, err = deps.Store.RecentLogs(c.Request.Context(), queryInt(c, "limit", 50))
		}
		if err != nil {
			deps.logger().Error("handlers.logs: read failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "log read failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

// Summary handles GET /v1/summary: the latest AI reflection, 404 when no
// session has finished yet.
func Summary(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := deps.Store.Variable(c.Request.Context(), datatypes.VarSummary)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no summary available"})
			return
		}
		if err != nil {
			deps.logger().Error("handlers.summary: read failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary read failed"})
			return
		}
		sum, err := datatypes.DecodeSummaryValue(v.Value)
		if err != nil {
			deps.logger().Error("handlers.summary: decode failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary read failed"})
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

// Acknowledge handles POST /v1/acknowledge: flips every unacknowledged alert.
func Acknowledge(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := deps.Engine.AcknowledgeAlerts(c.Request.Context())
		if err != nil {
			deps.logger().Error("handlers.acknowledge: failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "acknowledge failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
	}
}

// Health handles GET /health.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tracker",
		})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
