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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// The sync API exposes the storage capability over HTTP so a peer deployment
// can use this instance as its mirror. Handlers talk to the store directly:
// replicated writes already went through the sender's derivation engine, and
// running them through ours would double-derive.

// SyncActiveSession handles GET /v1/sync/sessions/active.
func SyncActiveSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := deps.Store.ActiveSession(c.Request.Context())
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		if err != nil {
			syncError(deps, c, "active session read failed", err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// SyncSessionByID handles GET /v1/sync/sessions/:id.
func SyncSessionByID(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := deps.Store.SessionByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			syncError(deps, c, "session read failed", err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// SyncCreateSession handles POST /v1/sync/sessions.
func SyncCreateSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var draft datatypes.SessionDraft
		if err := c.ShouldBindJSON(&draft); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := deps.Store.CreateSession(c.Request.Context(), draft)
		if err != nil {
			syncError(deps, c, "session create failed", err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// SyncPatchSession handles PATCH /v1/sync/sessions/:id.
func SyncPatchSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch datatypes.SessionPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := deps.Store.PatchSession(c.Request.Context(), c.Param("id"), patch)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			syncError(deps, c, "session patch failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncListSessions handles GET /v1/sync/sessions.
func SyncListSessions(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := queryInt(c, "page", 1)
		perPage := queryInt(c, "per_page", 20)
		sessions, total, err := deps.Store.ListSessions(c.Request.Context(), page, perPage)
		if err != nil {
			syncError(deps, c, "session list failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": total})
	}
}

// SyncSweep handles POST /v1/sync/sweep.
func SyncSweep(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			OlderThan time.Time `json:"older_than" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		count, err := deps.Store.SweepTestSessions(c.Request.Context(), body.OlderThan)
		if err != nil {
			syncError(deps, c, "sweep failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// SyncAppendLog handles POST /v1/sync/logs.
func SyncAppendLog(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var draft datatypes.LogDraft
		if err := c.ShouldBindJSON(&draft); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log, err := deps.Store.AppendLog(c.Request.Context(), draft)
		if err != nil {
			syncError(deps, c, "log append failed", err)
			return
		}
		c.JSON(http.StatusCreated, log)
	}
}

// SyncQueryLogs handles GET /v1/sync/logs. Exactly one of the query modes
// applies: session listing, recent tail, or unacknowledged alerts.
func SyncQueryLogs(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var (
			logs []datatypes.Log
			err  error
		)
		switch {
		case c.Query("session") != "":
			logs, err = deps.Store.LogsBySession(ctx, c.Query("session"), c.Query("ascending") == "true")
		case c.Query("alerts") == "true":
			logs, err = deps.Store.UnacknowledgedAlerts(ctx)
		default:
			logs, err = deps.Store.RecentLogs(ctx, queryInt(c, "recent", 50))
		}
		if err != nil {
			syncError(deps, c, "log query failed", err)
			return
		}
		if logs == nil {
			logs = []datatypes.Log{}
		}
		c.JSON(http.StatusOK, logs)
	}
}

// SyncPatchLogMetadata handles PATCH /v1/sync/logs/:id/metadata.
func SyncPatchLogMetadata(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var metadata map[string]any
		if err := c.ShouldBindJSON(&metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := deps.Store.PatchLogMetadata(c.Request.Context(), c.Param("id"), metadata)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
			return
		}
		if err != nil {
			syncError(deps, c, "log metadata patch failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncGetVariable handles GET /v1/sync/variables/:key.
func SyncGetVariable(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := deps.Store.Variable(c.Request.Context(), c.Param("key"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "variable not found"})
			return
		}
		if err != nil {
			syncError(deps, c, "variable read failed", err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// SyncPutVariable handles PUT /v1/sync/variables/:key.
func SyncPutVariable(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Value any `json:"value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Store.UpsertVariable(c.Request.Context(), c.Param("key"), body.Value); err != nil {
			syncError(deps, c, "variable upsert failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncDeleteVariable handles DELETE /v1/sync/variables/:key.
func SyncDeleteVariable(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Store.DeleteVariable(c.Request.Context(), c.Param("key")); err != nil {
			syncError(deps, c, "variable delete failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncCounts handles GET /v1/sync/counts.
func SyncCounts(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := deps.Store.Counts(c.Request.Context())
		if err != nil {
			syncError(deps, c, "counts read failed", err)
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

// SyncExport handles GET /v1/sync/export.
func SyncExport(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := deps.Store.ExportAll(c.Request.Context())
		if err != nil {
			syncError(deps, c, "export failed", err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// SyncImport handles POST /v1/sync/import.
func SyncImport(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var snap datatypes.Snapshot
		if err := c.ShouldBindJSON(&snap); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Store.ImportAll(c.Request.Context(), &snap); err != nil {
			syncError(deps, c, "import failed", err)
			return
		}
		deps.logger().Info("handlers.sync: imported snapshot", "records", snap.Total())
		c.JSON(http.StatusOK, gin.H{"status": "ok", "records": snap.Total()})
	}
}

// SyncClear handles POST /v1/sync/clear.
func SyncClear(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Store.ClearAll(c.Request.Context()); err != nil {
			syncError(deps, c, "clear failed", err)
			return
		}
		deps.logger().Warn("handlers.sync: store cleared by peer")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// SyncHash handles GET /v1/sync/hash.
func SyncHash(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := deps.Store.DivergenceToken(c.Request.Context())
		if err != nil {
			syncError(deps, c, "token computation failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func syncError(deps Deps, c *gin.Context, msg string, err error) {
	deps.logger().Error("handlers.sync: "+msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
