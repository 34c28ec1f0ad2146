// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the tracker's HTTP routes to their handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/HIALocal/services/tracker/handlers"
	"github.com/AleutianAI/HIALocal/services/tracker/middleware"
)

// Keys groups the per-role API keys.
type Keys struct {
	// Homelab authenticates the machine-side agent posting events.
	Homelab *middleware.Key
	// Client authenticates the UI reading state.
	Client *middleware.Key
	// Cloud authenticates a peer deployment on the sync surface.
	Cloud *middleware.Key
}

// Setup registers all routes on the router.
//
// Three protected surfaces with separate keys: the webhook ingest (homelab
// agent), the client read API (UI), and the sync API (peer deployment). The
// client key is also accepted on ingest so the UI can send session controls.
// Health and metrics stay open for probes and scrapers.
func Setup(router *gin.Engine, deps handlers.Deps, keys Keys) {
	auth := middleware.NewAuth(deps.Logger)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")

	webhooks := v1.Group("/webhooks")
	webhooks.Use(auth.Require(keys.Homelab, keys.Client))
	{
		webhooks.POST("/ingest", handlers.Ingest(deps))
	}

	client := v1.Group("")
	client.Use(auth.Require(keys.Client))
	{
		client.GET("/status", handlers.Status(deps))
		client.GET("/history", handlers.History(deps))
		client.GET("/logs", handlers.Logs(deps))
		client.GET("/summary", handlers.Summary(deps))
		client.POST("/acknowledge", handlers.Acknowledge(deps))
	}

	sync := v1.Group("/sync")
	sync.Use(auth.Require(keys.Cloud))
	{
		sync.GET("/sessions", handlers.SyncListSessions(deps))
		sync.POST("/sessions", handlers.SyncCreateSession(deps))
		sync.GET("/sessions/active", handlers.SyncActiveSession(deps))
		sync.GET("/sessions/id/:id", handlers.SyncSessionByID(deps))
		sync.PATCH("/sessions/id/:id", handlers.SyncPatchSession(deps))
		sync.POST("/sweep", handlers.SyncSweep(deps))

		sync.GET("/logs", handlers.SyncQueryLogs(deps))
		sync.POST("/logs", handlers.SyncAppendLog(deps))
		sync.PATCH("/logs/:id/metadata", handlers.SyncPatchLogMetadata(deps))

		sync.GET("/variables/:key", handlers.SyncGetVariable(deps))
		sync.PUT("/variables/:key", handlers.SyncPutVariable(deps))
		sync.DELETE("/variables/:key", handlers.SyncDeleteVariable(deps))

		sync.GET("/counts", handlers.SyncCounts(deps))
		sync.GET("/export", handlers.SyncExport(deps))
		sync.POST("/import", handlers.SyncImport(deps))
		sync.POST("/clear", handlers.SyncClear(deps))
		sync.GET("/hash", handlers.SyncHash(deps))
	}
}
