// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the tracker's HTTP surface: webhook ingest,
// the client read API, and the store-to-store sync API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/derive"
	"github.com/AleutianAI/HIALocal/services/tracker/invariant"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/watchdog"
)

// Deps carries the shared dependencies of all handlers.
type Deps struct {
	Store    storage.Store
	Engine   *derive.Engine
	Watchdog *watchdog.Watchdog
	Logger   *slog.Logger

	// Gatherer backs the /metrics endpoint. Must be the registry the
	// tracker metrics were registered on; nil falls back to the default.
	Gatherer prometheus.Gatherer
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Ingest handles POST /v1/webhooks/ingest: decode, validate, dispatch.
//
// Responses: 400 for malformed or invalid payloads, 409 for well-formed
// events that are illegal in the current state, 500 for dependency failures.
func Ingest(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
			return
		}

		ev, err := datatypes.DecodeEvent(body)
		if err != nil {
			deps.logger().Warn("handlers.ingest: rejected event", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := deps.Engine.Dispatch(c.Request.Context(), ev); err != nil {
			if invariant.IsViolation(err) {
				deps.logger().Info("handlers.ingest: event conflicts with current state",
					"event_type", string(ev.Type), "error", err)
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			deps.logger().Error("handlers.ingest: dispatch failed",
				"event_type", string(ev.Type), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"event_type": string(ev.Type),
		})
	}
}
