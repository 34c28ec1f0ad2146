// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the tracker service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "hia_tracker"

// TrackerMetrics holds all Prometheus metrics for the tracker.
type TrackerMetrics struct {
	// EventsTotal counts processed webhook events by type and outcome
	// (ok, invalid, conflict, error).
	EventsTotal *prometheus.CounterVec

	// EventDuration tracks end-to-end event dispatch latency.
	EventDuration *prometheus.HistogramVec

	// ReplicationTotal counts cloud mirror writes by operation and outcome.
	ReplicationTotal *prometheus.CounterVec

	// WatchdogDetections counts lazy-check findings by kind
	// (missed_heartbeat, break_expired).
	WatchdogDetections *prometheus.CounterVec

	// ReconcileRuns counts reconciliation outcomes
	// (in_sync, bootstrap, pushed, error).
	ReconcileRuns *prometheus.CounterVec

	// ActiveSessions gauges whether a session is currently running (0 or 1).
	ActiveSessions prometheus.Gauge
}

// NewTrackerMetrics creates and registers all tracker metrics with the
// provided registerer. Pass prometheus.DefaultRegisterer in production.
func NewTrackerMetrics(reg prometheus.Registerer) *TrackerMetrics {
	factory := promauto.With(reg)
	return &TrackerMetrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Webhook events processed, by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "event_duration_seconds",
				Help:      "Event dispatch latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		ReplicationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "replication_total",
				Help:      "Cloud mirror writes, by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		WatchdogDetections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "watchdog_detections_total",
				Help:      "Watchdog findings, by kind.",
			},
			[]string{"kind"},
		),
		ReconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_runs_total",
				Help:      "Store reconciliation runs, by outcome.",
			},
			[]string{"outcome"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Whether a study session is currently active.",
			},
		),
	}
}

// NewTestMetrics creates metrics on a private registry for tests.
func NewTestMetrics() *TrackerMetrics {
	return NewTrackerMetrics(prometheus.NewRegistry())
}
