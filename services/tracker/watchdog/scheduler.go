// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
)

// SchedulerConfig holds configuration for the background scheduler.
type SchedulerConfig struct {
	// CheckInterval is how often the watchdog checks run.
	CheckInterval time.Duration

	// ReconcileInterval is how often the stores are reconciled.
	ReconcileInterval time.Duration

	// Enabled controls whether the scheduler runs at all.
	Enabled bool
}

// DefaultSchedulerConfig returns the production defaults: checks every 30
// seconds, reconciliation every 5 minutes.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval:     30 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		Enabled:           true,
	}
}

// Scheduler runs the watchdog checks and store reconciliation on timers.
// The lazy checks on status reads remain the fast path; the scheduler is the
// safety net for when no client is polling.
type Scheduler struct {
	watchdog *Watchdog
	syncer   *tsync.Syncer
	logger   *slog.Logger
	config   SchedulerConfig

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. Call Start to begin execution.
func NewScheduler(w *Watchdog, syncer *tsync.Syncer, logger *slog.Logger, config SchedulerConfig) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		watchdog: w,
		syncer:   syncer,
		logger:   logger,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. It bootstraps the local store from the
// cloud mirror once, then ticks. Start is idempotent; extra calls are
// ignored while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("watchdog.scheduler: already running, ignoring start")
		return
	}
	if !s.config.Enabled {
		s.logger.Info("watchdog.scheduler: disabled, not starting")
		return
	}
	s.running = true

	s.logger.Info("watchdog.scheduler: starting",
		"check_interval", s.config.CheckInterval.String(),
		"reconcile_interval", s.config.ReconcileInterval.String())
	go s.runLoop(ctx)
}

// Stop halts the background loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	s.logger.Info("watchdog.scheduler: stopped")
}

// RunNow triggers one immediate watchdog pass, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.executeChecks(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	if s.syncer != nil {
		if err := s.syncer.Bootstrap(ctx); err != nil {
			s.logger.Error("watchdog.scheduler: bootstrap failed", "error", err)
		}
	}

	checkTicker := time.NewTicker(s.config.CheckInterval)
	defer checkTicker.Stop()
	reconcileTicker := time.NewTicker(s.config.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watchdog.scheduler: context cancelled, exiting")
			return
		case <-s.done:
			return
		case <-checkTicker.C:
			s.executeChecks(ctx)
		case <-reconcileTicker.C:
			s.executeReconcile(ctx)
		}
	}
}

func (s *Scheduler) executeChecks(ctx context.Context) {
	changed, err := s.watchdog.RunChecks(ctx)
	if err != nil {
		s.logger.Error("watchdog.scheduler: checks failed", "error", err)
		return
	}
	if changed {
		s.logger.Info("watchdog.scheduler: checks changed state")
	}
}

func (s *Scheduler) executeReconcile(ctx context.Context) {
	if s.syncer == nil {
		return
	}
	outcome, err := s.syncer.Reconcile(ctx)
	if err != nil {
		s.logger.Error("watchdog.scheduler: reconcile failed", "error", err)
		return
	}
	if outcome != tsync.OutcomeInSync {
		s.logger.Info("watchdog.scheduler: reconcile repaired divergence",
			"outcome", string(outcome))
	}
}
