// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker provides the core study-session tracker service for HIALocal.
//
// This package contains the main Service type that coordinates all components
// of the tracker: the badger ground-truth store, the optional cloud mirror,
// the derivation engine, the watchdog with its background scheduler, HTTP
// routing, and observability infrastructure.
//
// # Usage
//
//	cfg := tracker.Config{Port: 12230, DataDir: "/var/lib/hia"}
//	svc, err := tracker.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/HIALocal/pkg/logging"
	"github.com/AleutianAI/HIALocal/services/tracker/clock"
	"github.com/AleutianAI/HIALocal/services/tracker/derive"
	"github.com/AleutianAI/HIALocal/services/tracker/handlers"
	"github.com/AleutianAI/HIALocal/services/tracker/middleware"
	"github.com/AleutianAI/HIALocal/services/tracker/observability"
	"github.com/AleutianAI/HIALocal/services/tracker/routes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/badgerstore"
	"github.com/AleutianAI/HIALocal/services/tracker/storage/remote"
	"github.com/AleutianAI/HIALocal/services/tracker/summary"
	tsync "github.com/AleutianAI/HIALocal/services/tracker/sync"
	"github.com/AleutianAI/HIALocal/services/tracker/watchdog"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the tracker service.
//
// # Description
//
// Service abstracts the tracker lifecycle, enabling testing and alternative
// deployments (the worker mode runs the scheduler without the HTTP server).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and the background scheduler, blocking
	// until the server stops.
	Run() error

	// RunWorker starts only the background scheduler and blocks until the
	// stop channel is closed. Used by the worker deployment mode.
	RunWorker(stop <-chan struct{}) error

	// Reconcile performs a single reconcile pass against the cloud store.
	Reconcile() (tsync.ReconcileOutcome, error)

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases the store and stops background work.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds tracker configuration options.
//
// # Description
//
// Config centralizes all configuration for the tracker service. Values are
// populated from environment variables in cmd/hia, or programmatically for
// testing.
//
// # Required Fields
//
// None - all fields have sensible defaults. Without CloudURL the service
// runs local-only: no mirroring, no reconcile.
type Config struct {
	// Port is the HTTP server port. Default: 12230
	Port int

	// DataDir is the badger database directory. Default: "./data/tracker"
	DataDir string

	// InMemory runs badger without disk persistence. Test-only.
	InMemory bool

	// CloudURL is the base URL of the cloud tracker deployment.
	// If empty, replication and reconcile are disabled.
	CloudURL string

	// CloudKey authenticates outbound calls to the cloud deployment and
	// inbound calls on this deployment's /v1/sync surface.
	CloudKey string

	// HomelabKey authenticates the homelab webhook forwarder.
	HomelabKey string

	// ClientKey authenticates the client app (webhooks and read API).
	ClientKey string

	// GinMode sets the Gin framework mode. Default: uses GIN_MODE env var.
	GinMode string

	// LogDir enables file logging when set.
	LogDir string

	// Scheduler controls the background watchdog/reconcile loop.
	Scheduler watchdog.SchedulerConfig

	// SummaryGenerator overrides the OpenAI reflection generator. When nil,
	// New builds one from the environment and falls back to canned
	// summaries if no API key is configured.
	SummaryGenerator summary.Generator

	// Registry overrides the Prometheus registry. Default: a fresh registry.
	Registry *prometheus.Registry
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
type service struct {
	config    Config
	logger    *logging.Logger
	store     *badgerstore.Store
	cloud     storage.Store
	engine    *derive.Engine
	watchdog  *watchdog.Watchdog
	scheduler *watchdog.Scheduler
	syncer    *tsync.Syncer
	router    *gin.Engine
}

// New creates a new tracker Service with the given configuration.
//
// # Description
//
// New initializes all tracker components:
//  1. Applies default configuration for missing values
//  2. Opens the badger ground-truth store
//  3. Connects the cloud mirror client if CloudURL is set
//  4. Builds the derivation engine, replicator, and watchdog
//  5. Sets up HTTP routes and the background scheduler
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run tracker service
//   - error: Non-nil if the store cannot be opened or a component fails
//     to initialize
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)

	logger := logging.New(logging.Config{
		Service: "tracker",
		LogDir:  cfg.LogDir,
		JSON:    cfg.LogDir != "",
	})
	log := logger.Slog()

	s := &service{config: cfg, logger: logger}

	store, err := s.openStore(log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.store = store

	if cfg.CloudURL != "" {
		cloud, err := remote.New(remote.Config{
			BaseURL: cfg.CloudURL,
			APIKey:  cfg.CloudKey,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create cloud client: %w", err)
		}
		s.cloud = cloud
		log.Info("tracker: cloud mirror configured", "url", cfg.CloudURL)
	} else {
		log.Info("tracker: no cloud URL configured, running local-only")
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		registerer = cfg.Registry
		gatherer = cfg.Registry
	}
	metrics := observability.NewTrackerMetrics(registerer)

	gen := cfg.SummaryGenerator
	if gen == nil {
		gen, err = summary.NewOpenAIGenerator()
		if err != nil {
			log.Warn("tracker: summary generator unavailable, using fallback summaries",
				"error", err)
			gen = nil
		}
	}

	clk := clock.Real{}
	repl := tsync.NewReplicator(s.cloud, log, metrics)
	s.engine = derive.NewEngine(store, repl, gen, clk, metrics, log)
	s.watchdog = watchdog.New(store, s.engine, clk, metrics, log)
	s.syncer = tsync.NewSyncer(store, s.cloud, log, metrics)
	s.scheduler = watchdog.NewScheduler(s.watchdog, s.syncer, log, cfg.Scheduler)

	s.initRouter(gatherer)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the background scheduler and the HTTP server, blocking until
// the server stops. The scheduler performs the one-time cloud bootstrap
// before its first tick.
func (s *service) Run() error {
	defer s.Close()

	s.scheduler.Start(context.Background())

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("tracker: starting server", "port", s.config.Port)
	return s.router.Run(addr)
}

// RunWorker starts only the background scheduler. Blocks until stop closes.
func (s *service) RunWorker(stop <-chan struct{}) error {
	defer s.Close()

	s.scheduler.Start(context.Background())
	s.logger.Info("tracker: worker started",
		"check_interval", s.config.Scheduler.CheckInterval.String(),
		"reconcile_interval", s.config.Scheduler.ReconcileInterval.String())
	<-stop
	return nil
}

// Reconcile performs a single reconcile pass. Fails when no cloud store is
// configured.
func (s *service) Reconcile() (tsync.ReconcileOutcome, error) {
	if s.cloud == nil {
		return "", fmt.Errorf("no cloud URL configured")
	}
	return s.syncer.Reconcile(context.Background())
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops the scheduler and closes the store. Safe to call more than
// once.
func (s *service) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	var err error
	if s.store != nil {
		err = s.store.Close()
		s.store = nil
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
	return err
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/tracker"
	}
	if cfg.Scheduler.CheckInterval == 0 && cfg.Scheduler.ReconcileInterval == 0 {
		cfg.Scheduler = watchdog.DefaultSchedulerConfig()
	}
	return cfg
}

func (s *service) openStore(log *slog.Logger) (*badgerstore.Store, error) {
	if s.config.InMemory {
		return badgerstore.OpenInMemory()
	}
	storeCfg := badgerstore.DefaultConfig(s.config.DataDir)
	storeCfg.Logger = log
	return badgerstore.Open(storeCfg)
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(gatherer prometheus.Gatherer) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()

	deps := handlers.Deps{
		Store:    s.store,
		Engine:   s.engine,
		Watchdog: s.watchdog,
		Logger:   s.logger.Slog(),
		Gatherer: gatherer,
	}
	keys := routes.Keys{
		Homelab: middleware.NewKeyFromString(s.config.HomelabKey),
		Client:  middleware.NewKeyFromString(s.config.ClientKey),
		Cloud:   middleware.NewKeyFromString(s.config.CloudKey),
	}
	routes.Setup(s.router, deps, keys)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
