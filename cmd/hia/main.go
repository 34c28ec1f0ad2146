// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command hia starts the HIALocal study-session tracker.
//
// It reads configuration from environment variables and runs one of three
// modes: the full HTTP server, the background worker, or a one-shot
// reconcile against the cloud deployment.
//
// # Environment Variables
//
//   - HIA_PORT: HTTP server port (default: 12230)
//   - HIA_DATA_DIR: badger database directory (default: ./data/tracker)
//   - HIA_CLOUD_URL: cloud tracker base URL (optional; local-only if unset)
//   - HIA_CLOUD_KEY: API key for the cloud deployment and /v1/sync surface
//   - HIA_HOMELAB_KEY: API key for the homelab webhook forwarder
//   - HIA_CLIENT_KEY: API key for the client app
//   - HIA_LOG_DIR: log file directory (optional; stderr-only if unset)
//   - OPENAI_API_KEY: enables AI session reflections (optional)
//   - OPENAI_MODEL: reflection model (default: gpt-4o-mini)
//
// # Usage
//
//	# Build
//	go build -o hia ./cmd/hia
//
//	# Run the server
//	./hia serve
//
//	# Scheduler only, no HTTP
//	./hia worker
//
//	# One-shot reconcile
//	./hia reconcile
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/HIALocal/services/tracker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hia",
	Short: "HIALocal study-session tracker",
	Long: `hia runs the HIALocal study-session tracker: it ingests webhook
events from the homelab forwarder and the client app, derives session and
break state, and mirrors every change to the cloud deployment.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := tracker.New(configFromEnv())
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the background scheduler (no HTTP server)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := tracker.New(configFromEnv())
		if err != nil {
			return err
		}

		stop := make(chan struct{})
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigs
			close(stop)
		}()
		return svc.RunWorker(stop)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconcile pass against the cloud deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := tracker.New(configFromEnv())
		if err != nil {
			return err
		}
		defer svc.Close()

		outcome, err := svc.Reconcile()
		if err != nil {
			return err
		}
		log.Printf("Reconcile finished: %s", outcome)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, reconcileCmd)
}

// configFromEnv builds the tracker configuration from environment variables.
func configFromEnv() tracker.Config {
	return tracker.Config{
		Port:       getEnvInt("HIA_PORT", 12230),
		DataDir:    getEnvString("HIA_DATA_DIR", "./data/tracker"),
		CloudURL:   os.Getenv("HIA_CLOUD_URL"),
		CloudKey:   os.Getenv("HIA_CLOUD_KEY"),
		HomelabKey: os.Getenv("HIA_HOMELAB_KEY"),
		ClientKey:  os.Getenv("HIA_CLIENT_KEY"),
		LogDir:     os.Getenv("HIA_LOG_DIR"),
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
