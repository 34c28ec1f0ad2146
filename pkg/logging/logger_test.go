// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readLogFile reads today's log file for the given service.
func readLogFile(t *testing.T, dir, service string) []byte {
	t.Helper()
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return data
}

func TestNew_WritesJSONFilePerService(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "tracker",
		Quiet:   true,
	})
	logger.Info("server started", "port", 12230)
	require.NoError(t, logger.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(readLogFile(t, dir, "tracker"), &entry))
	assert.Equal(t, "server started", entry["msg"])
	assert.Equal(t, "tracker", entry["service"])
	assert.Equal(t, float64(12230), entry["port"])
}

func TestNew_CreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger := New(Config{LogDir: dir, Service: "worker", Quiet: true})
	logger.Info("hello")
	require.NoError(t, logger.Close())

	assert.NotEmpty(t, readLogFile(t, dir, "worker"))
}

func TestNew_UnwritableLogDirDegradesToStderr(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0600))

	logger := New(Config{LogDir: blocked, Service: "tracker"})
	// Must not panic, and Close has no file to release.
	logger.Info("still logging")
	require.NoError(t, logger.Close())
}

func TestNew_LevelFiltersFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   slog.LevelWarn,
		LogDir:  dir,
		Service: "tracker",
		Quiet:   true,
	})
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	data := string(readLogFile(t, dir, "tracker"))
	assert.NotContains(t, data, "dropped")
	assert.Contains(t, data, "kept")
}

func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "tracker", Quiet: true})
	child := logger.With("machine", "desktop-01")
	child.Info("heartbeat received")
	require.NoError(t, logger.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(readLogFile(t, dir, "tracker"), &entry))
	assert.Equal(t, "desktop-01", entry["machine"])
	assert.Equal(t, "tracker", entry["service"])
}

func TestSlog_SharesDestinations(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "tracker", Quiet: true})
	logger.Slog().Info("via slog")
	require.NoError(t, logger.Close())

	assert.Contains(t, string(readLogFile(t, dir, "tracker")), "via slog")
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Service: "tracker", Quiet: true})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	// A logger with no file has nothing to close either.
	require.NoError(t, New(Config{Quiet: true}).Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".hia/logs"), expandPath("~/.hia/logs"))
	assert.Equal(t, "/var/log/hia", expandPath("/var/log/hia"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
