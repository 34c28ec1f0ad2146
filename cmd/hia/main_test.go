// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("HIA_TEST_STRING", "value")
	assert.Equal(t, "value", getEnvString("HIA_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", getEnvString("HIA_TEST_UNSET", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("HIA_TEST_INT", "8080")
	assert.Equal(t, 8080, getEnvInt("HIA_TEST_INT", 1))

	t.Setenv("HIA_TEST_BAD_INT", "not-a-number")
	assert.Equal(t, 1, getEnvInt("HIA_TEST_BAD_INT", 1))
	assert.Equal(t, 1, getEnvInt("HIA_TEST_INT_UNSET", 1))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HIA_PORT", "9000")
	t.Setenv("HIA_DATA_DIR", "/tmp/hia-test")
	t.Setenv("HIA_CLOUD_URL", "https://cloud.example.com")

	cfg := configFromEnv()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/tmp/hia-test", cfg.DataDir)
	assert.Equal(t, "https://cloud.example.com", cfg.CloudURL)
}
