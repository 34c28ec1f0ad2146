// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
)

func TestFallback(t *testing.T) {
	r := Fallback()
	assert.Equal(t, FallbackText, r.SummaryText)
	assert.Equal(t, datatypes.SummaryMixed, r.StatusLabel)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, datatypes.SummaryFocused, normalizeLabel("FOCUSED"))
	assert.Equal(t, datatypes.SummaryDistracted, normalizeLabel(" distracted "))
	assert.Equal(t, datatypes.SummaryMixed, normalizeLabel("mixed"))
	assert.Equal(t, datatypes.SummaryMixed, normalizeLabel("SOMETHING_ELSE"))
	assert.Equal(t, datatypes.SummaryMixed, normalizeLabel(""))
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIGenerator()
	assert.Error(t, err)
}
