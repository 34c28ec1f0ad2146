// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summary generates short AI reflections over a finished session's
// timeline. Generation is best effort: a provider failure degrades to a
// fixed fallback reflection and never blocks session completion.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
)

// FallbackText is used when the provider is unavailable or returns garbage.
const FallbackText = "Summary unavailable due to an error."

const defaultModel = openai.GPT4oMini

// Reflection is a generated session summary.
type Reflection struct {
	SummaryText string
	StatusLabel datatypes.SummaryStatusLabel
}

// Fallback returns the degraded reflection used on any provider failure.
func Fallback() Reflection {
	return Reflection{SummaryText: FallbackText, StatusLabel: datatypes.SummaryMixed}
}

// Generator produces a reflection for a finished session.
type Generator interface {
	Generate(ctx context.Context, subject string, timeline []datatypes.TimelineEvent) (Reflection, error)
}

// =============================================================================
// OpenAI Generator
// =============================================================================

// OpenAIGenerator implements Generator on the OpenAI chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator from the environment.
//
// # Description
//
// Reads OPENAI_API_KEY from the environment, falling back to the
// /run/secrets/openai_api_key file for container deployments. The model
// comes from OPENAI_MODEL, defaulting to gpt-4o-mini.
//
// # Outputs
//
//   - *OpenAIGenerator: configured generator.
//   - error: non-nil when no API key can be found.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set and no secret file found")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultModel
	}
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}, nil
}

// reflectionResponse is the JSON shape requested from the model.
type reflectionResponse struct {
	Summary     string `json:"summary"`
	StatusLabel string `json:"status_label"`
}

const systemPrompt = `You are a strict but fair productivity coach reviewing a study session timeline.
Write a one-to-three sentence reflection on how the session went, addressed to the student.
Classify the session as FOCUSED, DISTRACTED, or MIXED based on breaches and warnings in the timeline.
Respond with a JSON object: {"summary": "...", "status_label": "FOCUSED|DISTRACTED|MIXED"}.`

func (g *OpenAIGenerator) Generate(ctx context.Context, subject string, timeline []datatypes.TimelineEvent) (Reflection, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\nTimeline:\n", subject)
	for _, ev := range timeline {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", ev.Time.Format("15:04:05"), ev.Type, ev.Description)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return Reflection{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reflection{}, fmt.Errorf("chat completion returned no choices")
	}

	var parsed reflectionResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Reflection{}, fmt.Errorf("parse reflection response: %w", err)
	}
	if parsed.Summary == "" {
		return Reflection{}, fmt.Errorf("reflection response missing summary text")
	}
	return Reflection{SummaryText: parsed.Summary, StatusLabel: normalizeLabel(parsed.StatusLabel)}, nil
}

// normalizeLabel coerces a model-supplied label into one of the three known
// values, defaulting to MIXED for anything unexpected.
func normalizeLabel(raw string) datatypes.SummaryStatusLabel {
	label := datatypes.SummaryStatusLabel(strings.ToUpper(strings.TrimSpace(raw)))
	switch label {
	case datatypes.SummaryFocused, datatypes.SummaryDistracted, datatypes.SummaryMixed:
		return label
	default:
		return datatypes.SummaryMixed
	}
}
