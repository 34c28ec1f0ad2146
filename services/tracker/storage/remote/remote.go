// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote implements the storage capability against another tracker
// deployment's /v1/sync API. The cloud mirror is just a second instance of
// this service reached over HTTP; every Store operation maps to one
// endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

// DefaultTimeout bounds each sync API request.
const DefaultTimeout = 15 * time.Second

// Config holds configuration for a remote store client.
type Config struct {
	// BaseURL is the root of the remote deployment, e.g.
	// "https://backup.example.com". Required.
	BaseURL string

	// APIKey authenticates against the remote's sync surface. Sent as a
	// bearer token.
	APIKey string

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// Client implements storage.Store over the /v1/sync API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ storage.Store = (*Client)(nil)

// New creates a remote store client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}, nil
}

// Close is a no-op; the client holds no persistent resources.
func (c *Client) Close() error { return nil }

// =============================================================================
// Request Plumbing
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return storage.ErrNotFound
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

func (c *Client) ActiveSession(ctx context.Context) (*datatypes.StudySession, error) {
	var sess datatypes.StudySession
	if err := c.do(ctx, http.MethodGet, "/v1/sync/sessions/active", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) SessionByID(ctx context.Context, id string) (*datatypes.StudySession, error) {
	var sess datatypes.StudySession
	if err := c.do(ctx, http.MethodGet, "/v1/sync/sessions/id/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) CreateSession(ctx context.Context, draft datatypes.SessionDraft) (*datatypes.StudySession, error) {
	var sess datatypes.StudySession
	if err := c.do(ctx, http.MethodPost, "/v1/sync/sessions", draft, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) PatchSession(ctx context.Context, id string, patch datatypes.SessionPatch) error {
	return c.do(ctx, http.MethodPatch, "/v1/sync/sessions/id/"+url.PathEscape(id), patch, nil)
}

func (c *Client) ListSessions(ctx context.Context, page, perPage int) ([]datatypes.StudySession, int, error) {
	var out struct {
		Sessions []datatypes.StudySession `json:"sessions"`
		Total    int                      `json:"total"`
	}
	path := fmt.Sprintf("/v1/sync/sessions?page=%d&per_page=%d", page, perPage)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Sessions, out.Total, nil
}

func (c *Client) SweepTestSessions(ctx context.Context, olderThan time.Time) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	body := map[string]any{"older_than": olderThan}
	if err := c.do(ctx, http.MethodPost, "/v1/sync/sweep", body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// =============================================================================
// Logs
// =============================================================================

func (c *Client) AppendLog(ctx context.Context, draft datatypes.LogDraft) (*datatypes.Log, error) {
	var log datatypes.Log
	if err := c.do(ctx, http.MethodPost, "/v1/sync/logs", draft, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (c *Client) LogsBySession(ctx context.Context, sessionID string, ascending bool) ([]datatypes.Log, error) {
	var logs []datatypes.Log
	path := fmt.Sprintf("/v1/sync/logs?session=%s&ascending=%s",
		url.QueryEscape(sessionID), strconv.FormatBool(ascending))
	if err := c.do(ctx, http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) RecentLogs(ctx context.Context, limit int) ([]datatypes.Log, error) {
	var logs []datatypes.Log
	path := fmt.Sprintf("/v1/sync/logs?recent=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) UnacknowledgedAlerts(ctx context.Context) ([]datatypes.Log, error) {
	var logs []datatypes.Log
	if err := c.do(ctx, http.MethodGet, "/v1/sync/logs?alerts=true", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) PatchLogMetadata(ctx context.Context, id string, metadata map[string]any) error {
	path := "/v1/sync/logs/" + url.PathEscape(id) + "/metadata"
	return c.do(ctx, http.MethodPatch, path, metadata, nil)
}

// =============================================================================
// Variables
// =============================================================================

func (c *Client) Variable(ctx context.Context, key string) (*datatypes.Variable, error) {
	var v datatypes.Variable
	if err := c.do(ctx, http.MethodGet, "/v1/sync/variables/"+url.PathEscape(key), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) UpsertVariable(ctx context.Context, key string, value any) error {
	body := map[string]any{"value": value}
	return c.do(ctx, http.MethodPut, "/v1/sync/variables/"+url.PathEscape(key), body, nil)
}

func (c *Client) DeleteVariable(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sync/variables/"+url.PathEscape(key), nil, nil)
}

// =============================================================================
// Bulk Operations
// =============================================================================

func (c *Client) Counts(ctx context.Context) (storage.Counts, error) {
	var counts storage.Counts
	if err := c.do(ctx, http.MethodGet, "/v1/sync/counts", nil, &counts); err != nil {
		return storage.Counts{}, err
	}
	return counts, nil
}

func (c *Client) ExportAll(ctx context.Context) (*datatypes.Snapshot, error) {
	var snap datatypes.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/sync/export", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) ImportAll(ctx context.Context, snap *datatypes.Snapshot) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/import", snap, nil)
}

func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/clear", nil, nil)
}

func (c *Client) DivergenceToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sync/hash", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
