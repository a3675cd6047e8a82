// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const clientTimeout = 10 * time.Second

// HTTPClient implements Backend against the control plane's internal
// REST surface. Every call is idempotent; 404 responses map to the
// contract's "not found is not an error" outcomes.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for the control plane at baseURL,
// authenticating with the shared service token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: clientTimeout},
	}
}

// do performs one JSON request. A nil out skips response decoding;
// notFoundOK turns 404 into (false, nil) instead of an error.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, notFoundOK bool) (bool, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFoundOK {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return true, nil
}

// Credentials implements Backend.
func (c *HTTPClient) Credentials(ctx context.Context, tenantID string) (*Credentials, error) {
	var creds Credentials
	found, err := c.do(ctx, http.MethodGet, "/internal/tenants/"+url.PathEscape(tenantID)+"/credentials", nil, &creds, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &creds, nil
}

// Definitions implements Backend.
func (c *HTTPClient) Definitions(ctx context.Context, tenantID, category string) ([]Definition, error) {
	path := "/internal/tenants/" + url.PathEscape(tenantID) + "/definitions"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var items []Definition
	found, err := c.do(ctx, http.MethodGet, path, nil, &items, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return items, nil
}

// Heartbeat implements Backend.
func (c *HTTPClient) Heartbeat(ctx context.Context, status Status) error {
	_, err := c.do(ctx, http.MethodPost, "/internal/heartbeat", status, nil, false)
	return err
}

// AppendLog implements Backend.
func (c *HTTPClient) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := c.do(ctx, http.MethodPost, "/internal/tenants/"+url.PathEscape(entry.TenantID)+"/logs", entry, nil, false)
	return err
}

type variablePayload struct {
	Value any `json:"value"`
}

// GetVariable implements Backend.
func (c *HTTPClient) GetVariable(ctx context.Context, tenantID, scope, key string) (any, error) {
	path := "/internal/tenants/" + url.PathEscape(tenantID) + "/variables/" + url.PathEscape(scope) + "/" + url.PathEscape(key)
	var payload variablePayload
	found, err := c.do(ctx, http.MethodGet, path, nil, &payload, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return payload.Value, nil
}

// SetVariable implements Backend.
func (c *HTTPClient) SetVariable(ctx context.Context, tenantID, scope, key string, value any) error {
	path := "/internal/tenants/" + url.PathEscape(tenantID) + "/variables/" + url.PathEscape(scope) + "/" + url.PathEscape(key)
	_, err := c.do(ctx, http.MethodPut, path, variablePayload{Value: value}, nil, false)
	return err
}
