// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
)

const (
	maxHTTPBody        = 1 << 20 // 1 MiB response cap for workflow HTTP nodes
	defaultHTTPTimeout = 10 * time.Second
)

// Requester is the outbound slice of Conn that Actions needs. Tests
// substitute an in-memory implementation.
type Requester interface {
	Request(ctx context.Context, reqType string, payload any) (json.RawMessage, error)
}

// Registrar receives interaction registrations for later resumption.
// Implemented by the session over the interaction store.
type Registrar interface {
	RegisterInteraction(ctx context.Context, reg *engine.InteractionRegistration) error
}

// LogSink receives workflow Logger-node output. Best effort.
type LogSink interface {
	Push(entry backend.LogEntry) bool
}

// Actions implements the engine's side-effect surface over one
// tenant's gateway connection. Messaging and role calls travel as
// correlated request frames; HTTP nodes use a plain HTTP client;
// Logger nodes feed the tenant's operational log queue.
//
// Actions also implements engine.InteractionRegistrar, selecting the
// deferred interaction strategy: component-bearing messages register
// for later resumption instead of blocking the run.
type Actions struct {
	TenantID     string
	ReplyToken   string
	DefaultReply string // channel used when a reply has no interaction token

	Conn      Requester
	Registrar Registrar
	Logs      LogSink
	HTTP      *http.Client
}

type messagePayload struct {
	Token     string                  `json:"token,omitempty"`
	ChannelID string                  `json:"channelId,omitempty"`
	UserID    string                  `json:"userId,omitempty"`
	Message   *engine.OutgoingMessage `json:"message,omitempty"`
	Embed     *engine.OutgoingEmbed   `json:"embed,omitempty"`
}

type rolePayload struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
	Reason string `json:"reason,omitempty"`
}

func (a *Actions) send(ctx context.Context, reqType string, payload messagePayload) (*engine.MessageRef, error) {
	raw, err := a.Conn.Request(ctx, reqType, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", reqType, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var ref engine.MessageRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", reqType, err)
	}
	if ref.MessageID == "" {
		return nil, nil
	}
	return &ref, nil
}

// Reply implements engine.ActionHandlers.
func (a *Actions) Reply(ctx context.Context, msg *engine.OutgoingMessage) (*engine.MessageRef, error) {
	return a.send(ctx, "message.reply", messagePayload{
		Token:     a.ReplyToken,
		ChannelID: a.DefaultReply,
		Message:   msg,
	})
}

// SendChannel implements engine.ActionHandlers.
func (a *Actions) SendChannel(ctx context.Context, channelID string, msg *engine.OutgoingMessage) (*engine.MessageRef, error) {
	return a.send(ctx, "message.channel", messagePayload{ChannelID: channelID, Message: msg})
}

// SendDM implements engine.ActionHandlers.
func (a *Actions) SendDM(ctx context.Context, userID string, msg *engine.OutgoingMessage) (*engine.MessageRef, error) {
	return a.send(ctx, "message.dm", messagePayload{UserID: userID, Message: msg})
}

// SendEmbed implements engine.ActionHandlers.
func (a *Actions) SendEmbed(ctx context.Context, channelID string, embed *engine.OutgoingEmbed) (*engine.MessageRef, error) {
	return a.send(ctx, "message.embed", messagePayload{
		Token:     a.ReplyToken,
		ChannelID: channelID,
		Embed:     embed,
	})
}

// AddRole implements engine.ActionHandlers.
func (a *Actions) AddRole(ctx context.Context, userID, roleID, reason string) error {
	_, err := a.Conn.Request(ctx, "role.add", rolePayload{UserID: userID, RoleID: roleID, Reason: reason})
	if err != nil {
		return fmt.Errorf("role.add: %w", err)
	}
	return nil
}

// RemoveRole implements engine.ActionHandlers.
func (a *Actions) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	_, err := a.Conn.Request(ctx, "role.remove", rolePayload{UserID: userID, RoleID: roleID, Reason: reason})
	if err != nil {
		return fmt.Errorf("role.remove: %w", err)
	}
	return nil
}

// Log implements engine.ActionHandlers. Entries go to the tenant's
// operational log through the bounded best-effort queue; a full queue
// drops silently.
func (a *Actions) Log(_ context.Context, level, message string, meta map[string]any) {
	if a.Logs == nil {
		return
	}
	a.Logs.Push(backend.LogEntry{
		TenantID: a.TenantID,
		Level:    level,
		Message:  message,
		Meta:     meta,
		At:       time.Now(),
	})
}

// HTTPRequest implements engine.ActionHandlers for the HttpRequest
// node. The response body is capped; transport failures return errors,
// non-2xx statuses return normally and route through "failure".
func (a *Actions) HTTPRequest(ctx context.Context, spec *engine.HTTPSpec) (*engine.HTTPResponse, error) {
	client := a.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var body io.Reader
	if spec.Body != "" {
		body = strings.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &engine.HTTPResponse{Status: resp.StatusCode, Body: string(raw)}, nil
}

// RegisterInteraction implements engine.InteractionRegistrar by
// delegating to the session's registrar. Without one the registration
// is dropped and interactive nodes degrade to fire-and-continue.
func (a *Actions) RegisterInteraction(ctx context.Context, reg *engine.InteractionRegistration) error {
	if a.Registrar == nil {
		return nil
	}
	return a.Registrar.RegisterInteraction(ctx, reg)
}
