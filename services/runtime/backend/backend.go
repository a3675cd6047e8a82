// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backend declares the runtime's contract with the control
// plane: credentials, published trigger definitions, heartbeats,
// operational logs, and persistent variables. The control plane itself
// (persistence, admin API, editor) lives outside this codebase; the
// runtime consumes this interface only.
//
// All calls are idempotent and safe to retry. "Not found" is a valid
// non-error outcome, expressed as a nil result: a tenant with no
// published version yet returns an empty definition list, a missing
// variable returns nil.
package backend

import (
	"context"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

// Credentials is what a tenant session needs to open its platform
// connection. Token decryption happens control-plane side; the runtime
// only ever sees the plaintext token.
type Credentials struct {
	Token         string `json:"token"`
	ApplicationID string `json:"applicationId,omitempty"`
	GatewayURL    string `json:"gatewayUrl,omitempty"`
}

// Definition is one published trigger with its execution-ready
// workflow. Category distinguishes command triggers from event
// triggers; Name is the command name or event type.
type Definition struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CooldownSec int             `json:"cooldownSec,omitempty"`
	Workflow    *graph.Compiled `json:"workflow"`
}

// Trigger categories.
const (
	CategoryCommand = "command"
	CategoryEvent   = "event"
)

// LogEntry is one structured line of a tenant's operational log.
type LogEntry struct {
	TenantID string         `json:"tenantId"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Status is a session heartbeat payload.
type Status struct {
	TenantID  string    `json:"tenantId"`
	Connected bool      `json:"connected"`
	Since     time.Time `json:"since"`
	Runs      int64     `json:"runs"`
}

// Backend is the runtime-to-control-plane interface.
type Backend interface {
	// Credentials fetches connection credentials for a tenant. A nil
	// result with nil error means the tenant has no stored connection.
	Credentials(ctx context.Context, tenantID string) (*Credentials, error)

	// Definitions fetches the published trigger definitions for a
	// tenant, optionally filtered by category (empty means all). An
	// empty slice is a valid outcome.
	Definitions(ctx context.Context, tenantID, category string) ([]Definition, error)

	// Heartbeat reports session liveness.
	Heartbeat(ctx context.Context, status Status) error

	// AppendLog writes one entry to the tenant operational log.
	AppendLog(ctx context.Context, entry LogEntry) error

	// GetVariable reads a persistent variable. Missing is (nil, nil).
	GetVariable(ctx context.Context, tenantID, scope, key string) (any, error)

	// SetVariable writes a persistent variable.
	SetVariable(ctx context.Context, tenantID, scope, key string, value any) error
}
