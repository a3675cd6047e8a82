// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runtime is the orchestration layer: it owns the live tenant
// sessions and turns platform events into engine runs. All state is
// explicit and injected at construction; nothing here is a package
// global.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
	"github.com/TapestryLabs/tapestry/services/runtime/cooldown"
	"github.com/TapestryLabs/tapestry/services/runtime/gateway"
	"github.com/TapestryLabs/tapestry/services/runtime/interactions"
	"github.com/TapestryLabs/tapestry/services/runtime/observability"
	"github.com/TapestryLabs/tapestry/services/runtime/storage/badgerstore"
	"github.com/TapestryLabs/tapestry/services/runtime/triggers"
)

// Conn is the session's view of a live gateway connection.
type Conn interface {
	Request(ctx context.Context, reqType string, payload any) (json.RawMessage, error)
	Close()
}

// DialFunc opens a gateway connection. The production implementation
// wraps gateway.Dial; tests substitute an in-memory fake.
type DialFunc func(ctx context.Context, url, token string, handler gateway.Handler, logger *slog.Logger) (Conn, error)

// GatewayDialer is the production DialFunc.
func GatewayDialer(ctx context.Context, url, token string, handler gateway.Handler, logger *slog.Logger) (Conn, error) {
	return gateway.Dial(ctx, url, token, handler, logger)
}

// Options wires a Manager.
type Options struct {
	Backend      backend.Backend
	Cache        *triggers.Cache
	Interactions *interactions.Store
	Cooldowns    cooldown.Gate
	Variables    *badgerstore.Variables
	Logs         *backend.LogQueue
	Runner       *engine.Runner
	Dial         DialFunc
	Logger       *slog.Logger

	// InteractionTTL bounds how long rendered components stay
	// clickable. Zero uses the store's default.
	InteractionTTL time.Duration

	// HeartbeatInterval is the session status reporting cadence.
	// Zero disables heartbeats.
	HeartbeatInterval time.Duration
}

// Manager owns the per-tenant sessions. Lifecycle transitions for a
// tenant are serialized: a second concurrent start observes the
// first's live session and is a no-op.
type Manager struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a Manager. Backend, Cache, Runner and Dial are
// required; the rest degrade gracefully when nil.
func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("trigger cache is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("engine runner is required")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("dial function is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  observability.Default(),
		sessions: make(map[string]*Session),
	}, nil
}

// StartTenant opens a live session for the tenant. Idempotent:
// starting a running tenant is a no-op. A missing credential is
// surfaced to the tenant's operational log with a remediation message
// and returned as ErrNoCredentials.
func (m *Manager) StartTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, live := m.sessions[tenantID]; live {
		m.mu.Unlock()
		m.logger.Debug("tenant already running", slog.String("tenant", tenantID))
		return nil
	}
	// Reserve the slot before the slow dial so a concurrent start for
	// the same tenant observes it and no-ops.
	m.sessions[tenantID] = nil
	m.mu.Unlock()

	session, err := m.openSession(ctx, tenantID)
	m.mu.Lock()
	if err != nil {
		delete(m.sessions, tenantID)
		m.mu.Unlock()
		return err
	}
	if m.closed {
		m.mu.Unlock()
		session.close()
		return ErrManagerClosed
	}
	if _, reserved := m.sessions[tenantID]; !reserved {
		// Stopped while the start was in flight.
		m.mu.Unlock()
		session.close()
		return nil
	}
	m.sessions[tenantID] = session
	m.mu.Unlock()

	m.metrics.ActiveSessions.Inc()
	m.logger.Info("tenant session started", slog.String("tenant", tenantID))
	return nil
}

func (m *Manager) openSession(ctx context.Context, tenantID string) (*Session, error) {
	creds, err := m.opts.Backend.Credentials(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials for %s: %w", tenantID, err)
	}
	if creds == nil || creds.Token == "" {
		m.appendLog(tenantID, "error", credentialRemediation, nil)
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, tenantID)
	}

	session := newSession(m, tenantID)
	conn, err := m.opts.Dial(ctx, creds.GatewayURL, creds.Token, session, m.logger.With(slog.String("tenant", tenantID)))
	if err != nil {
		return nil, fmt.Errorf("connect gateway for %s: %w", tenantID, err)
	}
	session.start(conn)

	// Warm the definition cache so the first command does not pay the
	// fetch latency.
	if _, err := m.opts.Cache.Get(ctx, tenantID, backend.CategoryCommand); err != nil {
		m.logger.Warn("definition warmup failed",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
	}
	return session, nil
}

// StopTenant tears down the tenant's session and cache state.
// Idempotent: stopping a non-running tenant is a no-op. In-flight runs
// are not aborted.
func (m *Manager) StopTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	session, live := m.sessions[tenantID]
	if live {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()

	if !live || session == nil {
		m.logger.Debug("tenant not running", slog.String("tenant", tenantID))
		return nil
	}

	session.close()
	m.opts.Cache.Invalidate(tenantID)
	if m.opts.Interactions != nil {
		m.opts.Interactions.DropTenant(tenantID)
	}
	m.metrics.ActiveSessions.Dec()
	m.logger.Info("tenant session stopped", slog.String("tenant", tenantID))
	return nil
}

// ResyncTenant refreshes the tenant's published definitions. A no-op
// for a tenant without a live session beyond dropping stale cache.
func (m *Manager) ResyncTenant(ctx context.Context, tenantID string) error {
	m.opts.Cache.Invalidate(tenantID)

	m.mu.Lock()
	_, live := m.sessions[tenantID]
	m.mu.Unlock()
	if !live {
		return nil
	}

	if _, err := m.opts.Cache.Get(ctx, tenantID, backend.CategoryCommand); err != nil {
		return fmt.Errorf("resync definitions for %s: %w", tenantID, err)
	}
	m.logger.Info("tenant definitions resynced", slog.String("tenant", tenantID))
	return nil
}

// Running reports whether the tenant has a live session.
func (m *Manager) Running(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID]
	return ok && s != nil
}

// Close stops every session. The manager cannot be restarted.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
		m.metrics.ActiveSessions.Dec()
	}
}

// appendLog pushes to the tenant operational log through the bounded
// queue when configured, falling back to direct best-effort delivery.
func (m *Manager) appendLog(tenantID, level, message string, meta map[string]any) {
	entry := backend.LogEntry{
		TenantID: tenantID,
		Level:    level,
		Message:  message,
		Meta:     meta,
		At:       time.Now(),
	}
	if m.opts.Logs != nil {
		if !m.opts.Logs.Push(entry) {
			m.metrics.DroppedLogsTotal.Inc()
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.Backend.AppendLog(ctx, entry); err != nil {
		m.logger.Debug("operational log write failed",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
	}
}
