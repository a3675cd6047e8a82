// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package interactions stores pending interaction sessions: the state
// a run leaves behind when it renders buttons or select menus under
// the deferred strategy, so a later click can resume execution at the
// routed node.
//
// The store is a concurrent map keyed by message id with lazy expiry:
// every mutation first prunes sessions past their deadline. No
// background sweep is required; StartSweeper adds one for memory
// hygiene under long idle periods.
package interactions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow"
	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/flow/graph"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
	"github.com/TapestryLabs/tapestry/services/runtime/observability"
)

// DefaultTTL bounds how long a rendered component stays clickable.
const DefaultTTL = 15 * time.Minute

// Session is one pending interaction: where to resume, with what
// context, for which workflow. The compiled workflow is snapshotted so
// a rendered component keeps resolving for its TTL even when the
// definition is republished or unpublished before the click.
type Session struct {
	TenantID     string
	WorkflowID   string
	WorkflowName string
	Workflow     *graph.Compiled

	// Routes maps an output handle ("button:<id>",
	// "select:<menuId>:<optionId>") to the node id to resume from.
	Routes map[string]string

	// SelectValueToOption maps "<menuId>:<value>" to option id, since
	// interaction events carry selected values while edges are keyed
	// by option id.
	SelectValueToOption map[string]string

	// Context is the run context snapshot taken at registration.
	Context *flow.Context

	ExpiresAt time.Time
}

// Store holds pending interaction sessions. Safe for concurrent use.
type Store struct {
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a Store. ttl <= 0 falls back to DefaultTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ttl:      ttl,
		logger:   logger,
		metrics:  observability.Default(),
		sessions: make(map[string]*Session),
	}
}

// Put registers a pending session under the rendered message id,
// replacing any previous registration for the same message.
func (s *Store) Put(messageID string, session *Session) {
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Lock()
	s.pruneLocked(time.Now())
	s.sessions[messageID] = session
	s.mu.Unlock()
	s.metrics.InteractionsTotal.WithLabelValues("registered").Inc()
}

// FromRegistration adapts an engine registration into a session,
// snapshotting the definition's compiled workflow.
func FromRegistration(tenantID string, def *backend.Definition, reg *engine.InteractionRegistration, ttl time.Duration) *Session {
	session := &Session{
		TenantID:            tenantID,
		WorkflowID:          def.ID,
		WorkflowName:        def.Name,
		Workflow:            def.Workflow,
		Routes:              reg.Routes,
		SelectValueToOption: reg.SelectValueToOption,
		Context:             reg.Context,
	}
	if ttl > 0 {
		session.ExpiresAt = time.Now().Add(ttl)
	}
	return session
}

// Claim looks up and removes the session for a message id. A clicked
// component resumes at most one run; a second click on the same
// message finds nothing. Expired sessions are invisible.
func (s *Store) Claim(messageID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())

	session, ok := s.sessions[messageID]
	if !ok {
		return nil, false
	}
	delete(s.sessions, messageID)
	s.metrics.InteractionsTotal.WithLabelValues("claimed").Inc()
	return session, true
}

// Len reports the live session count after pruning.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
	return len(s.sessions)
}

// DropTenant removes every pending session of a tenant. Called on
// session stop.
func (s *Store) DropTenant(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.TenantID == tenantID {
			delete(s.sessions, id)
		}
	}
}

func (s *Store) pruneLocked(now time.Time) {
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
			s.metrics.InteractionsTotal.WithLabelValues("expired").Inc()
		}
	}
}

// StartSweeper runs a periodic prune until ctx is canceled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.pruneLocked(time.Now())
				s.mu.Unlock()
			}
		}
	}()
}
