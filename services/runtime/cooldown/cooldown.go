// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cooldown rate-limits command invocations per tenant, command
// and user through an atomic check-and-set with TTL. Two simultaneous
// invocations for the same key must not both pass; the gate fails
// closed.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Gate admits or rejects an invocation. Acquire returns true when the
// key was absent and has now been claimed for the window; false when a
// previous claim is still live. The check and the set are one atomic
// step.
type Gate interface {
	Acquire(ctx context.Context, tenantID, command, userID string, window time.Duration) (bool, error)
}

// Key builds the storage key of one cooldown claim.
func Key(tenantID, command, userID string) string {
	return "cooldown/" + tenantID + "/" + command + "/" + userID
}

// MemoryGate is the in-process Gate: a mutex-guarded map of deadlines
// with lazy expiry. The daemon uses the badger-backed gate; this one
// backs tests and single-node setups without persistence.
type MemoryGate struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

// NewMemoryGate creates an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{claims: make(map[string]time.Time)}
}

// Acquire implements Gate. The whole check-and-set runs under one
// mutex hold, so concurrent callers for the same key serialize and
// exactly one wins.
func (g *MemoryGate) Acquire(_ context.Context, tenantID, command, userID string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	key := Key(tenantID, command, userID)
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if deadline, ok := g.claims[key]; ok && now.Before(deadline) {
		return false, nil
	}
	g.claims[key] = now.Add(window)

	// Lazy expiry: drop a handful of stale claims per acquire so the
	// map does not grow unbounded under many distinct keys.
	pruned := 0
	for k, deadline := range g.claims {
		if now.After(deadline) {
			delete(g.claims, k)
			if pruned++; pruned >= 8 {
				break
			}
		}
	}
	return true, nil
}
