// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triggers caches published trigger definitions per tenant and
// category with a single-flight refresh: N concurrent lookups against
// an expired entry produce exactly one upstream fetch, the rest await
// its result.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TapestryLabs/tapestry/services/runtime/backend"
	"github.com/TapestryLabs/tapestry/services/runtime/observability"
)

// DefaultTTL is how long a cached definition set stays fresh.
const DefaultTTL = 60 * time.Second

type entry struct {
	items     []backend.Definition
	expiresAt time.Time
}

// Cache is a TTL cache over Backend.Definitions. Safe for concurrent
// use.
type Cache struct {
	backend backend.Backend
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group
}

// NewCache creates a Cache. ttl <= 0 falls back to DefaultTTL.
func NewCache(b backend.Backend, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		backend: b,
		ttl:     ttl,
		logger:  logger,
		metrics: observability.Default(),
		entries: make(map[string]entry),
	}
}

func cacheKey(tenantID, category string) string {
	return tenantID + "/" + category
}

// Get returns the definitions for a tenant and category, refreshing
// through the backend when the cached entry is missing or expired.
// Concurrent callers during a refresh share the same in-flight fetch.
func (c *Cache) Get(ctx context.Context, tenantID, category string) ([]backend.Definition, error) {
	key := cacheKey(tenantID, category)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		c.metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return e.items, nil
	}
	c.metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a refresh that completed while we
		// queued behind it already installed a fresh entry.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(e.expiresAt) {
			return e.items, nil
		}

		c.metrics.CacheRefreshesTotal.Inc()
		items, err := c.backend.Definitions(ctx, tenantID, category)
		if err != nil {
			return nil, fmt.Errorf("fetch definitions for %s/%s: %w", tenantID, category, err)
		}

		c.mu.Lock()
		c.entries[key] = entry{items: items, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()

		c.logger.Debug("trigger definitions refreshed",
			slog.String("tenant", tenantID),
			slog.String("category", category),
			slog.Int("count", len(items)),
		)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]backend.Definition), nil
}

// Find returns the definition matching name within a category, or nil
// when the tenant has no such published trigger.
func (c *Cache) Find(ctx context.Context, tenantID, category, name string) (*backend.Definition, error) {
	items, err := c.Get(ctx, tenantID, category)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Name == name {
			return &items[i], nil
		}
	}
	return nil, nil
}

// Invalidate drops every cached entry for a tenant. Used on resync and
// session stop.
func (c *Cache) Invalidate(tenantID string) {
	prefix := tenantID + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}
