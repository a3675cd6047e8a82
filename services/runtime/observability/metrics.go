// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics of the runtime
// orchestration layer. The engine carries its own OpenTelemetry
// instruments; everything session-level is counted here and exposed on
// the daemon's /metrics endpoint.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "tapestry"
	runtimeSubsystem = "runtime"
)

// Metrics holds the runtime counters and gauges. All operations are
// thread-safe via Prometheus's internal locking.
type Metrics struct {
	// RunsTotal counts engine runs dispatched by the runtime.
	// Labels: tenant, category (command, event), status (ok, error).
	RunsTotal *prometheus.CounterVec

	// CacheLookupsTotal counts trigger-definition cache lookups.
	// Labels: result (hit, miss).
	CacheLookupsTotal *prometheus.CounterVec

	// CacheRefreshesTotal counts upstream definition fetches. With
	// single-flight refresh this stays well below the miss count under
	// concurrent load.
	CacheRefreshesTotal prometheus.Counter

	// CooldownRejectionsTotal counts invocations rejected by the
	// cooldown gate. Labels: tenant.
	CooldownRejectionsTotal *prometheus.CounterVec

	// ActiveSessions tracks currently live tenant sessions.
	ActiveSessions prometheus.Gauge

	// InteractionsTotal counts interaction-session store activity.
	// Labels: event (registered, claimed, expired).
	InteractionsTotal *prometheus.CounterVec

	// JobsTotal counts lifecycle jobs consumed from the queue.
	// Labels: op (start, stop, resync), outcome (ok, error, malformed).
	JobsTotal *prometheus.CounterVec

	// DroppedLogsTotal counts operational log entries dropped by the
	// bounded best-effort queue.
	DroppedLogsTotal prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics instance, registering the
// collectors on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "runs_total",
			Help:      "Engine runs dispatched by the runtime.",
		}, []string{"tenant", "category", "status"}),

		CacheLookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "trigger_cache_lookups_total",
			Help:      "Trigger-definition cache lookups by result.",
		}, []string{"result"}),

		CacheRefreshesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "trigger_cache_refreshes_total",
			Help:      "Upstream trigger-definition fetches.",
		}),

		CooldownRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "cooldown_rejections_total",
			Help:      "Invocations rejected by the cooldown gate.",
		}, []string{"tenant"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "active_sessions",
			Help:      "Currently live tenant sessions.",
		}),

		InteractionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "interactions_total",
			Help:      "Interaction-session store activity.",
		}, []string{"event"}),

		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "jobs_total",
			Help:      "Lifecycle jobs consumed from the queue.",
		}, []string{"op", "outcome"}),

		DroppedLogsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "dropped_logs_total",
			Help:      "Operational log entries dropped by the bounded queue.",
		}),
	}
}
