// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine interprets a compiled workflow against an execution
// context and a set of injected side-effecting handlers.
//
// # Execution model
//
// A run is single-threaded: it advances node by node, suspending
// cooperatively at Delay nodes, at handler calls that perform external
// I/O, and (in the synchronous-await interaction strategy) while
// waiting for a user's component response. Many runs execute
// concurrently, one per triggering event; they share no mutable state
// except the injected variable store and whatever the handler
// implementations share internally.
//
// # Bounded resources
//
// Step boundaries enforce MaxNodes and MaxDuration; loop re-entries
// enforce MaxLoopIterations. A run is not preemptible mid-step: a slow
// handler call can overshoot the duration budget and the very next
// boundary check terminates the run.
//
// # Failure containment
//
// Execute never returns an error and never panics across its boundary.
// Handler errors and panics become a terminal Result carrying the
// error text plus an "error" trace event.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/TapestryLabs/tapestry/services/flow"
	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

var (
	tracer = otel.Tracer("tapestry.engine")
	meter  = otel.Meter("tapestry.engine")
)

// Limits bounds a single run.
type Limits struct {
	MaxNodes          int
	MaxDuration       time.Duration
	MaxLoopIterations int
}

// DefaultLimits are the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxNodes:          100,
		MaxDuration:       30 * time.Second,
		MaxLoopIterations: 25,
	}
}

// DefaultAwaitTimeout bounds the synchronous-await interaction
// strategy. On timeout the node falls through to "next" with a log
// trace event.
const DefaultAwaitTimeout = 60 * time.Second

// Runner interprets compiled workflows. Safe for concurrent use: all
// per-run state lives in the run struct.
type Runner struct {
	limits Limits
	logger *slog.Logger

	metricsOnce sync.Once
	runsTotal   metric.Int64Counter
	runErrors   metric.Int64Counter
	limitHits   metric.Int64Counter
	runLatency  metric.Float64Histogram
}

// NewRunner creates a Runner with the given limits. A zero limit falls
// back to its default. If logger is nil, slog.Default() is used.
func NewRunner(limits Limits, logger *slog.Logger) *Runner {
	defaults := DefaultLimits()
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = defaults.MaxNodes
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = defaults.MaxDuration
	}
	if limits.MaxLoopIterations <= 0 {
		limits.MaxLoopIterations = defaults.MaxLoopIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{limits: limits, logger: logger}
}

// initMetrics lazily creates instruments. Failures degrade
// observability, never execution.
func (r *Runner) initMetrics() {
	r.metricsOnce.Do(func() {
		var err error
		if r.runsTotal, err = meter.Int64Counter("engine_runs_total",
			metric.WithDescription("Number of workflow runs started")); err != nil {
			r.logger.Warn("metric init failed", slog.String("metric", "engine_runs_total"), slog.String("error", err.Error()))
		}
		if r.runErrors, err = meter.Int64Counter("engine_run_errors_total",
			metric.WithDescription("Number of workflow runs that terminated with an error")); err != nil {
			r.logger.Warn("metric init failed", slog.String("metric", "engine_run_errors_total"), slog.String("error", err.Error()))
		}
		if r.limitHits, err = meter.Int64Counter("engine_limit_hits_total",
			metric.WithDescription("Number of runs terminated by a resource limit")); err != nil {
			r.logger.Warn("metric init failed", slog.String("metric", "engine_limit_hits_total"), slog.String("error", err.Error()))
		}
		if r.runLatency, err = meter.Float64Histogram("engine_run_duration_seconds",
			metric.WithDescription("Workflow run duration"),
			metric.WithUnit("s")); err != nil {
			r.logger.Warn("metric init failed", slog.String("metric", "engine_run_duration_seconds"), slog.String("error", err.Error()))
		}
	})
}

// Execute runs a compiled workflow from its trigger node.
func (r *Runner) Execute(ctx context.Context, wf *graph.Compiled, ec *flow.Context, h Handlers) *Result {
	return r.ExecuteFrom(ctx, wf, wf.StartNodeID, ec, h)
}

// ExecuteFrom runs a compiled workflow from an explicit node. The
// orchestration layer uses this to resume an interaction session from
// the routed node.
func (r *Runner) ExecuteFrom(ctx context.Context, wf *graph.Compiled, startID string, ec *flow.Context, h Handlers) *Result {
	r.initMetrics()

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.tenant", ec.TenantID),
			attribute.String("run.trigger", ec.TriggerName),
			attribute.Int("run.node_count", len(wf.Nodes)),
		),
	)
	defer span.End()

	if r.runsTotal != nil {
		r.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", ec.TenantID)))
	}

	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}

	st := &run{
		runner:     r,
		wf:         wf,
		ec:         ec,
		handlers:   h,
		runID:      runID,
		start:      time.Now(),
		loopStates: make(map[string]*loopState),
	}

	st.exec(ctx, startID)

	result := &Result{
		RunID:     runID,
		Stopped:   true,
		Err:       st.errText,
		Trace:     st.trace,
		Variables: ec.Variables,
		Steps:     st.steps,
		Duration:  time.Since(st.start),
	}

	if r.runLatency != nil {
		r.runLatency.Record(ctx, result.Duration.Seconds())
	}
	if result.Failed() {
		span.SetStatus(codes.Error, result.Err)
		if r.runErrors != nil {
			r.runErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", ec.TenantID)))
		}
		r.logger.Warn("run failed",
			slog.String("run_id", runID),
			slog.String("tenant", ec.TenantID),
			slog.String("trigger", ec.TriggerName),
			slog.Int("steps", st.steps),
			slog.String("error", result.Err),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		r.logger.Debug("run completed",
			slog.String("run_id", runID),
			slog.String("tenant", ec.TenantID),
			slog.Int("steps", st.steps),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}

// run is the per-execution state machine.
type run struct {
	runner   *Runner
	wf       *graph.Compiled
	ec       *flow.Context
	handlers Handlers

	runID string
	start time.Time
	steps int
	trace []Event

	loopStates map[string]*loopState

	// pendingContinue marks the node id whose next visit is a loop
	// re-entry rather than a first visit. Set when the edge just taken
	// matches a recorded loop continuation.
	pendingContinue string

	errText string
}

func (s *run) event(t EventType, nodeID string, nodeType graph.NodeType, message string, data map[string]any) {
	s.trace = append(s.trace, Event{
		Type: t, NodeID: nodeID, NodeType: nodeType,
		Message: message, Data: data, At: time.Now(),
	})
}

// fail records the terminal error: an error trace event plus the
// result error text.
func (s *run) fail(nodeID string, nodeType graph.NodeType, err error) {
	s.errText = err.Error()
	s.event(EventError, nodeID, nodeType, err.Error(), nil)
}

func (s *run) limitHit(ctx context.Context, nodeID string, err error) {
	if s.runner.limitHits != nil {
		s.runner.limitHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", s.ec.TenantID)))
	}
	s.fail(nodeID, "", err)
}

// exec is the step loop. Per step: limits, node lookup, loop
// continuation or dispatch, then continuation bookkeeping on the edge
// just taken.
func (s *run) exec(ctx context.Context, startID string) {
	current := startID

	for current != "" {
		if s.steps >= s.runner.limits.MaxNodes {
			s.limitHit(ctx, current, ErrMaxNodesExceeded)
			return
		}
		if time.Since(s.start) >= s.runner.limits.MaxDuration {
			s.limitHit(ctx, current, ErrMaxDurationExceeded)
			return
		}
		if err := ctx.Err(); err != nil {
			s.fail(current, "", fmt.Errorf("run canceled: %w", err))
			return
		}

		node, ok := s.wf.Node(current)
		if !ok {
			s.fail(current, "", fmt.Errorf("%w: %s", ErrNodeNotFound, current))
			return
		}

		s.steps++
		s.event(EventEnter, current, node.Type, "", nil)

		var next string
		switch {
		case s.pendingContinue == current:
			s.pendingContinue = ""
			next = s.continueLoop(current, node)
		case node.Data != nil && node.Data.Disabled():
			s.event(EventLog, current, node.Type, "node disabled, skipping", nil)
			next = s.wf.Next(current, graph.DefaultHandle)
		default:
			var terminal bool
			next, terminal = s.dispatch(ctx, node)
			if terminal {
				return
			}
		}

		s.event(EventExit, current, node.Type, "", nil)

		// Loop continuation bookkeeping: if the edge just taken is a
		// recorded back-edge, the target's next visit re-enters the
		// loop instead of re-materializing it.
		if next != "" && s.wf.LoopContinuations[current] == next {
			s.pendingContinue = next
		}
		current = next
	}
}

// guard wraps a handler call so a panic inside injected code becomes a
// terminal error instead of escaping the interpreter.
func (s *run) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn()
}
