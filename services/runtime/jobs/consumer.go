// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobs consumes tenant lifecycle jobs from a durable redis
// queue. Each job carries an operation and a tenant id; the handlers
// are idempotent, so redelivery after a crash is harmless. Malformed
// jobs are logged and dropped.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TapestryLabs/tapestry/services/runtime/observability"
)

// DefaultQueue is the redis list lifecycle jobs arrive on.
const DefaultQueue = "tapestry:lifecycle"

const (
	popTimeout   = 5 * time.Second
	errorBackoff = 2 * time.Second
)

// Lifecycle operations.
const (
	OpStart  = "start"
	OpStop   = "stop"
	OpResync = "resync"
)

// Job is one queued lifecycle transition.
type Job struct {
	Op       string `json:"op"`
	TenantID string `json:"tenantId"`
}

// Lifecycle is the surface the consumer drives. Implemented by the
// runtime manager.
type Lifecycle interface {
	StartTenant(ctx context.Context, tenantID string) error
	StopTenant(ctx context.Context, tenantID string) error
	ResyncTenant(ctx context.Context, tenantID string) error
}

// Queue is the slice of the redis client the consumer needs. Satisfied
// by *redis.Client; tests substitute an in-memory implementation.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Consumer drains lifecycle jobs until its context is canceled.
type Consumer struct {
	queue     Queue
	queueName string
	lifecycle Lifecycle
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewConsumer creates a Consumer. An empty queueName uses
// DefaultQueue.
func NewConsumer(queue Queue, queueName string, lifecycle Lifecycle, logger *slog.Logger) *Consumer {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		queue:     queue,
		queueName: queueName,
		lifecycle: lifecycle,
		logger:    logger,
		metrics:   observability.Default(),
	}
}

// Run blocks, popping and handling jobs until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("lifecycle consumer started", slog.String("queue", c.queueName))
	for {
		if ctx.Err() != nil {
			c.logger.Info("lifecycle consumer stopped")
			return
		}

		res, err := c.queue.BLPop(ctx, popTimeout, c.queueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("lifecycle consumer stopped")
				return
			}
			c.logger.Warn("queue pop failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		// BLPop returns [key, value].
		if len(res) < 2 {
			continue
		}
		c.handle(ctx, res[1])
	}
}

func (c *Consumer) handle(ctx context.Context, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.TenantID == "" {
		c.metrics.JobsTotal.WithLabelValues("unknown", "malformed").Inc()
		c.logger.Warn("malformed lifecycle job dropped", slog.String("raw", raw))
		return
	}

	var err error
	switch job.Op {
	case OpStart:
		err = c.lifecycle.StartTenant(ctx, job.TenantID)
	case OpStop:
		err = c.lifecycle.StopTenant(ctx, job.TenantID)
	case OpResync:
		err = c.lifecycle.ResyncTenant(ctx, job.TenantID)
	default:
		c.metrics.JobsTotal.WithLabelValues(job.Op, "malformed").Inc()
		c.logger.Warn("unknown lifecycle op dropped",
			slog.String("op", job.Op),
			slog.String("tenant", job.TenantID),
		)
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Error("lifecycle job failed",
			slog.String("op", job.Op),
			slog.String("tenant", job.TenantID),
			slog.String("error", err.Error()),
		)
	}
	c.metrics.JobsTotal.WithLabelValues(job.Op, outcome).Inc()
}

// Enqueue pushes a job onto the queue. Used by tooling and tests; the
// control plane normally enqueues directly.
func Enqueue(ctx context.Context, client redis.UniversalClient, queueName string, job Job) error {
	if queueName == "" {
		queueName = DefaultQueue
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := client.RPush(ctx, queueName, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}
