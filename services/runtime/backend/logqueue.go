// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultQueueSize   = 256
	defaultFlushWindow = 5 * time.Second
)

// LogQueue makes AppendLog best-effort and non-blocking. Entries go
// into a bounded channel drained by a single worker; a full channel
// drops the entry, a failing backend write is logged and swallowed.
// Log delivery never affects run outcome.
type LogQueue struct {
	backend Backend
	logger  *slog.Logger
	entries chan LogEntry
	done    chan struct{}
}

// NewLogQueue creates and starts the drain worker. Call Close to flush
// and stop it.
func NewLogQueue(b Backend, size int, logger *slog.Logger) *LogQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &LogQueue{
		backend: b,
		logger:  logger,
		entries: make(chan LogEntry, size),
		done:    make(chan struct{}),
	}
	go q.drain()
	return q
}

// Push enqueues an entry without blocking. Returns false when the
// queue is full and the entry was dropped.
func (q *LogQueue) Push(entry LogEntry) bool {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	select {
	case q.entries <- entry:
		return true
	default:
		return false
	}
}

// Close stops the worker after draining whatever is already queued.
func (q *LogQueue) Close() {
	close(q.entries)
	<-q.done
}

func (q *LogQueue) drain() {
	defer close(q.done)
	for entry := range q.entries {
		ctx, cancel := context.WithTimeout(context.Background(), defaultFlushWindow)
		if err := q.backend.AppendLog(ctx, entry); err != nil {
			q.logger.Debug("operational log write failed",
				slog.String("tenant", entry.TenantID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
