// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// memQueue feeds canned payloads through the BLPop interface.
type memQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *memQueue) push(items ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

func (q *memQueue) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if ctx.Err() != nil {
		cmd.SetErr(ctx.Err())
		return cmd
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	item := q.items[0]
	q.items = q.items[1:]
	cmd.SetVal([]string{keys[0], item})
	return cmd
}

// recordingLifecycle records the operations applied to it.
type recordingLifecycle struct {
	mu    sync.Mutex
	calls []string
}

func (l *recordingLifecycle) record(op, tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op+":"+tenantID)
}

func (l *recordingLifecycle) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *recordingLifecycle) StartTenant(_ context.Context, tenantID string) error {
	l.record("start", tenantID)
	return nil
}

func (l *recordingLifecycle) StopTenant(_ context.Context, tenantID string) error {
	l.record("stop", tenantID)
	return nil
}

func (l *recordingLifecycle) ResyncTenant(_ context.Context, tenantID string) error {
	l.record("resync", tenantID)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestConsumer_DispatchesOps(t *testing.T) {
	queue := &memQueue{}
	queue.push(
		`{"op":"start","tenantId":"t1"}`,
		`{"op":"resync","tenantId":"t1"}`,
		`{"op":"stop","tenantId":"t1"}`,
	)
	lifecycle := &recordingLifecycle{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := NewConsumer(queue, "", lifecycle, nil)
	go consumer.Run(ctx)

	waitFor(t, func() bool { return len(lifecycle.snapshot()) == 3 })

	got := lifecycle.snapshot()
	want := []string{"start:t1", "resync:t1", "stop:t1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConsumer_DropsMalformedJobs(t *testing.T) {
	queue := &memQueue{}
	queue.push(
		`not json at all`,
		`{"op":"start"}`,
		`{"op":"launch","tenantId":"t1"}`,
		`{"op":"start","tenantId":"t2"}`,
	)
	lifecycle := &recordingLifecycle{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewConsumer(queue, "q", lifecycle, nil).Run(ctx)

	waitFor(t, func() bool { return len(lifecycle.snapshot()) == 1 })

	got := lifecycle.snapshot()
	if got[0] != "start:t2" {
		t.Errorf("calls = %v, want only start:t2", got)
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	queue := &memQueue{}
	lifecycle := &recordingLifecycle{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewConsumer(queue, "q", lifecycle, nil).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
