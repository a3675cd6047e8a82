// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package interactions

import (
	"sync"
	"testing"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/flow/graph"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
)

func TestFromRegistration_SnapshotsWorkflow(t *testing.T) {
	wf := &graph.Compiled{StartNodeID: "t1"}
	def := &backend.Definition{ID: "wf1", Name: "pick", Workflow: wf}
	reg := &engine.InteractionRegistration{
		Message: &engine.MessageRef{MessageID: "m1"},
		Routes:  map[string]string{"button:yes": "n2"},
	}

	session := FromRegistration("t1", def, reg, time.Minute)

	if session.Workflow != wf {
		t.Error("session must carry the compiled workflow from the definition")
	}
	if session.WorkflowID != "wf1" || session.WorkflowName != "pick" {
		t.Errorf("workflow identity = %s/%s", session.WorkflowID, session.WorkflowName)
	}
	if session.Routes["button:yes"] != "n2" {
		t.Errorf("routes = %v", session.Routes)
	}
	if session.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not set from ttl")
	}
}

func TestStore_PutAndClaim(t *testing.T) {
	store := NewStore(time.Minute, nil)
	store.Put("msg1", &Session{
		TenantID: "t1",
		Routes:   map[string]string{"button:yes": "n2"},
	})

	session, ok := store.Claim("msg1")
	if !ok {
		t.Fatal("Claim returned false for a live session")
	}
	if session.Routes["button:yes"] != "n2" {
		t.Errorf("routes = %v", session.Routes)
	}

	if _, ok := store.Claim("msg1"); ok {
		t.Error("second Claim succeeded; sessions must be single-use")
	}
}

func TestStore_ExpiredInvisible(t *testing.T) {
	store := NewStore(time.Minute, nil)
	store.Put("msg1", &Session{
		TenantID:  "t1",
		ExpiresAt: time.Now().Add(-time.Second),
	})

	if _, ok := store.Claim("msg1"); ok {
		t.Error("claimed an expired session")
	}
	if n := store.Len(); n != 0 {
		t.Errorf("Len = %d after expiry, want 0", n)
	}
}

func TestStore_LazyPrune(t *testing.T) {
	store := NewStore(time.Minute, nil)
	store.Put("old", &Session{TenantID: "t1", ExpiresAt: time.Now().Add(-time.Second)})
	store.Put("live", &Session{TenantID: "t1"})

	// Putting "live" pruned "old" on the way in.
	if n := store.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestStore_DropTenant(t *testing.T) {
	store := NewStore(time.Minute, nil)
	store.Put("a", &Session{TenantID: "t1"})
	store.Put("b", &Session{TenantID: "t2"})

	store.DropTenant("t1")

	if _, ok := store.Claim("a"); ok {
		t.Error("t1 session survived DropTenant")
	}
	if _, ok := store.Claim("b"); !ok {
		t.Error("t2 session removed by t1 DropTenant")
	}
}

func TestStore_ConcurrentClaimIsSingleUse(t *testing.T) {
	store := NewStore(time.Minute, nil)
	store.Put("msg1", &Session{TenantID: "t1"})

	const n = 16
	var wg sync.WaitGroup
	claims := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Claim("msg1"); ok {
				claims <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(claims)

	if got := len(claims); got != 1 {
		t.Errorf("successful claims = %d, want exactly 1", got)
	}
}
