// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

// EventType classifies trace events.
type EventType string

const (
	EventEnter  EventType = "node:enter"
	EventExit   EventType = "node:exit"
	EventLog    EventType = "log"
	EventError  EventType = "error"
	EventAction EventType = "action"
)

// Event is one entry of the run trace. The trace is an auditable,
// replayable record of exactly what a run did: which nodes it entered,
// which actions it performed with which resolved payloads, and where
// it failed.
type Event struct {
	Type     EventType      `json:"type"`
	NodeID   string         `json:"nodeId,omitempty"`
	NodeType graph.NodeType `json:"nodeType,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// Result is the terminal status of a run. The interpreter never lets a
// failure escape as a panic or error value; every failure mode becomes
// a Result with Err set.
type Result struct {
	RunID     string         `json:"runId"`
	Stopped   bool           `json:"stopped"`
	Err       string         `json:"error,omitempty"`
	Trace     []Event        `json:"trace"`
	Variables map[string]any `json:"variables,omitempty"`
	Steps     int            `json:"steps"`
	Duration  time.Duration  `json:"duration"`
}

// Failed reports whether the run terminated with an error.
func (r *Result) Failed() bool { return r.Err != "" }

// Actions returns only the action events, in order. Convenient for
// tests and replay tooling.
func (r *Result) Actions() []Event {
	var out []Event
	for _, e := range r.Trace {
		if e.Type == EventAction {
			out = append(out, e)
		}
	}
	return out
}
