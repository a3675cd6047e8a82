// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "errors"

// Sentinel errors for interpreter failures. All of these surface as a
// structured Result, never as a panic or a returned error from Execute.
var (
	// ErrMaxNodesExceeded is recorded when a run visits more nodes
	// than the configured limit allows.
	ErrMaxNodesExceeded = errors.New("execution limit exceeded: max nodes")

	// ErrMaxDurationExceeded is recorded when a run outlives its
	// duration budget. Checked at step boundaries only: a single slow
	// handler call can overshoot, the next boundary check terminates.
	ErrMaxDurationExceeded = errors.New("execution limit exceeded: max duration")

	// ErrMaxLoopIterations is recorded when a loop re-enters more
	// times than allowed.
	ErrMaxLoopIterations = errors.New("execution limit exceeded: max loop iterations")

	// ErrNodeNotFound is recorded when an edge routes to an id that is
	// not in the compiled node map (internal consistency failure).
	ErrNodeNotFound = errors.New("node not found in compiled workflow")

	// ErrNoVariableStore is recorded when a persistent-variable node
	// executes without an injected store.
	ErrNoVariableStore = errors.New("no variable store configured")
)
