// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "errors"

// Sentinel errors for graph parsing and compilation.
var (
	// ErrMissingTrigger is returned when a graph has no trigger node.
	// Fatal: such a graph cannot be compiled or persisted.
	ErrMissingTrigger = errors.New("graph has no trigger node")

	// ErrMultipleTriggers is returned when a graph has more than one
	// trigger node.
	ErrMultipleTriggers = errors.New("graph has more than one trigger node")

	// ErrUnknownNodeType is returned when a node's type tag does not
	// name a known variant.
	ErrUnknownNodeType = errors.New("unknown node type")
)
