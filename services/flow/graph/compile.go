// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"encoding/json"
	"fmt"
)

// Compiled is the flattened, execution-ready form of a graph. It is
// immutable once produced and recompiled whenever the source graph
// changes. The JSON form round-trips losslessly: a persisted compiled
// workflow is rehydrated directly into interpreter input with no
// recompilation step.
type Compiled struct {
	Version     int             `json:"version"`
	StartNodeID string          `json:"startNodeId"`
	Nodes       map[string]Node `json:"nodes"`

	// Edges maps node id -> output handle -> target node id.
	Edges map[string]map[string]string `json:"edges"`

	// LoopContinuations maps the source node of each back-edge (the
	// last node of a loop body) to the loop node it re-enters. The
	// interpreter uses this to distinguish "entering a loop for the
	// first time" from "returning to the loop head after an iteration".
	LoopContinuations map[string]string `json:"loopContinuations,omitempty"`
}

// Next returns the target of the given output handle, or "" when the
// node has no such outgoing edge.
func (c *Compiled) Next(nodeID, handle string) string {
	outs, ok := c.Edges[nodeID]
	if !ok {
		return ""
	}
	return outs[handle]
}

// Node returns the node by id.
func (c *Compiled) Node(id string) (Node, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// Compile transforms an editable graph into its executable form.
//
// The compiler is total for any graph with exactly one trigger node: it
// performs no semantic validation beyond locating the entry point (that
// is the validator's job). Zero or multiple triggers fail with
// ErrMissingTrigger / ErrMultipleTriggers.
func Compile(g *Graph) (*Compiled, error) {
	var start string
	for _, n := range g.Nodes {
		if !n.Type.IsTrigger() {
			continue
		}
		if start != "" {
			return nil, fmt.Errorf("%w: %s and %s", ErrMultipleTriggers, start, n.ID)
		}
		start = n.ID
	}
	if start == "" {
		return nil, ErrMissingTrigger
	}

	compiled := &Compiled{
		Version:     g.Version,
		StartNodeID: start,
		Nodes:       make(map[string]Node, len(g.Nodes)),
		Edges:       make(map[string]map[string]string),
	}
	for _, n := range g.Nodes {
		compiled.Nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		outs, ok := compiled.Edges[e.Source]
		if !ok {
			outs = make(map[string]string)
			compiled.Edges[e.Source] = outs
		}
		outs[e.Handle()] = e.Target

		if e.TargetHandle == HandleContinue {
			if compiled.LoopContinuations == nil {
				compiled.LoopContinuations = make(map[string]string)
			}
			compiled.LoopContinuations[e.Source] = e.Target
		}
	}

	return compiled, nil
}

// Decode rehydrates a persisted compiled workflow.
func Decode(raw []byte) (*Compiled, error) {
	var c Compiled
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding compiled workflow: %w", err)
	}
	return &c, nil
}

// Encode serializes a compiled workflow for persistence.
func (c *Compiled) Encode() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding compiled workflow: %w", err)
	}
	return raw, nil
}
