// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"strings"

	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

// loopState is the interpreter-internal per-node, per-run loop record.
// Created on first visit, discarded with the run.
type loopState struct {
	items      []any
	index      int
	itemVar    string
	iterations int
}

// enterLoop handles the first visit to a Loop node: materialize the
// item list, bind the first item, and route into the body (or straight
// to "done" for an empty list, without binding the item variable).
func (s *run) enterLoop(node graph.Node, data *graph.LoopData) string {
	items := normalizeList(s.resolveValue(data.ListExpression))

	st := &loopState{items: items, itemVar: data.ItemVar}
	s.loopStates[node.ID] = st

	if len(items) == 0 {
		return s.wf.Next(node.ID, graph.HandleDone)
	}
	s.ec.Variables[st.itemVar] = items[0]
	return s.wf.Next(node.ID, graph.HandleLoop)
}

// continueLoop handles a re-entry through a recorded back-edge:
// advance the index, rebind the item variable, and route back into the
// body or out through "done" once exhausted. Re-entries beyond the
// iteration limit abort to "done" with an error event.
func (s *run) continueLoop(nodeID string, node graph.Node) string {
	st, ok := s.loopStates[nodeID]
	if !ok {
		// A continue edge reached a loop that was never entered; treat
		// it as a first visit.
		if data, isLoop := node.Data.(*graph.LoopData); isLoop {
			return s.enterLoop(node, data)
		}
		return s.wf.Next(nodeID, graph.DefaultHandle)
	}

	st.iterations++
	if st.iterations > s.runner.limits.MaxLoopIterations {
		s.event(EventError, nodeID, node.Type, ErrMaxLoopIterations.Error(), map[string]any{
			"iterations": st.iterations,
		})
		return s.wf.Next(nodeID, graph.HandleDone)
	}

	st.index++
	if st.index >= len(st.items) {
		return s.wf.Next(nodeID, graph.HandleDone)
	}
	s.ec.Variables[st.itemVar] = st.items[st.index]
	return s.wf.Next(nodeID, graph.HandleLoop)
}

// normalizeList coerces a resolved list expression into items: a list
// passes through, a comma-separated string splits and trims, nil is
// empty, anything else wraps as a single element.
func normalizeList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	case string:
		if strings.TrimSpace(list) == "" {
			return nil
		}
		parts := strings.Split(list, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		return []any{v}
	}
}
