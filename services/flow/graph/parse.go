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

// payloadFor returns a zero payload of the right variant for t.
func payloadFor(t NodeType) (NodeData, error) {
	switch t {
	case NodeCommandTrigger, NodeEventTrigger:
		return &TriggerData{}, nil
	case NodeReplyMessage, NodeSendChannelMessage, NodeSendDM:
		return &MessageData{}, nil
	case NodeEmbedMessage:
		return &EmbedData{}, nil
	case NodeIfElse:
		return &IfElseData{}, nil
	case NodeSwitchCase:
		return &SwitchCaseData{}, nil
	case NodeLoop:
		return &LoopData{}, nil
	case NodeSetVariable:
		return &SetVariableData{}, nil
	case NodeGetPersistentVariable:
		return &GetPersistentVariableData{}, nil
	case NodeSetPersistentVariable:
		return &SetPersistentVariableData{}, nil
	case NodeDelay:
		return &DelayData{}, nil
	case NodeHTTPRequest:
		return &HTTPRequestData{}, nil
	case NodeAddRole, NodeRemoveRole:
		return &RoleData{}, nil
	case NodeLogger:
		return &LoggerData{}, nil
	case NodeStop:
		return &StopData{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
}

// UnmarshalJSON decodes the node envelope, then decodes the data field
// into the variant selected by the type tag. This is the single place
// untyped node JSON exists; everything downstream sees the closed
// union.
func (n *Node) UnmarshalJSON(raw []byte) error {
	var envelope struct {
		ID   string          `json:"id"`
		Type NodeType        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding node envelope: %w", err)
	}

	payload, err := payloadFor(envelope.Type)
	if err != nil {
		return err
	}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, payload); err != nil {
			return fmt.Errorf("decoding %s payload for node %s: %w", envelope.Type, envelope.ID, err)
		}
	}

	n.ID = envelope.ID
	n.Type = envelope.Type
	n.Data = payload
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON; the pair makes the
// compiled workflow round-trip losslessly through serialization.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   string   `json:"id"`
		Type NodeType `json:"type"`
		Data NodeData `json:"data"`
	}{ID: n.ID, Type: n.Type, Data: n.Data})
}

// Parse decodes an editable graph from JSON.
func Parse(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}
	return &g, nil
}
