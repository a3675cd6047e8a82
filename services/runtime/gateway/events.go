// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway maintains the per-tenant live connection to the
// chat platform and translates its frames into semantic events. The
// platform's own wire protocol is out of scope; this package models
// the boundary: a websocket carrying JSON frames with an op code, a
// heartbeat, and request/response correlation for outbound actions.
package gateway

import "encoding/json"

// Frame op codes.
const (
	OpHello     = "hello"
	OpHeartbeat = "heartbeat"
	OpDispatch  = "dispatch"
	OpRequest   = "request"
	OpResponse  = "response"
)

// Frame is the envelope every gateway message travels in.
type Frame struct {
	Op   string          `json:"op"`
	Seq  int64           `json:"seq,omitempty"`
	Type string          `json:"type,omitempty"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Dispatch event types.
const (
	EventCommandInvoked       = "command_invoked"
	EventComponentInteraction = "component_interaction"
)

// Actor identifies the user behind an event.
type Actor struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
}

// Place identifies where an event happened.
type Place struct {
	GuildID     string `json:"guildId,omitempty"`
	GuildName   string `json:"guildName,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
}

// CommandInvoked is a user running a registered command.
type CommandInvoked struct {
	Command     string         `json:"command"`
	Actor       Actor          `json:"actor"`
	Place       Place          `json:"place"`
	Options     map[string]any `json:"options,omitempty"`
	MemberRoles []string       `json:"memberRoles,omitempty"`
	Token       string         `json:"token,omitempty"`
}

// ComponentInteraction is a click on a button or a select menu choice
// of a previously rendered message.
type ComponentInteraction struct {
	MessageID   string   `json:"messageId"`
	ComponentID string   `json:"componentId"`
	MenuID      string   `json:"menuId,omitempty"`
	Values      []string `json:"values,omitempty"`
	Actor       Actor    `json:"actor"`
	Place       Place    `json:"place"`
	MemberRoles []string `json:"memberRoles,omitempty"`
	Token       string   `json:"token,omitempty"`
}

// PlatformEvent is any other dispatch the platform forwards: member
// joins, message deletions, whatever the tenant subscribed to. Type
// carries the frame's dispatch type and matches event-trigger
// definitions by name.
type PlatformEvent struct {
	Type        string         `json:"-"`
	Actor       Actor          `json:"actor"`
	Place       Place          `json:"place"`
	Payload     map[string]any `json:"payload,omitempty"`
	MemberRoles []string       `json:"memberRoles,omitempty"`
}

// Hello is the server's first frame, carrying the heartbeat cadence.
type Hello struct {
	HeartbeatMs int `json:"heartbeatMs"`
}

// Handler receives decoded dispatch events. Calls arrive from the
// connection's read loop, one at a time.
type Handler interface {
	HandleCommand(ev *CommandInvoked)
	HandleComponent(ev *ComponentInteraction)
	HandleEvent(ev *PlatformEvent)
}
