// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph defines the editable workflow graph, its typed node
// payloads, and the compiler that flattens a graph into the executable
// form consumed by the interpreter.
//
// Node payloads are parsed, not validated: raw JSON is decoded into a
// closed per-type variant at the boundary, so downstream code (the
// validator, the interpreter) never inspects untyped maps. A payload
// that fails to decode is a decode error at ingestion time, never a
// runtime surprise.
package graph

import (
	"github.com/TapestryLabs/tapestry/services/flow/condition"
)

// SchemaVersion is the editable-graph schema this build understands.
// The validator warns (not errors) on mismatch so older graphs keep
// loading during rollouts.
const SchemaVersion = 1

// NodeType enumerates every node kind the engine can execute.
type NodeType string

const (
	NodeCommandTrigger        NodeType = "commandTrigger"
	NodeEventTrigger          NodeType = "eventTrigger"
	NodeReplyMessage          NodeType = "replyMessage"
	NodeSendChannelMessage    NodeType = "sendChannelMessage"
	NodeSendDM                NodeType = "sendDm"
	NodeEmbedMessage          NodeType = "embedMessage"
	NodeIfElse                NodeType = "ifElse"
	NodeSwitchCase            NodeType = "switchCase"
	NodeLoop                  NodeType = "loop"
	NodeSetVariable           NodeType = "setVariable"
	NodeGetPersistentVariable NodeType = "getPersistentVariable"
	NodeSetPersistentVariable NodeType = "setPersistentVariable"
	NodeDelay                 NodeType = "delay"
	NodeHTTPRequest           NodeType = "httpRequest"
	NodeAddRole               NodeType = "addRole"
	NodeRemoveRole            NodeType = "removeRole"
	NodeLogger                NodeType = "logger"
	NodeStop                  NodeType = "stop"
)

// IsTrigger reports whether t is a graph entry point.
func (t NodeType) IsTrigger() bool {
	return t == NodeCommandTrigger || t == NodeEventTrigger
}

// DefaultHandle is the output an edge carries when the editor did not
// name one.
const DefaultHandle = "next"

// Handles with fixed meaning for branch-shaped nodes.
const (
	HandleTrue     = "true"
	HandleFalse    = "false"
	HandleLoop     = "loop"
	HandleDone     = "done"
	HandleSuccess  = "success"
	HandleFailure  = "failure"
	HandleDefault  = "default"
	HandleContinue = "continue" // target handle marking a loop back-edge
)

// Graph is the editable form produced by the visual editor.
type Graph struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Node pairs an id and type with the type-specific payload.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// Edge connects a named output of Source to Target. SourceHandle
// defaults to "next"; TargetHandle "continue" marks a loop back-edge.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Handle returns the edge's effective source handle.
func (e Edge) Handle() string {
	if e.SourceHandle == "" {
		return DefaultHandle
	}
	return e.SourceHandle
}

// NodeData is the closed union of per-type payloads.
type NodeData interface {
	// Disabled reports whether the node should be skipped at runtime
	// (recorded as a skip trace event, routed through "next").
	Disabled() bool
}

// Common carries the fields shared by every payload variant.
type Common struct {
	DisabledFlag bool `json:"disabled,omitempty"`
}

// Disabled implements NodeData.
func (c Common) Disabled() bool { return c.DisabledFlag }

// Button is an interactive component rendered under a message. Link
// buttons open URL directly; every other style routes the run through
// the "button:<id>" output handle.
type Button struct {
	ID       string `json:"id" validate:"required"`
	Label    string `json:"label" validate:"required"`
	Style    string `json:"style,omitempty"`
	URL      string `json:"url,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// IsLink reports whether the button opens a URL instead of routing.
func (b Button) IsLink() bool { return b.Style == "link" }

// SelectOption is one choice of a select menu.
type SelectOption struct {
	ID          string `json:"id" validate:"required"`
	Label       string `json:"label" validate:"required"`
	Value       string `json:"value" validate:"required"`
	Description string `json:"description,omitempty"`
}

// SelectMenu routes the run through "select:<menuId>:<optionId>".
type SelectMenu struct {
	ID          string         `json:"id" validate:"required"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     []SelectOption `json:"options" validate:"min=1"`
}

// TriggerData configures both trigger variants. Name is the command
// name for command triggers and the platform event type for event
// triggers.
type TriggerData struct {
	Common
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// MessageData backs ReplyMessage, SendChannelMessage and SendDM.
// ChannelID is only meaningful for channel sends, UserID for DMs; both
// are template-resolved.
type MessageData struct {
	Common
	Content   string       `json:"content" validate:"required"`
	ChannelID string       `json:"channelId,omitempty"`
	UserID    string       `json:"userId,omitempty"`
	Ephemeral bool         `json:"ephemeral,omitempty"`
	Buttons   []Button     `json:"buttons,omitempty"`
	Menus     []SelectMenu `json:"menus,omitempty"`
}

// EmbedField is one name/value pair of an embed body.
type EmbedField struct {
	Name   string `json:"name" validate:"required"`
	Value  string `json:"value" validate:"required"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedData backs EmbedMessage nodes.
type EmbedData struct {
	Common
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       string       `json:"color,omitempty"`
	URL         string       `json:"url,omitempty"`
	AuthorName  string       `json:"authorName,omitempty"`
	AuthorIcon  string       `json:"authorIcon,omitempty"`
	AuthorURL   string       `json:"authorUrl,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	FooterText  string       `json:"footerText,omitempty"`
	FooterIcon  string       `json:"footerIcon,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	ChannelID   string       `json:"channelId,omitempty"`
	Buttons     []Button     `json:"buttons,omitempty"`
	Menus       []SelectMenu `json:"menus,omitempty"`
}

// HasContent reports whether the embed renders anything at all. The
// platform rejects empty embeds, so the validator errors on this.
func (d EmbedData) HasContent() bool {
	return d.Title != "" || d.Description != "" || d.AuthorName != "" ||
		d.ImageURL != "" || len(d.Fields) > 0
}

// IfElseData routes "true"/"false" on a condition group.
type IfElseData struct {
	Common
	Condition condition.Group `json:"condition"`
}

// SwitchCaseData routes "case:<value>" with a "default" fallback.
type SwitchCaseData struct {
	Common
	Expression string `json:"expression" validate:"required"`
}

// LoopData iterates ListExpression, binding each item to ItemVar.
type LoopData struct {
	Common
	ListExpression string `json:"listExpression" validate:"required"`
	ItemVar        string `json:"itemVar" validate:"required"`
}

// SetVariableData stores a resolved value into run-local variables.
type SetVariableData struct {
	Common
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// GetPersistentVariableData reads from the injected variable store,
// falling back to Default and then null.
type GetPersistentVariableData struct {
	Common
	Scope   string `json:"scope" validate:"required,oneof=user guild"`
	Key     string `json:"key" validate:"required"`
	Default string `json:"default,omitempty"`
	StoreAs string `json:"storeAs" validate:"required"`
}

// SetPersistentVariableData writes to the injected variable store.
type SetPersistentVariableData struct {
	Common
	Scope string `json:"scope" validate:"required,oneof=user guild"`
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// DelayData suspends the run for a resolved millisecond duration.
type DelayData struct {
	Common
	Duration string `json:"duration" validate:"required"`
}

// HTTPRequestData issues an outbound request and routes
// "success"/"failure" on the response status.
type HTTPRequestData struct {
	Common
	Method    string            `json:"method" validate:"required"`
	URL       string            `json:"url" validate:"required"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Retries   int               `json:"retries,omitempty"`
	StoreAs   string            `json:"storeAs,omitempty"`
}

// RoleData backs AddRole and RemoveRole. UserID defaults to the
// invoking user when empty.
type RoleData struct {
	Common
	RoleID string `json:"roleId" validate:"required"`
	Reason string `json:"reason,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// LoggerData forwards a resolved message to the log handler.
type LoggerData struct {
	Common
	Level   string `json:"level,omitempty"`
	Message string `json:"message" validate:"required"`
}

// StopData ends the run successfully.
type StopData struct {
	Common
}
