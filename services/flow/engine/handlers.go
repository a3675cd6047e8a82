// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow"
)

// MessageRef is the opaque reference a messaging handler returns for a
// rendered message. A nil ref means the platform produced nothing
// addressable (interactive routing is then impossible).
type MessageRef struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
}

// RenderedButton is a button with all templates substituted.
type RenderedButton struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Style    string `json:"style,omitempty"`
	URL      string `json:"url,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// RenderedOption is a select choice with templates substituted.
type RenderedOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// RenderedMenu is a select menu with templates substituted.
type RenderedMenu struct {
	ID          string           `json:"id"`
	Placeholder string           `json:"placeholder,omitempty"`
	Options     []RenderedOption `json:"options"`
}

// OutgoingMessage is the fully resolved payload of a messaging node.
type OutgoingMessage struct {
	Content   string           `json:"content"`
	Ephemeral bool             `json:"ephemeral,omitempty"`
	Buttons   []RenderedButton `json:"buttons,omitempty"`
	Menus     []RenderedMenu   `json:"menus,omitempty"`
}

// OutgoingEmbed is the fully resolved payload of an embed node.
type OutgoingEmbed struct {
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Color       string           `json:"color,omitempty"`
	URL         string           `json:"url,omitempty"`
	AuthorName  string           `json:"authorName,omitempty"`
	AuthorIcon  string           `json:"authorIcon,omitempty"`
	AuthorURL   string           `json:"authorUrl,omitempty"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	Thumbnail   string           `json:"thumbnail,omitempty"`
	FooterText  string           `json:"footerText,omitempty"`
	FooterIcon  string           `json:"footerIcon,omitempty"`
	Fields      []RenderedField  `json:"fields,omitempty"`
	Buttons     []RenderedButton `json:"buttons,omitempty"`
	Menus       []RenderedMenu   `json:"menus,omitempty"`
}

// RenderedField is one resolved embed field.
type RenderedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// HTTPSpec is the resolved request of an HttpRequest node.
type HTTPSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout time.Duration     `json:"-"`
}

// HTTPResponse is what the HTTP handler returns on completion.
type HTTPResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// ActionHandlers is the side-effect surface the interpreter drives.
// The orchestration layer implements it against the live platform
// connection; tests implement it in memory. Every call may block on
// external I/O; the interpreter suspends cooperatively for its
// duration.
type ActionHandlers interface {
	// Reply answers the triggering interaction in place.
	Reply(ctx context.Context, msg *OutgoingMessage) (*MessageRef, error)

	// SendChannel posts to an explicit channel.
	SendChannel(ctx context.Context, channelID string, msg *OutgoingMessage) (*MessageRef, error)

	// SendDM opens a direct message to a user.
	SendDM(ctx context.Context, userID string, msg *OutgoingMessage) (*MessageRef, error)

	// SendEmbed posts a rich embed, to channelID when non-empty,
	// otherwise as a reply.
	SendEmbed(ctx context.Context, channelID string, embed *OutgoingEmbed) (*MessageRef, error)

	// AddRole grants roleID to userID.
	AddRole(ctx context.Context, userID, roleID, reason string) error

	// RemoveRole revokes roleID from userID.
	RemoveRole(ctx context.Context, userID, roleID, reason string) error

	// Log forwards a Logger-node message. Best effort: failures are
	// swallowed by the implementation and never affect the run.
	Log(ctx context.Context, level, message string, meta map[string]any)

	// HTTPRequest performs the request and returns the final status
	// and body. Transport failures are returned as errors.
	HTTPRequest(ctx context.Context, spec *HTTPSpec) (*HTTPResponse, error)
}

// InteractionRegistration hands everything needed for a later
// out-of-band resume to the orchestration layer: the rendered message,
// the node's output routing table, a snapshot of the run context, and
// the select value to option id mapping (interaction events carry
// values, edges are keyed by option id).
type InteractionRegistration struct {
	Message *MessageRef

	// Routes maps an output handle ("button:<id>",
	// "select:<menuId>:<optionId>") to the node id the resumed run
	// starts from.
	Routes map[string]string

	// SelectValueToOption maps "<menuId>:<value>" to the option id.
	SelectValueToOption map[string]string

	// Context is a deep copy of the run context at registration time.
	Context *flow.Context
}

// InteractionRegistrar is the optional deferred-interaction
// capability. When the handler set exposes it, interactive messaging
// nodes register the rendered message for later resumption and fall
// through to "next".
type InteractionRegistrar interface {
	RegisterInteraction(ctx context.Context, reg *InteractionRegistration) error
}

// InteractionAwaiter is the optional synchronous-interaction
// capability, mutually exclusive with InteractionRegistrar. Await
// blocks until one button click or select choice arrives and returns
// the matching output handle, or an error on timeout.
type InteractionAwaiter interface {
	AwaitInteraction(ctx context.Context, ref *MessageRef, timeout time.Duration) (handle string, err error)
}

// VariableStore is the persistent key/value contract consumed by the
// Get/SetPersistentVariable nodes. Scope is "user" or "guild"; which
// user or guild is bound at construction by the orchestration layer.
// A missing key is (nil, nil), not an error.
type VariableStore interface {
	Get(ctx context.Context, scope, key string) (any, error)
	Set(ctx context.Context, scope, key string, value any) error
}

// Handlers bundles the injected collaborators for one run.
type Handlers struct {
	Actions   ActionHandlers
	Variables VariableStore
}
