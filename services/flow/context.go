// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package flow holds the data model shared by every workflow-engine
// component: the per-run execution context and the descriptors of the
// platform entities a run can reference (user, guild, channel).
//
// A Context is owned by exactly one interpreter invocation. It is never
// shared between concurrent runs; the Variables map is run-local scratch
// space and MemberRoles is a flattened, read-only view of the invoking
// member's role ids, role names, and permission-flag names.
package flow

// User describes the member that triggered a run.
type User struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Discriminator string `json:"discriminator,omitempty"`
}

// Guild describes the server a run executes in. Nil for DM-scoped runs.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel describes the channel a run was triggered from.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context is the per-run execution record consumed by the expression
// resolver, the condition evaluator, and the interpreter.
type Context struct {
	TenantID    string         `json:"tenantId"`
	TriggerName string         `json:"triggerName"`
	User        User           `json:"user"`
	Guild       *Guild         `json:"guild,omitempty"`
	Channel     *Channel       `json:"channel,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
	MemberRoles []string       `json:"memberRoles,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// Clone returns a deep copy of the context. Interaction sessions snapshot
// the context at registration time so a later resume cannot observe
// mutations made by the remainder of the original run.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Guild != nil {
		g := *c.Guild
		cp.Guild = &g
	}
	if c.Channel != nil {
		ch := *c.Channel
		cp.Channel = &ch
	}
	cp.Options = cloneMap(c.Options)
	cp.Variables = cloneMap(c.Variables)
	cp.MemberRoles = append([]string(nil), c.MemberRoles...)
	return &cp
}

// GuildID returns the guild id, or "" for DM-scoped runs.
func (c *Context) GuildID() string {
	if c == nil || c.Guild == nil {
		return ""
	}
	return c.Guild.ID
}

// Namespaces returns the fixed set of context roots the expression
// resolver may address. Unknown roots resolve to nil.
func (c *Context) Namespaces() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	roles := make([]any, len(c.MemberRoles))
	for i, r := range c.MemberRoles {
		roles[i] = r
	}
	ns := map[string]any{
		"user": map[string]any{
			"id":            c.User.ID,
			"username":      c.User.DisplayName,
			"displayName":   c.User.DisplayName,
			"discriminator": c.User.Discriminator,
			"mention":       "<@" + c.User.ID + ">",
		},
		"options":     c.Options,
		"vars":        c.Variables,
		"variables":   c.Variables,
		"memberRoles": roles,
	}
	if c.Guild != nil {
		ns["guild"] = map[string]any{"id": c.Guild.ID, "name": c.Guild.Name}
	}
	if c.Channel != nil {
		ns["channel"] = map[string]any{
			"id":      c.Channel.ID,
			"name":    c.Channel.Name,
			"mention": "<#" + c.Channel.ID + ">",
		}
	}
	return ns
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
