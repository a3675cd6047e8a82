// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow/condition"
	"github.com/TapestryLabs/tapestry/services/flow/expr"
	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

// dispatch executes one node and returns the id of the next node.
// terminal=true means the run is over (Stop node, or a failure already
// recorded on the run state). The type switch is exhaustive over the
// closed payload union.
func (s *run) dispatch(ctx context.Context, node graph.Node) (next string, terminal bool) {
	route := func(handle string) string { return s.wf.Next(node.ID, handle) }

	switch data := node.Data.(type) {
	case *graph.TriggerData:
		// Entry point only.
		return route(graph.DefaultHandle), false

	case *graph.MessageData:
		return s.dispatchMessage(ctx, node, data)

	case *graph.EmbedData:
		return s.dispatchEmbed(ctx, node, data)

	case *graph.IfElseData:
		if condition.EvaluateGroup(data.Condition, s.ec) {
			return route(graph.HandleTrue), false
		}
		return route(graph.HandleFalse), false

	case *graph.SwitchCaseData:
		value := expr.Stringify(s.resolveValue(data.Expression))
		if target := route("case:" + value); target != "" {
			return target, false
		}
		return route(graph.HandleDefault), false

	case *graph.LoopData:
		return s.enterLoop(node, data), false

	case *graph.SetVariableData:
		s.ec.Variables[data.Name] = s.resolveValue(data.Value)
		return route(graph.DefaultHandle), false

	case *graph.GetPersistentVariableData:
		if s.handlers.Variables == nil {
			s.fail(node.ID, node.Type, ErrNoVariableStore)
			return "", true
		}
		var value any
		err := s.guard(func() error {
			var getErr error
			value, getErr = s.handlers.Variables.Get(ctx, data.Scope, data.Key)
			return getErr
		})
		if err != nil {
			s.fail(node.ID, node.Type, err)
			return "", true
		}
		if value == nil && data.Default != "" {
			value = s.resolveValue(data.Default)
		}
		s.ec.Variables[data.StoreAs] = value
		return route(graph.DefaultHandle), false

	case *graph.SetPersistentVariableData:
		if s.handlers.Variables == nil {
			s.fail(node.ID, node.Type, ErrNoVariableStore)
			return "", true
		}
		value := s.resolveValue(data.Value)
		if err := s.guard(func() error {
			return s.handlers.Variables.Set(ctx, data.Scope, data.Key, value)
		}); err != nil {
			s.fail(node.ID, node.Type, err)
			return "", true
		}
		return route(graph.DefaultHandle), false

	case *graph.DelayData:
		ms := expr.ToNumber(s.resolveValue(data.Duration))
		if ms > 0 {
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				s.fail(node.ID, node.Type, fmt.Errorf("run canceled during delay: %w", ctx.Err()))
				return "", true
			}
		}
		return route(graph.DefaultHandle), false

	case *graph.HTTPRequestData:
		return s.dispatchHTTP(ctx, node, data)

	case *graph.RoleData:
		userID := expr.Render(data.UserID, s.ec)
		if userID == "" {
			userID = s.ec.User.ID
		}
		roleID := expr.Render(data.RoleID, s.ec)
		reason := expr.Render(data.Reason, s.ec)
		err := s.guard(func() error {
			if node.Type == graph.NodeAddRole {
				return s.handlers.Actions.AddRole(ctx, userID, roleID, reason)
			}
			return s.handlers.Actions.RemoveRole(ctx, userID, roleID, reason)
		})
		if err != nil {
			s.fail(node.ID, node.Type, err)
			return "", true
		}
		s.event(EventAction, node.ID, node.Type, string(node.Type), map[string]any{
			"userId": userID, "roleId": roleID,
		})
		return route(graph.DefaultHandle), false

	case *graph.LoggerData:
		level := data.Level
		if level == "" {
			level = "info"
		}
		message := expr.Render(data.Message, s.ec)
		// Best effort by contract; Log returns nothing.
		s.handlers.Actions.Log(ctx, level, message, map[string]any{"runId": s.runID, "nodeId": node.ID})
		s.event(EventLog, node.ID, node.Type, message, map[string]any{"level": level})
		return route(graph.DefaultHandle), false

	case *graph.StopData:
		s.event(EventLog, node.ID, node.Type, "run stopped", nil)
		return "", true

	default:
		s.fail(node.ID, node.Type, fmt.Errorf("%w: %T", graph.ErrUnknownNodeType, node.Data))
		return "", true
	}
}

// resolveValue gives node value fields expression semantics with a
// template fallback, so "5" is a number, "vars.x" is a lookup, and
// "hi {{user.username}}" is a rendered string.
func (s *run) resolveValue(raw string) any {
	if raw == "" {
		return nil
	}
	if v := expr.Resolve(raw, s.ec); v != nil {
		return v
	}
	return expr.Render(raw, s.ec)
}

func (s *run) renderButtons(buttons []graph.Button) []RenderedButton {
	if len(buttons) == 0 {
		return nil
	}
	out := make([]RenderedButton, len(buttons))
	for i, b := range buttons {
		out[i] = RenderedButton{
			ID:       b.ID,
			Label:    expr.Render(b.Label, s.ec),
			Style:    b.Style,
			URL:      expr.Render(b.URL, s.ec),
			Disabled: b.Disabled,
		}
	}
	return out
}

func (s *run) renderMenus(menus []graph.SelectMenu) []RenderedMenu {
	if len(menus) == 0 {
		return nil
	}
	out := make([]RenderedMenu, len(menus))
	for i, m := range menus {
		options := make([]RenderedOption, len(m.Options))
		for j, o := range m.Options {
			options[j] = RenderedOption{
				ID:          o.ID,
				Label:       expr.Render(o.Label, s.ec),
				Value:       o.Value,
				Description: expr.Render(o.Description, s.ec),
			}
		}
		out[i] = RenderedMenu{ID: m.ID, Placeholder: expr.Render(m.Placeholder, s.ec), Options: options}
	}
	return out
}

func (s *run) dispatchMessage(ctx context.Context, node graph.Node, data *graph.MessageData) (string, bool) {
	msg := &OutgoingMessage{
		Content:   expr.Render(data.Content, s.ec),
		Ephemeral: data.Ephemeral,
		Buttons:   s.renderButtons(data.Buttons),
		Menus:     s.renderMenus(data.Menus),
	}

	var (
		ref    *MessageRef
		action string
	)
	err := s.guard(func() error {
		var sendErr error
		switch node.Type {
		case graph.NodeSendChannelMessage:
			action = "sendChannel"
			ref, sendErr = s.handlers.Actions.SendChannel(ctx, expr.Render(data.ChannelID, s.ec), msg)
		case graph.NodeSendDM:
			action = "sendDm"
			userID := expr.Render(data.UserID, s.ec)
			if userID == "" {
				userID = s.ec.User.ID
			}
			ref, sendErr = s.handlers.Actions.SendDM(ctx, userID, msg)
		default:
			action = "reply"
			ref, sendErr = s.handlers.Actions.Reply(ctx, msg)
		}
		return sendErr
	})
	if err != nil {
		s.fail(node.ID, node.Type, err)
		return "", true
	}
	s.event(EventAction, node.ID, node.Type, action, map[string]any{"content": msg.Content})

	return s.routeInteractive(ctx, node, ref, msg.Buttons, msg.Menus, data.Buttons, data.Menus)
}

func (s *run) dispatchEmbed(ctx context.Context, node graph.Node, data *graph.EmbedData) (string, bool) {
	embed := &OutgoingEmbed{
		Title:       expr.Render(data.Title, s.ec),
		Description: expr.Render(data.Description, s.ec),
		Color:       expr.Render(data.Color, s.ec),
		URL:         expr.Render(data.URL, s.ec),
		AuthorName:  expr.Render(data.AuthorName, s.ec),
		AuthorIcon:  expr.Render(data.AuthorIcon, s.ec),
		AuthorURL:   expr.Render(data.AuthorURL, s.ec),
		ImageURL:    expr.Render(data.ImageURL, s.ec),
		Thumbnail:   expr.Render(data.Thumbnail, s.ec),
		FooterText:  expr.Render(data.FooterText, s.ec),
		FooterIcon:  expr.Render(data.FooterIcon, s.ec),
		Buttons:     s.renderButtons(data.Buttons),
		Menus:       s.renderMenus(data.Menus),
	}
	for _, f := range data.Fields {
		embed.Fields = append(embed.Fields, RenderedField{
			Name:   expr.Render(f.Name, s.ec),
			Value:  expr.Render(f.Value, s.ec),
			Inline: f.Inline,
		})
	}

	var ref *MessageRef
	err := s.guard(func() error {
		var sendErr error
		ref, sendErr = s.handlers.Actions.SendEmbed(ctx, expr.Render(data.ChannelID, s.ec), embed)
		return sendErr
	})
	if err != nil {
		s.fail(node.ID, node.Type, err)
		return "", true
	}
	s.event(EventAction, node.ID, node.Type, "sendEmbed", map[string]any{"title": embed.Title})

	return s.routeInteractive(ctx, node, ref, embed.Buttons, embed.Menus, data.Buttons, data.Menus)
}

// routeInteractive applies one of the two interaction strategies when
// the node has components wired to outgoing edges. Without either
// capability (or without a message reference) the node degrades to
// fire-and-continue through "next".
func (s *run) routeInteractive(
	ctx context.Context,
	node graph.Node,
	ref *MessageRef,
	buttons []RenderedButton,
	menus []RenderedMenu,
	rawButtons []graph.Button,
	rawMenus []graph.SelectMenu,
) (string, bool) {
	fallthroughNext := s.wf.Next(node.ID, graph.DefaultHandle)

	routes := s.interactiveRoutes(node.ID, rawButtons, rawMenus)
	if len(routes) == 0 || ref == nil {
		return fallthroughNext, false
	}

	if registrar, ok := s.handlers.Actions.(InteractionRegistrar); ok {
		reg := &InteractionRegistration{
			Message:             ref,
			Routes:              routes,
			SelectValueToOption: selectValueIndex(rawMenus),
			Context:             s.ec.Clone(),
		}
		if err := s.guard(func() error { return registrar.RegisterInteraction(ctx, reg) }); err != nil {
			s.fail(node.ID, node.Type, err)
			return "", true
		}
		s.event(EventLog, node.ID, node.Type, "interaction registered", map[string]any{"messageId": ref.MessageID})
		return fallthroughNext, false
	}

	if awaiter, ok := s.handlers.Actions.(InteractionAwaiter); ok {
		var handle string
		err := s.guard(func() error {
			var awaitErr error
			handle, awaitErr = awaiter.AwaitInteraction(ctx, ref, DefaultAwaitTimeout)
			return awaitErr
		})
		if err != nil {
			// Timeout or closed connection: fall through rather than
			// failing the run.
			s.event(EventLog, node.ID, node.Type, "interaction wait ended: "+err.Error(), nil)
			return fallthroughNext, false
		}
		if target := s.wf.Next(node.ID, handle); target != "" {
			return target, false
		}
		return fallthroughNext, false
	}

	return fallthroughNext, false
}

// interactiveRoutes collects the wired component handles of a node.
func (s *run) interactiveRoutes(nodeID string, buttons []graph.Button, menus []graph.SelectMenu) map[string]string {
	routes := make(map[string]string)
	for _, b := range buttons {
		if b.IsLink() {
			continue
		}
		handle := "button:" + b.ID
		if target := s.wf.Next(nodeID, handle); target != "" {
			routes[handle] = target
		}
	}
	for _, m := range menus {
		for _, o := range m.Options {
			handle := "select:" + m.ID + ":" + o.ID
			if target := s.wf.Next(nodeID, handle); target != "" {
				routes[handle] = target
			}
		}
	}
	return routes
}

// selectValueIndex maps "<menuId>:<value>" to option id. Interaction
// events carry selected values; edges are keyed by option id.
func selectValueIndex(menus []graph.SelectMenu) map[string]string {
	if len(menus) == 0 {
		return nil
	}
	index := make(map[string]string)
	for _, m := range menus {
		for _, o := range m.Options {
			index[m.ID+":"+o.Value] = o.ID
		}
	}
	return index
}

func (s *run) dispatchHTTP(ctx context.Context, node graph.Node, data *graph.HTTPRequestData) (string, bool) {
	spec := &HTTPSpec{
		Method: strings.ToUpper(expr.Render(data.Method, s.ec)),
		URL:    expr.Render(data.URL, s.ec),
		Body:   expr.Render(data.Body, s.ec),
	}
	if len(data.Headers) > 0 {
		spec.Headers = make(map[string]string, len(data.Headers))
		for k, v := range data.Headers {
			spec.Headers[k] = expr.Render(v, s.ec)
		}
	}
	if data.TimeoutMs > 0 {
		spec.Timeout = time.Duration(data.TimeoutMs) * time.Millisecond
	}

	var resp *HTTPResponse
	attempts := data.Retries + 1
	err := s.guard(func() error {
		var lastErr error
		for i := 0; i < attempts; i++ {
			var reqErr error
			resp, reqErr = s.handlers.Actions.HTTPRequest(ctx, spec)
			if reqErr == nil {
				return nil
			}
			lastErr = reqErr
		}
		return lastErr
	})
	if err != nil {
		s.fail(node.ID, node.Type, fmt.Errorf("http request failed after %d attempts: %w", attempts, err))
		return "", true
	}

	if data.StoreAs != "" {
		s.ec.Variables[data.StoreAs] = resp.Body
	}
	s.event(EventAction, node.ID, node.Type, "httpRequest", map[string]any{
		"method": spec.Method, "url": spec.URL, "status": resp.Status,
	})

	if resp.Status >= 200 && resp.Status < 300 {
		return s.wf.Next(node.ID, graph.HandleSuccess), false
	}
	return s.wf.Next(node.ID, graph.HandleFailure), false
}
