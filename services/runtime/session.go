// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow"
	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
	"github.com/TapestryLabs/tapestry/services/runtime/gateway"
	"github.com/TapestryLabs/tapestry/services/runtime/interactions"
)

// genericFailureReply is what the invoking user sees when their
// command's run fails. The detailed error goes to the tenant's
// operational log only.
const genericFailureReply = "Something went wrong while running this command."

// cooldownReply is the ephemeral answer to a rate-limited invocation.
const cooldownReply = "This command is on cooldown. Try again in a moment."

// Session is one tenant's live presence: the gateway connection plus
// the event handlers that turn platform events into engine runs. It
// implements gateway.Handler; each event runs in its own goroutine so
// one slow workflow never blocks the read loop, and a failing run
// never affects the others sharing the connection.
type Session struct {
	manager  *Manager
	tenantID string
	logger   *slog.Logger

	conn   Conn
	since  time.Time
	runs   atomic.Int64
	cancel context.CancelFunc
}

func newSession(m *Manager, tenantID string) *Session {
	return &Session{
		manager:  m,
		tenantID: tenantID,
		logger:   m.logger.With(slog.String("tenant", tenantID)),
	}
}

// start binds the dialed connection and begins heartbeating.
func (s *Session) start(conn Conn) {
	s.conn = conn
	s.since = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if interval := s.manager.opts.HeartbeatInterval; interval > 0 {
		go s.heartbeatLoop(ctx, interval)
	}
}

func (s *Session) close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.manager.opts.Backend.Heartbeat(hbCtx, backend.Status{
				TenantID:  s.tenantID,
				Connected: true,
				Since:     s.since,
				Runs:      s.runs.Load(),
			})
			cancel()
			if err != nil {
				s.logger.Debug("heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// HandleCommand implements gateway.Handler.
func (s *Session) HandleCommand(ev *gateway.CommandInvoked) {
	go s.runCommand(ev)
}

// HandleComponent implements gateway.Handler.
func (s *Session) HandleComponent(ev *gateway.ComponentInteraction) {
	go s.resumeInteraction(ev)
}

// HandleEvent implements gateway.Handler.
func (s *Session) HandleEvent(ev *gateway.PlatformEvent) {
	go s.runEvent(ev)
}

func (s *Session) runCommand(ev *gateway.CommandInvoked) {
	ctx := context.Background()

	def, err := s.manager.opts.Cache.Find(ctx, s.tenantID, backend.CategoryCommand, ev.Command)
	if err != nil {
		s.logger.Warn("definition lookup failed",
			slog.String("command", ev.Command),
			slog.String("error", err.Error()),
		)
		return
	}
	if def == nil || def.Workflow == nil {
		s.logger.Debug("no published workflow for command", slog.String("command", ev.Command))
		return
	}

	actions := s.actionsFor(ev.Token, ev.Place.ChannelID, def)

	if def.CooldownSec > 0 && s.manager.opts.Cooldowns != nil {
		window := time.Duration(def.CooldownSec) * time.Second
		ok, err := s.manager.opts.Cooldowns.Acquire(ctx, s.tenantID, ev.Command, ev.Actor.ID, window)
		if err != nil {
			// Fails closed.
			s.logger.Warn("cooldown check failed", slog.String("error", err.Error()))
			ok = false
		}
		if !ok {
			s.manager.metrics.CooldownRejectionsTotal.WithLabelValues(s.tenantID).Inc()
			_, _ = actions.Reply(ctx, &engine.OutgoingMessage{Content: cooldownReply, Ephemeral: true})
			return
		}
	}

	fctx := s.contextFor(ev.Command, ev.Actor, ev.Place, ev.Options, ev.MemberRoles)
	result := s.manager.opts.Runner.Execute(ctx, def.Workflow, fctx, engine.Handlers{
		Actions:   actions,
		Variables: s.variablesFor(ev.Actor.ID, ev.Place.GuildID),
	})
	s.finishRun(ctx, backend.CategoryCommand, def, result, actions, true)
}

// runEvent executes the workflow whose event trigger matches the
// dispatch type. Events have no invoking interaction, so nothing is
// replied on failure and no cooldown applies.
func (s *Session) runEvent(ev *gateway.PlatformEvent) {
	ctx := context.Background()

	def, err := s.manager.opts.Cache.Find(ctx, s.tenantID, backend.CategoryEvent, ev.Type)
	if err != nil {
		s.logger.Warn("definition lookup failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if def == nil || def.Workflow == nil {
		s.logger.Debug("no published workflow for event", slog.String("event", ev.Type))
		return
	}

	actions := s.actionsFor("", ev.Place.ChannelID, def)
	fctx := s.contextFor(ev.Type, ev.Actor, ev.Place, ev.Payload, ev.MemberRoles)
	result := s.manager.opts.Runner.Execute(ctx, def.Workflow, fctx, engine.Handlers{
		Actions:   actions,
		Variables: s.variablesFor(ev.Actor.ID, ev.Place.GuildID),
	})
	s.finishRun(ctx, backend.CategoryEvent, def, result, actions, false)
}

func (s *Session) resumeInteraction(ev *gateway.ComponentInteraction) {
	ctx := context.Background()

	store := s.manager.opts.Interactions
	if store == nil {
		return
	}
	session, ok := store.Claim(ev.MessageID)
	if !ok {
		s.logger.Debug("interaction for unknown or expired message", slog.String("message", ev.MessageID))
		return
	}

	handle := "button:" + ev.ComponentID
	if ev.MenuID != "" && len(ev.Values) > 0 {
		optionID := session.SelectValueToOption[ev.MenuID+":"+ev.Values[0]]
		handle = "select:" + ev.MenuID + ":" + optionID
	}
	nodeID, ok := session.Routes[handle]
	if !ok {
		s.logger.Debug("interaction handle not wired", slog.String("handle", handle))
		return
	}
	if session.Workflow == nil {
		s.logger.Warn("interaction session carries no workflow snapshot",
			slog.String("workflow", session.WorkflowID),
		)
		return
	}

	// The session snapshots the compiled workflow at registration, so
	// the resume is immune to republish or unpublish in between.
	def := &backend.Definition{
		ID:       session.WorkflowID,
		Name:     session.WorkflowName,
		Workflow: session.Workflow,
	}
	actions := s.actionsFor(ev.Token, ev.Place.ChannelID, def)
	fctx := session.Context.Clone()
	result := s.manager.opts.Runner.ExecuteFrom(ctx, session.Workflow, nodeID, fctx, engine.Handlers{
		Actions:   actions,
		Variables: s.variablesFor(fctx.User.ID, fctx.GuildID()),
	})
	s.finishRun(ctx, backend.CategoryCommand, def, result, actions, false)
}

// finishRun records metrics and applies the failure policy: a generic
// reply to the user, full detail to the operational log only.
func (s *Session) finishRun(ctx context.Context, category string, def *backend.Definition, result *engine.Result, actions *gateway.Actions, replyOnError bool) {
	s.runs.Add(1)

	status := "ok"
	if result.Failed() {
		status = "error"
	}
	s.manager.metrics.RunsTotal.WithLabelValues(s.tenantID, category, status).Inc()

	if !result.Failed() {
		return
	}

	s.manager.appendLog(s.tenantID, "error", fmt.Sprintf("workflow %s failed: %s", def.Name, result.Err), map[string]any{
		"runId":    result.RunID,
		"workflow": def.ID,
		"steps":    result.Steps,
	})
	if replyOnError {
		_, _ = actions.Reply(ctx, &engine.OutgoingMessage{Content: genericFailureReply, Ephemeral: true})
	}
}

// actionsFor builds the engine's side-effect surface for one run.
func (s *Session) actionsFor(token, channelID string, def *backend.Definition) *gateway.Actions {
	return &gateway.Actions{
		TenantID:     s.tenantID,
		ReplyToken:   token,
		DefaultReply: channelID,
		Conn:         s.conn,
		Registrar:    &runRegistrar{session: s, def: def},
		Logs:         s.logsFor(),
	}
}

func (s *Session) logsFor() gateway.LogSink {
	if s.manager.opts.Logs == nil {
		return nil
	}
	return s.manager.opts.Logs
}

func (s *Session) contextFor(trigger string, actor gateway.Actor, place gateway.Place, options map[string]any, roles []string) *flow.Context {
	fctx := &flow.Context{
		TenantID:    s.tenantID,
		TriggerName: trigger,
		User: flow.User{
			ID:            actor.ID,
			DisplayName:   actor.Username,
			Discriminator: actor.Discriminator,
		},
		Options:     options,
		MemberRoles: roles,
		Variables:   make(map[string]any),
	}
	if place.GuildID != "" {
		fctx.Guild = &flow.Guild{ID: place.GuildID, Name: place.GuildName}
	}
	if place.ChannelID != "" {
		fctx.Channel = &flow.Channel{ID: place.ChannelID, Name: place.ChannelName}
	}
	return fctx
}

// variablesFor binds the persistent variable store to the run's
// identity, preferring the embedded store and falling back to the
// backend interface.
func (s *Session) variablesFor(userID, guildID string) engine.VariableStore {
	if s.manager.opts.Variables != nil {
		return s.manager.opts.Variables.Scoped(s.tenantID, userID, guildID)
	}
	return &backendVariables{
		backend:  s.manager.opts.Backend,
		tenantID: s.tenantID,
		userID:   userID,
		guildID:  guildID,
	}
}

// runRegistrar adapts engine registrations into interaction-store
// sessions, snapshotting the definition they belong to.
type runRegistrar struct {
	session *Session
	def     *backend.Definition
}

func (r *runRegistrar) RegisterInteraction(_ context.Context, reg *engine.InteractionRegistration) error {
	store := r.session.manager.opts.Interactions
	if store == nil || reg.Message == nil {
		return nil
	}
	store.Put(reg.Message.MessageID, interactions.FromRegistration(
		r.session.tenantID,
		r.def,
		reg,
		r.session.manager.opts.InteractionTTL,
	))
	return nil
}
