// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate performs static analysis over the editable graph
// before persistence or publish. It is independent of compilation and
// of the interpreter: a pure function from graph to issue list.
//
// Errors block publish; warnings are advisory (a template referencing
// an unknown root still runs, it just renders blank).
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/TapestryLabs/tapestry/services/flow/expr"
	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

// Level classifies an issue.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Issue is a single validation finding. NodeID is empty for
// graph-level findings.
type Issue struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// HasErrors reports whether any issue is error-level.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Level == LevelError {
			return true
		}
	}
	return false
}

// structCheck validates the `validate` tags on node payloads.
var structCheck = validator.New(validator.WithRequiredStructEnabled())

// Validate runs every check against the editable graph.
func Validate(g *graph.Graph) []Issue {
	v := &run{graph: g}

	v.checkVersion()
	v.checkTriggers()
	v.indexEdges()
	for _, n := range g.Nodes {
		v.checkRequiredFields(n)
		v.checkTemplates(n)
		v.checkIncoming(n)
		v.checkBranchHandles(n)
		v.checkComponents(n)
		v.checkEmbed(n)
	}

	return v.issues
}

type run struct {
	graph    *graph.Graph
	issues   []Issue
	incoming map[string]int
	outgoing map[string]map[string]bool // node id -> source handle set
}

func (v *run) errorf(nodeID, format string, args ...any) {
	v.issues = append(v.issues, Issue{Level: LevelError, Message: fmt.Sprintf(format, args...), NodeID: nodeID})
}

func (v *run) warnf(nodeID, format string, args ...any) {
	v.issues = append(v.issues, Issue{Level: LevelWarning, Message: fmt.Sprintf(format, args...), NodeID: nodeID})
}

func (v *run) checkVersion() {
	if v.graph.Version != graph.SchemaVersion {
		v.warnf("", "graph schema version %d does not match supported version %d", v.graph.Version, graph.SchemaVersion)
	}
}

func (v *run) checkTriggers() {
	var triggers []string
	for _, n := range v.graph.Nodes {
		if n.Type.IsTrigger() {
			triggers = append(triggers, n.ID)
		}
	}
	switch len(triggers) {
	case 0:
		v.errorf("", "graph has no trigger node")
	case 1:
	default:
		v.errorf("", "graph has %d trigger nodes, want exactly one (%s)", len(triggers), strings.Join(triggers, ", "))
	}
}

func (v *run) indexEdges() {
	v.incoming = make(map[string]int)
	v.outgoing = make(map[string]map[string]bool)
	for _, e := range v.graph.Edges {
		v.incoming[e.Target]++
		handles, ok := v.outgoing[e.Source]
		if !ok {
			handles = make(map[string]bool)
			v.outgoing[e.Source] = handles
		}
		handles[e.Handle()] = true
	}
}

// checkRequiredFields runs the struct tags on the typed payload and
// reports each failing field as an error.
func (v *run) checkRequiredFields(n graph.Node) {
	if n.Data == nil {
		v.errorf(n.ID, "%s node has no data", n.Type)
		return
	}
	err := structCheck.Struct(n.Data)
	if err == nil {
		return
	}
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		v.errorf(n.ID, "%s node data is invalid: %v", n.Type, err)
		return
	}
	for _, fe := range fieldErrors {
		switch fe.Tag() {
		case "required":
			v.errorf(n.ID, "%s node is missing required field %s", n.Type, fe.Field())
		case "min":
			v.errorf(n.ID, "%s node field %s needs at least %s entries", n.Type, fe.Field(), fe.Param())
		case "oneof":
			v.errorf(n.ID, "%s node field %s must be one of: %s", n.Type, fe.Field(), fe.Param())
		default:
			v.errorf(n.ID, "%s node field %s fails %s", n.Type, fe.Field(), fe.Tag())
		}
	}
}

// templateFields lists the template-bearing string fields per payload.
func templateFields(n graph.Node) map[string]string {
	switch d := n.Data.(type) {
	case *graph.MessageData:
		return map[string]string{"content": d.Content, "channelId": d.ChannelID, "userId": d.UserID}
	case *graph.EmbedData:
		return map[string]string{
			"title": d.Title, "description": d.Description, "footerText": d.FooterText,
			"authorName": d.AuthorName, "imageUrl": d.ImageURL,
		}
	case *graph.SwitchCaseData:
		return map[string]string{"expression": d.Expression}
	case *graph.LoopData:
		return map[string]string{"listExpression": d.ListExpression}
	case *graph.SetVariableData:
		return map[string]string{"value": d.Value}
	case *graph.SetPersistentVariableData:
		return map[string]string{"value": d.Value}
	case *graph.DelayData:
		return map[string]string{"duration": d.Duration}
	case *graph.HTTPRequestData:
		return map[string]string{"url": d.URL, "body": d.Body}
	case *graph.RoleData:
		return map[string]string{"roleId": d.RoleID, "reason": d.Reason, "userId": d.UserID}
	case *graph.LoggerData:
		return map[string]string{"message": d.Message}
	default:
		return nil
	}
}

// checkTemplates scans {{expr}} tokens for unknown roots or functions.
// These render blank at runtime (fail-open), so they are warnings.
func (v *run) checkTemplates(n graph.Node) {
	check := func(field, text string) {
		for _, token := range expr.Tokens(text) {
			if ok, detail := expr.Check(token); !ok {
				v.warnf(n.ID, "%s node field %s: expression {{%s}} will render blank: %s", n.Type, field, token, detail)
			}
		}
	}
	for field, text := range templateFields(n) {
		check(field, text)
	}
	// Component labels are templated too.
	for _, b := range buttonsOf(n) {
		check("button "+b.ID, b.Label)
	}
	for _, m := range menusOf(n) {
		check("menu "+m.ID, m.Placeholder)
		for _, o := range m.Options {
			check("option "+o.ID, o.Label)
		}
	}
}

func (v *run) checkIncoming(n graph.Node) {
	if n.Type.IsTrigger() {
		return
	}
	if v.incoming[n.ID] == 0 {
		v.warnf(n.ID, "%s node is unreachable: no incoming edge", n.Type)
	}
}

// checkBranchHandles verifies that branch-shaped nodes have the
// outgoing handles the interpreter will route through. A missing
// IfElse branch is an error (the run would dead-end); the others are
// warnings because the interpreter has a defined fallback.
func (v *run) checkBranchHandles(n graph.Node) {
	handles := v.outgoing[n.ID]
	has := func(h string) bool { return handles[h] }

	switch n.Type {
	case graph.NodeIfElse:
		if !has(graph.HandleTrue) {
			v.errorf(n.ID, `ifElse node is missing its "true" edge`)
		}
		if !has(graph.HandleFalse) {
			v.errorf(n.ID, `ifElse node is missing its "false" edge`)
		}
	case graph.NodeSwitchCase:
		caseCount := 0
		for h := range handles {
			if strings.HasPrefix(h, "case:") {
				caseCount++
			}
		}
		if caseCount == 0 {
			v.warnf(n.ID, "switchCase node has no case edges")
		}
		if !has(graph.HandleDefault) {
			v.warnf(n.ID, `switchCase node has no "default" edge`)
		}
	case graph.NodeHTTPRequest:
		if !has(graph.HandleSuccess) {
			v.warnf(n.ID, `httpRequest node has no "success" edge`)
		}
		if !has(graph.HandleFailure) {
			v.warnf(n.ID, `httpRequest node has no "failure" edge`)
		}
	case graph.NodeLoop:
		if !has(graph.HandleLoop) {
			v.warnf(n.ID, `loop node has no "loop" edge`)
		}
		if !has(graph.HandleDone) {
			v.warnf(n.ID, `loop node has no "done" edge`)
		}
	}
}

func buttonsOf(n graph.Node) []graph.Button {
	switch d := n.Data.(type) {
	case *graph.MessageData:
		return d.Buttons
	case *graph.EmbedData:
		return d.Buttons
	default:
		return nil
	}
}

func menusOf(n graph.Node) []graph.SelectMenu {
	switch d := n.Data.(type) {
	case *graph.MessageData:
		return d.Menus
	case *graph.EmbedData:
		return d.Menus
	default:
		return nil
	}
}

// checkComponents enforces structural integrity of buttons and select
// menus (errors) and warns when an interactive component has no wired
// outgoing edge (the click would do nothing).
func (v *run) checkComponents(n graph.Node) {
	buttons := buttonsOf(n)
	menus := menusOf(n)
	if len(buttons) == 0 && len(menus) == 0 {
		return
	}
	handles := v.outgoing[n.ID]

	for _, b := range buttons {
		if b.Label == "" {
			v.errorf(n.ID, "button %s has no label", b.ID)
		}
		if b.IsLink() {
			if b.URL == "" {
				v.errorf(n.ID, "link button %s has no URL", b.ID)
			}
			continue
		}
		if !handles["button:"+b.ID] {
			v.warnf(n.ID, "button %s has no outgoing edge", b.ID)
		}
	}

	menuIDs := make(map[string]bool)
	for _, m := range menus {
		if menuIDs[m.ID] {
			v.errorf(n.ID, "duplicate select menu id %s", m.ID)
		}
		menuIDs[m.ID] = true
		if len(m.Options) == 0 {
			v.errorf(n.ID, "select menu %s has no options", m.ID)
		}
		optionIDs := make(map[string]bool)
		optionValues := make(map[string]bool)
		for _, o := range m.Options {
			if o.Label == "" {
				v.errorf(n.ID, "option %s of menu %s has no label", o.ID, m.ID)
			}
			if optionIDs[o.ID] {
				v.errorf(n.ID, "duplicate option id %s in menu %s", o.ID, m.ID)
			}
			if optionValues[o.Value] {
				v.errorf(n.ID, "duplicate option value %q in menu %s", o.Value, m.ID)
			}
			optionIDs[o.ID] = true
			optionValues[o.Value] = true
			if !handles["select:"+m.ID+":"+o.ID] {
				v.warnf(n.ID, "option %s of menu %s has no outgoing edge", o.ID, m.ID)
			}
		}
	}
}

// checkEmbed enforces the platform's embed content rules.
func (v *run) checkEmbed(n graph.Node) {
	d, ok := n.Data.(*graph.EmbedData)
	if !ok {
		return
	}
	if !d.HasContent() {
		v.errorf(n.ID, "embed needs at least one of title, description, author, image or fields")
	}
	if d.FooterIcon != "" && d.FooterText == "" {
		v.errorf(n.ID, "embed footer icon requires footer text")
	}
	if (d.AuthorIcon != "" || d.AuthorURL != "") && d.AuthorName == "" {
		v.errorf(n.ID, "embed author icon/url requires an author name")
	}
}
