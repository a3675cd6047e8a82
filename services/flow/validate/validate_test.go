// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"strings"
	"testing"

	"github.com/TapestryLabs/tapestry/services/flow/graph"
)

func baseGraph() *graph.Graph {
	return &graph.Graph{
		Version: graph.SchemaVersion,
		Nodes: []graph.Node{
			{ID: "t1", Type: graph.NodeCommandTrigger, Data: &graph.TriggerData{Name: "greet"}},
		},
	}
}

func issuesFor(issues []Issue, nodeID string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.NodeID == nodeID {
			out = append(out, i)
		}
	}
	return out
}

func TestValidate_Triggers(t *testing.T) {
	t.Run("zero triggers is an error", func(t *testing.T) {
		g := &graph.Graph{Version: graph.SchemaVersion, Nodes: []graph.Node{
			{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{Content: "hi"}},
		}}
		issues := Validate(g)
		if !HasErrors(issues) {
			t.Fatalf("want error for missing trigger, got %v", issues)
		}
	})

	t.Run("two triggers is an error", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "t2", Type: graph.NodeEventTrigger, Data: &graph.TriggerData{Name: "memberJoin"}})
		if !HasErrors(Validate(g)) {
			t.Fatal("want error for duplicate trigger")
		}
	})

	t.Run("clean single-trigger graph has no issues", func(t *testing.T) {
		if issues := Validate(baseGraph()); len(issues) != 0 {
			t.Fatalf("want no issues, got %v", issues)
		}
	})
}

func TestValidate_VersionMismatch(t *testing.T) {
	g := baseGraph()
	g.Version = graph.SchemaVersion + 1
	issues := Validate(g)
	if len(issues) != 1 || issues[0].Level != LevelWarning {
		t.Fatalf("want one version warning, got %v", issues)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	g := baseGraph()
	g.Nodes = append(g.Nodes, graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{}})
	g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "m1"}}

	issues := issuesFor(Validate(g), "m1")
	found := false
	for _, i := range issues {
		if i.Level == LevelError && strings.Contains(i.Message, "Content") {
			found = true
		}
	}
	if !found {
		t.Fatalf("want required-content error, got %v", issues)
	}
}

func TestValidate_IfElseRoundTrip(t *testing.T) {
	g := baseGraph()
	g.Nodes = append(g.Nodes,
		graph.Node{ID: "b1", Type: graph.NodeIfElse, Data: &graph.IfElseData{}},
		graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{Content: "yes"}},
		graph.Node{ID: "m2", Type: graph.NodeReplyMessage, Data: &graph.MessageData{Content: "no"}},
	)
	g.Edges = []graph.Edge{
		{ID: "e1", Source: "t1", Target: "b1"},
		{ID: "e2", Source: "b1", Target: "m1", SourceHandle: graph.HandleTrue},
		{ID: "e3", Source: "m1", Target: "m2"},
	}

	// Missing "false" edge: exactly one error, on b1.
	var errs []Issue
	for _, i := range Validate(g) {
		if i.Level == LevelError {
			errs = append(errs, i)
		}
	}
	if len(errs) != 1 || errs[0].NodeID != "b1" || !strings.Contains(errs[0].Message, `"false"`) {
		t.Fatalf("want single false-edge error on b1, got %v", errs)
	}

	// Adding the edge removes it.
	g.Edges = append(g.Edges, graph.Edge{ID: "e4", Source: "b1", Target: "m2", SourceHandle: graph.HandleFalse})
	if HasErrors(Validate(g)) {
		t.Fatalf("want no errors after adding false edge, got %v", Validate(g))
	}
}

func TestValidate_TemplateWarnings(t *testing.T) {
	g := baseGraph()
	g.Nodes = append(g.Nodes, graph.Node{
		ID: "m1", Type: graph.NodeReplyMessage,
		Data: &graph.MessageData{Content: "hi {{bogus.path}} and {{explode(1)}}"},
	})
	g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "m1"}}

	warnings := 0
	for _, i := range issuesFor(Validate(g), "m1") {
		if i.Level == LevelWarning && strings.Contains(i.Message, "render blank") {
			warnings++
		}
	}
	if warnings != 2 {
		t.Fatalf("want 2 template warnings, got %d", warnings)
	}
}

func TestValidate_UnreachableNode(t *testing.T) {
	g := baseGraph()
	g.Nodes = append(g.Nodes, graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{Content: "hi"}})

	issues := issuesFor(Validate(g), "m1")
	if len(issues) != 1 || issues[0].Level != LevelWarning || !strings.Contains(issues[0].Message, "unreachable") {
		t.Fatalf("want unreachable warning, got %v", issues)
	}
}

func TestValidate_Components(t *testing.T) {
	t.Run("link button requires URL", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{
			Content: "pick",
			Buttons: []graph.Button{{ID: "b1", Label: "Docs", Style: "link"}},
		}})
		g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "m1"}}
		if !HasErrors(Validate(g)) {
			t.Fatal("want error for link button without URL")
		}
	})

	t.Run("unwired button warns", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{
			Content: "pick",
			Buttons: []graph.Button{{ID: "b1", Label: "Go"}},
		}})
		g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "m1"}}
		issues := issuesFor(Validate(g), "m1")
		if len(issues) != 1 || issues[0].Level != LevelWarning {
			t.Fatalf("want one unwired-button warning, got %v", issues)
		}
	})

	t.Run("duplicate option values error", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "m1", Type: graph.NodeReplyMessage, Data: &graph.MessageData{
			Content: "pick",
			Menus: []graph.SelectMenu{{ID: "menu1", Options: []graph.SelectOption{
				{ID: "o1", Label: "A", Value: "same"},
				{ID: "o2", Label: "B", Value: "same"},
			}}},
		}})
		g.Edges = []graph.Edge{
			{ID: "e1", Source: "t1", Target: "m1"},
			{ID: "e2", Source: "m1", Target: "t1", SourceHandle: "select:menu1:o1"},
			{ID: "e3", Source: "m1", Target: "t1", SourceHandle: "select:menu1:o2"},
		}
		if !HasErrors(Validate(g)) {
			t.Fatal("want error for duplicate option values")
		}
	})
}

func TestValidate_Embed(t *testing.T) {
	t.Run("empty embed errors", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "em1", Type: graph.NodeEmbedMessage, Data: &graph.EmbedData{}})
		g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "em1"}}
		if !HasErrors(Validate(g)) {
			t.Fatal("want error for contentless embed")
		}
	})

	t.Run("footer icon requires footer text", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "em1", Type: graph.NodeEmbedMessage, Data: &graph.EmbedData{
			Title:      "hello",
			FooterIcon: "https://cdn.example/icon.png",
		}})
		g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "em1"}}
		found := false
		for _, i := range issuesFor(Validate(g), "em1") {
			if i.Level == LevelError && strings.Contains(i.Message, "footer") {
				found = true
			}
		}
		if !found {
			t.Fatal("want footer icon error")
		}
	})

	t.Run("author icon requires author name", func(t *testing.T) {
		g := baseGraph()
		g.Nodes = append(g.Nodes, graph.Node{ID: "em1", Type: graph.NodeEmbedMessage, Data: &graph.EmbedData{
			Description: "body",
			AuthorIcon:  "https://cdn.example/a.png",
		}})
		g.Edges = []graph.Edge{{ID: "e1", Source: "t1", Target: "em1"}}
		if !HasErrors(Validate(g)) {
			t.Fatal("want author name error")
		}
	})
}

func TestValidate_BranchWarnings(t *testing.T) {
	g := baseGraph()
	g.Nodes = append(g.Nodes,
		graph.Node{ID: "sw1", Type: graph.NodeSwitchCase, Data: &graph.SwitchCaseData{Expression: "options.choice"}},
		graph.Node{ID: "h1", Type: graph.NodeHTTPRequest, Data: &graph.HTTPRequestData{Method: "GET", URL: "https://example.com"}},
		graph.Node{ID: "l1", Type: graph.NodeLoop, Data: &graph.LoopData{ListExpression: "a,b", ItemVar: "x"}},
	)
	g.Edges = []graph.Edge{
		{ID: "e1", Source: "t1", Target: "sw1"},
		{ID: "e2", Source: "sw1", Target: "h1", SourceHandle: "case:a"},
		{ID: "e3", Source: "h1", Target: "l1", SourceHandle: graph.HandleSuccess},
	}

	issues := Validate(g)
	if HasErrors(issues) {
		t.Fatalf("branch completeness should warn, not error: %v", issues)
	}
	wantFragments := []string{`"default"`, `"failure"`, `"loop"`, `"done"`}
	for _, frag := range wantFragments {
		found := false
		for _, i := range issues {
			if strings.Contains(i.Message, frag) {
				found = true
			}
		}
		if !found {
			t.Errorf("missing warning about %s in %v", frag, issues)
		}
	}
}
