// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package condition

import (
	"testing"

	"github.com/TapestryLabs/tapestry/services/flow"
)

func testContext() *flow.Context {
	return &flow.Context{
		User:        flow.User{ID: "123", DisplayName: "Ada"},
		Guild:       &flow.Guild{ID: "9", Name: "HQ"},
		MemberRoles: []string{"9", "Moderator", "MANAGE_MESSAGES"},
		Variables:   map[string]any{"count": float64(5)},
		Options:     map[string]any{"target": "abcdef"},
	}
}

func TestEvaluate_MentionEquality(t *testing.T) {
	ctx := testContext()

	t.Run("user mention equals bare id", func(t *testing.T) {
		if !Evaluate("<@123>", OpEquals, "123", ctx) {
			t.Error("<@123> equals 123 = false, want true")
		}
		if !Evaluate("<@!123>", OpEquals, "123", ctx) {
			t.Error("<@!123> equals 123 = false, want true")
		}
	})

	t.Run("role mention in list", func(t *testing.T) {
		if !Evaluate("<@&9>", OpIn, "9, 55", ctx) {
			t.Error("<@&9> in 9,55 = false, want true")
		}
		if Evaluate("<@&8>", OpIn, "9, 55", ctx) {
			t.Error("<@&8> in 9,55 = true, want false")
		}
	})

	t.Run("notEquals", func(t *testing.T) {
		if Evaluate("<#5>", OpNotEquals, "5", ctx) {
			t.Error("<#5> notEquals 5 = true, want false")
		}
	})
}

func TestEvaluate_StringOperators(t *testing.T) {
	ctx := testContext()

	if !Evaluate("options.target", OpContains, `"cde"`, ctx) {
		t.Error("contains failed")
	}
	if !Evaluate("options.target", OpStartsWith, `"abc"`, ctx) {
		t.Error("startsWith failed")
	}
	if !Evaluate("options.target", OpEndsWith, `"def"`, ctx) {
		t.Error("endsWith failed")
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	ctx := testContext()

	if !Evaluate("vars.count", OpGreaterThan, "3", ctx) {
		t.Error("5 gt 3 = false")
	}
	if !Evaluate("vars.count", OpLessThan, "10", ctx) {
		t.Error("5 lt 10 = false")
	}
	if Evaluate("vars.count", OpGreaterThan, "5", ctx) {
		t.Error("5 gt 5 = true")
	}
	// String coercion on both sides.
	if !Evaluate(`"20"`, OpGreaterThan, `"9"`, ctx) {
		t.Error(`"20" gt "9" = false, want numeric comparison`)
	}
}

func TestEvaluate_HasRole(t *testing.T) {
	ctx := testContext()

	t.Run("role mention with candidate list", func(t *testing.T) {
		if !Evaluate("<@&9>", OpHasRole, "9,other", ctx) {
			t.Error("hasRole with mention = false, want true")
		}
	})

	t.Run("case insensitive name", func(t *testing.T) {
		if !Evaluate("", OpHasRole, "moderator", ctx) {
			t.Error("hasRole moderator = false, want true")
		}
	})

	t.Run("absent role", func(t *testing.T) {
		if Evaluate("", OpHasRole, "Owner", ctx) {
			t.Error("hasRole Owner = true, want false")
		}
	})
}

func TestEvaluate_HasPermission(t *testing.T) {
	ctx := testContext()

	cases := []string{"MANAGE_MESSAGES", "manage messages", "ManageMessages", "manage_messages"}
	for _, c := range cases {
		if !Evaluate("", OpHasPermission, c, ctx) {
			t.Errorf("hasPermission(%q) = false, want true", c)
		}
	}
	if Evaluate("", OpHasPermission, "ban members", ctx) {
		t.Error("hasPermission(ban members) = true, want false")
	}
}

func TestEvaluateGroup(t *testing.T) {
	ctx := testContext()

	t.Run("empty group is vacuously true", func(t *testing.T) {
		if !EvaluateGroup(Group{Op: GroupAnd}, ctx) {
			t.Error("empty AND group = false, want true")
		}
		if !EvaluateGroup(Group{Op: GroupOr}, ctx) {
			t.Error("empty OR group = false, want true")
		}
	})

	t.Run("AND short-circuits", func(t *testing.T) {
		g := Group{Op: GroupAnd, Rules: []Rule{
			{Left: "vars.count", Operator: OpGreaterThan, Right: "3"},
			{Left: "vars.count", Operator: OpLessThan, Right: "4"},
		}}
		if EvaluateGroup(g, ctx) {
			t.Error("AND group = true, want false")
		}
	})

	t.Run("OR needs one", func(t *testing.T) {
		g := Group{Op: GroupOr, Rules: []Rule{
			{Left: "vars.count", Operator: OpEquals, Right: "99"},
			{Left: "", Operator: OpHasRole, Right: "moderator"},
		}}
		if !EvaluateGroup(g, ctx) {
			t.Error("OR group = false, want true")
		}
	})

	t.Run("nested groups", func(t *testing.T) {
		g := Group{
			Op: GroupAnd,
			Rules: []Rule{
				{Left: "vars.count", Operator: OpEquals, Right: "5"},
			},
			Groups: []Group{
				{Op: GroupOr, Rules: []Rule{
					{Left: "", Operator: OpHasRole, Right: "nope"},
					{Left: "", Operator: OpHasPermission, Right: "manage messages"},
				}},
			},
		}
		if !EvaluateGroup(g, ctx) {
			t.Error("nested group = false, want true")
		}
	})
}
