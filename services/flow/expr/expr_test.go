// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"strings"
	"testing"

	"github.com/TapestryLabs/tapestry/services/flow"
)

func testContext() *flow.Context {
	return &flow.Context{
		TenantID:    "t1",
		TriggerName: "greet",
		User:        flow.User{ID: "100200300400500600", DisplayName: "Ada"},
		Guild:       &flow.Guild{ID: "700800900100200300", Name: "Engine Room"},
		Channel:     &flow.Channel{ID: "111222333444555666", Name: "general"},
		Options:     map[string]any{"count": float64(3), "label": "hi"},
		MemberRoles: []string{"Admin", "42"},
		Variables:   map[string]any{"score": float64(7), "nested": map[string]any{"deep": "ok"}},
	}
}

func TestResolve_Literals(t *testing.T) {
	ctx := testContext()

	t.Run("keywords", func(t *testing.T) {
		if got := Resolve("true", ctx); got != true {
			t.Errorf("Resolve(true) = %v, want true", got)
		}
		if got := Resolve("null", ctx); got != nil {
			t.Errorf("Resolve(null) = %v, want nil", got)
		}
		if got := Resolve("undefined", ctx); got != nil {
			t.Errorf("Resolve(undefined) = %v, want nil", got)
		}
	})

	t.Run("quoted strings", func(t *testing.T) {
		if got := Resolve(`"hello"`, ctx); got != "hello" {
			t.Errorf("Resolve(%q) = %v, want hello", `"hello"`, got)
		}
		if got := Resolve(`'42'`, ctx); got != "42" {
			t.Errorf("Resolve('42') = %v, want string 42", got)
		}
	})

	t.Run("numbers", func(t *testing.T) {
		if got := Resolve("3.5", ctx); got != 3.5 {
			t.Errorf("Resolve(3.5) = %v, want 3.5", got)
		}
		if got := Resolve("-12", ctx); got != float64(-12) {
			t.Errorf("Resolve(-12) = %v, want -12", got)
		}
	})

	t.Run("snowflake-length digits stay strings", func(t *testing.T) {
		id := "123456789012345678"
		if got := Resolve(id, ctx); got != id {
			t.Errorf("Resolve(%s) = %v (%T), want unchanged string", id, got, got)
		}
		// 14 digits is still a number
		if got := Resolve("12345678901234", ctx); got != float64(12345678901234) {
			t.Errorf("Resolve(14 digits) = %v, want number", got)
		}
	})
}

func TestResolve_Paths(t *testing.T) {
	ctx := testContext()

	t.Run("user fields", func(t *testing.T) {
		if got := Resolve("user.username", ctx); got != "Ada" {
			t.Errorf("user.username = %v, want Ada", got)
		}
		if got := Resolve("user.id", ctx); got != "100200300400500600" {
			t.Errorf("user.id = %v", got)
		}
	})

	t.Run("nested variables", func(t *testing.T) {
		if got := Resolve("vars.nested.deep", ctx); got != "ok" {
			t.Errorf("vars.nested.deep = %v, want ok", got)
		}
		if got := Resolve("variables.score", ctx); got != float64(7) {
			t.Errorf("variables.score = %v, want 7", got)
		}
	})

	t.Run("null propagation", func(t *testing.T) {
		if got := Resolve("vars.missing.deeper", ctx); got != nil {
			t.Errorf("missing path = %v, want nil", got)
		}
		if got := Resolve("notaroot.x", ctx); got != nil {
			t.Errorf("unknown root = %v, want nil", got)
		}
	})
}

func TestResolve_Functions(t *testing.T) {
	ctx := testContext()

	t.Run("upper and lower", func(t *testing.T) {
		if got := Resolve(`upper("abc")`, ctx); got != "ABC" {
			t.Errorf("upper = %v", got)
		}
		if got := Resolve("lower(user.username)", ctx); got != "ada" {
			t.Errorf("lower = %v", got)
		}
	})

	t.Run("toNumber", func(t *testing.T) {
		if got := Resolve(`toNumber("8")`, ctx); got != float64(8) {
			t.Errorf("toNumber = %v", got)
		}
	})

	t.Run("random stays in range", func(t *testing.T) {
		for range 50 {
			n, ok := Resolve("random(1, 3)", ctx).(float64)
			if !ok || n < 1 || n > 3 {
				t.Fatalf("random(1,3) = %v, want 1..3", n)
			}
		}
	})

	t.Run("jsonPath over encoded string", func(t *testing.T) {
		got := Resolve(`jsonPath('{"a":{"b":"c"}}', "a.b")`, ctx)
		if got != "c" {
			t.Errorf("jsonPath = %v, want c", got)
		}
	})

	t.Run("unknown function fails open", func(t *testing.T) {
		if got := Resolve("explode(1)", ctx); got != nil {
			t.Errorf("unknown function = %v, want nil", got)
		}
	})
}

func TestRender(t *testing.T) {
	ctx := testContext()

	t.Run("double brace expressions", func(t *testing.T) {
		got := Render("Hello {{user.username}}, score {{vars.score}}", ctx)
		if got != "Hello Ada, score 7" {
			t.Errorf("Render = %q", got)
		}
	})

	t.Run("shortcuts", func(t *testing.T) {
		got := Render("{user} in {channel} on {server}", ctx)
		want := "<@100200300400500600> in <#111222333444555666> on Engine Room"
		if got != want {
			t.Errorf("Render = %q, want %q", got, want)
		}
	})

	t.Run("dotted single brace falls back to paths", func(t *testing.T) {
		if got := Render("{user.id}", ctx); got != "100200300400500600" {
			t.Errorf("Render({user.id}) = %q", got)
		}
	})

	t.Run("fail open renders empty", func(t *testing.T) {
		if got := Render("{{unknown.path}}", ctx); got != "" {
			t.Errorf("Render unknown = %q, want empty", got)
		}
	})

	t.Run("unknown bare shortcut left untouched", func(t *testing.T) {
		if got := Render("a {weird} token", ctx); got != "a {weird} token" {
			t.Errorf("Render = %q", got)
		}
	})

	t.Run("function call in template", func(t *testing.T) {
		got := Render("{{upper(user.username)}}", ctx)
		if got != "ADA" {
			t.Errorf("Render = %q, want ADA", got)
		}
	})
}

func TestCheck(t *testing.T) {
	cases := []struct {
		expr string
		ok   bool
	}{
		{"user.username", true},
		{"vars.x.y", true},
		{`"literal"`, true},
		{"42", true},
		{"123456789012345678", true},
		{"upper(user.username)", true},
		{"explode(1)", false},
		{"unknownroot.field", false},
		{"upper(unknownroot.x)", false},
	}
	for _, tc := range cases {
		ok, detail := Check(tc.expr)
		if ok != tc.ok {
			t.Errorf("Check(%q) = %v (%s), want %v", tc.expr, ok, detail, tc.ok)
		}
	}
}

func TestStringify(t *testing.T) {
	if got := Stringify(float64(3)); got != "3" {
		t.Errorf("Stringify(3.0) = %q, want 3", got)
	}
	if got := Stringify(3.25); got != "3.25" {
		t.Errorf("Stringify(3.25) = %q", got)
	}
	if got := Stringify(nil); got != "" {
		t.Errorf("Stringify(nil) = %q, want empty", got)
	}
	if got := Stringify(map[string]any{"a": true}); !strings.Contains(got, `"a":true`) {
		t.Errorf("Stringify(map) = %q", got)
	}
}
