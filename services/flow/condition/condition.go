// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package condition evaluates the nested AND/OR rule trees attached to
// branch nodes, with chat-platform-aware operand normalization: operands
// shaped like role/user/channel mentions are reduced to their bare id
// before comparison, and the role/permission operators read the
// flattened member-role list from the execution context.
package condition

import (
	"regexp"
	"strings"

	"github.com/TapestryLabs/tapestry/services/flow"
	"github.com/TapestryLabs/tapestry/services/flow/expr"
)

// Operator names accepted by Evaluate.
const (
	OpEquals        = "equals"
	OpNotEquals     = "notEquals"
	OpContains      = "contains"
	OpStartsWith    = "startsWith"
	OpEndsWith      = "endsWith"
	OpGreaterThan   = "gt"
	OpLessThan      = "lt"
	OpIn            = "in"
	OpHasRole       = "hasRole"
	OpHasPermission = "hasPermission"
)

// GroupOp joins the rules of a Group.
type GroupOp string

const (
	GroupAnd GroupOp = "AND"
	GroupOr  GroupOp = "OR"
)

// Rule is a single left/operator/right comparison. Left and Right are
// expressions resolved against the run context before comparison.
type Rule struct {
	Left     string `json:"left"`
	Operator string `json:"operator"`
	Right    string `json:"right"`
}

// Group is a nested rule tree. Each entry is either a Rule or a child
// Group. An empty rule list evaluates to true: a branch with no
// configured conditions is vacuously satisfied, which keeps a
// half-edited graph runnable (default-allow, documented behavior).
type Group struct {
	Op     GroupOp `json:"op"`
	Rules  []Rule  `json:"rules,omitempty"`
	Groups []Group `json:"groups,omitempty"`
}

// mentionPattern matches user (<@1>, <@!1>), role (<@&1>) and channel
// (<#1>) mentions.
var mentionPattern = regexp.MustCompile(`^<(?:@!?|@&|#)(\d+)>$`)

// Evaluate resolves both operands against the context and applies the
// operator. Unknown operators evaluate to false.
func Evaluate(left, operator, right string, ctx *flow.Context) bool {
	lv := resolveOperand(left, ctx)
	rv := resolveOperand(right, ctx)
	ls := normalizeMention(expr.Stringify(lv))
	rs := normalizeMention(expr.Stringify(rv))

	switch operator {
	case OpEquals:
		return ls == rs
	case OpNotEquals:
		return ls != rs
	case OpContains:
		return strings.Contains(ls, rs)
	case OpStartsWith:
		return strings.HasPrefix(ls, rs)
	case OpEndsWith:
		return strings.HasSuffix(ls, rs)
	case OpGreaterThan:
		return expr.ToNumber(lv) > expr.ToNumber(rv)
	case OpLessThan:
		return expr.ToNumber(lv) < expr.ToNumber(rv)
	case OpIn:
		for _, candidate := range splitList(rs) {
			if ls == normalizeMention(candidate) {
				return true
			}
		}
		return false
	case OpHasRole:
		return hasRole(ctx, ls, rs)
	case OpHasPermission:
		return hasPermission(ctx, ls, rs)
	default:
		return false
	}
}

// EvaluateGroup recurses over the rule tree. AND short-circuits on the
// first false, OR on the first true.
func EvaluateGroup(g Group, ctx *flow.Context) bool {
	if len(g.Rules) == 0 && len(g.Groups) == 0 {
		return true
	}

	and := g.Op != GroupOr
	for _, rule := range g.Rules {
		ok := Evaluate(rule.Left, rule.Operator, rule.Right, ctx)
		if and && !ok {
			return false
		}
		if !and && ok {
			return true
		}
	}
	for _, child := range g.Groups {
		ok := EvaluateGroup(child, ctx)
		if and && !ok {
			return false
		}
		if !and && ok {
			return true
		}
	}
	return and
}

// resolveOperand gives operands expression semantics without making
// plain text disappear: an operand that resolves (path, literal,
// function) uses the resolved value; anything unresolvable is rendered
// as a template, which leaves non-template text untouched. "Admin" and
// "<@123>" therefore survive verbatim while "vars.score" and
// "{{user.id}}" resolve.
func resolveOperand(s string, ctx *flow.Context) any {
	switch strings.TrimSpace(s) {
	case "null", "undefined":
		return nil
	}
	if v := expr.Resolve(s, ctx); v != nil {
		return v
	}
	return expr.Render(s, ctx)
}

// hasRole checks the member-role list against a comma-separated
// candidate list. Matching is case-insensitive and mention-aware on
// both sides; the left operand participates as an extra candidate so
// `<@&9> hasRole "9"` holds.
func hasRole(ctx *flow.Context, left, right string) bool {
	candidates := splitList(right)
	if left != "" {
		candidates = append(candidates, left)
	}
	for _, candidate := range candidates {
		want := strings.ToLower(normalizeMention(strings.TrimSpace(candidate)))
		if want == "" {
			continue
		}
		for _, role := range ctx.MemberRoles {
			if strings.ToLower(normalizeMention(role)) == want {
				return true
			}
		}
	}
	return false
}

// hasPermission matches permission-flag names from the member-role
// list, additionally stripping whitespace and underscores so
// "Manage Messages", "MANAGE_MESSAGES" and "managemessages" compare
// equal.
func hasPermission(ctx *flow.Context, left, right string) bool {
	want := canonicalPermission(right)
	if want == "" {
		want = canonicalPermission(left)
	}
	if want == "" {
		return false
	}
	for _, role := range ctx.MemberRoles {
		if canonicalPermission(role) == want {
			return true
		}
	}
	return false
}

func canonicalPermission(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.Join(strings.Fields(s), "")
}

// normalizeMention reduces a mention-shaped token to its bare id.
func normalizeMention(s string) string {
	trimmed := strings.TrimSpace(s)
	if m := mentionPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return s
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
