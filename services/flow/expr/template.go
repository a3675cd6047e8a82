// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"regexp"
	"strings"

	"github.com/TapestryLabs/tapestry/services/flow"
)

var (
	// {{ any expression }}
	doubleBracePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

	// {shortcut} or {dotted.path} — single braces, no spaces, must not
	// be part of a double-brace token (those are substituted first).
	singleBracePattern = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_.]*)\}`)
)

// AllowedRoots lists the context namespaces a path expression may start
// from. Shared with the validator.
func AllowedRoots() []string {
	return []string{"user", "guild", "channel", "options", "vars", "variables", "memberRoles"}
}

// IsAllowedRoot reports whether root names a known context namespace.
func IsAllowedRoot(root string) bool {
	for _, r := range AllowedRoots() {
		if r == root {
			return true
		}
	}
	return false
}

// Render substitutes every template token in text against the context.
//
// Two token forms are recognized, in order: {{expr}} full expressions
// and single-brace shortcuts. Shortcuts are checked against the fixed
// shortcut table first ({user} is the invoker's mention, {server} the
// guild name) and fall back to path resolution for dotted tokens, so
// {user.id} works without a shortcut entry.
func Render(text string, ctx *flow.Context) string {
	if text == "" || !strings.ContainsRune(text, '{') {
		return text
	}

	out := doubleBracePattern.ReplaceAllStringFunc(text, func(token string) string {
		inner := doubleBracePattern.FindStringSubmatch(token)[1]
		return Stringify(Resolve(inner, ctx))
	})

	out = singleBracePattern.ReplaceAllStringFunc(out, func(token string) string {
		inner := singleBracePattern.FindStringSubmatch(token)[1]
		if v, ok := resolveShortcut(inner, ctx); ok {
			return v
		}
		if strings.ContainsRune(inner, '.') {
			return Stringify(ResolvePath(ctx.Namespaces(), inner))
		}
		// Unknown bare shortcut: leave the token untouched so literal
		// braces in user content survive rendering.
		return token
	})

	return out
}

// resolveShortcut maps the fixed single-brace shortcuts.
func resolveShortcut(name string, ctx *flow.Context) (string, bool) {
	switch name {
	case "user", "mention":
		return "<@" + ctx.User.ID + ">", true
	case "username":
		return ctx.User.DisplayName, true
	case "channel":
		if ctx.Channel == nil {
			return "", true
		}
		return "<#" + ctx.Channel.ID + ">", true
	case "server", "guild":
		if ctx.Guild == nil {
			return "", true
		}
		return ctx.Guild.Name, true
	default:
		return "", false
	}
}

// Tokens returns the raw inner expressions of every {{expr}} token in
// text. The validator scans these for unknown roots and functions.
func Tokens(text string) []string {
	matches := doubleBracePattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Check classifies a single expression the way Resolve would, reporting
// whether it references an unknown function or a disallowed root.
// Literals always pass.
func Check(expression string) (ok bool, detail string) {
	s := strings.TrimSpace(expression)
	switch s {
	case "", "true", "false", "null", "undefined":
		return true, ""
	}
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return true, ""
	}
	if _, isNum := parseNumber(s); isNum {
		return true, ""
	}
	if isLongDigitString(s) {
		return true, ""
	}
	if name, args, isCall := splitCall(s); isCall {
		if !IsBuiltin(name) {
			return false, "unknown function " + name
		}
		for _, a := range args {
			if argOK, argDetail := Check(a); !argOK {
				return false, argDetail
			}
		}
		return true, ""
	}
	root := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		root = s[:i]
	}
	if !IsAllowedRoot(root) {
		return false, "unknown context root " + root
	}
	return true, ""
}
