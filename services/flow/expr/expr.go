// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package expr implements the embedded expression and template language.
//
// # Description
//
// Expressions appear inside node data fields as {{expr}} tokens or as
// single-brace shortcuts ({user}, {channel}, {server}). An expression is
// one of: a literal (boolean, null, quoted string, number), a call into
// the closed builtin function set, or a dotted path resolved against the
// fixed context namespaces (user, guild, channel, options, vars,
// variables, memberRoles).
//
// # Fail-open contract
//
// An unresolvable path or unknown function never aborts a run; it
// resolves to nil and renders as the empty string. The graph validator
// flags such templates as warnings before publish, so at runtime blank
// output is the worst case.
//
// # Numeric identifiers
//
// Digit-only strings of fifteen or more characters are deliberately NOT
// coerced to numbers. Platform snowflake ids overflow the float64 safe
// integer range and must survive template substitution byte for byte.
package expr

import (
	"strconv"
	"strings"

	"github.com/TapestryLabs/tapestry/services/flow"
)

// snowflakeMinDigits is the length at which a digit-only literal is kept
// as a string instead of being parsed as a number.
const snowflakeMinDigits = 15

// Resolve evaluates a single expression against the context.
//
// Literal parsing order: keyword literals, quoted strings, numerics,
// then function calls, then path resolution. Returns nil when the
// expression cannot be resolved.
func Resolve(expression string, ctx *flow.Context) any {
	s := strings.TrimSpace(expression)
	if s == "" {
		return nil
	}

	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null", "undefined":
		return nil
	}

	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}

	if n, ok := parseNumber(s); ok {
		return n
	}
	if isLongDigitString(s) {
		// Snowflake-length ids stay verbatim strings.
		return s
	}

	if name, args, ok := splitCall(s); ok {
		return callFunction(name, args, ctx)
	}

	return ResolvePath(ctx.Namespaces(), s)
}

// ResolvePath performs a null-propagating nested lookup of a dotted path
// against a map-shaped root. A missing segment at any depth yields nil.
func ResolvePath(root any, path string) any {
	current := root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// parseNumber parses a numeric literal, refusing digit-only strings long
// enough to be snowflake ids.
func parseNumber(s string) (float64, bool) {
	if s == "" || isLongDigitString(s) {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isLongDigitString(s string) bool {
	if len(s) < snowflakeMinDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitCall recognizes a "name(arg, arg)" shape. It does not recurse:
// the function set is closed and all builtins take literal or path
// arguments, so a single level is sufficient.
func splitCall(s string) (name string, args []string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	name = strings.TrimSpace(s[:open])
	for _, r := range name {
		if r != '.' && r != '_' && !isAlphaNum(r) {
			return "", nil, false
		}
	}
	inner := s[open+1 : len(s)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, true
	}
	args = splitArgs(inner)
	return name, args, true
}

// splitArgs splits on commas that are not inside quotes.
func splitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quote   rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	args = append(args, strings.TrimSpace(current.String()))
	return args
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
