// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/TapestryLabs/tapestry/services/flow"
)

// BuiltinNames lists every function the language accepts. The validator
// uses this to warn about calls that would silently render blank.
func BuiltinNames() []string {
	return []string{"upper", "lower", "toNumber", "random", "now", "format", "json.path", "jsonPath"}
}

// IsBuiltin reports whether name is part of the closed function set.
func IsBuiltin(name string) bool {
	for _, b := range BuiltinNames() {
		if b == name {
			return true
		}
	}
	return false
}

// callFunction dispatches a builtin. Unknown names resolve to nil per
// the fail-open contract.
func callFunction(name string, args []string, ctx *flow.Context) any {
	resolved := make([]any, len(args))
	for i, a := range args {
		resolved[i] = Resolve(a, ctx)
	}

	switch name {
	case "upper":
		return strings.ToUpper(Stringify(argAt(resolved, 0)))
	case "lower":
		return strings.ToLower(Stringify(argAt(resolved, 0)))
	case "toNumber":
		return ToNumber(argAt(resolved, 0))
	case "random":
		return randomBetween(argAt(resolved, 0), argAt(resolved, 1))
	case "now":
		return time.Now().UTC().Format(time.RFC3339)
	case "format":
		return formatDate(argAt(resolved, 0))
	case "json.path", "jsonPath":
		if len(resolved) < 2 {
			return nil
		}
		return jsonPath(resolved[0], Stringify(resolved[1]))
	default:
		return nil
	}
}

func argAt(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return nil
	}
	return args[i]
}

// ToNumber coerces a value to float64, returning 0 when no numeric
// interpretation exists.
func ToNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func randomBetween(minV, maxV any) any {
	lo := int(ToNumber(minV))
	hi := int(ToNumber(maxV))
	if hi < lo {
		lo, hi = hi, lo
	}
	return float64(lo + rand.Intn(hi-lo+1))
}

// formatDate renders a date value in a human form. Accepts RFC3339
// strings and epoch milliseconds; anything else formats the current time.
func formatDate(v any) string {
	t := time.Now().UTC()
	switch d := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, d); err == nil {
			t = parsed
		}
	case float64:
		if d > 0 {
			t = time.UnixMilli(int64(d)).UTC()
		}
	}
	return t.Format("2006-01-02 15:04:05")
}

// jsonPath resolves a dotted path inside an object or a JSON-encoded
// string.
func jsonPath(obj any, path string) any {
	if s, ok := obj.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
		obj = decoded
	}
	return ResolvePath(obj, path)
}

// Stringify renders a resolved value the way templates expect: nil is
// empty, whole-valued floats drop the fraction, everything else falls
// back to JSON encoding.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
