package provider

import (
	"encoding/json"
	"strings"
)

// repairArguments coerces a model-emitted argument payload into a parseable
// JSON object. Models occasionally truncate or mangle the payload; each
// step fixes one common failure, and anything still unparseable falls back
// to the empty object so a tool call never aborts the turn.
func repairArguments(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}"
	}
	if json.Valid([]byte(raw)) && strings.HasPrefix(raw, "{") {
		return raw
	}

	fixed := stripTrailingCommas(raw)
	if !strings.HasPrefix(fixed, "{") {
		fixed = "{" + fixed
	}
	fixed = balanceBraces(fixed)
	if json.Valid([]byte(fixed)) {
		return fixed
	}
	return "{}"
}

// stripTrailingCommas removes commas left dangling before a closing brace
// or bracket, and at the very end of a truncated payload.
func stripTrailingCommas(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ",") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ","))
	}
	s = strings.ReplaceAll(s, ",}", "}")
	s = strings.ReplaceAll(s, ", }", "}")
	s = strings.ReplaceAll(s, ",]", "]")
	s = strings.ReplaceAll(s, ", ]", "]")
	return s
}

// balanceBraces appends the closing braces a truncated object is missing.
// Braces inside string literals are ignored.
func balanceBraces(s string) string {
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
		}
	}
	for ; depth > 0; depth-- {
		s += "}"
	}
	return s
}
