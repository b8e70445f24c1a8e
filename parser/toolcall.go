// Package parser recognizes textual tool-call protocols in model output.
// Models addressed with a simulated-tool model suffix receive no native
// tool definitions; instead they are prompted to emit calls as XML- or
// bracket-tagged prose, and this package parses those calls back out of
// the text, both on complete responses and incrementally on streams.
package parser

import (
	"encoding/json"
	"strings"
)

// ToolCall is one recognized call: the tool name and its decoded input.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Scanner is the streaming recognizer interface shared by both formats.
// Feed consumes a text delta and returns the prefix that is safe to show
// the client (it can no longer be part of a call) plus any calls completed
// by this delta. Finalize flushes at end of stream.
type Scanner interface {
	Feed(text string) (string, []ToolCall)
	Finalize() (string, []ToolCall)
}

// isIdent reports whether s is a plausible tool or parameter name. Keeps
// ordinary markup like <br> or comparison text from being mistaken for a
// call boundary.
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// looksLikeJSON reports whether a raw parameter value should be attempted
// as a JSON literal rather than taken as a plain string.
func looksLikeJSON(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[', '"':
		return true
	}
	if trimmed == "true" || trimmed == "false" || trimmed == "null" {
		return true
	}
	var number json.Number
	return json.Unmarshal([]byte(trimmed), &number) == nil
}

// stripJSONFence removes a ```json ... ``` markdown fence around a value,
// returning the inner payload and whether a fence was present.
func stripJSONFence(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "```json") {
		return value, false
	}
	inner := strings.TrimLeft(trimmed[len("```json"):], " \t\r\n")
	if idx := strings.LastIndex(inner, "```"); idx >= 0 {
		inner = inner[:idx]
	}
	return strings.TrimRight(inner, " \t\r\n"), true
}

// parseValue decodes one parameter value. JSON-looking payloads (and
// anything inside a ```json fence) are decoded as JSON; everything else is
// the literal string. Models quote scalar strings inconsistently, so a
// failed JSON decode falls back to the raw text rather than erroring.
func parseValue(raw string) interface{} {
	value := strings.TrimSpace(raw)
	if inner, fenced := stripJSONFence(value); fenced {
		var decoded interface{}
		if err := json.Unmarshal([]byte(inner), &decoded); err == nil {
			return decoded
		}
		return inner
	}
	if looksLikeJSON(value) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
	}
	return value
}

// holdbackFrom returns the index from which the tail of buffer must be
// withheld because it could still grow into one of the sentinels. Text
// before that index can never become part of a call and is safe to emit.
func holdbackFrom(buffer string, sentinels []string) int {
	maxLen := 0
	for _, sentinel := range sentinels {
		if len(sentinel) > maxLen {
			maxLen = len(sentinel)
		}
	}
	start := len(buffer) - maxLen
	if start < 0 {
		start = 0
	}
	for i := start; i < len(buffer); i++ {
		tail := buffer[i:]
		for _, sentinel := range sentinels {
			if len(tail) < len(sentinel) && strings.HasPrefix(sentinel, tail) {
				return i
			}
		}
	}
	return len(buffer)
}
