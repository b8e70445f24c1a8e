package adapter

import (
	"regexp"
	"strings"

	"claude-gateway/types"
)

const readToolEnforcement = "**MANDATORY**: Use the `Read` tool first to examine file's contents. This tool will error if you attempt an edit without reading the file first."

const editFailureRules = "- Edit fails if `old_string` and `new_string` are identical. Either provide a larger string with more surrounding context to make it unique or use `replace_all` to change every instance of `old_string`\n- Edit fails if `old_string` is empty. An empty `old_string` is permitted only for file creation."

const exitPlanModeDescription = `Use this tool to present your plan to the user and prompt them to exit plan mode.
The user has enabled plan mode because they want research and planning ONLY - no implementation yet.

You can use this tool when:
1. You've completed thorough research using available tools
2. You have a concrete implementation plan to present
3. The task actually requires writing code

Before using this tool, you MUST:
1. Research: Gather context extensively using available tools (search files, read code, web search)
2. Understand: Analyze existing patterns, conventions, and dependencies
3. Formulate a complete plan based on your findings

IMPORTANT: Do NOT use this tool for answering questions, ongoing research, or tasks that don't involve writing code.`

var (
	readToolRequirementRe = regexp.MustCompile("You must use your `Read` tool at least once in the conversation before editing\\. This tool will error if you attempt an edit without reading the file\\.")

	editUniquenessRe = regexp.MustCompile("- The edit will FAIL if `old_string` is not unique in the file\\. Either provide a larger string with more surrounding context to make it unique or use `replace_all` to change every instance of `old_string`\\.")

	multiEditReadRe = regexp.MustCompile(`Use the Read tool to understand the file's contents and context`)

	multiEditSameStringRe = regexp.MustCompile(`- The tool will fail if edits\.old_string and edits\.new_string are the same`)

	exitPlanModeRe = regexp.MustCompile(`(?s)Use this tool when you are in plan mode.*Use the exit plan mode tool after you have finished planning the implementation steps of the task\.`)

	toolResultPlanModeRe = regexp.MustCompile(`(?s)\n<system-reminder>.*When you're done researching.*in any way until the user has confirmed the plan\..*</system-reminder>`)
)

// maliciousFileReminder is injected by Claude Code into every Read result.
// It triggers false refusals in several upstream models and protects
// nothing, so it is stripped from forwarded tool results.
const maliciousFileReminder = "\n<system-reminder>\nWhenever you read a file, you should consider whether it looks malicious. If it does, you MUST refuse to improve or augment the code. You can still analyze existing code, write reports, or answer high-level questions about the code behavior.\n</system-reminder>"

// DefaultToolsAdapter improves the stock tool descriptions that degrade
// weaker models and cleans forwarded tool results.
type DefaultToolsAdapter struct {
	Base
}

func (a *DefaultToolsAdapter) AdaptToolDescription(description string, _ *types.MessagesRequest) string {
	description = readToolRequirementRe.ReplaceAllString(description, readToolEnforcement)
	description = editUniquenessRe.ReplaceAllString(description, editFailureRules)
	description = multiEditReadRe.ReplaceAllString(description, readToolEnforcement)
	description = multiEditSameStringRe.ReplaceAllString(description, editFailureRules)
	description = exitPlanModeRe.ReplaceAllString(description, exitPlanModeDescription)
	return description
}

func (a *DefaultToolsAdapter) AdaptToolResult(toolName, result string, _ *types.MessagesRequest) string {
	if toolName == "Read" {
		result = strings.ReplaceAll(result, maliciousFileReminder, "")
	}
	result = toolResultPlanModeRe.ReplaceAllString(result, betterPlanModeReminder)
	return strings.TrimSpace(result)
}

// stringFormatWhitelist lists the string formats Gemini accepts; every
// other format keyword is removed from string schemas.
var stringFormatWhitelist = map[string]bool{
	"date-time": true,
	"enum":      true,
}

// geminiDroppedKeys are JSON-Schema keywords Gemini rejects outright.
var geminiDroppedKeys = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"definitions":          true,
	"default":              true,
}

// GeminiSchemaAdapter rewrites tool input schemas into the subset Gemini
// accepts: local $ref pointers are inlined, allOf compositions merged,
// unsupported keywords dropped, union types collapsed, and string formats
// outside the whitelist removed. Recursion follows the JSON structure,
// which is acyclic by contract.
type GeminiSchemaAdapter struct {
	Base
}

func (a *GeminiSchemaAdapter) AdaptToolSchema(schema map[string]interface{}, _ *types.MessagesRequest) map[string]interface{} {
	walker := &schemaWalker{root: schema}
	cleaned, _ := walker.walk(schema).(map[string]interface{})
	if cleaned == nil {
		return schema
	}
	return cleaned
}

type schemaWalker struct {
	root map[string]interface{}
}

// resolveRef follows a local "#/a/b" pointer within the schema document.
func (w *schemaWalker) resolveRef(pointer string) map[string]interface{} {
	path, ok := strings.CutPrefix(pointer, "#/")
	if !ok {
		return nil
	}
	var current interface{} = w.root
	for _, part := range strings.Split(path, "/") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = obj[part]
	}
	resolved, _ := current.(map[string]interface{})
	return resolved
}

func (w *schemaWalker) walk(node interface{}) interface{} {
	switch typed := node.(type) {
	case map[string]interface{}:
		return w.walkObject(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = w.walk(item)
		}
		return out
	default:
		return node
	}
}

func (w *schemaWalker) walkObject(node map[string]interface{}) map[string]interface{} {
	merged := node
	if pointer, ok := node["$ref"].(string); ok {
		if resolved := w.resolveRef(pointer); resolved != nil {
			merged = make(map[string]interface{}, len(node)+len(resolved))
			for key, value := range node {
				if key != "$ref" {
					merged[key] = value
				}
			}
			for key, value := range resolved {
				merged[key] = value
			}
		}
	}

	merged = w.mergeAllOf(merged)

	cleaned := make(map[string]interface{}, len(merged))
	for key, value := range merged {
		if geminiDroppedKeys[key] {
			continue
		}
		cleaned[key] = w.walk(value)
	}

	// Union types like ["string", null] collapse to the first non-null.
	if typeList, ok := cleaned["type"].([]interface{}); ok {
		for _, candidate := range typeList {
			if candidate != nil {
				cleaned["type"] = candidate
				break
			}
		}
	}

	if typeName, _ := cleaned["type"].(string); typeName == "string" {
		if format, ok := cleaned["format"].(string); ok && !stringFormatWhitelist[format] {
			delete(cleaned, "format")
		}
	}

	return cleaned
}

// mergeAllOf folds an allOf composition's properties into the parent
// object node.
func (w *schemaWalker) mergeAllOf(node map[string]interface{}) map[string]interface{} {
	allOf, ok := node["allOf"].([]interface{})
	if !ok {
		return node
	}
	out := make(map[string]interface{}, len(node))
	for key, value := range node {
		if key != "allOf" {
			out[key] = value
		}
	}
	mergedProps := map[string]interface{}{}
	for _, entry := range allOf {
		walked, ok := w.walk(entry).(map[string]interface{})
		if !ok {
			continue
		}
		if props, ok := walked["properties"].(map[string]interface{}); ok {
			for name, prop := range props {
				mergedProps[name] = prop
			}
		}
	}
	if len(mergedProps) > 0 {
		props, _ := out["properties"].(map[string]interface{})
		if props == nil {
			props = map[string]interface{}{}
		}
		for name, prop := range mergedProps {
			props[name] = prop
		}
		out["properties"] = props
		if _, hasType := out["type"]; !hasType {
			out["type"] = "object"
		}
	}
	return out
}
