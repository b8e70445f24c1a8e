package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"claude-gateway/types"
)

// xmlToolsPrompt teaches the model the XML simulated-tool syntax. The
// {{TOOLS}} placeholder receives the JSONSchema catalog of the request's
// tools.
const xmlToolsPrompt = `In this environment you have access to a set of tools you can use to answer the user's question. Invoke a tool by writing an element named after the tool, with one child element per parameter, as part of your reply:

<formatting_guide>
<function_calls>
<get_weather><city>Paris</city></get_weather>
</function_calls>
</formatting_guide>

Parameter Formatting Rules:
1. **Scalar values**: for strings, numbers, or booleans, write the value directly between the parameter tags.
2. **JSON values**: for multi-line strings, objects, or arrays, wrap the JSON payload in a markdown code block with a json tag.

You can invoke multiple tools in parallel by writing several tool elements inside the same <function_calls> wrapper. The wrapper element is optional but recommended.

**Simple parameters:**
<example>
<function_calls>
<Read><file_path>/home/user/config.yaml</file_path></Read>
<GetSystemInfo><include_env>true</include_env><verbose>true</verbose></GetSystemInfo>
</function_calls>
</example>

**JSON array:**
<example>
<function_calls>
<TodoWrite><todos>
` + "```json" + `
[{"id":"123","content":"Review PR #456","status":"pending","priority":"high"}]
` + "```" + `
</todos></TodoWrite>
</function_calls>
</example>

When you call tools, place the calls at the end of your response and do not generate any text after the final closing tag.

Here are the tools available in JSONSchema format:
<functions>
{{TOOLS}}
</functions>`

// bracketToolsPrompt teaches the model the bracket simulated-tool syntax.
const bracketToolsPrompt = `You have access to a set of tools to answer questions and complete tasks. Invoke them at the end of your response using this line-oriented format:

<formatting_guide>
[[tool: ToolName]]
parameter: value
another_parameter: value123
[[/tool]]
</formatting_guide>

* **Rules:**
  * Each call starts with a "[[tool: Name]]" line and ends with a "[[/tool]]" line
  * The body is one "key: value" line per parameter, OR a single JSON object
  * Arrays and objects are written as JSON on the value side
  * Numbers and booleans are written bare (42, true, false); everything else is taken as a string
  * Never rely on internal knowledge, even for known information. Always use tools to verify.
  * Tool calls always follow the EXACT syntax shown in the examples below. Any other format is invalid and must not be generated

**Examples:**

**Reading multiple files:**
<example>
[[tool: Read]]
file_path: /home/user/project/config.yaml
[[/tool]]
[[tool: Read]]
file_path: /home/user/project/data.csv
[[/tool]]
</example>

**Writing todos with complex data:**
<example>
[[tool: TodoWrite]]
todos: [{"id": "1", "content": "Review PR", "status": "pending"}]
[[/tool]]
</example>

**JSON object body:**
<example>
[[tool: Edit]]
{"file_path": "/config.json", "old_string": "a", "new_string": "b"}
[[/tool]]
</example>

**Available Tools:**
{{TOOLS}}`

// ToolSimulationAdapter converts a tools-capable request into the textual
// protocol: native tool definitions are withheld from the upstream, the
// format prompt with the tool catalog is prepended to the system prompt,
// and historical tool traffic is folded back into plain text so the model
// sees a self-consistent transcript.
type ToolSimulationAdapter struct {
	Base
	Mode string
}

func (a *ToolSimulationAdapter) AdaptModel(model string, _ *types.MessagesRequest) string {
	return StripSimulatedToolSuffix(model)
}

func (a *ToolSimulationAdapter) AdaptTools(_ []types.Tool, _ *types.MessagesRequest) []types.Tool {
	return nil
}

func (a *ToolSimulationAdapter) AdaptToolChoice(_ *types.ToolChoice, _ *types.MessagesRequest) *types.ToolChoice {
	return nil
}

func (a *ToolSimulationAdapter) AdaptSystemPrompt(prompt string, req *types.MessagesRequest) string {
	if len(req.Tools) == 0 {
		return prompt
	}
	var entries []string
	for _, tool := range req.Tools {
		entries = append(entries, a.formatToolEntry(tool))
	}
	template := xmlToolsPrompt
	if a.Mode == SimBracket {
		template = bracketToolsPrompt
	}
	catalog := strings.Replace(template, "{{TOOLS}}", strings.Join(entries, "\n\n"), 1)
	if prompt == "" {
		return catalog
	}
	return catalog + "\n\n" + prompt
}

func (a *ToolSimulationAdapter) formatToolEntry(tool types.Tool) string {
	schema, err := json.MarshalIndent(tool.InputSchema, "", "  ")
	if err != nil {
		schema = []byte("{}")
	}
	if a.Mode == SimXML {
		entry := map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.InputSchema,
		}
		pretty, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			pretty = []byte("{}")
		}
		return fmt.Sprintf("<function>\n%s\n</function>", pretty)
	}
	description := tool.Description
	if description == "" {
		description = "No description provided."
	}
	return fmt.Sprintf("**Tool Name:** `%s`\n\n**Tool Description:** %s\n\n**Tool Schema:**\n\n```json\n%s\n```", tool.Name, description, schema)
}

// AdaptMessages rewrites the already-converted OpenAI messages: assistant
// tool_calls become protocol text on the assistant turn, and tool-role
// messages become user turns carrying the result in protocol form.
func (a *ToolSimulationAdapter) AdaptMessages(messages []types.ChatMessage, req *types.MessagesRequest) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			out = append(out, a.foldAssistantCalls(msg))
		case msg.Role == "tool":
			out = append(out, a.foldToolResult(msg, req))
		default:
			out = append(out, msg)
		}
	}
	return out
}

func (a *ToolSimulationAdapter) foldAssistantCalls(msg types.ChatMessage) types.ChatMessage {
	var calls []string
	for _, call := range msg.ToolCalls {
		calls = append(calls, a.formatCall(call))
	}
	formatted := strings.Join(calls, "\n")
	if a.Mode == SimXML {
		formatted = "<function_calls>\n" + formatted + "\n</function_calls>"
	}

	content := formatted
	if existing, ok := msg.TextContent(); ok && strings.TrimSpace(existing) != "" {
		content = existing + "\n\n" + formatted
	}
	return types.ChatMessage{Role: "assistant", Content: content}
}

func (a *ToolSimulationAdapter) formatCall(call types.ChatToolCall) string {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		args = map[string]interface{}{}
	}
	if a.Mode == SimXML {
		var params strings.Builder
		for key, value := range args {
			params.WriteString(fmt.Sprintf("<%s>%s</%s>", key, formatParamValue(value), key))
		}
		return fmt.Sprintf("<%s>%s</%s>", call.Function.Name, params.String(), call.Function.Name)
	}
	var body strings.Builder
	for key, value := range args {
		body.WriteString(fmt.Sprintf("%s: %s\n", key, formatParamValue(value)))
	}
	return fmt.Sprintf("[[tool: %s]]\n%s[[/tool]]", call.Function.Name, body.String())
}

func formatParamValue(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (a *ToolSimulationAdapter) foldToolResult(msg types.ChatMessage, req *types.MessagesRequest) types.ChatMessage {
	name := req.FindToolNameByID(msg.ToolCallID)
	text, _ := msg.TextContent()
	var content string
	if a.Mode == SimXML {
		content = fmt.Sprintf("<function_results>\n<result name=%q>%s</result>\n</function_results>", name, text)
	} else {
		content = fmt.Sprintf("[[tool_result: %s]]\n%s\n[[/tool_result]]", name, text)
	}
	return types.ChatMessage{Role: "user", Content: content}
}
