package adapter

import (
	"strings"
	"testing"

	"claude-gateway/types"
)

func simRequest() *types.MessagesRequest {
	return &types.MessagesRequest{
		Model: "foo-xml-tools",
		Tools: []types.Tool{
			{
				Name:        "get_weather",
				Description: "Look up current weather",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"city": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		Messages: []types.Message{
			{Role: "user", Content: "weather in Paris?"},
			{Role: "assistant", Content: []types.Content{
				{Type: "tool_use", ID: "tu_1", Name: "get_weather", Input: map[string]interface{}{"city": "Paris"}},
			}},
		},
	}
}

func TestToolSimulationWithholdsNativeTools(t *testing.T) {
	adapter := &ToolSimulationAdapter{Mode: SimXML}
	req := simRequest()

	if tools := adapter.AdaptTools(req.Tools, req); tools != nil {
		t.Errorf("native tools must be withheld, got %d", len(tools))
	}
	choice := &types.ToolChoice{Type: "auto"}
	if got := adapter.AdaptToolChoice(choice, req); got != nil {
		t.Errorf("tool_choice must be withheld, got %+v", got)
	}
}

func TestToolSimulationStripsModelSuffix(t *testing.T) {
	adapter := &ToolSimulationAdapter{Mode: SimXML}
	req := simRequest()
	if got := adapter.AdaptModel("foo-xml-tools", req); got != "foo" {
		t.Errorf("suffix must be stripped, got %q", got)
	}
}

func TestToolSimulationInjectsCatalog(t *testing.T) {
	for _, mode := range []string{SimXML, SimBracket} {
		adapter := &ToolSimulationAdapter{Mode: mode}
		req := simRequest()
		got := adapter.AdaptSystemPrompt("base prompt", req)
		if !strings.Contains(got, "get_weather") {
			t.Errorf("mode %s: tool catalog must be injected, got %q", mode, got)
		}
		if !strings.HasSuffix(got, "base prompt") {
			t.Errorf("mode %s: original system prompt must be preserved at the end", mode)
		}
	}
}

func TestToolSimulationNoToolsNoInjection(t *testing.T) {
	adapter := &ToolSimulationAdapter{Mode: SimXML}
	req := simRequest()
	req.Tools = nil
	if got := adapter.AdaptSystemPrompt("base", req); got != "base" {
		t.Errorf("without tools the prompt must pass through, got %q", got)
	}
}

func TestToolSimulationFoldsAssistantCallsXML(t *testing.T) {
	adapter := &ToolSimulationAdapter{Mode: SimXML}
	req := simRequest()

	messages := []types.ChatMessage{
		{Role: "assistant", Content: "Checking.", ToolCalls: []types.ChatToolCall{
			{ID: "tu_1", Type: "function", Function: types.ChatFunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}},
		}},
		{Role: "tool", ToolCallID: "tu_1", Content: "sunny"},
	}
	folded := adapter.AdaptMessages(messages, req)

	if len(folded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(folded))
	}
	assistant, _ := folded[0].TextContent()
	if folded[0].ToolCalls != nil {
		t.Error("tool_calls must be folded into text")
	}
	if !strings.Contains(assistant, "<get_weather>") || !strings.Contains(assistant, "<city>Paris</city>") {
		t.Errorf("assistant call must be folded into XML form, got %q", assistant)
	}
	if folded[1].Role != "user" {
		t.Errorf("tool message must become a user turn, got role %q", folded[1].Role)
	}
	result, _ := folded[1].TextContent()
	if !strings.Contains(result, `name="get_weather"`) || !strings.Contains(result, "sunny") {
		t.Errorf("result text must carry tool name and payload, got %q", result)
	}
}

func TestToolSimulationFoldsAssistantCallsBracket(t *testing.T) {
	adapter := &ToolSimulationAdapter{Mode: SimBracket}
	req := simRequest()

	messages := []types.ChatMessage{
		{Role: "assistant", ToolCalls: []types.ChatToolCall{
			{ID: "tu_1", Type: "function", Function: types.ChatFunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}},
		}},
		{Role: "tool", ToolCallID: "tu_1", Content: "sunny"},
	}
	folded := adapter.AdaptMessages(messages, req)

	assistant, _ := folded[0].TextContent()
	if !strings.Contains(assistant, "[[tool: get_weather]]") || !strings.Contains(assistant, "city: Paris") {
		t.Errorf("assistant call must be folded into bracket form, got %q", assistant)
	}
	result, _ := folded[1].TextContent()
	if !strings.Contains(result, "[[tool_result: get_weather]]") || !strings.Contains(result, "sunny") {
		t.Errorf("result text must carry tool name and payload, got %q", result)
	}
}
