package proxy

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"claude-gateway/directive"
	"claude-gateway/types"
)

// The Responses API path: selected per request by a directive
// (responses.enable), it swaps the endpoint suffix to /responses, reshapes
// the outgoing body, and normalizes both response dialects back into
// Chat-Completions-shaped structures so the rest of the gateway stays
// single-dialect.

// buildResponsesBody converts the prepared Chat request into a Responses
// API body.
func buildResponsesBody(chatReq *types.ChatRequest, settings *directive.ResponsesSettings) ([]byte, error) {
	var instructions []string
	for _, msg := range chatReq.Messages {
		if msg.Role != "system" {
			continue
		}
		if text, ok := msg.TextContent(); ok && text != "" {
			instructions = append(instructions, text)
		}
	}

	// Providers namespace models as "provider.model"; the Responses
	// endpoint wants the bare model id.
	model := chatReq.Model
	if _, bare, found := strings.Cut(model, "."); found {
		model = bare
	}

	body := []byte(`{}`)
	var err error
	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("model", model)
	set("input", mapMessagesToInput(chatReq.Messages))
	set("stream", chatReq.Stream)
	set("store", false)
	if len(instructions) > 0 {
		set("instructions", strings.Join(instructions, "\n"))
	}

	summary := "auto"
	if settings.ReasoningSummary != "" {
		summary = settings.ReasoningSummary
	}
	set("reasoning.summary", summary)
	if chatReq.ReasoningEffort != "" {
		set("reasoning.effort", chatReq.ReasoningEffort)
	}

	if chatReq.Temperature != nil {
		set("temperature", *chatReq.Temperature)
	}
	if chatReq.TopP != nil {
		set("top_p", *chatReq.TopP)
	}
	if settings.MaxOutputTokens != nil {
		set("max_output_tokens", *settings.MaxOutputTokens)
	}

	if len(chatReq.Tools) > 0 {
		tools := make([]interface{}, 0, len(chatReq.Tools))
		for _, tool := range chatReq.Tools {
			if tool.Type != "function" {
				continue
			}
			tools = append(tools, map[string]interface{}{
				"type":        "function",
				"name":        tool.Function.Name,
				"parameters":  tool.Function.Parameters,
				"strict":      false,
				"description": tool.Function.Description,
			})
		}
		if len(tools) > 0 {
			set("tools", tools)
		}
	}

	if chatReq.ToolChoice != nil {
		switch choice := chatReq.ToolChoice.(type) {
		case string:
			set("tool_choice", choice)
		case types.ChatToolChoice:
			set("tool_choice", map[string]interface{}{"type": "function", "name": choice.Function.Name})
		}
	}

	return body, err
}

// mapMessagesToInput turns Chat messages into Responses input items.
func mapMessagesToInput(messages []types.ChatMessage) []interface{} {
	var items []interface{}
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case "system":
			// carried via instructions
		case "tool":
			output, _ := msg.TextContent()
			items = append(items, map[string]interface{}{
				"type":    "function_call_output",
				"call_id": msg.ToolCallID,
				"output":  output,
			})
		default:
			items = append(items, mapMessageItem(msg))
			for _, call := range msg.ToolCalls {
				items = append(items, map[string]interface{}{
					"type":      "function_call",
					"call_id":   call.ID,
					"name":      call.Function.Name,
					"arguments": call.Function.Arguments,
				})
			}
		}
	}
	return items
}

func textPartType(role string) string {
	if role == "assistant" {
		return "output_text"
	}
	return "input_text"
}

func mapMessageItem(msg *types.ChatMessage) map[string]interface{} {
	parts := []interface{}{}
	if text, ok := msg.TextContent(); ok {
		if text != "" {
			parts = append(parts, map[string]interface{}{"type": textPartType(msg.Role), "text": text})
		}
	} else if raw, err := json.Marshal(msg.Content); err == nil {
		var contentParts []types.ChatContentPart
		if json.Unmarshal(raw, &contentParts) == nil {
			for _, part := range contentParts {
				switch part.Type {
				case "text":
					parts = append(parts, map[string]interface{}{"type": textPartType(msg.Role), "text": part.Text})
				case "image_url":
					if msg.Role != "assistant" && part.ImageURL != nil {
						parts = append(parts, map[string]interface{}{"type": "input_image", "image_url": part.ImageURL.URL})
					}
				}
			}
		}
	}
	return map[string]interface{}{
		"type":    "message",
		"role":    msg.Role,
		"content": parts,
	}
}

// newResponsesDecoder adapts the Responses SSE event dialect into Chat
// chunks for the stream translator. Call indices are assigned in order of
// first sighting, keyed by call_id and item id since different event types
// reference whichever they have.
func newResponsesDecoder(model string) decodeFunc {
	callIndex := map[string]int{}
	nextIndex := 0

	indexFor := func(keys ...string) int {
		for _, key := range keys {
			if key == "" {
				continue
			}
			if idx, ok := callIndex[key]; ok {
				return idx
			}
		}
		idx := nextIndex
		nextIndex++
		for _, key := range keys {
			if key != "" {
				callIndex[key] = idx
			}
		}
		return idx
	}

	singleChunk := func(choice types.StreamChoice, usage *types.ChatUsage) []*types.StreamChunk {
		return []*types.StreamChunk{{
			ID:      "resp.stream",
			Model:   model,
			Choices: []types.StreamChoice{choice},
			Usage:   usage,
		}}
	}

	return func(data string) ([]*types.StreamChunk, bool, error) {
		if strings.TrimSpace(data) == "[DONE]" {
			return nil, true, nil
		}
		if !gjson.Valid(data) {
			return nil, false, upstreamProtocolError(200, "invalid Responses event: "+data)
		}
		parsed := gjson.Parse(data)

		switch parsed.Get("type").String() {
		case "response.output_item.added":
			item := parsed.Get("item")
			if item.Get("type").String() != "function_call" {
				return nil, false, nil
			}
			callID := item.Get("call_id").String()
			itemID := item.Get("id").String()
			index := indexFor(callID, itemID)
			id := callID
			if id == "" {
				id = itemID
			}
			return singleChunk(types.StreamChoice{
				Delta: types.StreamDelta{
					ToolCalls: []types.ChatToolCall{{
						Index:    index,
						ID:       id,
						Type:     "function",
						Function: types.ChatFunctionCall{Name: item.Get("name").String()},
					}},
				},
			}, nil), false, nil

		case "response.reasoning_summary_text.delta":
			delta := parsed.Get("delta").String()
			if delta == "" {
				return nil, false, nil
			}
			return singleChunk(types.StreamChoice{
				Delta: types.StreamDelta{ReasoningContent: delta},
			}, nil), false, nil

		case "response.output_text.delta":
			delta := parsed.Get("delta").String()
			if delta == "" {
				return nil, false, nil
			}
			return singleChunk(types.StreamChoice{
				Delta: types.StreamDelta{Content: delta},
			}, nil), false, nil

		case "response.function_call_arguments.delta":
			key := parsed.Get("call_id").String()
			if key == "" {
				key = parsed.Get("item_id").String()
			}
			if key == "" {
				key = parsed.Get("id").String()
			}
			delta := parsed.Get("delta").String()
			if key == "" || delta == "" {
				return nil, false, nil
			}
			return singleChunk(types.StreamChoice{
				Delta: types.StreamDelta{
					ToolCalls: []types.ChatToolCall{{
						Index:    indexFor(key),
						Type:     "function",
						Function: types.ChatFunctionCall{Arguments: delta},
					}},
				},
			}, nil), false, nil

		case "response.output_item.done":
			if parsed.Get("item.type").String() != "function_call" {
				return nil, false, nil
			}
			reason := "tool_calls"
			return singleChunk(types.StreamChoice{FinishReason: &reason}, nil), false, nil

		case "response.completed":
			usage := &types.ChatUsage{
				PromptTokens:     int(parsed.Get("response.usage.input_tokens").Int()),
				CompletionTokens: int(parsed.Get("response.usage.output_tokens").Int()),
			}
			reason := "stop"
			chunks := singleChunk(types.StreamChoice{FinishReason: &reason}, usage)
			return chunks, true, nil

		default:
			return nil, false, nil
		}
	}
}

// normalizeResponsesJSON reshapes a non-streaming Responses payload into a
// ChatResponse.
func normalizeResponsesJSON(raw []byte) (*types.ChatResponse, error) {
	if !gjson.ValidBytes(raw) {
		return nil, upstreamProtocolError(200, "invalid Responses payload")
	}
	parsed := gjson.ParseBytes(raw)

	var textParts []string
	var toolCalls []types.ChatToolCall
	parsed.Get("output").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "message":
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					if text := part.Get("text").String(); text != "" {
						textParts = append(textParts, text)
					}
				}
				return true
			})
		case "function_call":
			arguments := item.Get("arguments")
			args := arguments.String()
			if arguments.Type == gjson.JSON {
				args = arguments.Raw
			}
			toolCalls = append(toolCalls, types.ChatToolCall{
				ID:       item.Get("call_id").String(),
				Type:     "function",
				Function: types.ChatFunctionCall{Name: item.Get("name").String(), Arguments: args},
			})
		}
		return true
	})

	finishReason := "stop"
	if parsed.Get("status").String() == "incomplete" {
		finishReason = "length"
	}
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	return &types.ChatResponse{
		ID: parsed.Get("id").String(),
		Choices: []types.ChatChoice{{
			Message: types.ChatChoiceReply{
				Role:      "assistant",
				Content:   strings.Join(textParts, "\n"),
				ToolCalls: toolCalls,
			},
			FinishReason: &finishReason,
		}},
		Usage: types.ChatUsage{
			PromptTokens:     int(parsed.Get("usage.input_tokens").Int()),
			CompletionTokens: int(parsed.Get("usage.output_tokens").Int()),
		},
	}, nil
}
