package proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"claude-gateway/adapter"
	"claude-gateway/directive"
	"claude-gateway/parser"
	"claude-gateway/types"
)

// ConvertRequest transforms a validated Claude Messages request into the
// OpenAI Chat Completions shape, running every adapter hook along the way.
// targetModel is the post-routing, pre-suffix-strip model id.
func ConvertRequest(req *types.MessagesRequest, targetModel string, pipe *adapter.Pipeline) (*types.ChatRequest, error) {
	var messages []types.ChatMessage

	if systemText := pipe.AdaptSystemPrompt(req.SystemText(), req); systemText != "" {
		messages = append(messages, types.ChatMessage{Role: "system", Content: systemText})
	}

	for i := range req.Messages {
		converted, err := convertMessage(&req.Messages[i], req, pipe)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}

	chatReq := &types.ChatRequest{
		Model:       pipe.AdaptModel(targetModel, req),
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.Stream {
		chatReq.StreamOptions = &types.StreamOptions{IncludeUsage: true}
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		chatReq.ReasoningEffort = directive.EffortForBudgetTokens(req.Thinking.BudgetTokens)
	}

	chatReq.MaxTokens = pipe.AdaptMaxTokens(req.MaxTokens, req)
	chatReq.MaxCompletionTokens = pipe.AdaptMaxCompletionTokens(req.MaxTokens, req)

	if tools := pipe.AdaptTools(req.Tools, req); len(tools) > 0 {
		chatReq.Tools = make([]types.ChatTool, len(tools))
		for i, tool := range tools {
			chatReq.Tools[i] = types.ChatTool{
				Type: "function",
				Function: types.ChatToolFunction{
					Name:        tool.Name,
					Description: pipe.AdaptToolDescription(tool.Description, req),
					Parameters:  pipe.AdaptToolSchema(tool.InputSchema, req),
				},
			}
		}
	}

	if choice := pipe.AdaptToolChoice(req.ToolChoice, req); choice != nil {
		converted, err := convertToolChoice(choice)
		if err != nil {
			return nil, err
		}
		chatReq.ToolChoice = converted
	}

	chatReq.Messages = pipe.AdaptMessages(chatReq.Messages, req)
	return chatReq, nil
}

func convertToolChoice(choice *types.ToolChoice) (interface{}, error) {
	switch choice.Type {
	case "auto":
		return "auto", nil
	case "any":
		return "required", nil
	case "none":
		return "none", nil
	case "tool":
		if choice.Name == "" {
			return nil, badRequestError("tool_choice of type \"tool\" requires a name")
		}
		return types.ChatToolChoice{
			Type:     "function",
			Function: types.ChatFunctionChoice{Name: choice.Name},
		}, nil
	default:
		return nil, badRequestError("unsupported tool_choice type %q", choice.Type)
	}
}

func convertMessage(msg *types.Message, req *types.MessagesRequest, pipe *adapter.Pipeline) ([]types.ChatMessage, error) {
	switch msg.Role {
	case "user":
		return convertUserMessage(msg, req, pipe)
	case "assistant":
		return convertAssistantMessage(msg)
	default:
		return nil, badRequestError("unsupported message role %q", msg.Role)
	}
}

// convertUserMessage flattens a user turn: contiguous runs of
// non-tool_result blocks merge into one user message with content parts,
// and each tool_result becomes its own tool message, all in the original
// block order. Tool results lead in real Claude traffic, which keeps the
// emitted tool messages adjacent to the assistant tool_calls they answer.
func convertUserMessage(msg *types.Message, req *types.MessagesRequest, pipe *adapter.Pipeline) ([]types.ChatMessage, error) {
	if text, ok := msg.TextContent(); ok {
		return []types.ChatMessage{{Role: "user", Content: pipe.AdaptUserPrompt(text, req)}}, nil
	}

	blocks, err := msg.Blocks()
	if err != nil {
		return nil, badRequestError("malformed user message content: %v", err)
	}

	var out []types.ChatMessage
	var parts []types.ChatContentPart

	flushParts := func() {
		if len(parts) == 0 {
			return
		}
		out = append(out, types.ChatMessage{Role: "user", Content: parts})
		parts = nil
	}

	for i := range blocks {
		block := &blocks[i]
		switch block.Type {
		case "tool_result":
			flushParts()
			toolName := req.FindToolNameByID(block.ToolUseID)
			content := pipe.AdaptToolResult(toolName, block.ToolResultText(), req)
			out = append(out, types.ChatMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: block.ToolUseID,
			})
		case "text":
			parts = append(parts, types.ChatContentPart{
				Type: "text",
				Text: pipe.AdaptUserPrompt(block.Text, req),
			})
		case "image":
			part, err := convertImageBlock(block)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		default:
			return nil, badRequestError("unsupported block type %q in user message", block.Type)
		}
	}
	flushParts()
	return out, nil
}

func convertImageBlock(block *types.Content) (types.ChatContentPart, error) {
	source := block.Source
	switch source.Type {
	case "base64":
		return types.ChatContentPart{
			Type: "image_url",
			ImageURL: &types.ChatImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", source.MediaType, source.Data),
			},
		}, nil
	case "url":
		return types.ChatContentPart{
			Type:     "image_url",
			ImageURL: &types.ChatImageURL{URL: source.URL},
		}, nil
	default:
		return types.ChatContentPart{}, badRequestError("unsupported image source type %q", source.Type)
	}
}

// convertAssistantMessage collects text blocks into the assistant content
// and tool_use blocks into tool_calls. Thinking blocks are a reply-side
// artifact and are dropped from the forwarded request.
func convertAssistantMessage(msg *types.Message) ([]types.ChatMessage, error) {
	if text, ok := msg.TextContent(); ok {
		return []types.ChatMessage{{Role: "assistant", Content: text}}, nil
	}

	blocks, err := msg.Blocks()
	if err != nil {
		return nil, badRequestError("malformed assistant message content: %v", err)
	}

	var textParts []string
	var toolCalls []types.ChatToolCall
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "thinking":
			// dropped
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, badRequestError("tool_use %q has unserializable input: %v", block.ID, err)
			}
			toolCalls = append(toolCalls, types.ChatToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ChatFunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		default:
			return nil, badRequestError("unsupported block type %q in assistant message", block.Type)
		}
	}

	// Some upstreams (Vertex Gemini) reject assistant turns with no parts.
	if len(textParts) == 0 && len(toolCalls) == 0 {
		return nil, nil
	}

	out := types.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if len(textParts) > 0 {
		out.Content = strings.Join(textParts, "\n")
	}
	return []types.ChatMessage{out}, nil
}

// MintMessageID creates a fresh message id when the upstream provides none.
func MintMessageID() string {
	return "msg_" + uuid.NewString()
}

// mintToolCallID creates an id for a tool call synthesized from prose.
func mintToolCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "call_" + uuid.NewString()
	}
	return "call_" + id
}

// ConvertResponse turns a complete upstream response into a Claude
// Message. clientModel is the client-visible model string, echoed back
// regardless of what the upstream reports.
func ConvertResponse(resp *types.ChatResponse, clientModel string, req *types.MessagesRequest, pipe *adapter.Pipeline) (*types.MessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, upstreamProtocolError(200, "no choices in upstream response")
	}
	choice := resp.Choices[0]

	var content []types.Content

	if reasoning := choice.Message.ReasoningText(); reasoning != "" {
		content = append(content, types.Content{Type: "thinking", Thinking: reasoning})
	}

	text := choice.Message.Content
	var simulatedCalls []parser.ToolCall
	if mode := pipe.SimulatedToolMode(); mode != adapter.SimNone && text != "" {
		text, simulatedCalls = parseSimulatedCalls(mode, text, req)
	}

	if text != "" {
		content = append(content, splitThinkBlocks(text)...)
	}

	for _, call := range simulatedCalls {
		content = append(content, types.Content{
			Type:  "tool_use",
			ID:    mintToolCallID(),
			Name:  call.Name,
			Input: call.Input,
		})
	}

	for _, toolCall := range choice.Message.ToolCalls {
		content = append(content, convertToolCall(toolCall))
	}

	hasToolUse := len(simulatedCalls) > 0 || len(choice.Message.ToolCalls) > 0
	stopReason := mapFinishReason(choice.FinishReason)
	if hasToolUse {
		stopReason = "tool_use"
	}

	id := resp.ID
	if id == "" {
		id = MintMessageID()
	}

	return &types.MessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      clientModel,
		Content:    content,
		StopReason: stopReason,
		Usage:      convertUsage(&resp.Usage),
	}, nil
}

func convertUsage(usage *types.ChatUsage) types.Usage {
	out := types.Usage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	if usage.PromptTokensDetails != nil {
		out.CacheReadInputTokens = usage.PromptTokensDetails.CachedTokens
	}
	return out
}

func parseSimulatedCalls(mode, text string, req *types.MessagesRequest) (string, []parser.ToolCall) {
	names := make([]string, len(req.Tools))
	for i, tool := range req.Tools {
		names[i] = tool.Name
	}
	var cleaned string
	var calls []parser.ToolCall
	if mode == adapter.SimXML {
		cleaned, calls = parser.ParseXMLCalls(text, names)
	} else {
		cleaned, calls = parser.ParseBracketCalls(text, names)
	}
	return strings.TrimSpace(cleaned), calls
}

// convertToolCall parses the streamed argument string back into JSON. On
// parse failure the raw string is preserved next to a diagnostic so the
// client sees what the model actually produced.
func convertToolCall(toolCall types.ChatToolCall) types.Content {
	input := map[string]interface{}{}
	args := toolCall.Function.Arguments
	if args != "" {
		if err := json.Unmarshal([]byte(args), &input); err != nil {
			input = map[string]interface{}{
				"_raw_arguments": args,
				"_parse_error":   err.Error(),
			}
		}
	}
	return types.Content{
		Type:  "tool_use",
		ID:    toolCall.ID,
		Name:  toolCall.Function.Name,
		Input: input,
	}
}

func mapFinishReason(finishReason *string) string {
	if finishReason == nil {
		return "end_turn"
	}
	switch *finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		// best available approximation in the Claude vocabulary
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// Inline chain-of-thought markers some models emit despite the API
// contract. Text between a start and end marker becomes a thinking block.
var (
	thinkStartTags = []string{"<think>", "<cot>"}
	thinkEndTags   = []string{"</think>", "</cot>", "<end_cot>"}
)

func findFirst(text string, tags []string) (int, string) {
	best := -1
	bestTag := ""
	for _, tag := range tags {
		if idx := strings.Index(text, tag); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestTag = tag
		}
	}
	return best, bestTag
}

// splitThinkBlocks splits assistant text on inline think tags into an
// ordered list of text and thinking blocks. An unterminated think section
// runs to the end of the text.
func splitThinkBlocks(text string) []types.Content {
	var blocks []types.Content
	remaining := text
	for remaining != "" {
		start, startTag := findFirst(remaining, thinkStartTags)
		if start < 0 {
			blocks = append(blocks, types.Content{Type: "text", Text: remaining})
			break
		}
		if before := remaining[:start]; before != "" {
			blocks = append(blocks, types.Content{Type: "text", Text: before})
		}
		rest := remaining[start+len(startTag):]
		end, endTag := findFirst(rest, thinkEndTags)
		if end < 0 {
			if thinking := strings.TrimSpace(rest); thinking != "" {
				blocks = append(blocks, types.Content{Type: "thinking", Thinking: thinking})
			}
			break
		}
		if thinking := strings.TrimSpace(rest[:end]); thinking != "" {
			blocks = append(blocks, types.Content{Type: "thinking", Thinking: thinking})
		}
		remaining = strings.TrimLeft(rest[end+len(endTag):], "\n")
	}
	return blocks
}
